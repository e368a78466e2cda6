package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"unicode"
)

const docxBody = "word/document.xml"

// extractDOCX reads paragraph text from the main document part. A file that
// is not an OOXML package is handed to the legacy heuristic with a warning.
func extractDOCX(ctx context.Context, data []byte) (Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		doc, derr := extractDOC(ctx, data)
		if derr != nil {
			return Document{}, derr
		}
		doc.Warnings = append([]string{"file is not a DOCX package, parsed as legacy binary"}, doc.Warnings...)
		return doc, nil
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return Document{}, fmt.Errorf("docx: missing %s", docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return Document{}, fmt.Errorf("docx: open body: %w", err)
	}
	defer rc.Close()
	return parseDocumentXML(rc)
}

func parseDocumentXML(r io.Reader) (Document, error) {
	dec := xml.NewDecoder(r)
	var (
		doc     Document
		out     strings.Builder
		para    strings.Builder
		inText  bool
		skipped = map[string]int{}
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Document{}, fmt.Errorf("docx: parse body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "drawing", "pict", "object":
				skipped[t.Name.Local]++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString(para.String())
				out.WriteByte('\n')
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	out.WriteString(para.String())
	for _, kind := range slices.Sorted(maps.Keys(skipped)) {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("skipped %d embedded %s element(s)", skipped[kind], kind))
	}
	doc.Text = out.String()
	return doc, nil
}

// extractDOC pulls readable runs out of a legacy Word binary. Word stores
// body text either as 8-bit code page or as UTF-16LE; whichever decoding
// yields more letters wins.
func extractDOC(_ context.Context, data []byte) (Document, error) {
	if len(data) == 0 {
		return Document{}, errors.New("doc: empty file")
	}
	narrow := printableRuns(data, 1)
	wide := printableRuns(data, 2)
	text := narrow
	if letterCount(wide) > letterCount(narrow) {
		text = wide
	}
	return Document{
		Text:     text,
		Warnings: []string{"legacy .doc text recovered heuristically, formatting is lost"},
	}, nil
}

const minRun = 4

// printableRuns collects runs of at least minRun printable characters read
// with the given byte stride (1 for 8-bit text, 2 for UTF-16LE).
func printableRuns(data []byte, stride int) string {
	var (
		out strings.Builder
		run []rune
	)
	flush := func() {
		if len(run) >= minRun {
			out.WriteString(string(run))
			out.WriteByte('\n')
		}
		run = run[:0]
	}
	for i := 0; i+stride-1 < len(data); i += stride {
		b := data[i]
		if stride == 2 && data[i+1] != 0 {
			flush()
			continue
		}
		r := rune(b)
		switch {
		case r == '\r' || r == '\n':
			flush()
		case r == '\t' || (r >= 0x20 && r < 0x7f):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return out.String()
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
