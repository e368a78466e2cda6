package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(_ context.Context, data []byte) (Document, error) {
	text, warning, err := decodeText(data)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Text: text}
	if warning != "" {
		doc.Warnings = append(doc.Warnings, warning)
	}
	return doc, nil
}

// decodeText returns UTF-8 text, transcoding through a sniffed charset when
// the bytes are not valid UTF-8.
func decodeText(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "", nil
	}
	enc, name, _ := charset.DetermineEncoding(data, "text/plain")
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", "", fmt.Errorf("transcoded result from %s is not valid utf-8", name)
	}
	return string(decoded), fmt.Sprintf("input was not UTF-8, decoded as %s", name), nil
}

// extractFallback never fails: invalid bytes and control characters are dropped.
func extractFallback(_ context.Context, data []byte) (Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := strings.ToValidUTF8(string(data), "")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, text)
	return Document{
		Text:     text,
		Warnings: []string{"unknown format decoded as UTF-8 on a best-effort basis"},
	}, nil
}
