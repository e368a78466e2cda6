package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF concatenates the plain text of every page. Pages that fail to
// decode are reported as warnings; the document fails only when no page does.
func extractPDF(ctx context.Context, data []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("pdf: open: %w", err)
	}
	total := reader.NumPage()
	if total == 0 {
		return Document{}, errors.New("pdf: document has no pages")
	}
	pages := make([]string, 0, total)
	failed := 0
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			failed++
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("page %d: %v", i, perr))
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	if failed == total {
		return Document{}, errors.New("pdf: no page could be decoded")
	}
	doc.Text = strings.Join(pages, "\n")
	doc.Pages = total
	return doc, nil
}
