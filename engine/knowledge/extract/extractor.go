package extract

import (
	"context"
	"unicode/utf8"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/pkg/logger"
)

// Document is the plain-text outcome of an extraction.
type Document struct {
	Text     string
	Format   Format
	Pages    int
	Warnings []string
}

// Extractor converts the raw bytes of one format into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Document, error)
}

type ExtractorFunc func(ctx context.Context, data []byte) (Document, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (Document, error) {
	return f(ctx, data)
}

// Registry dispatches extraction by format, with an explicit fallback
// variant for formats nobody registered.
type Registry struct {
	extractors map[Format]Extractor
	fallback   Extractor
	minContent int
}

type Option func(*Registry)

// WithMinContentLength sets the rune count below which extraction fails.
func WithMinContentLength(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.minContent = n
		}
	}
}

// WithoutFallback makes unknown formats fail with ErrUnsupportedFormat.
func WithoutFallback() Option {
	return func(r *Registry) {
		r.fallback = nil
	}
}

func WithExtractor(f Format, e Extractor) Option {
	return func(r *Registry) {
		r.extractors[f] = e
	}
}

func NewRegistry(opts ...Option) *Registry {
	text := ExtractorFunc(extractText)
	r := &Registry{
		extractors: map[Format]Extractor{
			FormatPDF:  ExtractorFunc(extractPDF),
			FormatDOCX: ExtractorFunc(extractDOCX),
			FormatDOC:  ExtractorFunc(extractDOC),
			FormatTXT:  text,
			FormatMD:   text,
			FormatCSV:  text,
		},
		fallback:   ExtractorFunc(extractFallback),
		minContent: knowledge.DefaultMinContentLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract resolves the format, runs the matching extractor, normalizes the
// text and enforces the minimum content length.
func (r *Registry) Extract(ctx context.Context, tag string, data []byte) (Document, error) {
	log := logger.FromContext(ctx)
	format := Resolve(tag, data)
	ext, ok := r.extractors[format]
	if !ok {
		if r.fallback == nil {
			return Document{}, knowledge.Wrap(knowledge.ErrUnsupportedFormat, nil, "no extractor for %q", tag)
		}
		ext = r.fallback
		format = FormatUnknown
	}
	doc, err := ext.Extract(ctx, data)
	if err != nil {
		return Document{}, knowledge.Wrap(knowledge.ErrExtraction, err, "%s", format)
	}
	for _, w := range doc.Warnings {
		log.Warn("Extraction warning", "format", format, "warning", w)
	}
	doc.Format = format
	doc.Text = Normalize(doc.Text)
	if n := utf8.RuneCountInString(doc.Text); n < r.minContent {
		return doc, knowledge.Wrap(
			knowledge.ErrInsufficientContent, nil,
			"extracted %d characters, need at least %d", n, r.minContent,
		)
	}
	return doc, nil
}
