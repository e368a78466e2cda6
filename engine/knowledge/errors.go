package knowledge

import (
	"errors"
	"fmt"
)

// Error kinds. Callers wrap the underlying cause with one of these so the
// transport and the ingestion status can be derived with errors.Is.
var (
	ErrDownload            = errors.New("download failed")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrExtraction          = errors.New("text extraction failed")
	ErrInsufficientContent = errors.New("insufficient content")
	ErrEmbeddingService    = errors.New("embedding service failed")
	ErrVectorStore         = errors.New("vector store failed")
	ErrGenerationService   = errors.New("generation service failed")
	ErrConfiguration       = errors.New("configuration missing")
)

// ErrSourceNotFound is returned by source repositories and blob stores.
var ErrSourceNotFound = errors.New("source not found")

type ErrorKind string

const (
	KindDownload            ErrorKind = "download"
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindExtraction          ErrorKind = "extraction"
	KindInsufficientContent ErrorKind = "insufficient_content"
	KindEmbedding           ErrorKind = "embedding"
	KindVectorStore         ErrorKind = "vector_store"
	KindGeneration          ErrorKind = "generation"
	KindConfiguration       ErrorKind = "configuration"
	KindUnknown             ErrorKind = "unknown"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrConfiguration, KindConfiguration},
	{ErrInsufficientContent, KindInsufficientContent},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtraction, KindExtraction},
	{ErrDownload, KindDownload},
	{ErrEmbeddingService, KindEmbedding},
	{ErrVectorStore, KindVectorStore},
	{ErrGenerationService, KindGeneration},
}

// KindOf classifies err. Configuration wins over the service kinds because a
// lazily constructed client wraps its construction error in both.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}

// Wrap tags cause with kind, keeping both in the chain.
func Wrap(kind error, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}
