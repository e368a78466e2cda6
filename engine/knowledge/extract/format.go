package extract

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format tags the byte layout of a source document.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatDOC     Format = "doc"
	FormatTXT     Format = "txt"
	FormatMD      Format = "md"
	FormatCSV     Format = "csv"
	FormatUnknown Format = "unknown"
)

func (f Format) String() string {
	return string(f)
}

// ParseFormat accepts a format tag, an extension or a file name.
func ParseFormat(tag string) Format {
	t := strings.ToLower(strings.TrimSpace(tag))
	if t == "" {
		return FormatUnknown
	}
	if ext := path.Ext(t); ext != "" {
		t = ext
	}
	switch strings.TrimPrefix(t, ".") {
	case "pdf":
		return FormatPDF
	case "docx":
		return FormatDOCX
	case "doc":
		return FormatDOC
	case "txt", "text":
		return FormatTXT
	case "md", "markdown":
		return FormatMD
	case "csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// Detect sniffs the content when the declared tag is missing or unknown.
func Detect(data []byte) Format {
	if len(data) == 0 {
		return FormatUnknown
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return FormatPDF
	case mt.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FormatDOCX
	case mt.Is("application/msword"), mt.Is("application/x-ole-storage"):
		return FormatDOC
	case mt.Is("text/csv"):
		return FormatCSV
	case mt.Is("text/plain"):
		return FormatTXT
	default:
		return FormatUnknown
	}
}

// Resolve prefers the declared tag and falls back to sniffing.
func Resolve(tag string, data []byte) Format {
	if f := ParseFormat(tag); f != FormatUnknown {
		return f
	}
	return Detect(data)
}
