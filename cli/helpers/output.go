package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	OutputFormatJSON OutputFormat = "json"
	OutputFormatText OutputFormat = "text"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputFormatJSON:
		return OutputFormatJSON, nil
	case OutputFormatText, "":
		return OutputFormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format %q: must be json or text", s)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
)

// OutputWriter renders results as indented JSON or styled text.
type OutputWriter struct {
	writer io.Writer
	format OutputFormat
}

func NewOutputWriter(w io.Writer, format OutputFormat) *OutputWriter {
	return &OutputWriter{writer: w, format: format}
}

func (ow *OutputWriter) JSON() bool { return ow.format == OutputFormatJSON }

func (ow *OutputWriter) writeJSON(data any) error {
	encoder := json.NewEncoder(ow.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (ow *OutputWriter) println(s string) error {
	_, err := fmt.Fprintln(ow.writer, s)
	return err
}

// WriteSources prints the registry as a table.
func (ow *OutputWriter) WriteSources(list []knowledge.Source) error {
	if ow.JSON() {
		if list == nil {
			list = []knowledge.Source{}
		}
		return ow.writeJSON(map[string]any{"sources": list})
	}
	if len(list) == 0 {
		return ow.println(mutedStyle.Render("No sources registered"))
	}
	t := table.New().
		Headers("ID", "NAME", "FORMAT", "STATUS", "CHUNKS", "CATEGORY").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for i := range list {
		s := list[i]
		t.Row(s.ID, s.Name, s.Format, string(s.Status), strconv.Itoa(s.ChunkCount), s.Category)
	}
	return ow.println(t.Render())
}

// WriteSource prints one source with its failure reason, if any.
func (ow *OutputWriter) WriteSource(src *knowledge.Source) error {
	if ow.JSON() {
		return ow.writeJSON(src)
	}
	lines := []string{
		titleStyle.Render(src.Name),
		fmt.Sprintf("  id       %s", src.ID),
		fmt.Sprintf("  status   %s", statusLabel(src.Status)),
		fmt.Sprintf("  format   %s", src.Format),
		fmt.Sprintf("  origin   %s", src.Origin),
		fmt.Sprintf("  chunks   %d", src.ChunkCount),
	}
	if src.Category != "" {
		lines = append(lines, fmt.Sprintf("  category %s", src.Category))
	}
	if src.Error != "" {
		lines = append(lines, fmt.Sprintf("  error    %s", errorStyle.Render(src.Error)))
	}
	return ow.println(strings.Join(lines, "\n"))
}

func statusLabel(s knowledge.SourceStatus) string {
	switch s {
	case knowledge.StatusProcessed:
		return okStyle.Render(string(s))
	case knowledge.StatusError:
		return errorStyle.Render(string(s))
	default:
		return string(s)
	}
}

// IngestSummary is what the ingest command reports.
type IngestSummary struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Status  string `json:"status"`
	Chunks  int    `json:"chunks"`
	Failed  int    `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (ow *OutputWriter) WriteIngest(s IngestSummary) error {
	if ow.JSON() {
		return ow.writeJSON(s)
	}
	line := fmt.Sprintf("%s %s: %d chunks", statusLabel(knowledge.SourceStatus(s.Status)), s.ID, s.Chunks)
	if s.Failed > 0 {
		line += mutedStyle.Render(fmt.Sprintf(" (%d failed)", s.Failed))
	}
	if s.Error != "" {
		line += "\n" + errorStyle.Render(s.Error)
	}
	return ow.println(line)
}

// WriteAnswer prints the generated answer followed by its citations.
func (ow *OutputWriter) WriteAnswer(res answer.Result) error {
	if ow.JSON() {
		if res.Sources == nil {
			res.Sources = []knowledge.Citation{}
		}
		return ow.writeJSON(res)
	}
	var b strings.Builder
	b.WriteString(res.Text)
	if len(res.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(titleStyle.Render("Sources"))
		for i, c := range res.Sources {
			name, _ := c.Metadata[knowledge.MetaSourceName].(string)
			if name == "" {
				name = Truncate(c.Content, 60)
			}
			fmt.Fprintf(&b, "\n  [%d] %s", i+1, mutedStyle.Render(name))
		}
	}
	return ow.println(b.String())
}

// SyncSummary is what the sync command reports.
type SyncSummary struct {
	Success bool `json:"success"`
	Sources int  `json:"sources"`
	Chunks  int  `json:"chunks"`
	Failed  int  `json:"failed"`
}

func (ow *OutputWriter) WriteSync(s SyncSummary) error {
	if ow.JSON() {
		return ow.writeJSON(s)
	}
	return ow.println(fmt.Sprintf("Synced %d sources, %d chunks, %d failed", s.Sources, s.Chunks, s.Failed))
}

// FormatError renders err for the terminal.
func FormatError(err error, format OutputFormat) string {
	if format == OutputFormatJSON {
		data, mErr := json.Marshal(map[string]any{"success": false, "message": err.Error()})
		if mErr != nil {
			return `{"success":false}`
		}
		return string(data)
	}
	return errorStyle.Render("Error: " + err.Error())
}

// Truncate shortens s to maxLength runes, adding an ellipsis when cut.
func Truncate(s string, maxLength int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxLength {
		return string(runes)
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}
