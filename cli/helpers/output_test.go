package helpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
)

func TestParseOutputFormat(t *testing.T) {
	t.Run("Should default to text", func(t *testing.T) {
		f, err := ParseOutputFormat("")
		require.NoError(t, err)
		assert.Equal(t, OutputFormatText, f)
	})
	t.Run("Should accept json in any case", func(t *testing.T) {
		f, err := ParseOutputFormat(" JSON ")
		require.NoError(t, err)
		assert.Equal(t, OutputFormatJSON, f)
	})
	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := ParseOutputFormat("yaml")
		assert.Error(t, err)
	})
}

func TestOutputWriter(t *testing.T) {
	t.Run("Should write an empty source list as a JSON array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewOutputWriter(&buf, OutputFormatJSON).WriteSources(nil))
		assert.JSONEq(t, `{"sources":[]}`, buf.String())
	})
	t.Run("Should render sources as a table", func(t *testing.T) {
		var buf bytes.Buffer
		list := []knowledge.Source{{ID: "src-1", Name: "handbook.pdf", Format: "pdf", Status: knowledge.StatusProcessed, ChunkCount: 12}}
		require.NoError(t, NewOutputWriter(&buf, OutputFormatText).WriteSources(list))
		assert.Contains(t, buf.String(), "handbook.pdf")
		assert.Contains(t, buf.String(), "12")
	})
	t.Run("Should print the answer with numbered sources", func(t *testing.T) {
		var buf bytes.Buffer
		res := answer.Result{
			Text: "The library opens at 8.",
			Sources: []knowledge.Citation{
				{Content: "opening hours", Metadata: map[string]any{knowledge.MetaSourceName: "hours.txt"}},
			},
		}
		require.NoError(t, NewOutputWriter(&buf, OutputFormatText).WriteAnswer(res))
		assert.Contains(t, buf.String(), "The library opens at 8.")
		assert.Contains(t, buf.String(), "[1]")
		assert.Contains(t, buf.String(), "hours.txt")
	})
	t.Run("Should keep answer JSON shaped like the chat endpoint", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewOutputWriter(&buf, OutputFormatJSON).WriteAnswer(answer.Result{Text: "No answer."}))
		assert.JSONEq(t, `{"answer":"No answer.","sources":[]}`, buf.String())
	})
}

func TestFormatError(t *testing.T) {
	t.Run("Should emit a JSON error payload", func(t *testing.T) {
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(FormatError(errors.New("boom"), OutputFormatJSON)), &body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "boom", body["message"])
	})
	t.Run("Should prefix text errors", func(t *testing.T) {
		assert.Contains(t, FormatError(errors.New("boom"), OutputFormatText), "Error: boom")
	})
}

func TestTruncate(t *testing.T) {
	t.Run("Should keep short strings and cut long ones", func(t *testing.T) {
		assert.Equal(t, "short", Truncate("short", 10))
		assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	})
}
