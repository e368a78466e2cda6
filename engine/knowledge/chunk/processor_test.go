package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func libraryText(sentences int) string {
	var b strings.Builder
	for i := range sentences {
		fmt.Fprintf(&b, "Sentence %02d explains one fact about the campus library. ", i)
	}
	return b.String()
}

func defaultSettings() Settings {
	return Settings{
		Strategy:  StrategySlidingWindow,
		Size:      knowledge.DefaultChunkSize,
		Overlap:   knowledge.DefaultChunkOverlap,
		MinLength: knowledge.DefaultMinChunkLength,
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Run("Should reject invalid sizes", func(t *testing.T) {
		assert.Error(t, Settings{Size: 0}.Validate())
		assert.Error(t, Settings{Size: 10, Overlap: -1}.Validate())
		assert.Error(t, Settings{Size: 10, Overlap: 10}.Validate())
		assert.Error(t, Settings{Size: 10, MinLength: -1}.Validate())
		assert.Error(t, Settings{Strategy: "recursive", Size: 10}.Validate())
		assert.NoError(t, defaultSettings().Validate())
	})
}

func TestSplit_SlidingWindow(t *testing.T) {
	t.Run("Should cut a 2500 character text into three overlapping chunks", func(t *testing.T) {
		text := strings.TrimSpace(libraryText(60)[:2500])
		chunks, err := Split(text, defaultSettings())
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		prevEnd := 0
		for i, c := range chunks {
			assert.GreaterOrEqual(t, utf8.RuneCountInString(c), 50)
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
			pos := strings.Index(text, c)
			require.GreaterOrEqual(t, pos, 0, "chunk %d must be a substring of the source", i)
			if i == 0 {
				assert.Equal(t, 0, pos)
			} else {
				assert.LessOrEqual(t, pos, prevEnd, "chunk %d leaves a gap", i)
				assert.LessOrEqual(t, prevEnd-pos, 200, "chunk %d overlaps too much", i)
			}
			prevEnd = pos + len(c)
		}
		assert.Equal(t, len(text), prevEnd)
	})

	t.Run("Should snap cuts after a period past the half point", func(t *testing.T) {
		text := strings.TrimSpace(libraryText(60)[:2500])
		chunks, err := Split(text, defaultSettings())
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(chunks[0], "."))
		assert.True(t, strings.HasSuffix(chunks[1], "."))
	})

	t.Run("Should fall back to raw boundaries without periods", func(t *testing.T) {
		chunks, err := Split(strings.Repeat("x", 2500), defaultSettings())
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 1000)
		assert.Len(t, chunks[1], 1000)
		assert.Len(t, chunks[2], 900)
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		text := libraryText(120)
		first, err := Split(text, defaultSettings())
		require.NoError(t, err)
		second, err := Split(text, defaultSettings())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Should yield one chunk for text shorter than the size", func(t *testing.T) {
		text := libraryText(3)
		chunks, err := Split(text, defaultSettings())
		require.NoError(t, err)
		assert.Equal(t, []string{strings.TrimSpace(text)}, chunks)
	})

	t.Run("Should yield nothing for text below the minimum length", func(t *testing.T) {
		chunks, err := Split("Too short to keep.", defaultSettings())
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Should count runes rather than bytes", func(t *testing.T) {
		text := strings.Repeat("é", 150)
		chunks, err := Split(text, Settings{Size: 100, Overlap: 10, MinLength: 50})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
		assert.Equal(t, 60, utf8.RuneCountInString(chunks[1]))
	})

	t.Run("Should keep advancing when the overlap exceeds half the window", func(t *testing.T) {
		sentence := strings.Repeat("a", 524) + ". "
		text := strings.TrimSpace(strings.Repeat(sentence, 5))
		total := utf8.RuneCountInString(text)
		for _, overlap := range []int{200, 400, 600, 900} {
			s := Settings{Size: 1000, Overlap: overlap, MinLength: 50}
			chunks, err := Split(text, s)
			require.NoError(t, err)
			step := s.Size - s.Overlap
			limit := (total+step-1)/step + 1
			assert.LessOrEqual(t, len(chunks), limit, "overlap %d", overlap)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), s.Size)
			}
		}
	})
}

func TestSplit_Sentence(t *testing.T) {
	settings := Settings{Strategy: StrategySentence, Size: 200, Overlap: 60, MinLength: 50}

	t.Run("Should split at terminators followed by a capital letter", func(t *testing.T) {
		got := sentences("Hello there. How are you? I am fine! ok. Next one.")
		assert.Equal(t, []string{"Hello there.", "How are you?", "I am fine! ok.", "Next one."}, got)
	})

	t.Run("Should keep every chunk within bounds and cover every sentence", func(t *testing.T) {
		text := libraryText(20)
		chunks, err := Split(text, settings)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			n := utf8.RuneCountInString(c)
			assert.GreaterOrEqual(t, n, 50)
			assert.LessOrEqual(t, n, 200)
		}
		joined := strings.Join(chunks, " ")
		for i := range 20 {
			assert.Contains(t, joined, fmt.Sprintf("Sentence %02d ", i))
		}
	})

	t.Run("Should hard split a sentence longer than the size", func(t *testing.T) {
		text := strings.Repeat("word ", 100) + "end."
		chunks, err := Split(text, settings)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 200)
		}
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		text := libraryText(40)
		first, err := Split(text, settings)
		require.NoError(t, err)
		second, err := Split(text, settings)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestProcessor_Process(t *testing.T) {
	t.Run("Should stamp deterministic ids, hashes and metadata", func(t *testing.T) {
		p, err := NewProcessor(defaultSettings())
		require.NoError(t, err)
		text := libraryText(60)
		meta := map[string]any{knowledge.MetaSourceName: "library.txt"}
		first, err := p.Process("src-1", text, meta)
		require.NoError(t, err)
		second, err := p.Process("src-1", text, meta)
		require.NoError(t, err)
		require.NotEmpty(t, first)
		assert.Equal(t, first, second)
		ids := map[string]struct{}{}
		for i, c := range first {
			ids[c.ID] = struct{}{}
			assert.Equal(t, i, c.Index)
			assert.Equal(t, "src-1", c.SourceID)
			assert.Equal(t, hashText(c.Text), c.Hash)
			assert.Equal(t, i, c.Metadata[knowledge.MetaChunkIndex])
			assert.Equal(t, "src-1", c.Metadata[knowledge.MetaSourceID])
			assert.Equal(t, "library.txt", c.Metadata[knowledge.MetaSourceName])
			assert.Equal(t, (utf8.RuneCountInString(c.Text)+3)/4, c.TokenEstimate)
		}
		assert.Len(t, ids, len(first))
		assert.NotContains(t, meta, knowledge.MetaChunkIndex)
	})

	t.Run("Should derive different ids for different sources", func(t *testing.T) {
		p, err := NewProcessor(defaultSettings())
		require.NoError(t, err)
		a, err := p.Process("a", libraryText(5), nil)
		require.NoError(t, err)
		b, err := p.Process("b", libraryText(5), nil)
		require.NoError(t, err)
		assert.NotEqual(t, a[0].ID, b[0].ID)
	})

	t.Run("Should require a source id", func(t *testing.T) {
		p, err := NewProcessor(defaultSettings())
		require.NoError(t, err)
		_, err = p.Process(" ", libraryText(5), nil)
		assert.Error(t, err)
	})

	t.Run("Should default the strategy and reject bad overlap", func(t *testing.T) {
		p, err := NewProcessor(Settings{Size: 100, Overlap: 10})
		require.NoError(t, err)
		assert.Equal(t, StrategySlidingWindow, p.Settings().Strategy)
		_, err = NewProcessor(Settings{Size: 100, Overlap: 100})
		assert.Error(t, err)
	})

	t.Run("Should use a custom estimator", func(t *testing.T) {
		p, err := NewProcessor(defaultSettings(), WithEstimator(fixedEstimator(7)))
		require.NoError(t, err)
		chunks, err := p.Process("src", libraryText(3), nil)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 7, chunks[0].TokenEstimate)
	})
}

type fixedEstimator int

func (f fixedEstimator) Estimate(string) int { return int(f) }

func TestNewEstimator(t *testing.T) {
	t.Run("Should default to the rune estimator", func(t *testing.T) {
		est, err := NewEstimator("", "")
		require.NoError(t, err)
		assert.Equal(t, 3, est.Estimate("abcdefghij"))
	})
	t.Run("Should reject unknown estimators", func(t *testing.T) {
		_, err := NewEstimator("words", "")
		assert.Error(t, err)
	})
}
