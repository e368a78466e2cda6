package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate reports whether the settings can drive Split.
func (s Settings) Validate() error {
	switch s.Strategy {
	case "", StrategySlidingWindow, StrategySentence:
	default:
		return fmt.Errorf("chunk: unknown strategy %q", s.Strategy)
	}
	if s.Size <= 0 {
		return errors.New("chunk: size must be greater than zero")
	}
	if s.Overlap < 0 {
		return errors.New("chunk: overlap cannot be negative")
	}
	if s.Overlap >= s.Size {
		return fmt.Errorf("chunk: overlap %d must be smaller than size %d", s.Overlap, s.Size)
	}
	if s.MinLength < 0 {
		return errors.New("chunk: minimum length cannot be negative")
	}
	return nil
}

// Split cuts text into chunk strings. It is a pure function of its inputs.
// Every returned chunk holds between MinLength and Size runes.
func Split(text string, s Settings) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var pieces []string
	if s.Strategy == StrategySentence {
		pieces = accumulate(sentences(text), s)
	} else {
		pieces = slide([]rune(text), s.Size, s.Overlap)
	}
	out := pieces[:0]
	for _, p := range pieces {
		if utf8.RuneCountInString(p) >= s.MinLength {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// slide walks a window of size runes over text. When a '.' lies in the back
// half of the window the cut snaps to just after it. The next window starts
// overlap runes before the cut, or size-overlap runes after the current start
// when that would not move forward.
func slide(runes []rune, size, overlap int) []string {
	var out []string
	n := len(runes)
	start := 0
	for start < n {
		end := min(start+size, n)
		if end < n {
			half := start + size/2
			for i := end - 1; i >= half; i-- {
				if runes[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			// snapped too early to step back a full overlap
			next = start + size - overlap
		}
		start = next
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

// sentences splits at terminators followed by whitespace and an upper-case
// letter. Terminator runs such as "?!" or "..." stay with their sentence.
func sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		k := j
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k == j || k >= len(runes) || !unicode.IsUpper(runes[k]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = k
		i = k - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// accumulate packs sentences greedily into chunks of at most s.Size runes.
// Trailing sentences of a flushed chunk that fit in s.Overlap are carried
// into the next one. A sentence longer than s.Size is cut with slide.
func accumulate(sents []string, s Settings) []string {
	var (
		out []string
		cur []string
	)
	curLen := func() int {
		if len(cur) == 0 {
			return 0
		}
		total := len(cur) - 1
		for _, c := range cur {
			total += utf8.RuneCountInString(c)
		}
		return total
	}
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
		}
		cur = nil
	}
	for _, sent := range sents {
		n := utf8.RuneCountInString(sent)
		if n > s.Size {
			flush()
			out = append(out, slide([]rune(sent), s.Size, s.Overlap)...)
			continue
		}
		if len(cur) > 0 && curLen()+1+n > s.Size {
			tail := carry(cur, min(s.Overlap, s.Size-n-1))
			flush()
			cur = tail
		}
		cur = append(cur, sent)
	}
	flush()
	return out
}

// carry returns the longest proper suffix of sents whose joined length fits
// budget.
func carry(sents []string, budget int) []string {
	total := 0
	i := len(sents)
	for i > 1 {
		n := utf8.RuneCountInString(sents[i-1])
		if total > 0 {
			n++
		}
		if total+n > budget {
			break
		}
		total += n
		i--
	}
	if i == len(sents) {
		return nil
	}
	return append([]string(nil), sents[i:]...)
}
