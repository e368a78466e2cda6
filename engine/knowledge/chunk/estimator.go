package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenEstimator approximates how many model tokens a chunk costs.
type TokenEstimator interface {
	Estimate(text string) int
}

// RuneEstimator assumes four runes per token, rounded up.
type RuneEstimator struct{}

func (RuneEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenEstimator counts tokens with a BPE encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator resolves modelOrEncoding first as an encoding name,
// then as a model name, and finally falls back to cl100k_base.
func NewTiktokenEstimator(modelOrEncoding string) (*TiktokenEstimator, error) {
	name := strings.TrimSpace(modelOrEncoding)
	if name == "" {
		name = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(name)
	}
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("chunk: load encoding %s: %w", defaultEncoding, err)
		}
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) Estimate(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// NewEstimator builds the estimator named in configuration ("runes" or
// "tiktoken"). An unavailable tiktoken encoding degrades to runes.
func NewEstimator(kind, model string) (TokenEstimator, error) {
	switch kind {
	case "", "runes":
		return RuneEstimator{}, nil
	case "tiktoken":
		est, err := NewTiktokenEstimator(model)
		if err != nil {
			return RuneEstimator{}, err
		}
		return est, nil
	default:
		return nil, fmt.Errorf("chunk: unknown token estimator %q", kind)
	}
}
