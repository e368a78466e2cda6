package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/google/uuid"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kbchat/chunk"))

// Processor turns a source's text into identified chunks.
type Processor struct {
	settings  Settings
	estimator TokenEstimator
}

type Option func(*Processor)

func WithEstimator(e TokenEstimator) Option {
	return func(p *Processor) {
		if e != nil {
			p.estimator = e
		}
	}
}

// NewProcessor builds a processor with sanitized defaults.
func NewProcessor(settings Settings, opts ...Option) (*Processor, error) {
	if settings.Strategy == "" {
		settings.Strategy = StrategySlidingWindow
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{settings: settings, estimator: RuneEstimator{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SettingsFromOptions maps the shared knowledge options onto chunk settings.
func SettingsFromOptions(o knowledge.Options) Settings {
	return Settings{
		Strategy:  o.ChunkStrategy,
		Size:      o.ChunkSize,
		Overlap:   o.ChunkOverlap,
		MinLength: o.MinChunkLength,
	}
}

func (p *Processor) Settings() Settings {
	return p.settings
}

// Process splits text and stamps each piece with a deterministic ID derived
// from the source, its position and its content.
func (p *Processor) Process(sourceID string, text string, meta map[string]any) ([]Chunk, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, errors.New("chunk: source id is required")
	}
	pieces, err := Split(text, p.settings)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(pieces))
	for idx, piece := range pieces {
		hash := hashText(piece)
		metadata := core.CloneMap(meta)
		if metadata == nil {
			metadata = make(map[string]any, 2)
		}
		metadata[knowledge.MetaChunkIndex] = idx
		metadata[knowledge.MetaSourceID] = sourceID
		chunks = append(chunks, Chunk{
			ID:            chunkID(sourceID, idx, hash),
			SourceID:      sourceID,
			Index:         idx,
			Text:          piece,
			TokenEstimate: p.estimator.Estimate(piece),
			Hash:          hash,
			Metadata:      metadata,
		})
	}
	return chunks, nil
}

func chunkID(sourceID string, idx int, hash string) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s:%d:%s", sourceID, idx, hash)).String()
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
