package chunk

const (
	StrategySlidingWindow = "sliding_window"
	StrategySentence      = "sentence"
)

// Settings configures how extracted text is cut into chunks. Sizes are
// measured in runes.
type Settings struct {
	Strategy  string
	Size      int
	Overlap   int
	MinLength int
}

// Chunk is an ordered fragment of one source's text, ready for embedding.
type Chunk struct {
	ID            string
	SourceID      string
	Index         int
	Text          string
	TokenEstimate int
	Hash          string
	Metadata      map[string]any
}
