// Package assemble turns retrieved matches into the context block handed to
// the answer generator.
package assemble

import (
	"strings"

	"github.com/compozy/kbchat/engine/knowledge"
)

// FallbackContext instructs the model to answer from general knowledge and
// say so when retrieval found nothing.
const FallbackContext = "No specific information was found in the knowledge base for this question. " +
	"Answer using general knowledge and clearly state that the answer is not based on the institution's knowledge base."

// Assemble joins match contents in order with the context separator.
func Assemble(matches []knowledge.RetrievedMatch) string {
	if len(matches) == 0 {
		return FallbackContext
	}
	parts := make([]string, len(matches))
	for i := range matches {
		parts[i] = matches[i].Content
	}
	return strings.Join(parts, knowledge.ContextSeparator)
}

// Citations exposes the matches as answer sources, preserving order.
func Citations(matches []knowledge.RetrievedMatch) []knowledge.Citation {
	out := make([]knowledge.Citation, 0, len(matches))
	for i := range matches {
		meta := make(map[string]any, len(matches[i].Metadata)+1)
		for k, v := range matches[i].Metadata {
			meta[k] = v
		}
		meta["score"] = matches[i].Score
		out = append(out, knowledge.Citation{Content: matches[i].Content, Metadata: meta})
	}
	return out
}
