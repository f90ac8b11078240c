package retrieval

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

const defaultMaxChars = 800

// Chunk is one embeddable slice of a source document.
type Chunk struct {
	ID     string
	Text   string
	Source string
}

// ChunkDocument splits text into paragraph-aligned chunks of at most maxChars
// (a single oversized paragraph becomes its own chunk). Whitespace inside
// each paragraph is collapsed. IDs are derived from source and text, so
// re-ingesting the same document replaces rather than duplicates.
func ChunkDocument(source, text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	var chunks []Chunk
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		body := current.String()
		chunks = append(chunks, Chunk{ID: chunkID(source, body), Text: body, Source: source})
		current.Reset()
	}

	for _, p := range paragraphs(text) {
		if current.Len() > 0 && current.Len()+len(p)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		if current.Len() >= maxChars {
			flush()
		}
	}
	flush()
	return chunks
}

// paragraphs splits on blank lines and normalizes whitespace in each part.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, raw := range strings.Split(text, "\n\n") {
		if p := strings.Join(strings.Fields(raw), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func chunkID(source, text string) string {
	h := sha256.Sum256([]byte(source + ":" + text))
	return fmt.Sprintf("%x", h[:6])
}
