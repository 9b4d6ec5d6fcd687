package indexer

import "strings"

// Chunker splits extracted text into overlapping token windows. Overlap
// keeps sentences that straddle a window boundary retrievable from both
// sides.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap,
// both in whitespace tokens.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into windows. Text shorter than one window yields a
// single chunk; empty text yields none.
func (c *Chunker) Chunk(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= c.size {
		return []string{strings.Join(tokens, " ")}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
