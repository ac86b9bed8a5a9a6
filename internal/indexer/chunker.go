// Package indexer splits source text into chunks and writes them to storage.
package indexer

import "fmt"

// TextChunk is one window of source text before embedding.
type TextChunk struct {
	Ordinal int
	// Start is the rune offset of the window in the source text.
	Start   int
	Content string
}

// Chunker splits text into overlapping windows measured in characters (runes).
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap. Overlap must be
// non-negative and smaller than size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into windows of at most size runes. Consecutive windows share exactly
// overlap runes and every window except possibly the last has exactly size runes.
func (c *Chunker) Chunk(text string) []TextChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]TextChunk, 0, c.Count(len(runes)))
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, TextChunk{
			Ordinal: len(chunks),
			Start:   start,
			Content: string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Count returns how many chunks Chunk produces for a text of length runes.
func (c *Chunker) Count(length int) int {
	switch {
	case length <= 0:
		return 0
	case length <= c.size:
		return 1
	}
	step := c.size - c.overlap
	return (length - c.overlap + step - 1) / step
}
