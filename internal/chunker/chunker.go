// Package chunker splits cleaned text into overlapping, boundary-aware
// segments sized for embedding.
package chunker

import "strings"

const (
	DefaultSize    = 1500
	DefaultOverlap = 200
)

// Chunker slices text with a sliding window. Overlap carries context
// across segment boundaries so retrieval doesn't lose meaning at cuts.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	// Overlap must stay below size or the window never advances;
	// clamp rather than fall back, since the default overlap can
	// itself exceed a small configured size.
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split re-chunks text from scratch on every call. Text shorter than
// the window is returned whole; empty text yields nothing. The window
// end backtracks to the nearest sentence period or newline when that
// boundary falls past the window midpoint, avoiding mid-sentence cuts.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) < c.size {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		window := text[start:end]

		if end < len(text) {
			cut := lastBoundary(window)
			if cut > c.size/2 {
				window = window[:cut+1]
				end = start + cut + 1
			}
		}

		if trimmed := strings.TrimSpace(window); trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		if end < len(text) {
			start = end - c.overlap
		} else {
			start = end
		}
	}
	return chunks
}

func lastBoundary(window string) int {
	period := strings.LastIndexByte(window, '.')
	newline := strings.LastIndexByte(window, '\n')
	if period > newline {
		return period
	}
	return newline
}
