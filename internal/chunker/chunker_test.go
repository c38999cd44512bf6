package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmpty(t *testing.T) {
	c := New(1500, 200)
	assert.Nil(t, c.Split(""))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := New(1500, 200)
	text := "A short document that fits in one chunk."

	chunks := c.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitChunkSizeBound(t *testing.T) {
	c := New(100, 20)
	text := strings.Repeat("abcde ", 200)

	for _, chunk := range c.Split(text) {
		assert.LessOrEqual(t, len(chunk), 100)
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	c := New(100, 20)
	text := strings.Repeat("x", 300)

	chunks := c.Split(text)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// Each chunk must start with the tail of its predecessor.
		prev := chunks[i-1]
		tail := prev[len(prev)-10:]
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d does not overlap its predecessor", i)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	c := New(100, 10)
	// A period placed past the window midpoint should become the cut.
	text := strings.Repeat("a", 80) + ". " + strings.Repeat("b", 200)

	chunks := c.Split(text)

	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], "."),
		"first chunk should end at the sentence boundary, got %q", chunks[0])
}

func TestSplitIgnoresEarlyBoundary(t *testing.T) {
	c := New(100, 10)
	// A period before the midpoint is too early to cut at; the chunk
	// should run the full window instead.
	text := strings.Repeat("a", 20) + ". " + strings.Repeat("b", 300)

	chunks := c.Split(text)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 100, len(chunks[0]))
}

func TestSplitCoversWholeText(t *testing.T) {
	c := New(120, 30)
	text := strings.Repeat("word ", 200)

	chunks := c.Split(text)
	joined := strings.Join(chunks, "")

	// Overlap duplicates text but must never drop it.
	assert.GreaterOrEqual(t, len(joined), len(strings.TrimSpace(text)))
	assert.Contains(t, chunks[len(chunks)-1], "word")
}

func TestNewGuardsDegenerateConfig(t *testing.T) {
	c := New(0, -1)
	assert.Equal(t, DefaultSize, c.size)
	assert.Equal(t, DefaultOverlap, c.overlap)

	// Overlap >= size would loop forever; it clamps below the size.
	c = New(100, 100)
	assert.Equal(t, 50, c.overlap)

	// A size at or below the default overlap must clamp too, not fall
	// back to a default that is still >= size.
	c = New(50, 200)
	assert.Less(t, c.overlap, c.size)
}

func TestSplitSmallSizeDoesNotPanic(t *testing.T) {
	for _, c := range []*Chunker{
		New(100, 100),
		New(50, 49),
		New(10, 200),
	} {
		var chunks []string
		assert.NotPanics(t, func() {
			chunks = c.Split(strings.Repeat("x", 300))
		})
		assert.NotEmpty(t, chunks)
	}
}
