package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/domain"
)

// assertTiling verifies the coverage invariants: contiguous ordinals,
// gap-free offset spans, and exact concatenation back to the input.
func assertTiling(t *testing.T, text string, chunks []domain.Chunk) {
	t.Helper()

	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)

	var rebuilt strings.Builder
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Ordinal)
		assert.Equal(t, text[chunk.StartOffset:chunk.EndOffset], chunk.Text)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndOffset, chunk.StartOffset,
				"chunks must tile without gaps or overlaps")
		}
		rebuilt.WriteString(chunk.Text)
	}
	assert.Equal(t, text, rebuilt.String())
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func totalWordCount(chunks []domain.Chunk) int {
	total := 0
	for _, c := range chunks {
		total += c.WordCount
	}
	return total
}

func TestChunk_Coverage(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		maxWords   int
		wantChunks int
	}{
		{name: "even split", text: words(100), maxWords: 25, wantChunks: 4},
		{name: "ragged tail", text: words(101), maxWords: 25, wantChunks: 5},
		{name: "budget of one", text: words(5), maxWords: 1, wantChunks: 5},
		{name: "irregular whitespace", text: "a  b\n\nc\td   e", maxWords: 2, wantChunks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := New().Chunk(tt.text, tt.maxWords)
			require.NoError(t, err)

			assert.Len(t, chunks, tt.wantChunks)
			assertTiling(t, tt.text, chunks)
			assert.Equal(t, len(strings.Fields(tt.text)), totalWordCount(chunks))
			for _, chunk := range chunks {
				require.NoError(t, chunk.Validate())
			}
		})
	}
}

func TestChunk_Degenerate(t *testing.T) {
	text := words(10)

	chunks, err := New().Chunk(text, 10)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 10, chunks[0].WordCount)
}

func TestChunk_MathSpanBoundarySafety(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxWords int
		span     string
	}{
		{
			name:     "inline span straddles cut",
			text:     words(4) + " $a + b = c$ " + words(4),
			maxWords: 5, // naive cut lands after "$a"
			span:     "$a + b = c$",
		},
		{
			name:     "display span straddles cut",
			text:     words(3) + " $$\\int_0^1 f(x) dx$$ " + words(6),
			maxWords: 4,
			span:     "$$\\int_0^1 f(x) dx$$",
		},
		{
			name:     "back to back spans",
			text:     words(2) + " $x$ $y + z$ " + words(8),
			maxWords: 4,
			span:     "$y + z$",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := New().Chunk(tt.text, tt.maxWords)
			require.NoError(t, err)

			assertTiling(t, tt.text, chunks)

			spanStart := strings.Index(tt.text, tt.span)
			require.GreaterOrEqual(t, spanStart, 0)
			spanEnd := spanStart + len(tt.span)

			// The span must appear intact within exactly one chunk.
			holders := 0
			for _, chunk := range chunks {
				if chunk.StartOffset <= spanStart && spanEnd <= chunk.EndOffset {
					holders++
				}
				boundary := chunk.EndOffset
				assert.False(t, spanStart < boundary && boundary < spanEnd,
					"chunk boundary at %d falls inside math span [%d,%d)",
					boundary, spanStart, spanEnd)
			}
			assert.Equal(t, 1, holders)
		})
	}
}

func TestChunk_MathSpanOverridesBudget(t *testing.T) {
	// A long span forces the first chunk past its word budget.
	text := words(3) + " $a b c d e f g$ " + words(3)

	chunks, err := New().Chunk(text, 4)
	require.NoError(t, err)
	assertTiling(t, text, chunks)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Greater(t, chunks[0].WordCount, 4,
		"first chunk should exceed the budget to keep the span intact")
	assert.Contains(t, chunks[0].Text, "$a b c d e f g$")
}

func TestChunk_UnterminatedSpanEmitsRemainder(t *testing.T) {
	text := words(6) + " $broken math " + words(20)

	chunks, err := New().Chunk(text, 5)
	require.NoError(t, err)
	assertTiling(t, text, chunks)

	// Everything from the unterminated opener onward lands in one final
	// chunk instead of the chunker looping or erroring.
	last := chunks[len(chunks)-1]
	assert.Contains(t, last.Text, "$broken math")
	assert.Equal(t, len(text), last.EndOffset)
}

func TestChunk_EscapedDollarIsNotASpan(t *testing.T) {
	text := words(4) + ` costs \$5 today ` + words(4)

	chunks, err := New().Chunk(text, 5)
	require.NoError(t, err)
	assertTiling(t, text, chunks)
	assert.Len(t, chunks, 3)
}

func TestChunk_InputValidation(t *testing.T) {
	t.Run("non-positive budget rejected", func(t *testing.T) {
		_, err := New().Chunk("some text", 0)
		assert.ErrorIs(t, err, ErrInvalidMaxWords)
	})

	t.Run("whitespace-only text rejected", func(t *testing.T) {
		_, err := New().Chunk("   \n\t  ", 10)
		assert.ErrorIs(t, err, ErrNoWords)
	})
}
