// Package chunker splits documents into ordered, bounded, non-overlapping
// segments for per-chunk metric evaluation. Boundaries land on word
// boundaries and never fall inside a recognized math span (`$...$` or
// `$$...$$`); a span straddling the natural cut point extends the chunk past
// the configured word budget. Chunk spans tile the document exactly, so
// concatenating chunk texts in ordinal order reproduces the input.
package chunker

import (
	"errors"
	"log/slog"
	"unicode"

	"github.com/ahrav/go-appraise/internal/domain"
)

// Chunking errors.
var (
	// ErrInvalidMaxWords indicates a non-positive word budget.
	ErrInvalidMaxWords = errors.New("maxWordsPerChunk must be greater than 0")

	// ErrNoWords indicates the text contains no whitespace-delimited words.
	ErrNoWords = errors.New("text contains no words")
)

// Chunker performs math-span-aware document splitting. A single instance is
// safe for concurrent use; it carries no per-run state.
type Chunker struct {
	logger *slog.Logger
}

// New creates a Chunker with the default logger.
func New() *Chunker {
	return &Chunker{logger: slog.Default().With("component", "chunker")}
}

// wordSpan records the byte offsets of one whitespace-delimited word.
type wordSpan struct {
	start int
	end   int
}

// mathSpan records the byte offsets of one recognized math span, inclusive
// of its delimiters. end is exclusive.
type mathSpan struct {
	start int
	end   int
}

// Chunk splits text into chunks of at most maxWordsPerChunk words, except
// where a math span forces an overrun (correctness over strict size).
//
// Guarantees on the returned slice:
//   - Ordinals are contiguous from 0.
//   - Spans tile [0, len(text)) with no gaps or overlaps.
//   - No boundary falls strictly inside a recognized math span.
//   - If every word fits one budget, exactly one chunk spans the whole text.
func (c *Chunker) Chunk(text string, maxWordsPerChunk int) ([]domain.Chunk, error) {
	if maxWordsPerChunk <= 0 {
		return nil, ErrInvalidMaxWords
	}

	words := scanWords(text)
	if len(words) == 0 {
		return nil, ErrNoWords
	}

	spans, unterminatedAt := scanMathSpans(text)

	if len(words) <= maxWordsPerChunk {
		return []domain.Chunk{domain.NewChunk(text, 0, 0, len(text))}, nil
	}

	var chunks []domain.Chunk
	start := 0
	i := 0
	lastWord := len(words) - 1

	for i <= lastWord {
		j := i + maxWordsPerChunk - 1
		if j > lastWord {
			j = lastWord
		}

		// Extend past any math span the candidate boundary would split.
		// Each extension may expose a new overlapping span, so repeat
		// until the boundary is safe.
		for {
			cut := words[j].end
			span, inside := spanContaining(spans, cut)
			if !inside {
				break
			}
			extended := wordCovering(words, j, span.end)
			if extended == j {
				break
			}
			j = extended
		}

		// An unterminated opener has no closing delimiter to extend to.
		// Emit the remainder as the final chunk instead of looping; this
		// is a data-quality problem in the input, not a pipeline error.
		if unterminatedAt >= 0 && j != lastWord && words[j].end > unterminatedAt {
			c.logger.Warn("unterminated math span, emitting remainder as final chunk",
				"open_offset", unterminatedAt,
				"chunk_ordinal", len(chunks))
			j = lastWord
		}

		end := words[j].end
		if j == lastWord {
			end = len(text)
		}

		chunks = append(chunks, domain.NewChunk(text, len(chunks), start, end))
		start = end
		i = j + 1
	}

	return chunks, nil
}

// scanWords returns the byte spans of all whitespace-delimited words.
func scanWords(text string) []wordSpan {
	var words []wordSpan
	inWord := false
	wordStart := 0

	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, wordSpan{start: wordStart, end: i})
				inWord = false
			}
			continue
		}
		if !inWord {
			wordStart = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, wordSpan{start: wordStart, end: len(text)})
	}
	return words
}

// scanMathSpans finds inline `$...$` and display `$$...$$` spans, skipping
// escaped dollar signs. It returns the recognized spans in order plus the
// offset of the first unterminated opener, or -1 when all spans close.
func scanMathSpans(text string) ([]mathSpan, int) {
	var spans []mathSpan

	i := 0
	for i < len(text) {
		ch := text[i]
		if ch == '\\' {
			// Skip the escaped character, whatever it is.
			i += 2
			continue
		}
		if ch != '$' {
			i++
			continue
		}

		// Display span takes precedence over two adjacent inline openers.
		if i+1 < len(text) && text[i+1] == '$' {
			closing := indexUnescaped(text, i+2, "$$")
			if closing < 0 {
				return spans, i
			}
			spans = append(spans, mathSpan{start: i, end: closing + 2})
			i = closing + 2
			continue
		}

		closing := indexUnescaped(text, i+1, "$")
		if closing < 0 {
			return spans, i
		}
		spans = append(spans, mathSpan{start: i, end: closing + 1})
		i = closing + 1
	}

	return spans, -1
}

// indexUnescaped returns the offset of the next occurrence of delim at or
// after from that is not preceded by a backslash, or -1.
func indexUnescaped(text string, from int, delim string) int {
	for i := from; i+len(delim) <= len(text); i++ {
		if text[i] == '\\' {
			i++
			continue
		}
		if text[i:i+len(delim)] == delim {
			return i
		}
	}
	return -1
}

// spanContaining reports whether cut falls strictly inside any span.
func spanContaining(spans []mathSpan, cut int) (mathSpan, bool) {
	for _, s := range spans {
		if s.start < cut && cut < s.end {
			return s, true
		}
	}
	return mathSpan{}, false
}

// wordCovering returns the index of the first word at or after from whose
// end reaches offset, so the span ending at offset lands inside one chunk.
func wordCovering(words []wordSpan, from, offset int) int {
	j := from
	for j < len(words)-1 && words[j].end < offset {
		j++
	}
	return j
}
