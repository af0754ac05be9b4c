// Package domain provides core types and business logic for long-form text
// appraisal. It defines documents, chunks, metric catalogs, per-metric and
// aggregated results, weight policies, and the error taxonomy used throughout
// the system. The types are designed to support reproducible, auditable
// analysis runs against unreliable external scoring backends.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// PreviewRuneLimit bounds the length of a chunk preview string.
const PreviewRuneLimit = 80

// Document is a unit of text submitted for analysis.
// Documents are immutable once submitted; the pipeline never mutates RawText.
type Document struct {
	// ID uniquely identifies the document within a run.
	ID string `json:"id" validate:"required,uuid"`

	// Title is a caller-supplied display name. May be empty.
	Title string `json:"title"`

	// RawText is the full text under analysis.
	RawText string `json:"raw_text" validate:"required"`
}

// NewDocument creates a Document with a generated ID.
func NewDocument(title, rawText string) Document {
	return Document{
		ID:      uuid.New().String(),
		Title:   title,
		RawText: rawText,
	}
}

// WordCount returns the number of whitespace-delimited words in the document.
func (d Document) WordCount() int { return len(strings.Fields(d.RawText)) }

// Validate checks the document against its structural constraints.
func (d Document) Validate() error { return validate.Struct(d) }

// Chunk is a bounded, ordered, non-overlapping segment of a Document.
//
// Invariants maintained by the chunker:
//   - Ordinals are contiguous starting at 0.
//   - [StartOffset, EndOffset) indexes into the owning document's RawText.
//   - The union of chunk spans covers the document with no gaps or overlaps,
//     so concatenating chunk texts in ordinal order reproduces RawText exactly.
//   - No chunk boundary falls strictly inside a recognized math span.
type Chunk struct {
	// ID uniquely identifies the chunk for result correlation.
	ID string `json:"id" validate:"required,uuid"`

	// Ordinal is the zero-based position of the chunk within its document.
	Ordinal int `json:"ordinal" validate:"min=0"`

	// Text is the exact slice RawText[StartOffset:EndOffset].
	Text string `json:"text" validate:"required"`

	// WordCount is the number of whitespace-delimited words in Text.
	WordCount int `json:"word_count" validate:"min=1"`

	// StartOffset is the byte offset of the chunk start in RawText.
	StartOffset int `json:"start_offset" validate:"min=0"`

	// EndOffset is the byte offset one past the chunk end in RawText.
	EndOffset int `json:"end_offset" validate:"gtfield=StartOffset"`

	// Preview is a short, whitespace-normalized prefix of Text for logs and
	// API responses.
	Preview string `json:"preview"`
}

// NewChunk creates a chunk over rawText[start:end] with a generated ID.
func NewChunk(rawText string, ordinal, start, end int) Chunk {
	text := rawText[start:end]
	return Chunk{
		ID:          uuid.New().String(),
		Ordinal:     ordinal,
		Text:        text,
		WordCount:   len(strings.Fields(text)),
		StartOffset: start,
		EndOffset:   end,
		Preview:     MakePreview(text),
	}
}

// Validate checks the chunk against its structural constraints.
func (c Chunk) Validate() error { return validate.Struct(c) }

// MakePreview collapses whitespace and truncates text to PreviewRuneLimit
// runes, appending an ellipsis when truncated.
func MakePreview(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= PreviewRuneLimit {
		return collapsed
	}
	trimmed := strings.TrimRightFunc(string(runes[:PreviewRuneLimit]), unicode.IsSpace)
	return trimmed + "…"
}
