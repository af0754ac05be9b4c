// Package parser extracts structured metric results from raw scoring-backend
// output. Backends are schema-inconsistent in practice: payloads arrive
// wrapped in Markdown code fences, preceded by conversational preamble, with
// trailing commas, unquoted keys, or missing fields. The parser recovers a
// usable result wherever possible and degrades to a zero-score result with
// an explicit reason otherwise; it never aborts the pipeline.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ahrav/go-appraise/internal/domain"
)

// Degradation reasons attached to results the parser could not fully recover.
const (
	ReasonMalformedResponse = "malformed backend response"
	ReasonMissingScore      = "score missing from backend response"
	ReasonEmptyResponse     = "empty backend response"
)

// payload is the expected structure of a backend scoring response.
// Explanation and Analysis are accepted as aliases; Score is a pointer so a
// missing field is distinguishable from a literal zero.
type payload struct {
	Quotation   string   `json:"quotation"`
	Explanation string   `json:"explanation"`
	Analysis    string   `json:"analysis"`
	Score       *float64 `json:"score"`
}

// fencePatterns match Markdown code-fence wrappers around the payload.
// (?s) lets the body span newlines.
var fencePatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```"),
	regexp.MustCompile("(?s)```\\s*(.*?)\\s*```"),
	regexp.MustCompile("(?s)`(\\{.*?\\})`"),
}

// trailingComma matches commas immediately preceding a closing brace or
// bracket, a common LLM JSON defect.
var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// unquotedKey matches bare object keys, another common defect.
var unquotedKey = regexp.MustCompile(`([{,])\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)

// Parse converts a raw backend payload into a MetricResult for the given
// metric and chunk. Parsing is progressive: direct JSON first, then fence
// stripping and preamble discard, then syntax repair. Total failure yields
// a degraded zero-score result carrying the failure reason; the caller
// always receives a result.
func Parse(
	raw string,
	metric domain.MetricDefinition,
	chunkID string,
	provenance domain.MetricResultProvenance,
) domain.MetricResult {
	content := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if content == "" {
		return degraded(metric, chunkID, ReasonEmptyResponse, provenance)
	}

	p, ok := parsePayload(content)
	if !ok {
		return degraded(metric, chunkID, ReasonMalformedResponse, provenance)
	}

	explanation := p.Explanation
	if explanation == "" {
		explanation = p.Analysis
	}

	if p.Score == nil {
		// Required field absent: the evidence may still be useful, but the
		// result must be flagged rather than silently scored.
		result := degraded(metric, chunkID, ReasonMissingScore, provenance)
		if p.Quotation != "" {
			result.Quotation = p.Quotation
		}
		if explanation != "" {
			result.Explanation = explanation
		}
		return result
	}

	return domain.NewMetricResult(metric, chunkID, p.Quotation, explanation, *p.Score, provenance)
}

// parsePayload attempts the progressive parse strategies in order.
func parsePayload(content string) (*payload, bool) {
	// First attempt: the payload is already clean JSON.
	if p, ok := tryUnmarshal(content); ok {
		return p, true
	}

	// Second attempt: strip fences or discard preamble, then parse.
	extracted := extractJSON(content)
	if p, ok := tryUnmarshal(extracted); ok {
		return p, true
	}

	// Third attempt: repair common syntax damage on the extracted body.
	if p, ok := tryUnmarshal(repairJSON(extracted)); ok {
		return p, true
	}

	return nil, false
}

// tryUnmarshal parses content into a payload, rejecting non-object payloads.
func tryUnmarshal(content string) (*payload, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return nil, false
	}
	var p payload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// extractJSON pulls a JSON object out of Markdown or mixed prose content.
// It checks code fences first, then falls back to the outermost brace pair,
// which discards any preamble before the first plausible start.
func extractJSON(content string) string {
	for _, pattern := range fencePatterns {
		if matches := pattern.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		return content[start : end+1]
	}
	return content
}

// repairJSON fixes common JSON syntax errors in backend output: trailing
// commas, unbalanced braces/brackets, unquoted keys, and single-quoted
// strings when no double quotes are present.
func repairJSON(content string) string {
	repaired := trailingComma.ReplaceAllString(content, "$1")

	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	for i := 0; i < openBraces; i++ {
		repaired += "}"
	}
	for i := 0; i < openBrackets; i++ {
		repaired += "]"
	}

	repaired = unquotedKey.ReplaceAllString(repaired, `$1"$2":`)

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}

	return strings.TrimSpace(repaired)
}

// degraded builds a zero-score fallback result preserving provenance.
func degraded(
	metric domain.MetricDefinition,
	chunkID, reason string,
	provenance domain.MetricResultProvenance,
) domain.MetricResult {
	result := domain.NewDegradedResult(metric, chunkID, reason)
	if provenance.EvaluatedAt.IsZero() {
		provenance.EvaluatedAt = result.EvaluatedAt
	}
	result.MetricResultProvenance = provenance
	return result
}
