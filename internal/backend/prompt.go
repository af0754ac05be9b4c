package backend

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-appraise/internal/domain"
)

// systemPromptTemplate instructs the model to behave as a strict evaluator
// and to answer with the exact JSON shape the parser expects.
const systemPromptTemplate = `You are a rigorous evaluator of long-form analytical writing.
Assess only the quality named in the instructions. Be strict: reserve scores
above %.0f for genuinely exceptional work.

Respond with a single JSON object and nothing else:
{"quotation": "<short verbatim excerpt supporting your judgment>",
 "explanation": "<two or three sentences justifying the score>",
 "score": <number from 0 to %.0f>}`

// RenderPrompts produces the system and user prompts for scoring text
// against one metric. Document-level metrics receive the same rendering;
// the caller decides what text to pass.
func RenderPrompts(metric domain.MetricDefinition, text string) (systemPrompt, userPrompt string) {
	scale := metric.Scale()
	systemPrompt = fmt.Sprintf(systemPromptTemplate, scale*0.8, scale)

	var b strings.Builder
	fmt.Fprintf(&b, "Metric: %s\n", metric.Name)
	fmt.Fprintf(&b, "Instructions: %s\n", metric.Prompt)
	fmt.Fprintf(&b, "Score range: 0 to %.0f.\n\n", scale)
	b.WriteString("Passage to evaluate:\n")
	b.WriteString(text)
	return systemPrompt, b.String()
}
