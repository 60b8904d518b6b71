package openai

import "strings"

// DefaultExplanation is used when the model returns a formula without any
// surrounding prose.
const DefaultExplanation = "Formula generated successfully."

// ParseFormulaText splits the raw model output into formula and explanation.
// The first line starting with "=" wins as the formula; without one the first
// line is used verbatim, untrimmed and even when empty. All lines not
// starting with "=" are joined with single spaces to form the explanation.
func ParseFormulaText(raw string) (formula, explanation string) {
	lines := strings.Split(raw, "\n")

	formula = lines[0]
	for _, line := range lines {
		if strings.HasPrefix(line, "=") {
			formula = line
			break
		}
	}

	var rest []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "=") {
			rest = append(rest, line)
		}
	}
	explanation = strings.TrimSpace(strings.Join(rest, " "))
	if explanation == "" {
		explanation = DefaultExplanation
	}
	return formula, explanation
}
