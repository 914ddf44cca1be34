package task

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vinayprograms/crew/internal/model"
)

var (
	stepsBlock = regexp.MustCompile(`(?s)<steps>(.*?)</steps>`)
	finalScore = regexp.MustCompile(`<finalscore>\s*([-+]?[0-9]*\.?[0-9]+)\s*</finalscore>`)
)

// ExtractSteps reads the <steps> block of text: one step per non-blank
// line, indexed from zero. Text without the block yields no steps.
func ExtractSteps(text string) model.StepInstructions {
	steps := model.StepInstructions{}
	m := stepsBlock.FindStringSubmatch(text)
	if m == nil {
		return steps
	}
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps[len(steps)] = model.Step{Step: line}
	}
	return steps
}

// ParseScore extracts the evaluator's <finalscore> value.
func ParseScore(text string) (float64, bool) {
	m := finalScore.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return score, true
}
