package team

import (
	"regexp"
	"strings"

	"github.com/vinayprograms/crew/internal/model"
)

const estimatedTimeLabel = "Estimated Time:"

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// ParseWorkflow extracts workflow steps from a leader's plan. Blocks are
// separated by blank lines; a block is a step when its first line starts
// with "Step", it lists at least one "- Agent: task" responsibility and it
// carries an "Estimated Time:" line. Anything else is dropped.
func ParseWorkflow(text string) []model.WorkflowStep {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var steps []model.WorkflowStep
	for _, block := range blankLine.Split(text, -1) {
		if step, ok := parseStep(block); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func parseStep(block string) (model.WorkflowStep, bool) {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "Step") {
		return model.WorkflowStep{}, false
	}

	step := model.WorkflowStep{Step: strings.TrimSpace(lines[0])}
	hasTime := false
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			agent, task, ok := strings.Cut(line[2:], ": ")
			agent, task = strings.TrimSpace(agent), strings.TrimSpace(task)
			if !ok || agent == "" || task == "" {
				return model.WorkflowStep{}, false
			}
			step.Responsibilities = append(step.Responsibilities, model.Responsibility{Agent: agent, Task: task})
		case strings.HasPrefix(line, estimatedTimeLabel):
			step.EstimatedTime = strings.TrimSpace(strings.TrimPrefix(line, estimatedTimeLabel))
			hasTime = true
		}
	}

	if len(step.Responsibilities) == 0 || !hasTime {
		return model.WorkflowStep{}, false
	}
	return step, true
}

// Action is the leader's verdict on a contribution.
type Action string

const (
	ActionImprove  Action = "improve"
	ActionRevise   Action = "revise"
	ActionContinue Action = "continue"
	ActionDone     Action = "done"
)

const actionMarker = "action:"

// Valid reports whether a is one of the four review actions.
func (a Action) Valid() bool {
	switch a {
	case ActionImprove, ActionRevise, ActionContinue, ActionDone:
		return true
	}
	return false
}

// ParseAction returns the text after the last "action:" marker of a
// review, lowercased and stripped of markdown and punctuation. ok is false
// when the review has no marker. The result may still be an unknown action.
func ParseAction(review string) (Action, bool) {
	idx := lastIndexFold(review, actionMarker)
	if idx < 0 {
		return "", false
	}
	tail := review[idx+len(actionMarker):]
	if nl := strings.IndexByte(strings.TrimSpace(tail), '\n'); nl >= 0 {
		tail = strings.TrimSpace(tail)[:nl]
	}
	tail = strings.ToLower(strings.Trim(strings.TrimSpace(tail), "*_`'\".!:[] "))
	return Action(tail), true
}

// lastIndexFold is strings.LastIndex with ASCII case folding of substr.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
