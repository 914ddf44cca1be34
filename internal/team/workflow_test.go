package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/crew/internal/model"
)

func TestParseWorkflow(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []model.WorkflowStep
	}{
		{
			name: "single step with malformed trailing paragraph",
			text: "Step 1: Setup\nResponsibilities:\n- Alice: gather data\nEstimated Time: 1h\n\nThis paragraph is not a step.",
			want: []model.WorkflowStep{{
				Step:             "Step 1: Setup",
				Responsibilities: []model.Responsibility{{Agent: "Alice", Task: "gather data"}},
				EstimatedTime:    "1h",
			}},
		},
		{
			name: "several steps and responsibilities",
			text: "Here is the plan.\n\nStep 1: Research\nResponsibilities:\n- Alice: find sources\n- Bob: read papers\nEstimated Time: 2 hours\n\nStep 2: Write\nResponsibilities:\n- Bob: draft the summary\nEstimated Time: 30 minutes\n\nLet me know.",
			want: []model.WorkflowStep{
				{
					Step: "Step 1: Research",
					Responsibilities: []model.Responsibility{
						{Agent: "Alice", Task: "find sources"},
						{Agent: "Bob", Task: "read papers"},
					},
					EstimatedTime: "2 hours",
				},
				{
					Step:             "Step 2: Write",
					Responsibilities: []model.Responsibility{{Agent: "Bob", Task: "draft the summary"}},
					EstimatedTime:    "30 minutes",
				},
			},
		},
		{
			name: "task text keeps later separators",
			text: "Step 1: Build\n- Alice: write code: tests first\nEstimated Time: 1d",
			want: []model.WorkflowStep{{
				Step:             "Step 1: Build",
				Responsibilities: []model.Responsibility{{Agent: "Alice", Task: "write code: tests first"}},
				EstimatedTime:    "1d",
			}},
		},
		{
			name: "windows line endings and indented blank line",
			text: "Step 1: A\r\n- Alice: x\r\nEstimated Time: 1h\r\n  \r\nStep 2: B\r\n- Bob: y\r\nEstimated Time: 2h",
			want: []model.WorkflowStep{
				{Step: "Step 1: A", Responsibilities: []model.Responsibility{{Agent: "Alice", Task: "x"}}, EstimatedTime: "1h"},
				{Step: "Step 2: B", Responsibilities: []model.Responsibility{{Agent: "Bob", Task: "y"}}, EstimatedTime: "2h"},
			},
		},
		{
			name: "block not starting with Step",
			text: "1. Setup\n- Alice: gather data\nEstimated Time: 1h",
			want: nil,
		},
		{
			name: "responsibility without separator",
			text: "Step 1: Setup\n- Alice gathers data\nEstimated Time: 1h",
			want: nil,
		},
		{
			name: "no responsibilities",
			text: "Step 1: Setup\nResponsibilities:\nEstimated Time: 1h",
			want: nil,
		},
		{
			name: "missing estimated time",
			text: "Step 1: Setup\n- Alice: gather data",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseWorkflow(tt.text))
		})
	}
}

func TestParseWorkflowDropsOnlyBadBlocks(t *testing.T) {
	text := "Step 1: Good\n- Alice: a\nEstimated Time: 1h\n\nStep 2: Bad\n- Bob b\nEstimated Time: 1h\n\nStep 3: Good\n- Carol: c\nEstimated Time: 3h"
	steps := ParseWorkflow(text)
	require.Len(t, steps, 2)
	assert.Equal(t, "Step 1: Good", steps[0].Step)
	assert.Equal(t, "Step 3: Good", steps[1].Step)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		review string
		want   Action
		found  bool
		valid  bool
	}{
		{"Looks fine overall.\naction: revise", ActionRevise, true, true},
		{"action: done", ActionDone, true, true},
		{"Needs depth.\nAction: Improve.", ActionImprove, true, true},
		{"**Action:** continue", ActionContinue, true, true},
		{"action: revise\nmore thoughts\naction: done", ActionDone, true, true},
		{"action: done\nThanks for the work.", ActionDone, true, true},
		{"action: celebrate", Action("celebrate"), true, false},
		{"action:", Action(""), true, false},
		{"Great work, nothing to add.", Action(""), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.review, func(t *testing.T) {
			got, found := ParseAction(tt.review)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}
}
