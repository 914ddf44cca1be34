package task

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vinayprograms/crew/internal/model"
)

func TestExtractSteps(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.StepInstructions
	}{
		{
			name: "block",
			text: "Here you go\n<steps>\nDo X\nDo Y\n</steps>\nGood luck",
			want: model.StepInstructions{0: {Step: "Do X"}, 1: {Step: "Do Y"}},
		},
		{
			name: "blank lines dropped",
			text: "<steps>\n\n  Do X  \n\n\nDo Y\n</steps>",
			want: model.StepInstructions{0: {Step: "Do X"}, 1: {Step: "Do Y"}},
		},
		{
			name: "no block",
			text: "Do X then Do Y",
			want: model.StepInstructions{},
		},
		{
			name: "unterminated block",
			text: "<steps>\nDo X",
			want: model.StepInstructions{},
		},
		{
			name: "first block wins",
			text: "<steps>\nA\n</steps> and <steps>\nB\n</steps>",
			want: model.StepInstructions{0: {Step: "A"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSteps(tt.text))
		})
	}
}

func TestParseScore(t *testing.T) {
	score, ok := ParseScore("overall fine <finalscore> 7.25 </finalscore>")
	assert.True(t, ok)
	assert.Equal(t, 7.25, score)

	score, ok = ParseScore("<finalscore>9</finalscore>")
	assert.True(t, ok)
	assert.Equal(t, 9.0, score)

	_, ok = ParseScore("no score here")
	assert.False(t, ok)

	_, ok = ParseScore("<finalscore>high</finalscore>")
	assert.False(t, ok)
}
