package grading

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

func TestDefaultGraderNormalisesAnswers(t *testing.T) {
	grader := NewDefaultGrader()

	cases := []struct {
		name    string
		q       Question
		answer  string
		correct bool
	}{
		{"single choice ignores case", Question{Type: models.QuestionSingleChoice, CorrectAnswer: "B", Score: 2}, "b", true},
		{"single choice trims", Question{Type: models.QuestionSingleChoice, CorrectAnswer: " C ", Score: 2}, "c ", true},
		{"single choice mismatch", Question{Type: models.QuestionSingleChoice, CorrectAnswer: "B", Score: 2}, "A", false},
		{"multiple choice order independent", Question{Type: models.QuestionMultipleChoice, CorrectAnswer: "A,B", Score: 4}, "B,A", true},
		{"multiple choice dedupes", Question{Type: models.QuestionMultipleChoice, CorrectAnswer: "A,C", Score: 4}, "c, a, C", true},
		{"multiple choice subset", Question{Type: models.QuestionMultipleChoice, CorrectAnswer: "A,B", Score: 4}, "A", false},
		{"multiple choice empty never matches", Question{Type: models.QuestionMultipleChoice, CorrectAnswer: "", Score: 4}, "", false},
		{"true false ignores case", Question{Type: models.QuestionTrueFalse, CorrectAnswer: "true", Score: 1}, "TRUE", true},
		{"true false mismatch", Question{Type: models.QuestionTrueFalse, CorrectAnswer: "false", Score: 1}, "true", false},
		{"unanswered", Question{Type: models.QuestionSingleChoice, CorrectAnswer: "A", Score: 3}, "", false},
		{"unknown type", Question{Type: "ESSAY", CorrectAnswer: "anything", Score: 3}, "anything", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := grader.Grade(tc.q, tc.answer)
			require.Equal(t, tc.correct, outcome.Correct)
			require.Equal(t, tc.q.Score, outcome.MaxScore)
			if tc.correct {
				require.Equal(t, tc.q.Score, outcome.EarnedScore)
			} else {
				require.Zero(t, outcome.EarnedScore)
			}
		})
	}
}

func TestNormalizeChoicesDropsNonLetters(t *testing.T) {
	require.Equal(t, "A,B,D", NormalizeChoices(" d,b , AB, 1, a,,b"))
	require.Equal(t, "", NormalizeChoices("  "))
}

type alwaysStrategy struct{}

func (alwaysStrategy) Matches(string, string) bool { return true }

func TestWithStrategyOverridesType(t *testing.T) {
	grader := NewDefaultGrader(WithStrategy("ESSAY", alwaysStrategy{}))
	outcome := grader.Grade(Question{Type: "ESSAY", Score: 7}, "")
	require.True(t, outcome.Correct)
	require.Equal(t, 7, outcome.EarnedScore)
}
