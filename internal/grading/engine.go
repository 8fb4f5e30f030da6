package grading

import (
	"regexp"
	"sort"
	"strings"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// Question is the view of a question needed to grade one answer.
// CorrectAnswer comes from the live catalog, Score from the attempt snapshot.
type Question struct {
	Type          models.QuestionType
	CorrectAnswer string
	Score         int
}

// Outcome is the grading of one answer. Scoring is all-or-nothing.
type Outcome struct {
	Correct     bool
	EarnedScore int
	MaxScore    int
}

// Strategy decides whether a submitted answer matches the correct one.
type Strategy interface {
	Matches(answer, correct string) bool
}

// Grader routes a question to the strategy registered for its type.
type Grader interface {
	Grade(q Question, answer string) Outcome
}

type defaultGrader struct {
	strategies map[models.QuestionType]Strategy
}

// Option customises the default grader.
type Option func(map[models.QuestionType]Strategy)

// WithStrategy registers or replaces the strategy for a question type.
func WithStrategy(questionType models.QuestionType, strategy Strategy) Option {
	return func(strategies map[models.QuestionType]Strategy) {
		strategies[questionType] = strategy
	}
}

// NewDefaultGrader installs the objective question strategies.
func NewDefaultGrader(opts ...Option) Grader {
	strategies := map[models.QuestionType]Strategy{
		models.QuestionSingleChoice:   singleChoiceStrategy{},
		models.QuestionMultipleChoice: multipleChoiceStrategy{},
		models.QuestionTrueFalse:      trueFalseStrategy{},
	}
	for _, opt := range opts {
		opt(strategies)
	}
	return &defaultGrader{strategies: strategies}
}

// Grade never awards partial credit; unknown question types are never correct.
func (g *defaultGrader) Grade(q Question, answer string) Outcome {
	outcome := Outcome{MaxScore: q.Score}
	strategy, ok := g.strategies[q.Type]
	if !ok {
		return outcome
	}
	if strategy.Matches(answer, q.CorrectAnswer) {
		outcome.Correct = true
		outcome.EarnedScore = q.Score
	}
	return outcome
}

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Matches(answer, correct string) bool {
	return strings.ToUpper(strings.TrimSpace(answer)) == strings.ToUpper(strings.TrimSpace(correct))
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Matches(answer, correct string) bool {
	return strings.ToLower(strings.TrimSpace(answer)) == strings.ToLower(strings.TrimSpace(correct))
}

type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Matches(answer, correct string) bool {
	normalized := NormalizeChoices(answer)
	return normalized != "" && normalized == NormalizeChoices(correct)
}

var choiceLetter = regexp.MustCompile(`^[A-Z]$`)

// NormalizeChoices turns "b, a,A" into "A,B": single letters only, deduplicated and sorted.
func NormalizeChoices(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	seen := make(map[string]struct{})
	letters := make([]string, 0, 4)
	for _, part := range strings.Split(trimmed, ",") {
		token := strings.ToUpper(strings.TrimSpace(part))
		if !choiceLetter.MatchString(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		letters = append(letters, token)
	}
	sort.Strings(letters)
	return strings.Join(letters, ",")
}
