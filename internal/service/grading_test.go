package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

func TestLetterGradeBoundaries(t *testing.T) {
	cases := []struct {
		pct    float64
		letter string
	}{
		{100, "A"},
		{93, "A"},
		{92.999, "A-"},
		{90, "A-"},
		{89.999, "B+"},
		{87, "B+"},
		{83, "B"},
		{80, "B-"},
		{77, "C+"},
		{73, "C"},
		{70, "C-"},
		{67, "D+"},
		{63, "D"},
		{60, "D-"},
		{59.999, "F"},
		{0, "F"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.letter, LetterGrade(tc.pct), "percentage %v", tc.pct)
	}
}

func TestGradePoints(t *testing.T) {
	assert.Equal(t, 4.0, GradePoints("A"))
	assert.Equal(t, 3.7, GradePoints("A-"))
	assert.Equal(t, 0.7, GradePoints("D-"))
	assert.Equal(t, 0.0, GradePoints("F"))
	assert.Equal(t, 0.0, GradePoints("Z"))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 50.0, Percentage(5, 10))
	assert.Equal(t, 0.0, Percentage(5, 0))
	assert.Equal(t, 110.0, Percentage(11, 10))
}

func TestGPA(t *testing.T) {
	assert.Equal(t, 3.5, GPA([]string{"A", "B"}))
	assert.Equal(t, 0.0, GPA(nil))
	assert.Equal(t, 3.35, GPA([]string{"A-", "B-", "A", "B"}))
}

func TestScoreAttemptExactMatch(t *testing.T) {
	bank := models.QuestionBank{Questions: []models.Question{
		{ID: "q1", Text: "one", Options: []string{"a", "b"}, CorrectAnswer: 1, Points: 5},
		{ID: "q2", Text: "two", Options: []string{"a", "b", "c"}, CorrectAnswer: 2, Points: 10, Explanation: "c"},
	}}

	score, results := ScoreAttempt(bank, models.QuizAnswers{"q1": 1, "q2": 0})
	assert.Equal(t, 5.0, score)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsCorrect)
	assert.Equal(t, 5.0, results[0].PointsEarned)
	assert.False(t, results[1].IsCorrect)
	assert.Equal(t, 0.0, results[1].PointsEarned)
	require.NotNil(t, results[1].StudentAnswer)
	assert.Equal(t, 0, *results[1].StudentAnswer)
	assert.Equal(t, "c", results[1].Explanation)
}

func TestScoreAttemptMissingAnswer(t *testing.T) {
	bank := models.QuestionBank{Questions: []models.Question{
		{ID: "q1", Text: "one", Options: []string{"a", "b"}, CorrectAnswer: 0, Points: 5},
	}}
	score, results := ScoreAttempt(bank, models.QuizAnswers{"unknown": 0})
	assert.Zero(t, score)
	assert.Nil(t, results[0].StudentAnswer)
	assert.False(t, results[0].IsCorrect)
}

func TestManualAndQuizPercentageAgree(t *testing.T) {
	bank := models.QuestionBank{Questions: []models.Question{
		{ID: "q1", Text: "one", Options: []string{"a", "b"}, CorrectAnswer: 1, Points: 5},
		{ID: "q2", Text: "two", Options: []string{"a", "b"}, CorrectAnswer: 1, Points: 10},
	}}
	score, _ := ScoreAttempt(bank, models.QuizAnswers{"q1": 1})
	assert.Equal(t, Percentage(5, 15), Percentage(score, bank.MaxPoints()))
}

func TestIsLegacyQuizGrade(t *testing.T) {
	feedback := QuizFeedback("Midterm")
	assert.True(t, IsLegacyQuizGrade(&feedback, "Midterm"))
	assert.False(t, IsLegacyQuizGrade(nil, "Midterm"))

	// Title collision: a "Midterm Review" grade is mistaken for the "Midterm" quiz.
	review := QuizFeedback("Midterm Review")
	assert.True(t, IsLegacyQuizGrade(&review, "Midterm"))
	assert.False(t, IsLegacyQuizGrade(&feedback, "Midterm Review"))
}
