package service

import (
	"math"
	"strings"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

type letterBand struct {
	min    float64
	letter string
	points float64
}

// Bands are checked top down; a percentage lands in the first band whose minimum it reaches.
var letterBands = []letterBand{
	{93, "A", 4.0},
	{90, "A-", 3.7},
	{87, "B+", 3.3},
	{83, "B", 3.0},
	{80, "B-", 2.7},
	{77, "C+", 2.3},
	{73, "C", 2.0},
	{70, "C-", 1.7},
	{67, "D+", 1.3},
	{63, "D", 1.0},
	{60, "D-", 0.7},
}

// LetterGrade maps a percentage onto the letter scale.
func LetterGrade(percentage float64) string {
	for _, band := range letterBands {
		if percentage >= band.min {
			return band.letter
		}
	}
	return "F"
}

// GradePoints returns the 4.0-scale points of a letter. Unknown letters count as 0.
func GradePoints(letter string) float64 {
	for _, band := range letterBands {
		if band.letter == letter {
			return band.points
		}
	}
	return 0
}

// Percentage is score over maxPoints in percent, or 0 without a positive maximum.
func Percentage(score, maxPoints float64) float64 {
	if maxPoints <= 0 {
		return 0
	}
	return score / maxPoints * 100
}

// GPA averages the grade points of letters, rounded half-to-even to two decimals.
func GPA(letters []string) float64 {
	if len(letters) == 0 {
		return 0
	}
	total := 0.0
	for _, l := range letters {
		total += GradePoints(l)
	}
	return roundTwo(total / float64(len(letters)))
}

func roundTwo(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// QuizFeedback is the feedback text stored on quiz grades.
func QuizFeedback(title string) string {
	return "Quiz: " + title
}

// IsLegacyQuizGrade reports whether a grade without an explicit source was produced by
// the quiz with this title. Matching is by substring, so "Quiz: Midterm Review" also
// matches a quiz titled "Midterm".
func IsLegacyQuizGrade(feedback *string, title string) bool {
	if feedback == nil {
		return false
	}
	return strings.Contains(*feedback, QuizFeedback(title))
}

// ScoreAttempt grades answers against the bank. A question earns its points only on an
// exact index match; missing answers are wrong.
func ScoreAttempt(bank models.QuestionBank, answers models.QuizAnswers) (float64, models.QuizResults) {
	score := 0.0
	results := make(models.QuizResults, 0, len(bank.Questions))
	for _, q := range bank.Questions {
		result := models.QuestionResult{
			QuestionID:    q.ID,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		}
		if answer, ok := answers[q.ID]; ok {
			a := answer
			result.StudentAnswer = &a
			if answer == q.CorrectAnswer {
				result.IsCorrect = true
				result.PointsEarned = q.Points
				score += q.Points
			}
		}
		results = append(results, result)
	}
	return score, results
}
