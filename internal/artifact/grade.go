package artifact

import (
	"strings"

	"github.com/quizmate/quizmate/internal/models"
)

// QuestionResult is the grading outcome for a single question.
type QuestionResult struct {
	Index      int    `json:"index"`
	Selected   string `json:"selected"`
	Correct    bool   `json:"correct"`
	Unanswered bool   `json:"unanswered"`
}

// GradeResult is the outcome of a test submission.
type GradeResult struct {
	Score     int              `json:"score"`
	Total     int              `json:"total"`
	Questions []QuestionResult `json:"questions"`
}

// Grade scores a test submission. answers maps question index to the
// selected option text. An absent or blank selection counts as unanswered
// (and incorrect); otherwise the trimmed selection is compared to the
// trimmed correct answer for exact equality. Grade is pure and re-runnable:
// it never mutates the test.
func Grade(t *models.Test, answers map[int]string) GradeResult {
	res := GradeResult{Total: len(t.Questions)}
	for i, q := range t.Questions {
		selected, ok := answers[i]
		qr := QuestionResult{Index: i, Selected: selected}
		switch {
		case !ok || strings.TrimSpace(selected) == "":
			qr.Unanswered = true
		case strings.TrimSpace(selected) == strings.TrimSpace(q.CorrectAnswer):
			qr.Correct = true
			res.Score++
		}
		res.Questions = append(res.Questions, qr)
	}
	return res
}
