package missions

import (
	"math"
	"strconv"
	"strings"

	"skywatch/internal/domain"
)

// Grade evaluates a submitted answer map against the mission's expected
// answer. Only the "main" key is consulted. Every branch returns a
// verdict; grading never raises.
func Grade(m domain.Mission, answers map[string]string) domain.Verdict {
	if m.Grading == domain.GradingManual {
		return domain.Verdict{Pass: false, Feedback: "awaiting manual review"}
	}
	if m.ExpectedAnswer == nil {
		return domain.Verdict{Pass: true, Feedback: "no grading required"}
	}
	submitted := answers["main"]
	expected := *m.ExpectedAnswer
	switch expected.Type {
	case domain.AnswerNumber:
		return gradeNumber(submitted, expected)
	case domain.AnswerChoice:
		if submitted == expected.Value {
			return domain.Verdict{Pass: true, Feedback: "correct choice"}
		}
		return domain.Verdict{Pass: false, Feedback: "incorrect choice"}
	case domain.AnswerText:
		if foldText(submitted) == foldText(expected.Value) {
			return domain.Verdict{Pass: true, Feedback: "correct"}
		}
		return domain.Verdict{Pass: false, Feedback: "incorrect answer"}
	}
	return domain.Verdict{Pass: false, Feedback: "unsupported answer type"}
}

func gradeNumber(submitted string, expected domain.ExpectedAnswer) domain.Verdict {
	value, err := strconv.ParseFloat(strings.TrimSpace(submitted), 64)
	if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
		return domain.Verdict{Pass: false, Feedback: "provide a numeric answer"}
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(expected.Value), 64)
	if err != nil {
		return domain.Verdict{Pass: false, Feedback: "unsupported answer type"}
	}
	tolerance := 0.0
	if expected.Tolerance != nil {
		tolerance = *expected.Tolerance
	}
	if math.Abs(value-want) <= tolerance {
		return domain.Verdict{Pass: true, Feedback: "within tolerance"}
	}
	return domain.Verdict{Pass: false, Feedback: "outside tolerance"}
}

func foldText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
