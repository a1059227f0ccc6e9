package domain

import (
	"strconv"
	"strings"
)

// CanonicalAnswer coerces an answer value to its canonical string form.
// JSON transports numbers as float64 and may stringify booleans, so both
// the stored correct answer and the submitted answer go through this
// before comparison. The coercion is part of the scoring contract:
//
//	bools   -> "true" / "false"
//	numbers -> shortest decimal form ("4", "2.5")
//	strings -> whitespace-trimmed
func CanonicalAnswer(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return strings.TrimSpace(x)
	default:
		return ""
	}
}

// AnswerMatches compares a given answer against a question's correct
// answer using canonical string equality. Free-text answers additionally
// fold case, since the graded value is participant-typed text.
func AnswerMatches(q Question, given any) bool {
	want := CanonicalAnswer(q.CorrectAnswer)
	got := CanonicalAnswer(given)
	if want == "" {
		return false
	}
	if q.Type == FreeText {
		return strings.EqualFold(want, got)
	}
	return want == got
}
