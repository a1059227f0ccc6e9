package domain

import "time"

// QuestionType enumerates the auto-gradable question kinds.
type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	TrueFalse    QuestionType = "true_false"
	FreeText     QuestionType = "free_text"
)

// RevealPolicy controls when per-question detail (correct answers,
// explanations) is released to participants after submitting.
type RevealPolicy string

const (
	RevealImmediate  RevealPolicy = "immediate"
	RevealAfterClose RevealPolicy = "after_close"
	RevealNever      RevealPolicy = "never"
)

// Choice is one selectable option of a choice-bearing question.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a reusable question definition. The engine treats it as
// immutable; authoring tooling owns creation and edits.
type Question struct {
	ID            string       `json:"id"`
	Prompt        string       `json:"prompt"`
	Type          QuestionType `json:"type"`
	Choices       []Choice     `json:"choices,omitempty"`
	CorrectAnswer any          `json:"correctAnswer"` // string, number, or bool
	Points        float64      `json:"points"`
	Explanation   string       `json:"explanation,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
}

// AssessmentDefinition is an admin-authored assessment: a question set
// plus access rules, attempt policy, and presentation/scoring policy.
type AssessmentDefinition struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	QuestionRefs     []string     `json:"questionRefs"`
	CourseRef        string       `json:"courseRef,omitempty"`
	AllowedRoles     []string     `json:"allowedRoles"`
	AttemptsAllowed  int          `json:"attemptsAllowed"`
	TimeLimitMinutes int          `json:"timeLimitMinutes,omitempty"` // 0 = no limit
	OpensAt          *time.Time   `json:"opensAt,omitempty"`
	ClosesAt         *time.Time   `json:"closesAt,omitempty"`
	ShuffleQuestions bool         `json:"shuffleQuestions"`
	ShuffleChoices   bool         `json:"shuffleChoices"`
	RevealPolicy     RevealPolicy `json:"revealPolicy"`
	PassingScore     int          `json:"passingScore"` // 0-100
	Published        bool         `json:"published"`
	Active           bool         `json:"active"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// RoleAllowed reports whether role appears in the definition's allow list.
func (d *AssessmentDefinition) RoleAllowed(role string) bool {
	for _, r := range d.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// AttemptAnswer is one graded answer inside an attempt.
type AttemptAnswer struct {
	QuestionID    string   `json:"questionId"`
	GivenAnswer   any      `json:"givenAnswer"`
	IsCorrect     *bool    `json:"isCorrect,omitempty"`
	PointsAwarded *float64 `json:"pointsAwarded,omitempty"`
}

// Attempt is one participant's run against a definition. An attempt is
// created in progress at start and finalized exactly once at submit;
// finalized rows are never mutated again.
type Attempt struct {
	ID            string          `json:"id"`
	DefinitionID  string          `json:"definitionId"`
	ParticipantID string          `json:"participantId"`
	AttemptNumber int             `json:"attemptNumber"`
	Answers       []AttemptAnswer `json:"answers,omitempty"`
	ScorePercent  int             `json:"scorePercent"`
	Passed        bool            `json:"passed"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	ElapsedSec    int             `json:"elapsedSeconds,omitempty"`
	OriginIP      string          `json:"originIp,omitempty"`

	// Materialized presentation order, fixed at creation so resume calls
	// see the same shuffle.
	QuestionOrder []string            `json:"questionOrder,omitempty"`
	ChoiceOrder   map[string][]string `json:"choiceOrder,omitempty"`
}

// InProgress reports whether the attempt has not been finalized yet.
func (a *Attempt) InProgress() bool {
	return a.FinishedAt == nil
}

// Participant is a resolved identity; authentication happened upstream.
type Participant struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	OriginIP string `json:"-"`
}
