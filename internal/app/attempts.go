package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"assessment-service/internal/domain"
	"assessment-service/internal/rbac"
	"github.com/google/uuid"
)

// PresentedQuestion is the participant-facing question shape. It never
// carries the correct answer or the explanation.
type PresentedQuestion struct {
	ID      string              `json:"id"`
	Prompt  string              `json:"prompt"`
	Type    domain.QuestionType `json:"type"`
	Choices []domain.Choice     `json:"choices,omitempty"`
	Points  float64             `json:"points"`
}

// StartResult is the attempt handle returned from StartAttempt.
type StartResult struct {
	AttemptID        string              `json:"attemptId"`
	AttemptNumber    int                 `json:"attemptNumber"`
	StartedAt        time.Time           `json:"startedAt"`
	TimeLimitMinutes int                 `json:"timeLimitMinutes,omitempty"`
	Deadline         *time.Time          `json:"deadline,omitempty"`
	Resumed          bool                `json:"resumed"`
	Questions        []PresentedQuestion `json:"questions"`
}

// AnswerSubmission is one submitted answer.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

// AnswerDetail is the per-question breakdown revealed only when the
// definition's reveal policy allows it.
type AnswerDetail struct {
	QuestionID    string  `json:"questionId"`
	GivenAnswer   any     `json:"givenAnswer"`
	CorrectAnswer any     `json:"correctAnswer"`
	Correct       bool    `json:"correct"`
	PointsAwarded float64 `json:"pointsAwarded"`
	Explanation   string  `json:"explanation,omitempty"`
}

// SubmitResult is the score summary returned from SubmitAttempt.
type SubmitResult struct {
	ScorePercent      int            `json:"scorePercent"`
	Passed            bool           `json:"passed"`
	PassingScore      int            `json:"passingScore"`
	AttemptNumber     int            `json:"attemptNumber"`
	AttemptsRemaining int            `json:"attemptsRemaining"`
	Detail            []AnswerDetail `json:"detail,omitempty"`
}

// checkEligibility runs the state-machine guard of the engine. Callers
// holding the override capability bypass every rule except existence.
// countAttempts toggles the attempt-ceiling rule, which start enforces
// but view and submit do not.
func (s *AssessmentService) checkEligibility(ctx context.Context, def domain.AssessmentDefinition, p domain.Participant, countAttempts bool) error {
	if s.checker.HasOverride(p.Role) {
		return nil
	}
	if !def.Published {
		return domain.ErrNotPublished
	}
	if !def.RoleAllowed(p.Role) {
		return domain.ErrRoleNotAllowed(p.Role)
	}
	now := s.clock()
	if def.OpensAt != nil && now.Before(*def.OpensAt) {
		return domain.ErrNotYetOpen(*def.OpensAt)
	}
	if def.ClosesAt != nil && now.After(*def.ClosesAt) {
		return domain.ErrWindowClosed(*def.ClosesAt)
	}
	if countAttempts {
		used, err := s.attempts.CountForParticipant(ctx, def.ID, p.ID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if used >= def.AttemptsAllowed {
			return domain.ErrAttemptsExhausted(def.AttemptsAllowed)
		}
	}
	return nil
}

// StartAttempt resumes the participant's in-progress attempt if one
// exists, otherwise creates a new one. Concurrent calls for the same
// (definition, participant) pair collapse into a single create; the
// attempt store additionally guarantees at most one in-progress row.
func (s *AssessmentService) StartAttempt(ctx context.Context, definitionID string, p domain.Participant) (StartResult, error) {
	def, err := s.definitions.Get(ctx, definitionID)
	if err != nil {
		return StartResult{}, err
	}
	if err := s.checkEligibility(ctx, def, p, true); err != nil {
		// An in-progress attempt already counts toward the ceiling, so a
		// retry after the last start must still resume rather than fail.
		if domain.IsKind(err, domain.KindAttemptsExhausted) {
			if active, aerr := s.attempts.GetActive(ctx, definitionID, p.ID); aerr == nil {
				return s.materialize(ctx, def, active, true)
			}
		}
		return StartResult{}, err
	}

	key := definitionID + "|" + p.ID
	v, err, _ := s.startGroup.Do(key, func() (any, error) {
		if active, err := s.attempts.GetActive(ctx, definitionID, p.ID); err == nil {
			res, err := s.materialize(ctx, def, active, true)
			return res, err
		}

		prior, err := s.attempts.CountForParticipant(ctx, definitionID, p.ID)
		if err != nil {
			return StartResult{}, fmt.Errorf("count attempts: %w", err)
		}
		qs, err := s.questions.GetQuestions(ctx, def.QuestionRefs)
		if err != nil {
			return StartResult{}, err
		}
		attempt := domain.Attempt{
			ID:            uuid.NewString(),
			DefinitionID:  definitionID,
			ParticipantID: p.ID,
			AttemptNumber: prior + 1,
			StartedAt:     s.clock(),
			OriginIP:      p.OriginIP,
			QuestionOrder: s.questionOrder(def, qs),
			ChoiceOrder:   s.choiceOrder(def, qs),
		}
		stored, created, err := s.attempts.CreateInProgress(ctx, attempt)
		if err != nil {
			return StartResult{}, fmt.Errorf("create attempt: %w", err)
		}
		if created {
			s.monitor.Publish(AttemptEvent{
				Type:          EventStarted,
				DefinitionID:  definitionID,
				ParticipantID: p.ID,
				AttemptID:     stored.ID,
				AttemptNumber: stored.AttemptNumber,
				At:            stored.StartedAt,
			})
		}
		res, err := s.materialize(ctx, def, stored, !created)
		return res, err
	})
	if err != nil {
		return StartResult{}, err
	}
	return v.(StartResult), nil
}

// materialize joins the attempt's persisted presentation order with the
// question store. The same attempt always yields the same order.
func (s *AssessmentService) materialize(ctx context.Context, def domain.AssessmentDefinition, attempt domain.Attempt, resumed bool) (StartResult, error) {
	qs, err := s.questions.GetQuestions(ctx, def.QuestionRefs)
	if err != nil {
		return StartResult{}, err
	}
	byID := make(map[string]domain.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	order := attempt.QuestionOrder
	if len(order) == 0 {
		order = def.QuestionRefs
	}
	presented := make([]PresentedQuestion, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			continue
		}
		presented = append(presented, PresentedQuestion{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Type:    q.Type,
			Choices: orderedChoices(q, attempt.ChoiceOrder[q.ID]),
			Points:  q.Points,
		})
	}

	res := StartResult{
		AttemptID:        attempt.ID,
		AttemptNumber:    attempt.AttemptNumber,
		StartedAt:        attempt.StartedAt,
		TimeLimitMinutes: def.TimeLimitMinutes,
		Resumed:          resumed,
		Questions:        presented,
	}
	if def.TimeLimitMinutes > 0 {
		deadline := attempt.StartedAt.Add(time.Duration(def.TimeLimitMinutes) * time.Minute)
		res.Deadline = &deadline
	}
	return res, nil
}

func orderedChoices(q domain.Question, order []string) []domain.Choice {
	if len(q.Choices) == 0 {
		return nil
	}
	if len(order) == 0 {
		out := make([]domain.Choice, len(q.Choices))
		copy(out, q.Choices)
		return out
	}
	byID := make(map[string]domain.Choice, len(q.Choices))
	for _, c := range q.Choices {
		byID[c.ID] = c
	}
	out := make([]domain.Choice, 0, len(order))
	for _, id := range order {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SubmitAttempt grades the participant's in-progress attempt and
// finalizes it. A timed-out submission persists a zero score before the
// error returns, so the attempt is consumed either way.
func (s *AssessmentService) SubmitAttempt(ctx context.Context, definitionID string, p domain.Participant, answers []AnswerSubmission) (SubmitResult, error) {
	def, err := s.definitions.Get(ctx, definitionID)
	if err != nil {
		return SubmitResult{}, err
	}
	// Role and publication are re-checked at submit; the close time is
	// not, because an attempt legitimately started inside the window may
	// finish after it (its own time limit governs lateness).
	if !s.checker.HasOverride(p.Role) {
		if !def.Published {
			return SubmitResult{}, domain.ErrNotPublished
		}
		if !def.RoleAllowed(p.Role) {
			return SubmitResult{}, domain.ErrRoleNotAllowed(p.Role)
		}
	}

	attempt, err := s.attempts.GetActive(ctx, definitionID, p.ID)
	if err != nil {
		return SubmitResult{}, err
	}

	now := s.clock()
	elapsed := now.Sub(attempt.StartedAt)
	if def.TimeLimitMinutes > 0 {
		limit := time.Duration(def.TimeLimitMinutes) * time.Minute
		if elapsed > limit+s.grace {
			if err := s.finalizeExpired(ctx, attempt, answers, now, elapsed); err != nil {
				return SubmitResult{}, err
			}
			return SubmitResult{}, domain.ErrTimeExpired(def.TimeLimitMinutes)
		}
	}

	qs, err := s.questions.GetQuestions(ctx, def.QuestionRefs)
	if err != nil {
		return SubmitResult{}, err
	}
	graded, earned, possible := gradeAnswers(qs, answers)

	score := 0
	if possible > 0 {
		score = int(math.Round(100 * earned / possible))
	}
	passed := score >= def.PassingScore

	attempt.Answers = graded
	attempt.ScorePercent = score
	attempt.Passed = passed
	attempt.FinishedAt = &now
	attempt.ElapsedSec = int(elapsed / time.Second)
	if err := s.attempts.Finalize(ctx, attempt); err != nil {
		return SubmitResult{}, err
	}

	s.monitor.Publish(AttemptEvent{
		Type:          EventSubmitted,
		DefinitionID:  definitionID,
		ParticipantID: p.ID,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		ScorePercent:  &score,
		At:            now,
	})

	res := SubmitResult{
		ScorePercent:      score,
		Passed:            passed,
		PassingScore:      def.PassingScore,
		AttemptNumber:     attempt.AttemptNumber,
		AttemptsRemaining: def.AttemptsAllowed - attempt.AttemptNumber,
	}
	if s.revealDetail(def, now) {
		res.Detail = buildDetail(qs, graded)
	}
	return res, nil
}

// finalizeExpired consumes a timed-out attempt with a zero score. The
// submitted answers are kept (marked incorrect) for the record.
func (s *AssessmentService) finalizeExpired(ctx context.Context, attempt domain.Attempt, answers []AnswerSubmission, now time.Time, elapsed time.Duration) error {
	graded := make([]domain.AttemptAnswer, 0, len(answers))
	for _, a := range answers {
		incorrect := false
		zero := 0.0
		graded = append(graded, domain.AttemptAnswer{
			QuestionID:    a.QuestionID,
			GivenAnswer:   a.Answer,
			IsCorrect:     &incorrect,
			PointsAwarded: &zero,
		})
	}
	attempt.Answers = graded
	attempt.ScorePercent = 0
	attempt.Passed = false
	attempt.FinishedAt = &now
	attempt.ElapsedSec = int(elapsed / time.Second)
	if err := s.attempts.Finalize(ctx, attempt); err != nil {
		return err
	}
	log.Printf("attempt %s timed out after %s, scored 0", attempt.ID, elapsed)
	s.monitor.Publish(AttemptEvent{
		Type:          EventExpired,
		DefinitionID:  attempt.DefinitionID,
		ParticipantID: attempt.ParticipantID,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		At:            now,
	})
	return nil
}

// gradeAnswers scores each question of the definition against the
// submitted answers. Missing answers count as incorrect.
func gradeAnswers(qs []domain.Question, answers []AnswerSubmission) ([]domain.AttemptAnswer, float64, float64) {
	submitted := make(map[string]AnswerSubmission, len(answers))
	for _, a := range answers {
		submitted[a.QuestionID] = a
	}

	graded := make([]domain.AttemptAnswer, 0, len(qs))
	var earned, possible float64
	for _, q := range qs {
		possible += q.Points
		sub, answered := submitted[q.ID]
		correct := answered && domain.AnswerMatches(q, sub.Answer)
		awarded := 0.0
		if correct {
			awarded = q.Points
			earned += q.Points
		}
		isCorrect := correct
		graded = append(graded, domain.AttemptAnswer{
			QuestionID:    q.ID,
			GivenAnswer:   sub.Answer,
			IsCorrect:     &isCorrect,
			PointsAwarded: &awarded,
		})
	}
	return graded, earned, possible
}

// revealDetail decides whether per-question detail may be included in
// the submit response. This is access control, enforced server-side.
func (s *AssessmentService) revealDetail(def domain.AssessmentDefinition, now time.Time) bool {
	switch def.RevealPolicy {
	case domain.RevealImmediate:
		return true
	case domain.RevealAfterClose:
		return def.ClosesAt != nil && now.After(*def.ClosesAt)
	default:
		return false
	}
}

func buildDetail(qs []domain.Question, graded []domain.AttemptAnswer) []AnswerDetail {
	byID := make(map[string]domain.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	detail := make([]AnswerDetail, 0, len(graded))
	for _, g := range graded {
		q := byID[g.QuestionID]
		d := AnswerDetail{
			QuestionID:    g.QuestionID,
			GivenAnswer:   g.GivenAnswer,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		}
		if g.IsCorrect != nil {
			d.Correct = *g.IsCorrect
		}
		if g.PointsAwarded != nil {
			d.PointsAwarded = *g.PointsAwarded
		}
		detail = append(detail, d)
	}
	return detail
}

// AttemptSummary is the query-facing attempt shape. Scores of
// in-progress attempts are withheld.
type AttemptSummary struct {
	ID            string     `json:"id"`
	DefinitionID  string     `json:"definitionId"`
	ParticipantID string     `json:"participantId"`
	AttemptNumber int        `json:"attemptNumber"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	ScorePercent  *int       `json:"scorePercent,omitempty"`
	Passed        *bool      `json:"passed,omitempty"`
	ElapsedSec    int        `json:"elapsedSeconds,omitempty"`
}

func summarize(a domain.Attempt) AttemptSummary {
	s := AttemptSummary{
		ID:            a.ID,
		DefinitionID:  a.DefinitionID,
		ParticipantID: a.ParticipantID,
		AttemptNumber: a.AttemptNumber,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		ElapsedSec:    a.ElapsedSec,
	}
	if a.FinishedAt != nil {
		score := a.ScorePercent
		passed := a.Passed
		s.ScorePercent = &score
		s.Passed = &passed
	}
	return s
}

// ListMyAttempts returns the caller's own attempts for a definition.
func (s *AssessmentService) ListMyAttempts(ctx context.Context, definitionID string, p domain.Participant) ([]AttemptSummary, error) {
	if _, err := s.definitions.Get(ctx, definitionID); err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListForParticipant(ctx, definitionID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]AttemptSummary, len(attempts))
	for i, a := range attempts {
		out[i] = summarize(a)
	}
	return out, nil
}

// ListAllAttempts returns every attempt for a definition, paginated.
// Requires the view-all capability.
func (s *AssessmentService) ListAllAttempts(ctx context.Context, definitionID string, caller domain.Participant, limit, offset int) ([]AttemptSummary, int, error) {
	if !s.checker.Has(caller.Role, rbac.PermViewAll) {
		return nil, 0, domain.ErrRoleNotAllowed(caller.Role)
	}
	if _, err := s.definitions.Get(ctx, definitionID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	attempts, total, err := s.attempts.ListForDefinition(ctx, definitionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]AttemptSummary, len(attempts))
	for i, a := range attempts {
		out[i] = summarize(a)
	}
	return out, total, nil
}
