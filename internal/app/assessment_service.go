package app

import (
	"context"
	"fmt"
	"time"

	"assessment-service/internal/domain"
	"assessment-service/internal/rbac"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefinitionStore persists assessment definitions (in-memory, Postgres, etc).
type DefinitionStore interface {
	Create(ctx context.Context, def domain.AssessmentDefinition) error
	Get(ctx context.Context, id string) (domain.AssessmentDefinition, error)
	Update(ctx context.Context, def domain.AssessmentDefinition) error
	List(ctx context.Context, opts ListOpts) ([]domain.AssessmentDefinition, int, error)
	// DeactivateClosed flips active=false on definitions whose close time
	// has passed and returns how many rows changed.
	DeactivateClosed(ctx context.Context, now time.Time) (int, error)
}

// AttemptStore persists the attempt ledger.
type AttemptStore interface {
	// CreateInProgress inserts the attempt unless an in-progress attempt
	// already exists for the (definition, participant) pair, in which
	// case the existing attempt is returned with created=false.
	CreateInProgress(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error)
	// GetActive returns the sole in-progress attempt for the pair, or
	// domain.ErrNoActiveAttempt.
	GetActive(ctx context.Context, definitionID, participantID string) (domain.Attempt, error)
	// CountForParticipant counts attempts in any state for the pair.
	CountForParticipant(ctx context.Context, definitionID, participantID string) (int, error)
	// Finalize writes the finished attempt exactly once; a second call
	// for the same attempt returns domain.ErrAlreadySubmitted.
	Finalize(ctx context.Context, a domain.Attempt) error
	ListForParticipant(ctx context.Context, definitionID, participantID string) ([]domain.Attempt, error)
	ListForDefinition(ctx context.Context, definitionID string, limit, offset int) ([]domain.Attempt, int, error)
	// HasAttempts reports whether any attempt exists for the definition.
	HasAttempts(ctx context.Context, definitionID string) (bool, error)
}

// QuestionRepository loads question content (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
}

// ListOpts filters and paginates definition listings.
type ListOpts struct {
	CourseRef string
	Published *bool
	Limit     int
	Offset    int
}

// AssessmentService contains the assessment engine use cases.
type AssessmentService struct {
	definitions DefinitionStore
	attempts    AttemptStore
	questions   QuestionRepository
	checker     *rbac.Checker
	monitor     *Monitor

	clock    func() time.Time
	shuffler Shuffler
	grace    time.Duration

	startGroup singleflight.Group
}

// Option tweaks service construction; used by the CLI wiring and tests.
type Option func(*AssessmentService)

// WithClock substitutes the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *AssessmentService) { s.clock = now }
}

// WithShuffler substitutes the randomization source.
func WithShuffler(sh Shuffler) Option {
	return func(s *AssessmentService) { s.shuffler = sh }
}

// WithSubmitGrace overrides the tolerance added to the time limit before
// a submission is rejected.
func WithSubmitGrace(d time.Duration) Option {
	return func(s *AssessmentService) { s.grace = d }
}

func NewAssessmentService(definitions DefinitionStore, attempts AttemptStore, questions QuestionRepository, checker *rbac.Checker, opts ...Option) *AssessmentService {
	s := &AssessmentService{
		definitions: definitions,
		attempts:    attempts,
		questions:   questions,
		checker:     checker,
		monitor:     NewMonitor(),
		clock:       time.Now,
		shuffler:    NewRandShuffler(),
		grace:       time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Monitor exposes the attempt event feed for transport subscribers.
func (s *AssessmentService) Monitor() *Monitor { return s.monitor }

// CreateAssessment stores a new definition. Caller must hold the manage
// capability.
func (s *AssessmentService) CreateAssessment(ctx context.Context, def domain.AssessmentDefinition, caller domain.Participant) (domain.AssessmentDefinition, error) {
	if !s.checker.Has(caller.Role, rbac.PermManage) {
		return domain.AssessmentDefinition{}, domain.ErrRoleNotAllowed(caller.Role)
	}
	if err := s.validateDefinition(ctx, &def); err != nil {
		return domain.AssessmentDefinition{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.clock()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Active = true
	if err := s.definitions.Create(ctx, def); err != nil {
		return domain.AssessmentDefinition{}, fmt.Errorf("create definition: %w", err)
	}
	return def, nil
}

// DefinitionPatch carries partial updates; nil fields are left unchanged.
type DefinitionPatch struct {
	Title            *string
	QuestionRefs     []string
	CourseRef        *string
	AllowedRoles     []string
	AttemptsAllowed  *int
	TimeLimitMinutes *int
	OpensAt          *time.Time
	ClosesAt         *time.Time
	ShuffleQuestions *bool
	ShuffleChoices   *bool
	RevealPolicy     *domain.RevealPolicy
	PassingScore     *int
	Published        *bool
	Active           *bool
}

// UpdateAssessment applies a partial update. Question refs are locked
// once attempts exist, so historical scores stay reproducible.
func (s *AssessmentService) UpdateAssessment(ctx context.Context, id string, patch DefinitionPatch, caller domain.Participant) (domain.AssessmentDefinition, error) {
	if !s.checker.Has(caller.Role, rbac.PermManage) {
		return domain.AssessmentDefinition{}, domain.ErrRoleNotAllowed(caller.Role)
	}
	def, err := s.definitions.Get(ctx, id)
	if err != nil {
		return domain.AssessmentDefinition{}, err
	}
	if patch.QuestionRefs != nil {
		taken, err := s.attempts.HasAttempts(ctx, id)
		if err != nil {
			return domain.AssessmentDefinition{}, fmt.Errorf("check attempts: %w", err)
		}
		if taken {
			return domain.AssessmentDefinition{}, domain.NewError(domain.KindConflict,
				"question set is locked: attempts have already been made against this assessment")
		}
		def.QuestionRefs = patch.QuestionRefs
	}
	applyPatch(&def, patch)
	if err := s.validateDefinition(ctx, &def); err != nil {
		return domain.AssessmentDefinition{}, err
	}
	def.UpdatedAt = s.clock()
	if err := s.definitions.Update(ctx, def); err != nil {
		return domain.AssessmentDefinition{}, fmt.Errorf("update definition: %w", err)
	}
	return def, nil
}

func applyPatch(def *domain.AssessmentDefinition, p DefinitionPatch) {
	if p.Title != nil {
		def.Title = *p.Title
	}
	if p.CourseRef != nil {
		def.CourseRef = *p.CourseRef
	}
	if p.AllowedRoles != nil {
		def.AllowedRoles = p.AllowedRoles
	}
	if p.AttemptsAllowed != nil {
		def.AttemptsAllowed = *p.AttemptsAllowed
	}
	if p.TimeLimitMinutes != nil {
		def.TimeLimitMinutes = *p.TimeLimitMinutes
	}
	if p.OpensAt != nil {
		def.OpensAt = p.OpensAt
	}
	if p.ClosesAt != nil {
		def.ClosesAt = p.ClosesAt
	}
	if p.ShuffleQuestions != nil {
		def.ShuffleQuestions = *p.ShuffleQuestions
	}
	if p.ShuffleChoices != nil {
		def.ShuffleChoices = *p.ShuffleChoices
	}
	if p.RevealPolicy != nil {
		def.RevealPolicy = *p.RevealPolicy
	}
	if p.PassingScore != nil {
		def.PassingScore = *p.PassingScore
	}
	if p.Published != nil {
		def.Published = *p.Published
	}
	if p.Active != nil {
		def.Active = *p.Active
	}
}

func (s *AssessmentService) validateDefinition(ctx context.Context, def *domain.AssessmentDefinition) error {
	if def.Title == "" {
		return domain.NewError(domain.KindValidation, "title must not be empty")
	}
	if len(def.QuestionRefs) == 0 {
		return domain.NewError(domain.KindValidation, "an assessment needs at least one question")
	}
	seen := make(map[string]struct{}, len(def.QuestionRefs))
	for _, ref := range def.QuestionRefs {
		if _, dup := seen[ref]; dup {
			return domain.NewError(domain.KindValidation, "duplicate question reference %q", ref)
		}
		seen[ref] = struct{}{}
	}
	if def.AttemptsAllowed < 1 {
		return domain.NewError(domain.KindValidation, "attemptsAllowed must be at least 1")
	}
	if def.TimeLimitMinutes < 0 {
		return domain.NewError(domain.KindValidation, "timeLimitMinutes must not be negative")
	}
	if def.PassingScore < 0 || def.PassingScore > 100 {
		return domain.NewError(domain.KindValidation, "passingScore must be between 0 and 100")
	}
	if def.OpensAt != nil && def.ClosesAt != nil && !def.ClosesAt.After(*def.OpensAt) {
		return domain.NewError(domain.KindValidation, "closesAt must be after opensAt")
	}
	switch def.RevealPolicy {
	case domain.RevealImmediate, domain.RevealAfterClose, domain.RevealNever:
	case "":
		def.RevealPolicy = domain.RevealNever
	default:
		return domain.NewError(domain.KindValidation, "unknown reveal policy %q", def.RevealPolicy)
	}
	// Every referenced question must resolve.
	qs, err := s.questions.GetQuestions(ctx, def.QuestionRefs)
	if err != nil {
		return err
	}
	if len(qs) != len(def.QuestionRefs) {
		return domain.NewError(domain.KindValidation, "one or more question references do not resolve")
	}
	return nil
}

// ListAssessments returns definitions matching opts. Callers without the
// view-all capability only see published ones; the published filter is
// admin-only.
func (s *AssessmentService) ListAssessments(ctx context.Context, opts ListOpts, caller domain.Participant) ([]domain.AssessmentDefinition, int, error) {
	if !s.checker.Has(caller.Role, rbac.PermViewAll) {
		published := true
		opts.Published = &published
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	defs, total, err := s.definitions.List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list definitions: %w", err)
	}
	return defs, total, nil
}

// AssessmentView is a definition joined with its questions. Answer keys
// and explanations are present only for callers holding view-all.
type AssessmentView struct {
	Definition domain.AssessmentDefinition `json:"definition"`
	Questions  []domain.Question           `json:"questions"`
}

// GetAssessment returns the definition plus its question content, for
// preview. Non-privileged callers get the same published/role/window
// gating as start (minus the attempt count), and never see answer keys.
func (s *AssessmentService) GetAssessment(ctx context.Context, id string, caller domain.Participant) (AssessmentView, error) {
	def, err := s.definitions.Get(ctx, id)
	if err != nil {
		return AssessmentView{}, err
	}
	privileged := s.checker.Has(caller.Role, rbac.PermViewAll)
	if !privileged {
		if err := s.checkEligibility(ctx, def, caller, false); err != nil {
			return AssessmentView{}, err
		}
	}
	qs, err := s.questions.GetQuestions(ctx, def.QuestionRefs)
	if err != nil {
		return AssessmentView{}, err
	}
	if !privileged {
		qs = sanitizeQuestions(qs)
	}
	return AssessmentView{Definition: def, Questions: qs}, nil
}

// sanitizeQuestions strips answer-key material for non-privileged callers.
func sanitizeQuestions(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.CorrectAnswer = nil
		q.Explanation = ""
		out[i] = q
	}
	return out
}
