package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"assessment-service/internal/app"
	"assessment-service/internal/domain"
	"assessment-service/internal/infra/memory"
	"assessment-service/internal/rbac"
)

func TestAttemptFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	// Start an attempt.
	res := doJSON(t, server, "POST", "/assessments/exam-1/attempts", "u1", "student", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, readBody(t, res))
	}
	var start app.StartResult
	decode(t, res, &start)
	if start.AttemptNumber != 1 || len(start.Questions) != 2 {
		t.Fatalf("unexpected start result: %+v", start)
	}
	for _, q := range start.Questions {
		for _, c := range q.Choices {
			if c.Text == "" {
				t.Fatalf("choice text missing for %s", q.ID)
			}
		}
	}

	// Submit answers.
	res = doJSON(t, server, "POST", "/assessments/exam-1/submit", "u1", "student", map[string]any{
		"answers": []map[string]any{
			{"questionId": "q1", "answer": "c2"},
			{"questionId": "q2", "answer": true},
		},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, readBody(t, res))
	}
	var submit app.SubmitResult
	decode(t, res, &submit)
	if submit.ScorePercent != 100 || !submit.Passed {
		t.Fatalf("expected perfect score, got %+v", submit)
	}
	if submit.Detail == nil {
		t.Fatalf("immediate reveal policy must include detail")
	}

	// The attempt shows up in the participant's history.
	res = doJSON(t, server, "GET", "/assessments/exam-1/attempts/mine", "u1", "student", nil)
	defer res.Body.Close()
	var mine struct {
		Items []app.AttemptSummary `json:"items"`
		Total int                  `json:"total"`
	}
	decode(t, res, &mine)
	if mine.Total != 1 || mine.Items[0].ScorePercent == nil || *mine.Items[0].ScorePercent != 100 {
		t.Fatalf("unexpected history: %+v", mine)
	}
}

func TestIdentityHeadersRequired(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL+"/assessments", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	cases := []struct {
		name   string
		method string
		path   string
		role   string
		body   any
		status int
		kind   string
	}{
		{"unknown assessment", "POST", "/assessments/ghost/attempts", "student", nil,
			http.StatusNotFound, "not_found"},
		{"create forbidden", "POST", "/assessments", "student",
			map[string]any{"title": "x"}, http.StatusForbidden, "role_not_allowed"},
		{"submit without attempt", "POST", "/assessments/exam-1/submit", "student",
			map[string]any{"answers": []any{}}, http.StatusConflict, "no_active_attempt"},
		{"invalid create", "POST", "/assessments", "instructor",
			map[string]any{"title": ""}, http.StatusBadRequest, "validation_error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := doJSON(t, server, c.method, c.path, "u9", c.role, c.body)
			defer res.Body.Close()
			if res.StatusCode != c.status {
				t.Fatalf("expected %d, got %d: %s", c.status, res.StatusCode, readBody(t, res))
			}
			var body struct {
				Error struct {
					Kind    string `json:"kind"`
					Message string `json:"message"`
				} `json:"error"`
			}
			decode(t, res, &body)
			if body.Error.Kind != c.kind {
				t.Fatalf("expected kind %s, got %s", c.kind, body.Error.Kind)
			}
			if body.Error.Message == "" {
				t.Fatalf("expected actionable message")
			}
		})
	}
}

func TestGetAssessmentStripsKeyOverHTTP(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	res := doJSON(t, server, "GET", "/assessments/exam-1", "u1", "student", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", res.StatusCode)
	}
	var view struct {
		Questions []map[string]any `json:"questions"`
	}
	decode(t, res, &view)
	for _, q := range view.Questions {
		if q["correctAnswer"] != nil {
			t.Fatalf("answer key leaked: %v", q)
		}
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	defs := memory.NewDefinitionStore()
	err := defs.Create(context.Background(), domain.AssessmentDefinition{
		ID:              "exam-1",
		Title:           "HTTP Exam",
		QuestionRefs:    []string{"q1", "q2"},
		AllowedRoles:    []string{"student"},
		AttemptsAllowed: 3,
		RevealPolicy:    domain.RevealImmediate,
		PassingScore:    50,
		Published:       true,
		Active:          true,
	})
	if err != nil {
		t.Fatalf("seed definition: %v", err)
	}
	repo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), time.Minute)
	checker := rbac.NewChecker(nil)
	service := app.NewAssessmentService(defs, memory.NewAttemptStore(), repo, checker)

	mux := http.NewServeMux()
	NewHandler(service, checker).Register(mux)
	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, server *httptest.Server, method, path, userID, role string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Participant-Id", userID)
	req.Header.Set("X-Participant-Role", role)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	data, _ := io.ReadAll(res.Body)
	return string(data)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "q1",
			Prompt: "What is 2 + 2?",
			Type:   domain.SingleChoice,
			Choices: []domain.Choice{
				{ID: "c1", Text: "3"},
				{ID: "c2", Text: "4"},
			},
			CorrectAnswer: "c2",
			Points:        1,
			Explanation:   "Basic addition.",
		},
		{
			ID:            "q2",
			Prompt:        "The Earth orbits the Sun.",
			Type:          domain.TrueFalse,
			CorrectAnswer: true,
			Points:        1,
		},
	}
}
