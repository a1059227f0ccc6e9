package http

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"assessment-service/internal/app"
	"assessment-service/internal/domain"
	"assessment-service/internal/rbac"
)

// Handler exposes the assessment engine over JSON HTTP. Authentication
// happens upstream; the resolved identity arrives in the
// X-Participant-Id and X-Participant-Role headers.
type Handler struct {
	service *app.AssessmentService
	checker *rbac.Checker
}

func NewHandler(service *app.AssessmentService, checker *rbac.Checker) *Handler {
	return &Handler{service: service, checker: checker}
}

// Register wires the engine operations onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /assessments", h.listAssessments)
	mux.HandleFunc("POST /assessments", h.createAssessment)
	mux.HandleFunc("GET /assessments/{id}", h.getAssessment)
	mux.HandleFunc("PATCH /assessments/{id}", h.updateAssessment)
	mux.HandleFunc("POST /assessments/{id}/attempts", h.startAttempt)
	mux.HandleFunc("POST /assessments/{id}/submit", h.submitAttempt)
	mux.HandleFunc("GET /assessments/{id}/attempts/mine", h.listMyAttempts)
	mux.HandleFunc("GET /assessments/{id}/attempts", h.listAllAttempts)
	mux.HandleFunc("GET /assessments/{id}/watch", h.watchAttempts)
}

func participantFrom(r *http.Request) (domain.Participant, bool) {
	id := r.Header.Get("X-Participant-Id")
	role := r.Header.Get("X-Participant-Role")
	if id == "" || role == "" {
		return domain.Participant{}, false
	}
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	return domain.Participant{ID: id, Role: role, OriginIP: ip}, true
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps business error kinds onto HTTP statuses. Anything that
// is not a domain.Error is an infrastructure failure and stays opaque.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Kind: "internal", Message: "internal error"},
		})
		return
	}
	status := http.StatusConflict
	switch de.Kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindRoleNotAllowed, domain.KindNotPublished:
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: string(de.Kind), Message: de.Message}})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error: errorBody{Kind: "unauthenticated", Message: "missing participant identity headers"},
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type pagedResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (h *Handler) listAssessments(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	limit, offset := pagination(r)
	opts := app.ListOpts{
		CourseRef: r.URL.Query().Get("course"),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := r.URL.Query().Get("published"); raw != "" {
		published := raw == "true"
		opts.Published = &published
	}
	defs, total, err := h.service.ListAssessments(r.Context(), opts, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse[domain.AssessmentDefinition]{Items: defs, Total: total})
}

func (h *Handler) createAssessment(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	var def domain.AssessmentDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "invalid request body"))
		return
	}
	created, err := h.service.CreateAssessment(r.Context(), def, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getAssessment(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	view, err := h.service.GetAssessment(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) updateAssessment(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	var patch app.DefinitionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "invalid request body"))
		return
	}
	updated, err := h.service.UpdateAssessment(r.Context(), r.PathValue("id"), patch, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	res, err := h.service.StartAttempt(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type submitRequest struct {
	Answers []app.AnswerSubmission `json:"answers"`
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "invalid request body"))
		return
	}
	res, err := h.service.SubmitAttempt(r.Context(), r.PathValue("id"), p, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listMyAttempts(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	attempts, err := h.service.ListMyAttempts(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse[app.AttemptSummary]{Items: attempts, Total: len(attempts)})
}

func (h *Handler) listAllAttempts(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	limit, offset := pagination(r)
	attempts, total, err := h.service.ListAllAttempts(r.Context(), r.PathValue("id"), p, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse[app.AttemptSummary]{Items: attempts, Total: total})
}
