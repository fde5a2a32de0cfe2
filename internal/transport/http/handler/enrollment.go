package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/voiceid-api/internal/application/enrollment"
	"github.com/voiceid-api/internal/domain"
)

// EnrollmentHandler serves the voiceprint enrollment flow.
type EnrollmentHandler struct {
	svc enrollment.Service
}

func NewEnrollmentHandler(svc enrollment.Service) *EnrollmentHandler {
	return &EnrollmentHandler{svc: svc}
}

type startEnrollmentRequest struct {
	Difficulty string `json:"difficulty,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

type startEnrollmentResponse struct {
	SessionID       string             `json:"session_id,omitempty"`
	Challenges      []domain.Challenge `json:"challenges,omitempty"`
	AlreadyEnrolled bool               `json:"already_enrolled,omitempty"`
	Message         string             `json:"message,omitempty"`
}

func (h *EnrollmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req startEnrollmentRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	out, err := h.svc.Start(r.Context(), userID, req.Difficulty, req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if out.AlreadyEnrolled {
		writeJSON(w, http.StatusOK, startEnrollmentResponse{
			AlreadyEnrolled: true,
			Message:         "voiceprint already enrolled",
		})
		return
	}
	writeJSON(w, http.StatusCreated, startEnrollmentResponse{
		SessionID:  out.Session.SessionID,
		Challenges: out.Challenges,
	})
}

type addSampleRequest struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format,omitempty"`
}

func (h *EnrollmentHandler) AddSample(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")
	var req addSampleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	audio, ok := decodeAudio(w, req.AudioBase64)
	if !ok {
		return
	}
	out, err := h.svc.AddSample(r.Context(), sessionID, userID, req.ChallengeID, audio, req.Format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type completeEnrollmentResponse struct {
	UserID   string  `json:"user_id"`
	Quality  float64 `json:"quality"`
	Samples  int     `json:"samples"`
	Enrolled bool    `json:"enrolled"`
}

func (h *EnrollmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	vp, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeEnrollmentResponse{
		UserID:   vp.UserID,
		Quality:  vp.Quality,
		Samples:  vp.SampleCount,
		Enrolled: true,
	})
}

func (h *EnrollmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
