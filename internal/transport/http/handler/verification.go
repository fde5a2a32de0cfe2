package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/voiceid-api/internal/application/verification"
	"github.com/voiceid-api/internal/domain"
)

// VerificationHandler serves session-based and quick voice verification.
type VerificationHandler struct {
	svc verification.Service
}

func NewVerificationHandler(svc verification.Service) *VerificationHandler {
	return &VerificationHandler{svc: svc}
}

type startVerificationRequest struct {
	ClientID   string `json:"client_id,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Policy     string `json:"policy,omitempty"`
}

type startVerificationResponse struct {
	SessionID  string             `json:"session_id"`
	Phase      string             `json:"phase"`
	Policy     string             `json:"policy"`
	Challenges []domain.Challenge `json:"challenges"`
	ExpiresAt  string             `json:"expires_at"`
}

func (h *VerificationHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, false)
}

func (h *VerificationHandler) StartMultiPhrase(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, true)
}

func (h *VerificationHandler) start(w http.ResponseWriter, r *http.Request, multi bool) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req startVerificationRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	in := verification.StartInput{
		UserID:          userID,
		ClientID:        req.ClientID,
		Difficulty:      req.Difficulty,
		RequestedPolicy: req.Policy,
	}
	var out *verification.StartOutcome
	var err error
	if multi {
		out, err = h.svc.StartMultiPhrase(r.Context(), in)
	} else {
		out, err = h.svc.Start(r.Context(), in)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startVerificationResponse{
		SessionID:  out.Session.SessionID,
		Phase:      out.Session.Phase,
		Policy:     out.Session.PolicyName,
		Challenges: out.Challenges,
		ExpiresAt:  out.Session.ExpiresAt.Format(time.RFC3339),
	})
}

type verifyVoiceRequest struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	AudioBase64 string `json:"audio_base64"`
}

func (h *VerificationHandler) VerifyVoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req verifyVoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	audio, ok := decodeAudio(w, req.AudioBase64)
	if !ok {
		return
	}
	challengeID := req.ChallengeID
	if p := chi.URLParam(r, "challengeID"); p != "" {
		challengeID = p
	}
	out, err := h.svc.VerifyVoice(r.Context(), verification.VerifyInput{
		SessionID:   chi.URLParam(r, "id"),
		ChallengeID: challengeID,
		UserID:      userID,
		ClientID:    req.ClientID,
		Audio:       audio,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type quickVerifyRequest struct {
	ClientID       string `json:"client_id,omitempty"`
	AudioBase64    string `json:"audio_base64"`
	ExpectedPhrase string `json:"expected_phrase"`
	Policy         string `json:"policy,omitempty"`
}

func (h *VerificationHandler) QuickVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req quickVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	audio, ok := decodeAudio(w, req.AudioBase64)
	if !ok {
		return
	}
	out, err := h.svc.QuickVerify(r.Context(), verification.QuickInput{
		UserID:          userID,
		ClientID:        req.ClientID,
		Audio:           audio,
		ExpectedPhrase:  req.ExpectedPhrase,
		RequestedPolicy: req.Policy,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *VerificationHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}
