package handler

import (
	"fmt"
	"net/http"

	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/dynamo"
	"github.com/voiceid-api/internal/pkg/validate"
)

// PhraseHandler serves admin management of the challenge phrase catalog.
type PhraseHandler struct {
	repo *dynamo.PhraseRepo
}

func NewPhraseHandler(repo *dynamo.PhraseRepo) *PhraseHandler {
	return &PhraseHandler{repo: repo}
}

func (h *PhraseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePhraseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeDomainError(w, fmt.Errorf("%v: %w", err, domain.ErrBadRequest))
		return
	}
	p, err := h.repo.Seed(r.Context(), req.Text, req.Difficulty)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
