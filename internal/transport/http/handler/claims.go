package handler

import (
	"encoding/base64"
	"net/http"

	appmiddleware "github.com/voiceid-api/internal/transport/http/middleware"
)

// authedUser pulls the caller's identity out of the JWT claims. Routes using
// this are always behind the auth middleware; a miss still answers 401.
func authedUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := appmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return claims.UserID, true
}

func decodeAudio(w http.ResponseWriter, audioB64 string) ([]byte, bool) {
	if audioB64 == "" {
		writeError(w, http.StatusBadRequest, "audio_base64 is required")
		return nil, false
	}
	audio, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64")
		return nil, false
	}
	return audio, true
}
