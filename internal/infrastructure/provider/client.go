// Package provider holds the HTTP client for the biometric evidence
// provider: the external service that turns raw audio into an embedding,
// an anti-spoofing probability and a transcript.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voiceid-api/internal/config"
)

// Analysis is the provider's verdict on one audio sample.
// SpoofProbability is nil when the deployed model has no anti-spoofing head.
type Analysis struct {
	Embedding          []float64 `json:"embedding"`
	SpoofProbability   *float64  `json:"spoof_probability,omitempty"`
	PhraseMatchScore   float64   `json:"phrase_match_score"`
	TranscribedText    string    `json:"transcribed_text,omitempty"`
	InferenceLatencyMS int64     `json:"inference_latency_ms"`
}

// Client calls the evidence provider over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.ProviderBaseURL,
		http:    &http.Client{Timeout: cfg.ProviderTimeout},
	}
}

type analyzeRequest struct {
	AudioBase64        string    `json:"audio_base64"`
	ReferenceEmbedding []float64 `json:"reference_embedding,omitempty"`
	ExpectedPhrase     string    `json:"expected_phrase,omitempty"`
}

// Analyze submits one audio sample. referenceEmbedding and expectedPhrase
// are optional; enrollment passes neither.
func (c *Client) Analyze(ctx context.Context, audio []byte, referenceEmbedding []float64, expectedPhrase string) (*Analysis, error) {
	body, err := json.Marshal(analyzeRequest{
		AudioBase64:        base64.StdEncoding.EncodeToString(audio),
		ReferenceEmbedding: referenceEmbedding,
		ExpectedPhrase:     expectedPhrase,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evidence provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("evidence provider returned %d: %s", resp.StatusCode, string(b))
	}

	var a Analysis
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	if a.InferenceLatencyMS == 0 {
		a.InferenceLatencyMS = time.Since(started).Milliseconds()
	}
	return &a, nil
}
