package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ContextModel predicts and scores words for a masked position given the
// surrounding token sequence. Both methods are pure functions of their
// inputs. An implementation that cannot serve a request returns an error;
// the pipeline then degrades to dictionary-only behavior for that token.
type ContextModel interface {
	// PredictTopK returns the k most probable fillers for tokens[maskPos],
	// most probable first.
	PredictTopK(ctx context.Context, tokens []string, maskPos, k int) ([]string, error)
	// Score returns the model's score for candidate filling tokens[maskPos].
	// Candidates spanning multiple model sub-units are scored by their first
	// sub-unit; that choice is the adapter's concern, not the caller's.
	Score(ctx context.Context, tokens []string, maskPos int, candidate string) (float64, error)
}

// MaskedLMClient talks to a masked language model served over HTTP. The
// server exposes POST /predict and POST /score accepting the request bodies
// below; model loading and sub-unit tokenization live behind that server.
type MaskedLMClient struct {
	baseURL string
	client  *http.Client
}

// NewMaskedLMClient creates a client for a model server at baseURL.
func NewMaskedLMClient(baseURL string) *MaskedLMClient {
	return &MaskedLMClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type predictRequest struct {
	Tokens []string `json:"tokens"`
	Mask   int      `json:"mask"`
	K      int      `json:"k"`
}

type predictResponse struct {
	Predictions []string `json:"predictions"`
}

type scoreRequest struct {
	Tokens    []string `json:"tokens"`
	Mask      int      `json:"mask"`
	Candidate string   `json:"candidate"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (m *MaskedLMClient) PredictTopK(ctx context.Context, tokens []string, maskPos, k int) ([]string, error) {
	var resp predictResponse
	err := m.post(ctx, "/predict", predictRequest{Tokens: tokens, Mask: maskPos, K: k}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

func (m *MaskedLMClient) Score(ctx context.Context, tokens []string, maskPos int, candidate string) (float64, error) {
	var resp scoreResponse
	err := m.post(ctx, "/score", scoreRequest{Tokens: tokens, Mask: maskPos, Candidate: candidate}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Score, nil
}

func (m *MaskedLMClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("model request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model request %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
