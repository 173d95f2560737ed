package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"redline/internal/reconcile/ports"
	"redline/internal/workspace"
)

// HTTPProposer calls the AI parsing collaborator with the workspace's
// current clauses and variables plus the extracted document text, and
// receives candidate suggestions back. Suggestions are returned as-is; the
// engine validates every referenced identifier before trusting them.
type HTTPProposer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProposer(baseURL string, client *http.Client) *HTTPProposer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProposer{baseURL: baseURL, client: client}
}

type proposeClause struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type proposeVariable struct {
	ID       string `json:"id"`
	ClauseID string `json:"clause_id"`
	Label    string `json:"label"`
	Value    string `json:"value"`
}

func (p *HTTPProposer) Propose(ctx context.Context, clauses []workspace.Clause, variables []workspace.Variable, text string) ([]ports.Suggestion, error) {
	payload := struct {
		Clauses   []proposeClause   `json:"clauses"`
		Variables []proposeVariable `json:"variables"`
		Text      string            `json:"text"`
	}{
		Clauses:   make([]proposeClause, 0, len(clauses)),
		Variables: make([]proposeVariable, 0, len(variables)),
		Text:      text,
	}
	for _, c := range clauses {
		payload.Clauses = append(payload.Clauses, proposeClause{
			ID:       c.ID.String(),
			Category: string(c.Category),
			Title:    c.Title,
			Body:     c.Body,
		})
	}
	for _, v := range variables {
		payload.Variables = append(payload.Variables, proposeVariable{
			ID:       v.ID.String(),
			ClauseID: v.ClauseID.String(),
			Label:    v.Label,
			Value:    v.Value,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal propose request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/propose", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build propose request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call proposer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("proposer returned %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		Suggestions []ports.Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode proposer response: %w", err)
	}
	return out.Suggestions, nil
}
