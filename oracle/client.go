package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"homeproxy/arbitration"
)

// Client talks to the oracle's REST surface. It implements
// arbitration.Oracle: a structured refusal from the oracle becomes a tagged
// NotifyOutcome, anything else is an error for the caller to handle.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) NotifyOfArbitrationRequest(ctx context.Context, questionID, requester, maxPrevious string) (arbitration.NotifyOutcome, error) {
	resp, err := c.post(ctx, "/arbitration/notifications", map[string]any{
		"question_id":  questionID,
		"requester":    requester,
		"max_previous": maxPrevious,
	})
	if err != nil {
		return arbitration.NotifyOutcome{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return arbitration.NotifyOutcome{Accepted: true}, nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		// The oracle refused the request; its reason, when present, travels
		// with the rejection.
		var out struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return arbitration.NotifyOutcome{Accepted: false, Reason: out.Reason}, nil
	default:
		return arbitration.NotifyOutcome{}, fmt.Errorf("oracle: notify returned %d", resp.StatusCode)
	}
}

func (c *Client) CancelArbitration(ctx context.Context, questionID string) error {
	resp, err := c.post(ctx, "/arbitration/cancellations", map[string]any{
		"question_id": questionID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("oracle: cancel returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) AssignWinnerAndSubmitAnswerByArbitrator(ctx context.Context, params arbitration.AssignWinnerParams) error {
	resp, err := c.post(ctx, "/arbitration/answers", map[string]any{
		"question_id":                  params.QuestionID,
		"answer":                       params.Answer,
		"payee_if_wrong":               params.PayeeIfWrong,
		"last_history_hash":            params.LastHistoryHash,
		"last_answer_or_commitment_id": params.LastAnswerOrCommitmentID,
		"last_answerer":                params.LastAnswerer,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("oracle: submit answer returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: %s: %w", path, err)
	}
	return resp, nil
}
