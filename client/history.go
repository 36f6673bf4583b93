package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CallRecord is the history entry reported after a call that reached the
// connected state.
type CallRecord struct {
	CallType     string   `json:"call_type"`
	Participants []string `json:"participants"`
	Duration     int      `json:"duration"`
	Status       string   `json:"status"`
}

// HistoryRecorder persists call records. The call controller reports a
// record only for calls that connected and lasted a measurable time.
type HistoryRecorder interface {
	RecordCall(ctx context.Context, record CallRecord) error
}

// RESTHistoryRecorder reports call records to the call-history endpoint
// using the session's bearer token.
type RESTHistoryRecorder struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTHistoryRecorder(baseURL, token string) *RESTHistoryRecorder {
	return &RESTHistoryRecorder{
		baseURL: baseURL,
		token:   token,
		client:  http.DefaultClient,
	}
}

func (r *RESTHistoryRecorder) RecordCall(ctx context.Context, record CallRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/call-history", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	res, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return fmt.Errorf("call-history: unexpected status %d", res.StatusCode)
	}
	return nil
}
