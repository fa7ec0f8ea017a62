package memo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requiredFields must be populated before a memo can be posted.
var requiredFields = []string{
	"Loan_ID", "Subject", "Date_Time", "Category",
	"User", "Notify_on_Date", "Code", "ConversationID",
}

// SinkConfig points at one reporting endpoint. The user id is appended
// to the base URL path; the API key rides in the Authorization header.
type SinkConfig struct {
	BaseURL string
	UserID  string
	APIKey  string
}

func (c SinkConfig) complete() bool {
	return c.BaseURL != "" && c.UserID != "" && c.APIKey != ""
}

// Sink posts finished-call memos and collection-activity records.
// Posting is best effort: callers log returned errors and move on.
type Sink struct {
	memoAPI     SinkConfig
	activityAPI SinkConfig
	client      *http.Client
	log         *slog.Logger
}

func NewSink(memoAPI, activityAPI SinkConfig, client *http.Client, log *slog.Logger) *Sink {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sink{memoAPI: memoAPI, activityAPI: activityAPI, client: client, log: log}
}

// PostMemo validates required fields and posts the memo.
func (s *Sink) PostMemo(ctx context.Context, memo map[string]any) error {
	if !s.memoAPI.complete() {
		return fmt.Errorf("memo sink not configured")
	}
	var missing []string
	for _, f := range requiredFields {
		if v, ok := memo[f]; !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("memo missing required fields: %v", missing)
	}

	s.log.Info("posting memo", "loan_id", memo["Loan_ID"], "disposition", memo["Disposition"])
	return s.post(ctx, s.memoAPI, memo)
}

// PostCollectionActivity records that a collection contact happened
// today for the given loan.
func (s *Sink) PostCollectionActivity(ctx context.Context, loanID string) error {
	if !s.activityAPI.complete() {
		return fmt.Errorf("collection activity sink not configured")
	}
	if loanID == "" {
		return fmt.Errorf("collection activity without loan id")
	}

	s.log.Info("recording collection activity", "loan_id", loanID)
	return s.post(ctx, s.activityAPI, map[string]any{
		"FICS_loan_number":         loanID,
		"collection_activity_date": time.Now().UTC().Format("2006-01-02"),
		"user":                     "FICSAPI",
	})
}

func (s *Sink) post(ctx context.Context, cfg SinkConfig, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.BaseURL+"/"+cfg.UserID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
