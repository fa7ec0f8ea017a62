package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/voxflow-ai/voxflow/pkg/catalog"
	"github.com/voxflow-ai/voxflow/pkg/template"
)

// APIRunner executes the HTTP actions a node declares on entry. Failures
// are recorded into the returned update set, never raised; the transition
// table reacts to api_status_code / api_error on the following turn.
type APIRunner struct {
	client   *http.Client
	renderer *template.Renderer
	log      *slog.Logger
}

// NewAPIRunner builds a runner. A nil client gets a 30s-timeout default.
func NewAPIRunner(client *http.Client, renderer *template.Renderer, log *slog.Logger) *APIRunner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &APIRunner{client: client, renderer: renderer, log: log}
}

// Execute runs each action in declared order and returns the resulting
// context updates.
func (r *APIRunner) Execute(ctx context.Context, apis []catalog.API, v template.Values) map[string]any {
	updates := make(map[string]any)
	for _, api := range apis {
		if api.Post != "" {
			r.post(ctx, api, v, updates)
		} else if api.Get != "" {
			r.get(ctx, api, v, updates)
		}
	}
	return updates
}

func (r *APIRunner) post(ctx context.Context, api catalog.API, v template.Values, updates map[string]any) {
	url := r.renderer.Render(api.Post, v)
	body := buildBody(api.Body, r.renderer, v)

	payload, err := json.Marshal(body)
	if err != nil {
		updates["api_error"] = err.Error()
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		updates["api_error"] = err.Error()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	r.log.Info("api action: post", "url", url)
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Error("api action failed", "url", url, "error", err)
		updates["api_error"] = err.Error()
		return
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	updates["api_status_code"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		updates["api_error"] = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		r.log.Error("api action non-200", "url", url, "status", resp.StatusCode)
		return
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		updates["api_error"] = fmt.Sprintf("decode response: %v", err)
		return
	}
	for _, rf := range api.Response {
		path := rf.Path
		if path == "" {
			path = rf.Key
		}
		val, err := queryPath(data, path)
		if err != nil {
			r.log.Warn("api response path failed", "path", path, "error", err)
			continue
		}
		if val != nil {
			updates[rf.Key] = val
		}
	}
}

func (r *APIRunner) get(ctx context.Context, api catalog.API, v template.Values, updates map[string]any) {
	url := r.renderer.Render(api.Get, v)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		updates["api_error"] = err.Error()
		return
	}

	r.log.Info("api action: get", "url", url)
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Error("api action failed", "url", url, "error", err)
		updates["api_error"] = err.Error()
		return
	}
	defer resp.Body.Close()

	updates["api_status_code"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		updates["api_error"] = fmt.Sprintf("status %d", resp.StatusCode)
		return
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		updates["api_error"] = fmt.Sprintf("decode response: %v", err)
		return
	}
	if len(api.Response) == 0 {
		updates["api_response"] = data
		return
	}
	for _, rf := range api.Response {
		path := rf.Path
		if path == "" {
			path = rf.Key
		}
		val, err := queryPath(data, path)
		if err != nil {
			r.log.Warn("api response path failed", "path", path, "error", err)
			continue
		}
		if val != nil {
			updates[rf.Key] = val
		}
	}
}

// buildBody renders each declared body value against the context and
// coerces obvious booleans and numbers so the receiving API gets typed
// JSON rather than strings.
func buildBody(fields []catalog.BodyField, renderer *template.Renderer, v template.Values) map[string]any {
	body := make(map[string]any, len(fields))
	for _, f := range fields {
		body[f.Key] = coerce(renderer.Render(f.Value, v))
	}
	return body
}

func coerce(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// queryPath evaluates a dotted response path ("data.slots") as a jq
// query against decoded JSON.
func queryPath(data any, path string) (any, error) {
	q, err := gojq.Parse("." + path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	iter := q.Run(data)
	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := val.(error); isErr {
		return nil, err
	}
	return val, nil
}
