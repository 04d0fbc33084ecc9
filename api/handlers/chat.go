package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
	"github.com/sqlhelper/sqlhelper/pkg/sessions"
)

const maxRequestBytes = 1 << 20

type ChatRequest struct {
	Question  string     `json:"question"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	// Config overrides individual fields of the server's turn defaults.
	Config json.RawMessage `json:"config,omitempty"`
}

type ChatResponse struct {
	Answer      string           `json:"answer"`
	Status      pipeline.Status  `json:"status"`
	SQL         string           `json:"sql,omitempty"`
	Rows        []pipeline.Row   `json:"rows,omitempty"`
	FixAttempts int              `json:"fix_attempts"`
	FailureKind pipeline.Kind    `json:"failure_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	Trace       []pipeline.State `json:"trace,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	SessionID   *uuid.UUID       `json:"session_id,omitempty"`
}

type ProgressEvent struct {
	State   pipeline.State           `json:"state"`
	Mode    pipeline.RemediationMode `json:"mode,omitempty"`
	Attempt int                      `json:"attempt"`
}

// decodeChatRequest parses a chat request and resolves its turn config
// against the server defaults.
func (h *Handlers) decodeChatRequest(r *http.Request) (ChatRequest, pipeline.TurnConfig, error) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		return req, pipeline.TurnConfig{}, fmt.Errorf("invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return req, pipeline.TurnConfig{}, fmt.Errorf("question is required")
	}

	tc := h.cfg.Defaults
	if len(req.Config) > 0 && !bytes.Equal(req.Config, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(req.Config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tc); err != nil {
			return req, pipeline.TurnConfig{}, fmt.Errorf("invalid config: %v", err)
		}
	}
	if err := tc.Validate(); err != nil {
		return req, pipeline.TurnConfig{}, fmt.Errorf("invalid config: %v", err)
	}
	return req, tc, nil
}

func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, tc, err := h.decodeChatRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.RunTurn(r.Context(), req.Question, tc, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeJSON(w, http.StatusInternalServerError, ChatResponse{
			Status: pipeline.StatusFailed,
			Error:  h.internalError("Chat processing failed", err),
		})
		return
	}

	h.recordTurn(r.Context(), req, result)
	writeJSON(w, http.StatusOK, convertTurnResult(req, result))
}

// ChatStream runs a turn and reports each state entry as an SSE progress
// event, followed by a done (or error) event.
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, tc, err := h.decodeChatRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Progress callbacks run on the worker goroutine; events are handed back
	// to the request goroutine so that only it writes to w. A turn enters at
	// most StepBudget+2 states, and the loop below reads until the turn is
	// done, so sends never block for long and no state is lost.
	events := make(chan ProgressEvent, tc.StepBudget+2)
	type outcome struct {
		result *pipeline.TurnResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.RunTurn(r.Context(), req.Question, tc, func(p pipeline.Progress) {
			events <- ProgressEvent{State: p.State, Mode: p.Mode, Attempt: p.Attempt}
		})
		done <- outcome{res, err}
	}()

	sendEvent := func(eventType string, data any) {
		jsonData, err := json.Marshal(data)
		if err != nil {
			h.log.Error("handlers: failed to marshal SSE event data", "eventType", eventType, "error", err)
			errorData, _ := json.Marshal(map[string]string{"error": "Failed to serialize response"})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", errorData)
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData)
		flusher.Flush()
	}

	for {
		select {
		case ev := <-events:
			sendEvent("progress", ev)
		case out := <-done:
		drain:
			for {
				select {
				case ev := <-events:
					sendEvent("progress", ev)
				default:
					break drain
				}
			}
			if out.err != nil {
				if !errors.Is(out.err, context.Canceled) {
					sendEvent("error", map[string]string{"error": h.internalError("Chat processing failed", out.err)})
				}
				return
			}
			h.recordTurn(r.Context(), req, out.result)
			sendEvent("done", convertTurnResult(req, out.result))
			return
		}
	}
}

// recordTurn appends the question and answer to the request's session.
// History is best effort; a store failure does not fail the turn.
func (h *Handlers) recordTurn(ctx context.Context, req ChatRequest, result *pipeline.TurnResult) {
	if h.cfg.Sessions == nil || req.SessionID == nil {
		return
	}
	now := time.Now().UTC()
	err := h.cfg.Sessions.Append(ctx, *req.SessionID,
		sessions.Message{Role: sessions.RoleUser, Content: req.Question, At: now},
		sessions.Message{Role: sessions.RoleAssistant, Content: result.Answer, SQL: result.SQL, Status: string(result.Status), At: now},
	)
	if err != nil {
		h.log.Warn("handlers: failed to record turn", "session", req.SessionID.String(), "error", err)
	}
}

func convertTurnResult(req ChatRequest, result *pipeline.TurnResult) ChatResponse {
	resp := ChatResponse{
		Answer:      result.Answer,
		Status:      result.Status,
		SQL:         result.SQL,
		FixAttempts: result.FixAttemptsUsed,
		Trace:       result.Trace,
		DurationMs:  result.Duration.Milliseconds(),
		SessionID:   req.SessionID,
	}
	if result.Failure != nil {
		resp.FailureKind = result.Failure.Kind
		resp.Error = result.Failure.Detail
	}
	if len(result.Rows) > 0 {
		resp.Rows = make([]pipeline.Row, len(result.Rows))
		for i, row := range result.Rows {
			clean := make(pipeline.Row, len(row))
			for k, v := range row {
				clean[k] = sanitizeValue(v)
			}
			resp.Rows[i] = clean
		}
	}
	return resp
}

// sanitizeValue replaces values JSON cannot carry (Inf, NaN) with nil.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
	case float32:
		if math.IsInf(float64(val), 0) || math.IsNaN(float64(val)) {
			return nil
		}
	}
	return v
}
