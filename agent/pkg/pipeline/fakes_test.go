package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockClassifier struct {
	intent Intent
	err    error

	mu    sync.Mutex
	calls int
}

func (m *mockClassifier) Classify(_ context.Context, _ string) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.intent, m.err
}

type mockRetriever struct {
	candidates []string
	err        error

	mu    sync.Mutex
	calls int
	count int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, count int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.count = count
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	return m.candidates, m.err
}

// mockSelector returns scripted selections in order, repeating the last one.
type mockSelector struct {
	responses [][]int
	err       error

	mu       sync.Mutex
	requests []SelectRequest
}

func (m *mockSelector) Select(_ context.Context, req SelectRequest) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		ids := make([]int, len(req.Candidates))
		for i := range ids {
			ids[i] = i
		}
		return ids, nil
	}
	idx := min(len(m.requests)-1, len(m.responses)-1)
	return m.responses[idx], nil
}

type synthResponse struct {
	sql string
	err error
}

// mockSynthesizer returns scripted responses in order, repeating the last one.
type mockSynthesizer struct {
	responses []synthResponse

	mu       sync.Mutex
	requests []SynthesizeRequest
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req SynthesizeRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return "SELECT 1;", nil
	}
	r := m.responses[min(len(m.requests)-1, len(m.responses)-1)]
	return r.sql, r.err
}

type execResponse struct {
	rows []Row
	err  error
}

// mockExecutor returns scripted responses in order, repeating the last one.
type mockExecutor struct {
	responses []execResponse
	hook      func(ctx context.Context)

	mu      sync.Mutex
	queries []string
}

func (m *mockExecutor) Execute(ctx context.Context, sql string) ([]Row, error) {
	m.mu.Lock()
	m.queries = append(m.queries, sql)
	n := len(m.queries)
	m.mu.Unlock()
	if m.hook != nil {
		m.hook(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if len(m.responses) == 0 {
		return []Row{{"n": 1}}, nil
	}
	r := m.responses[min(n-1, len(m.responses)-1)]
	return r.rows, r.err
}

type mockResponder struct {
	casualErr   error
	businessErr error
	failureErr  error

	mu           sync.Mutex
	casualCalls  int
	businessRows []Row
	businessSQL  string
	failures     []*Failure
}

func (m *mockResponder) RespondCasual(_ context.Context, question string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casualCalls++
	if m.casualErr != nil {
		return "", m.casualErr
	}
	return "casual: " + question, nil
}

func (m *mockResponder) RespondBusiness(_ context.Context, _ string, sql string, rows []Row) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businessSQL = sql
	m.businessRows = rows
	if m.businessErr != nil {
		return "", m.businessErr
	}
	return "answer", nil
}

func (m *mockResponder) RespondFailure(_ context.Context, _ string, failure *Failure) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure)
	if m.failureErr != nil {
		return "", m.failureErr
	}
	return "could not answer", nil
}

type harness struct {
	classifier  *mockClassifier
	retriever   *mockRetriever
	selector    *mockSelector
	synthesizer *mockSynthesizer
	executor    *mockExecutor
	responder   *mockResponder
	policy      RemediationPolicy
}

func newHarness() *harness {
	return &harness{
		classifier:  &mockClassifier{intent: IntentBusiness},
		retriever:   &mockRetriever{candidates: []string{"table a", "table b", "table c"}},
		selector:    &mockSelector{},
		synthesizer: &mockSynthesizer{},
		executor:    &mockExecutor{},
		responder:   &mockResponder{},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Logger:      testLogger(),
		Classifier:  h.classifier,
		Retriever:   h.retriever,
		Selector:    h.selector,
		Synthesizer: h.synthesizer,
		Executor:    h.executor,
		Responder:   h.responder,
		Policy:      h.policy,
	})
	require.NoError(t, err)
	return o
}

var errBoom = errors.New("boom")
