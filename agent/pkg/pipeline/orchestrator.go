package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline/metrics"
)

const (
	apologyMessage    = "Sorry, something went wrong while handling your question. Please try again in a moment."
	unreliableMessage = "Sorry, I could not produce a reliable answer to your question from the available data."
)

// Orchestrator runs turns: classify, retrieve, select, synthesize, execute,
// validate, remediate within budget, respond.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

// New creates an Orchestrator. Collaborators are shared by every turn and
// must be safe for concurrent use.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate orchestrator config: %w", err)
	}
	return &Orchestrator{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Policy returns the remediation policy in effect.
func (o *Orchestrator) Policy() RemediationPolicy { return o.cfg.Policy }

// Run executes one turn.
func (o *Orchestrator) Run(ctx context.Context, question string, tc TurnConfig) (*TurnResult, error) {
	return o.RunWithProgress(ctx, question, tc, nil)
}

// RunWithProgress executes one turn, calling onProgress on every state entry.
// A cancelled turn returns the context error and no result.
func (o *Orchestrator) RunWithProgress(ctx context.Context, question string, tc TurnConfig, onProgress ProgressCallback) (*TurnResult, error) {
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid turn config: %w", err)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	metrics.TurnsInFlight.Inc()
	defer metrics.TurnsInFlight.Dec()

	start := o.cfg.Clock.Now()
	t := &turn{
		o:   o,
		log: o.log,
		tc:  tc,
		st: &TurnState{
			Question:        question,
			ContextCount:    tc.ContextCount,
			MaxFixAttempts:  tc.MaxFixAttempts,
			FixAttemptsUsed: tc.FixAttemptsStart,
			Mode:            ModeKeep,
		},
		cur:        StateClassify,
		trace:      []State{StateClassify},
		onProgress: onProgress,
	}

	o.log.Info("pipeline: turn started", "question", question, "maxFixAttempts", tc.MaxFixAttempts, "stepBudget", tc.StepBudget)
	t.emit()

	for !t.cur.IsTerminal() {
		if err := ctx.Err(); err != nil {
			o.log.Info("pipeline: turn cancelled", "state", t.cur, "error", err)
			metrics.TurnsTotal.WithLabelValues("cancelled", "").Inc()
			return nil, err
		}

		stageStart := o.cfg.Clock.Now()
		next, err := t.step(ctx)
		metrics.StageDuration.WithLabelValues(string(t.cur)).Observe(o.cfg.Clock.Since(stageStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				o.log.Info("pipeline: turn cancelled", "state", t.cur, "error", err)
				metrics.TurnsTotal.WithLabelValues("cancelled", "").Inc()
			}
			return nil, err
		}
		if err := t.advance(next); err != nil {
			return nil, err
		}
	}

	result := t.result(o.cfg.Clock.Since(start))
	failure := ""
	if result.Failure != nil {
		failure = string(result.Failure.Kind)
	}
	metrics.TurnsTotal.WithLabelValues(string(result.Status), failure).Inc()
	metrics.FixAttemptsUsed.Observe(float64(result.FixAttemptsUsed))
	o.log.Info("pipeline: turn completed", "status", result.Status, "failure", failure, "fixAttempts", result.FixAttemptsUsed, "steps", t.steps, "duration", result.Duration)

	return result, nil
}

// turn drives a single Run call. It is never shared between goroutines.
type turn struct {
	o   *Orchestrator
	log *slog.Logger
	tc  TurnConfig
	st  *TurnState

	cur   State
	steps int
	trace []State

	casual   bool
	// unparsed is set while the latest synthesis produced no statement.
	unparsed bool
	outcome  Outcome
	rows     []Row
	terminal *Failure

	onProgress ProgressCallback
}

func (t *turn) step(ctx context.Context) (State, error) {
	switch t.cur {
	case StateClassify:
		return t.classify(ctx)
	case StateRetrieve:
		return t.retrieve(ctx)
	case StateSelect:
		return t.selectContext(ctx)
	case StateSynthesize:
		return t.synthesize(ctx)
	case StateExecute:
		return t.execute(ctx)
	case StateValidate:
		return t.validate()
	case StateRemediate:
		return t.remediate()
	case StateRespond:
		return t.respond(ctx)
	}
	return "", fmt.Errorf("pipeline: no handler for state %s", t.cur)
}

// advance moves to next through the transition table. Once the step budget
// is spent every move other than RESPOND and DONE is redirected to RESPOND.
func (t *turn) advance(next State) error {
	if next != StateRespond && next != StateDone && t.steps >= t.tc.StepBudget {
		t.log.Warn("pipeline: step budget exhausted", "state", t.cur, "wanted", next, "steps", t.steps)
		t.terminal = &Failure{
			Kind:   KindBudgetExhausted,
			Detail: fmt.Sprintf("step budget of %d transitions exhausted", t.tc.StepBudget),
			Err:    t.st.LastError,
		}
		next = StateRespond
	}
	if !IsValidTransition(t.cur, next) {
		return &transitionError{from: t.cur, to: next}
	}
	t.log.Debug("pipeline: transition", "from", t.cur, "to", next, "mode", t.st.Mode, "attempt", t.st.FixAttemptsUsed)
	t.steps++
	t.cur = next
	t.trace = append(t.trace, next)
	t.emit()
	return nil
}

func (t *turn) emit() {
	if t.onProgress == nil {
		return
	}
	t.onProgress(Progress{State: t.cur, Mode: t.st.Mode, Attempt: t.st.FixAttemptsUsed})
}

// abort turns a collaborator error into a terminal classification fault,
// unless the error came from cancellation.
func (t *turn) abort(ctx context.Context, stage string, err error) (State, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	t.log.Warn("pipeline: collaborator failed", "stage", stage, "error", err)
	t.terminal = &Failure{
		Kind:   KindClassificationFault,
		Detail: fmt.Sprintf("%s: %v", stage, err),
		Err:    err,
	}
	return StateRespond, nil
}

func (t *turn) classify(ctx context.Context) (State, error) {
	intent, err := t.o.cfg.Classifier.Classify(ctx, t.st.Question)
	if err != nil {
		return t.abort(ctx, "classify", err)
	}
	t.log.Info("pipeline: classified question", "intent", intent)
	if intent == IntentCasual {
		t.casual = true
		return StateRespond, nil
	}
	return StateRetrieve, nil
}

func (t *turn) retrieve(ctx context.Context) (State, error) {
	candidates, err := t.o.cfg.Retriever.Retrieve(ctx, t.st.Question, t.st.ContextCount)
	if err != nil {
		return t.abort(ctx, "retrieve", err)
	}
	if len(candidates) > t.st.ContextCount {
		candidates = candidates[:t.st.ContextCount]
	}
	t.st.Candidates = candidates
	t.log.Info("pipeline: retrieved candidates", "count", len(candidates))
	return StateSelect, nil
}

func (t *turn) selectContext(ctx context.Context) (State, error) {
	if len(t.st.Candidates) == 0 {
		t.st.Selected = []int{}
		return StateSynthesize, nil
	}

	req := SelectRequest{
		Question:   t.st.Question,
		Candidates: t.st.Candidates,
		Mode:       t.st.Mode,
	}
	if t.st.Mode == ModeReselect {
		req.PriorSelection = slices.Clone(t.st.Selected)
		req.PriorQuery = t.st.Query
		req.PriorFailure = t.st.LastError
	}

	ids, err := t.o.cfg.Selector.Select(ctx, req)
	if err != nil {
		return t.abort(ctx, "select", err)
	}
	t.st.Selected = SanitizeIndices(ids, len(t.st.Candidates))
	t.log.Info("pipeline: selected context", "mode", t.st.Mode, "selected", t.st.Selected)
	return StateSynthesize, nil
}

func (t *turn) synthesize(ctx context.Context) (State, error) {
	req := SynthesizeRequest{
		Question: t.st.Question,
		Context:  t.st.SelectedContext(),
		Mode:     t.st.Mode,
	}
	if t.st.Mode != ModeKeep {
		req.PriorQuery = t.st.Query
		req.PriorFailure = t.st.LastError
	}

	sql, err := t.o.cfg.Synthesizer.Synthesize(ctx, req)
	if err == nil && strings.TrimSpace(sql) == "" {
		err = ErrUnparseableOutput
	}
	if err != nil {
		if errors.Is(err, ErrUnparseableOutput) && ctx.Err() == nil {
			// Unparseable output skips the executor and is budgeted like an
			// execution fault.
			t.outcome = Fault(err)
			t.unparsed = true
			return StateValidate, nil
		}
		return t.abort(ctx, "synthesize", err)
	}

	t.st.Query = strings.TrimSpace(sql)
	t.unparsed = false
	t.log.Info("pipeline: synthesized query", "mode", t.st.Mode, "sql", t.st.Query)
	return StateExecute, nil
}

func (t *turn) execute(ctx context.Context) (State, error) {
	if t.st.Query == "" {
		return "", errors.New("pipeline: executor invoked without a query")
	}
	rows, err := t.o.cfg.Executor.Execute(ctx, t.st.Query)
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	t.outcome = Assess(rows, err)
	return StateValidate, nil
}

func (t *turn) validate() (State, error) {
	failure := t.outcome.Failure()
	if failure == nil {
		t.rows = t.outcome.Rows
		t.st.LastError = nil
		return StateRespond, nil
	}

	if failure.Kind != KindExecutionFault {
		route, err := t.o.cfg.Policy.Route(failure.Kind)
		if err != nil {
			return "", err
		}
		if route == RouteAccept {
			t.log.Info("pipeline: accepting data-shaped result", "kind", failure.Kind)
			t.rows = t.outcome.Rows
			t.st.LastError = nil
			return StateRespond, nil
		}
	}

	t.log.Warn("pipeline: attempt failed", "kind", failure.Kind, "detail", failure.Detail, "attempt", t.st.FixAttemptsUsed)
	t.st.LastError = failure
	return StateRemediate, nil
}

func (t *turn) remediate() (State, error) {
	if t.st.FixAttemptsUsed >= t.st.MaxFixAttempts {
		t.terminal = &Failure{
			Kind:   KindBudgetExhausted,
			Detail: fmt.Sprintf("no reliable result after %d corrective attempts; last failure: %s", t.st.FixAttemptsUsed, t.st.LastError.Error()),
			Err:    t.st.LastError,
		}
		return StateRespond, nil
	}

	route, err := t.o.cfg.Policy.Route(t.st.LastError.Kind)
	if err != nil {
		return "", err
	}
	t.st.FixAttemptsUsed++
	t.st.Mode = route.mode()
	metrics.RemediationsTotal.WithLabelValues(string(t.st.LastError.Kind), string(route)).Inc()
	t.log.Info("pipeline: remediating", "kind", t.st.LastError.Kind, "route", route, "attempt", t.st.FixAttemptsUsed, "max", t.st.MaxFixAttempts)
	return route.target(), nil
}

func (t *turn) respond(ctx context.Context) (State, error) {
	r := t.o.cfg.Responder
	var answer string

	switch {
	case t.terminal != nil && t.terminal.Kind == KindClassificationFault:
		answer = apologyMessage

	case t.terminal != nil:
		a, err := r.RespondFailure(ctx, t.st.Question, t.terminal)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			t.log.Warn("pipeline: failure responder failed", "error", err)
			a = unreliableMessage
		}
		answer = a

	case t.casual:
		a, err := r.RespondCasual(ctx, t.st.Question)
		if err != nil {
			if _, abortErr := t.abort(ctx, "respond", err); abortErr != nil {
				return "", abortErr
			}
			a = apologyMessage
		}
		answer = a

	default:
		rows := TruncateRows(SampleRows(t.rows, t.tc.SampleInfo), DefaultTruncateLength)
		a, err := r.RespondBusiness(ctx, t.st.Question, t.st.Query, rows)
		if err != nil {
			if _, abortErr := t.abort(ctx, "respond", err); abortErr != nil {
				return "", abortErr
			}
			a = apologyMessage
		}
		answer = a
	}

	t.st.setAnswer(answer)
	return StateDone, nil
}

func (t *turn) result(d time.Duration) *TurnResult {
	res := &TurnResult{
		Answer:          t.st.FinalAnswer,
		FixAttemptsUsed: t.st.FixAttemptsUsed,
		Failure:         t.terminal,
		Trace:           t.trace,
		Duration:        d,
	}
	switch {
	case t.terminal != nil:
		res.Status = StatusFailed
	case t.casual:
		res.Status = StatusCasual
	default:
		res.Status = StatusAnswered
	}
	if !t.casual && !t.unparsed {
		res.SQL = t.st.Query
	}
	if t.terminal == nil && !t.casual {
		res.Rows = t.rows
	}
	return res
}
