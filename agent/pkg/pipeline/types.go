package pipeline

import (
	"time"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Intent is the discriminator returned by the intent classifier.
type Intent int

const (
	IntentCasual Intent = iota
	IntentBusiness
)

func (i Intent) String() string {
	if i == IntentBusiness {
		return "business"
	}
	return "casual"
}

// RemediationMode tells the selector and synthesizer whether they are on the
// first pass or a corrective pass.
type RemediationMode string

const (
	ModeKeep       RemediationMode = "KEEP"
	ModeReselect   RemediationMode = "RESELECT"
	ModeRegenerate RemediationMode = "REGENERATE"
)

// Status is the coarse outcome of a turn.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusCasual   Status = "casual"
	StatusFailed   Status = "failed"
)

// TurnState is the mutable record threaded through one turn. It is owned by a
// single Run call and never shared.
type TurnState struct {
	Question        string
	ContextCount    int
	MaxFixAttempts  int
	FixAttemptsUsed int

	Candidates []string
	Selected   []int
	Query      string
	LastError  *Failure
	Mode       RemediationMode

	FinalAnswer string
	answered    bool
}

// setAnswer records the final answer. A turn has exactly one exit path, so a
// second write is a programming error.
func (s *TurnState) setAnswer(answer string) {
	if s.answered {
		panic("pipeline: final answer set twice")
	}
	s.answered = true
	s.FinalAnswer = answer
}

// SelectedContext returns the selected candidate snippets in index order.
func (s *TurnState) SelectedContext() []string {
	out := make([]string, 0, len(s.Selected))
	for _, idx := range s.Selected {
		out = append(out, s.Candidates[idx])
	}
	return out
}

// SelectRequest is the input to a Selector call. Prior fields are only set in
// RESELECT mode.
type SelectRequest struct {
	Question       string
	Candidates     []string
	Mode           RemediationMode
	PriorSelection []int
	PriorQuery     string
	PriorFailure   *Failure
}

// SynthesizeRequest is the input to a Synthesizer call. Prior fields are set
// on every corrective pass.
type SynthesizeRequest struct {
	Question     string
	Context      []string
	Mode         RemediationMode
	PriorQuery   string
	PriorFailure *Failure
}

// TurnResult is what a caller gets back from Run.
type TurnResult struct {
	Answer          string        `json:"answer"`
	Status          Status        `json:"status"`
	// SQL is the latest synthesized statement, empty when the final pass
	// produced none.
	SQL             string        `json:"sql,omitempty"`
	Rows            []Row         `json:"rows,omitempty"`
	FixAttemptsUsed int           `json:"fix_attempts_used"`
	Failure         *Failure      `json:"failure,omitempty"`
	Trace           []State       `json:"trace"`
	Duration        time.Duration `json:"duration"`
}

// Progress is emitted on every state entry.
type Progress struct {
	State   State
	Mode    RemediationMode
	Attempt int
}

// ProgressCallback receives progress updates during a turn.
type ProgressCallback func(Progress)
