package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why an attempt or a turn failed.
type Kind string

const (
	KindClassificationFault Kind = "CLASSIFICATION_FAULT"
	KindEmpty               Kind = "EMPTY"
	KindAllNull             Kind = "ALL_NULL"
	KindExecutionFault      Kind = "EXECUTION_FAULT"
	KindBudgetExhausted     Kind = "BUDGET_EXHAUSTED"
)

// Terminal reports whether a failure of this kind ends the turn without
// consulting the remediation policy.
func (k Kind) Terminal() bool {
	return k == KindClassificationFault || k == KindBudgetExhausted
}

const (
	detailEmpty   = "No rows returned by the SQL query."
	detailAllNull = "SQL query only returns NULL for every column."
)

var (
	// ErrUnparseableOutput is returned by a Synthesizer when the generation
	// contained no recognizable SQL statement.
	ErrUnparseableOutput = errors.New("no SQL statement found in model output")

	// ErrInvalidCount is returned by a Retriever when asked for count <= 0.
	ErrInvalidCount = errors.New("context count must be positive")

	// ErrMalformedIntent is returned by a Classifier whose collaborator
	// answered with something other than "0" or "1".
	ErrMalformedIntent = errors.New("malformed intent classification")
)

// Failure is a structured failure description: a kind plus a message that is
// fed back to the next corrective attempt.
type Failure struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Detail: err.Error(), Err: err}
}

// AsFailure extracts a *Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
