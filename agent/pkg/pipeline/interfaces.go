package pipeline

import (
	"context"
)

// Classifier decides whether a question is casual conversation or a data
// question.
type Classifier interface {
	Classify(ctx context.Context, question string) (Intent, error)
}

// Retriever returns up to count candidate schema snippets ordered by
// relevance. count <= 0 must fail with ErrInvalidCount; an empty index yields
// an empty slice and no error.
type Retriever interface {
	Retrieve(ctx context.Context, question string, count int) ([]string, error)
}

// Selector picks the candidate indices relevant to the question.
type Selector interface {
	Select(ctx context.Context, req SelectRequest) ([]int, error)
}

// Synthesizer produces a single SQL statement. It returns an error wrapping
// ErrUnparseableOutput when the generation contained no statement.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (string, error)
}

// Executor runs a SQL statement. Zero rows is a successful, empty result.
type Executor interface {
	Execute(ctx context.Context, sql string) ([]Row, error)
}

// Responder produces the natural-language answer of a turn.
type Responder interface {
	RespondCasual(ctx context.Context, question string) (string, error)
	RespondBusiness(ctx context.Context, question, sql string, rows []Row) (string, error)
	RespondFailure(ctx context.Context, question string, failure *Failure) (string, error)
}
