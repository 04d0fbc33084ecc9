package pipeline

// Verdict is the result classifier's judgement of a row set.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictEmpty
	VerdictAllNull
)

func (v Verdict) String() string {
	switch v {
	case VerdictEmpty:
		return "EMPTY"
	case VerdictAllNull:
		return "ALL_NULL"
	default:
		return "OK"
	}
}

// ClassifyRows is total: every row sequence is exactly one of OK, EMPTY or
// ALL_NULL. A row whose fields are all nil (or that has no fields) counts as
// null.
func ClassifyRows(rows []Row) Verdict {
	if len(rows) == 0 {
		return VerdictEmpty
	}
	for _, row := range rows {
		for _, v := range row {
			if v != nil {
				return VerdictOK
			}
		}
	}
	return VerdictAllNull
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeEmpty
	OutcomeAllNull
	OutcomeFault
)

// Outcome is the tagged result of one execute-and-classify step:
// Ok(rows) | Empty | AllNull | Fault(detail).
type Outcome struct {
	Kind   OutcomeKind
	Rows   []Row
	Detail string
	Err    error
}

// Assess combines an executor result with the result classifier.
func Assess(rows []Row, err error) Outcome {
	if err != nil {
		return Fault(err)
	}
	switch ClassifyRows(rows) {
	case VerdictEmpty:
		return Outcome{Kind: OutcomeEmpty, Rows: rows}
	case VerdictAllNull:
		return Outcome{Kind: OutcomeAllNull, Rows: rows}
	default:
		return Outcome{Kind: OutcomeOK, Rows: rows}
	}
}

// Fault builds a fault outcome from err.
func Fault(err error) Outcome {
	return Outcome{Kind: OutcomeFault, Detail: err.Error(), Err: err}
}

// Failure maps a non-OK outcome onto the error taxonomy. It returns nil for
// OutcomeOK.
func (o Outcome) Failure() *Failure {
	switch o.Kind {
	case OutcomeEmpty:
		return &Failure{Kind: KindEmpty, Detail: detailEmpty}
	case OutcomeAllNull:
		return &Failure{Kind: KindAllNull, Detail: detailAllNull}
	case OutcomeFault:
		return &Failure{Kind: KindExecutionFault, Detail: o.Detail, Err: o.Err}
	default:
		return nil
	}
}
