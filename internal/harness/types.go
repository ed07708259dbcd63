package harness

import (
	"github.com/roach88/preauth/internal/ir"
)

// Outcome of a step that succeeded.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`
	Time    int64  `json:"time"`
	Outcome string `json:"outcome"`

	// Event is the kind of event the step appended, if any.
	Event string `json:"event,omitempty"`

	// Payload is the event payload with addresses replaced by their
	// scenario labels.
	Payload ir.Object `json:"payload,omitempty"`

	// Detail carries query results (check_debit, max_debit).
	Detail ir.Object `json:"detail,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one entry per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// value renders the event for golden comparison. Absent fields are omitted
// because canonical JSON has no null.
func (e TraceEvent) value() ir.Object {
	obj := ir.NewObject(
		ir.O("step", ir.Int(e.Step)),
		ir.O("op", ir.String(e.Op)),
		ir.O("time", ir.Int(e.Time)),
		ir.O("outcome", ir.String(e.Outcome)),
	)
	if e.Event != "" {
		obj["event"] = ir.String(e.Event)
	}
	if e.Payload != nil {
		obj["payload"] = e.Payload
	}
	if e.Detail != nil {
		obj["detail"] = e.Detail
	}
	return obj
}
