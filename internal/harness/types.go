package harness

import (
	"bytes"

	"github.com/roach88/edgesync/internal/record"
)

// Trace event kinds.
const (
	KindRegister         = "register"
	KindResolve          = "resolve"
	KindCleanup          = "cleanup"
	KindFetch            = "fetch"
	KindNetwork          = "network"
	KindSyncStart        = "sync_start"
	KindSyncProgress     = "sync_progress"
	KindConflictDetected = "conflict_detected"
	KindSyncComplete     = "sync_complete"
	KindSyncError        = "sync_error"
	KindSyncSkipped      = "sync_skipped"
)

// TraceEvent is one observed step outcome or engine event.
type TraceEvent struct {
	Seq    int64
	Kind   string
	Fields record.Object
}

// object returns the event as a single document.
func (e TraceEvent) object() record.Object {
	obj := record.Obj(
		record.O("seq", record.Int(e.Seq)),
		record.O("kind", record.String(e.Kind)),
	)
	for k, v := range e.Fields {
		obj[k] = v
	}
	return obj
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when no step expectation or assertion failed.
	Pass bool

	Trace []TraceEvent

	Errors []string
}

// NewResult returns a passing result with an empty trace.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(kind string, fields record.Object) {
	if fields == nil {
		fields = record.Object{}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Kind:   kind,
		Fields: fields,
	})
}

// Kinds returns the kind of every trace event in order.
func (r *Result) Kinds() []string {
	kinds := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		kinds[i] = ev.Kind
	}
	return kinds
}

// MarshalTrace writes one canonical JSON document per event, each on
// its own line, after a header line naming the scenario.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	header, err := record.MarshalCanonical(record.Obj(record.O("scenario", record.String(name))))
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')
	for _, ev := range trace {
		line, err := record.MarshalCanonical(ev.object())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
