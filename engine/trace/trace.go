package trace

// TraceLevel controls the verbosity of composition tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures finalized sub-batches and deferrals.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// CompositionTrace collects composition records across scheduler iterations.
type CompositionTrace struct {
	Level        TraceLevel
	Compositions []CompositionRecord
	Deferrals    []DeferralRecord
}

// NewCompositionTrace creates a CompositionTrace ready for recording.
func NewCompositionTrace(level TraceLevel) *CompositionTrace {
	return &CompositionTrace{
		Level:        level,
		Compositions: make([]CompositionRecord, 0),
		Deferrals:    make([]DeferralRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (ct *CompositionTrace) Enabled() bool {
	return ct != nil && ct.Level == TraceLevelDecisions
}

// RecordComposition appends a finalized sub-batch record.
func (ct *CompositionTrace) RecordComposition(record CompositionRecord) {
	ct.Compositions = append(ct.Compositions, record)
}

// RecordDeferral appends a deferral record.
func (ct *CompositionTrace) RecordDeferral(record DeferralRecord) {
	ct.Deferrals = append(ct.Deferrals, record)
}
