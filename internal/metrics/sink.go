package metrics

// Sink receives every counter update.
type Sink interface {
	// SetTotals publishes the totals of counter name. label is the include
	// prefix for partitioned counters and empty otherwise.
	SetTotals(name, label string, files, bytes uint64)
	SetErrors(count uint64)
}

type NopSink struct{}

func (NopSink) SetTotals(string, string, uint64, uint64) {}
func (NopSink) SetErrors(uint64)                         {}

var _ Sink = NopSink{}
