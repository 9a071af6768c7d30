// SPDX-License-Identifier: AGPL-3.0-or-later
package events

// CompositeSink fans emitted events out to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink returns a sink forwarding to all non-nil sinks. It returns
// nil when none remain and the single sink when only one does.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return &CompositeSink{sinks: filtered}
	}
}

func (c *CompositeSink) Emit(ev Event) {
	for _, s := range c.sinks {
		s.Emit(ev)
	}
}
