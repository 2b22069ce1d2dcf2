package relay

import "sync/atomic"

type counters struct {
	delivered   atomic.Int64
	blocked     atomic.Int64
	unavailable atomic.Int64
	dropped     atomic.Int64
}

func (c *counters) record(o Outcome) {
	switch o {
	case OutcomeDelivered:
		c.delivered.Add(1)
	case OutcomeBlocked:
		c.blocked.Add(1)
	case OutcomeUnavailable:
		c.unavailable.Add(1)
	case OutcomeDropped, OutcomeInvalid:
		c.dropped.Add(1)
	}
}

// Stats is a point-in-time view of the engine's counters.
type Stats struct {
	Users       int   `json:"users"`
	Stored      int   `json:"stored"`
	Delivered   int64 `json:"delivered"`
	Blocked     int64 `json:"blocked"`
	Unavailable int64 `json:"unavailable"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns the engine's counters since start.
func (e *Engine) Stats() Stats {
	return Stats{
		Users:       e.presence.Len(),
		Stored:      e.messages.Len(),
		Delivered:   e.stats.delivered.Load(),
		Blocked:     e.stats.blocked.Load(),
		Unavailable: e.stats.unavailable.Load(),
		Dropped:     e.stats.dropped.Load(),
	}
}
