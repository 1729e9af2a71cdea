package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// eventClock supplies RelayEvent.SentAt.
var eventClock clockwork.Clock = clockwork.NewRealClock()

// SetClock replaces the clock behind relay event timestamps. nil restores the
// wall clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	eventClock = c
}

// now is the event timestamp, always in UTC so published events compare
// across hosts.
func now() time.Time {
	return eventClock.Now().UTC()
}
