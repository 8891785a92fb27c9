// Package sense turns raw environment inputs into condition updates for the
// transmitter. Sources never touch the transmitter directly: they produce
// Change values that the event loop applies.
package sense

import (
	"time"

	"github.com/sweeney/fmtxd/internal/logic"
)

// Change is one condition value reported by a source.
type Change struct {
	Condition logic.Condition
	Value     bool
	Time      time.Time
	Source    string
}
