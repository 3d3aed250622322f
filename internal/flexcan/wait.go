package flexcan

import (
	"fmt"

	"github.com/s32kdev/go-flexcan/internal/logging"
)

// WaitStrategy bounds the driver's acknowledge busy-polls. The hardware
// completes every acknowledged transition within microseconds, so the spin
// cap only trips on a wedged or absent peripheral; when it does, the driver
// logs and returns ErrWaitTimeout instead of spinning forever.
type WaitStrategy struct {
	// MaxSpins is the poll iteration budget. Zero selects the default.
	MaxSpins int
	// OnSpin, when set, runs between polls (yield hook for simulated or
	// memory-mapped blocks shared with a delivering goroutine).
	OnSpin func()
}

const defaultMaxSpins = 1 << 24

// poll re-reads done until it reports true or the spin budget runs out.
func (w WaitStrategy) poll(what string, done func() bool) error {
	max := w.MaxSpins
	if max <= 0 {
		max = defaultMaxSpins
	}
	for i := 0; i < max; i++ {
		if done() {
			return nil
		}
		if w.OnSpin != nil {
			w.OnSpin()
		}
	}
	logging.L().Error("flexcan_wait_timeout", "waiting_for", what, "spins", max)
	return fmt.Errorf("%w: %s after %d polls", ErrWaitTimeout, what, max)
}
