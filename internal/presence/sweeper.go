package presence

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/presence/internal/clock"
)

// Expirer is the part of Store the sweeper drives.
type Expirer interface {
	CheckTimeout(now time.Time, timeout time.Duration) bool
}

// Sweeper periodically releases a session whose heartbeat has gone stale.
// It runs on its own timer so the Free/Occupied signal is corrected even
// when nobody is reading the status.
// Thread-safe: Start, Sweep and Stop may be called from any goroutine.
type Sweeper struct {
	expirer  Expirer            // Store (or a test double)
	clock    clock.Clock        // Source of ticks and of "now"
	ctx      context.Context    // Internal cancellation for Stop
	cancel   context.CancelFunc // Cancels ctx
	timeout  time.Duration      // Heartbeat silence tolerated before release
	interval time.Duration      // Time between sweeps
	wg       sync.WaitGroup     // Tracks the Start goroutine
}

// NewSweeper creates a sweeper that evaluates expirer every interval.
//
// Parameters:
//   - expirer: normally the *Store
//   - clk: time source; nil selects clock.Real()
//   - timeout: heartbeat timeout (e.g. 90s)
//   - interval: sweep period; zero or negative selects timeout/3, which
//     bounds how long a dead session can still be shown as occupied
//
// Example:
//
//	sweeper := presence.NewSweeper(store, clock.Real(), 90*time.Second, 0)
//	go sweeper.Start(ctx)
//	defer sweeper.Stop()
func NewSweeper(expirer Expirer, clk clock.Clock, timeout, interval time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = timeout / 3
	}
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		expirer:  expirer,
		clock:    clk,
		timeout:  timeout,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Interval returns the effective sweep period.
func (w *Sweeper) Interval() time.Duration { return w.interval }

// Start sweeps once immediately and then on every tick until ctx is
// canceled or Stop is called. It blocks; run it in its own goroutine.
func (w *Sweeper) Start(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	if ctx == nil {
		ctx = w.ctx
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	log.Infof("timeout sweeper started: timeout %v, interval %v", w.timeout, w.interval)

	w.Sweep()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-ctx.Done():
			log.Info("timeout sweeper stopping due to context cancellation")
			return
		case <-w.ctx.Done():
			log.Info("timeout sweeper stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the loop and waits for Start to return.
func (w *Sweeper) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Sweep runs a single timeout check and reports whether a session was
// released. A panic inside the check is logged and swallowed so that one
// bad pass cannot end the loop; the next tick tries again.
func (w *Sweeper) Sweep() (released bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("timeout sweep failed, retrying next tick: %v", r)
			released = false
		}
	}()
	return w.expirer.CheckTimeout(w.clock.Now(), w.timeout)
}
