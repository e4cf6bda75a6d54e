// Package clock abstracts the time source used by the presence store, the
// timeout sweeper and the client agents.
//
// Production code receives Real(). Tests receive Fake(start) and move time
// forward explicitly with Advance, so heartbeat expiry can be exercised
// without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	sweeper := presence.NewSweeper(store, c, 90*time.Second, 30*time.Second)
//	go sweeper.Start(ctx)
//	c.WaitForTimers(1) // sweeper registered its ticker
//	c.Advance(30 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a ticker
// and the test advancing the clock past it.
package clock
