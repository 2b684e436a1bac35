package store

import "sync"

// actor serializes all access to a store's maps through a single owning
// goroutine. Operations submitted via do run to completion one at a time,
// which is what lets each store publish events in exactly the order the
// mutating calls were applied, without a lock held across publishes.
type actor struct {
	ops  chan func()
	quit chan struct{}
	once sync.Once
}

func newActor() *actor {
	a := &actor{
		ops:  make(chan func()),
		quit: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	for {
		select {
		case op := <-a.ops:
			op()
		case <-a.quit:
			return
		}
	}
}

// do runs op on the owning goroutine and waits for it to finish.
func (a *actor) do(op func()) error {
	done := make(chan struct{})
	select {
	case a.ops <- func() { op(); close(done) }:
	case <-a.quit:
		return ErrClosed
	}
	// The loop has accepted the op; it will run to completion.
	<-done
	return nil
}

// close stops the owning goroutine. Pending callers receive ErrClosed.
func (a *actor) close() {
	a.once.Do(func() { close(a.quit) })
}
