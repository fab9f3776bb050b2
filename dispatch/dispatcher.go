package dispatch

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// DefaultBufferSize is the initial buffer of the dispatch queue. The queue
// grows beyond it, so Execute never blocks on a busy dispatcher.
const DefaultBufferSize = 20

// ErrDispatcherShuttingDown is returned when work is submitted to a stopped
// dispatcher.
var ErrDispatcherShuttingDown = errors.New("dispatcher shutting down")

// Dispatcher runs submitted closures one at a time, in submission order, on
// a single goroutine. All trade state is mutated from it, which serializes
// pipeline runs and chain notifications.
type Dispatcher struct {
	started sync.Once
	stopped sync.Once

	queue *queue.ConcurrentQueue

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		queue: queue.NewConcurrentQueue(DefaultBufferSize),
		quit:  make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (d *Dispatcher) Start() error {
	d.started.Do(func() {
		log.Debugf("Dispatcher starting")

		d.queue.Start()

		d.wg.Add(1)
		go d.dispatch()
	})

	return nil
}

// Stop halts the dispatch goroutine. Queued closures that did not run yet
// are dropped.
func (d *Dispatcher) Stop() error {
	d.stopped.Do(func() {
		log.Debugf("Dispatcher shutting down")

		close(d.quit)
		d.wg.Wait()
		d.queue.Stop()
	})

	return nil
}

// Execute queues f to run on the dispatch goroutine.
func (d *Dispatcher) Execute(f func()) error {
	select {
	case d.queue.ChanIn() <- f:
		return nil

	case <-d.quit:
		return ErrDispatcherShuttingDown
	}
}

// ExecuteSync queues f and waits until it ran.
//
// NOTE: This MUST NOT be called from the dispatch goroutine itself.
func (d *Dispatcher) ExecuteSync(f func()) error {
	done := make(chan struct{})
	err := d.Execute(func() {
		defer close(done)
		f()
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil

	case <-d.quit:
		return ErrDispatcherShuttingDown
	}
}

// dispatch runs queued closures until the dispatcher is stopped.
//
// NOTE: This MUST be run as a goroutine.
func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.queue.ChanOut():
			f, ok := item.(func())
			if !ok {
				log.Errorf("Unexpected dispatch item %T", item)
				continue
			}
			d.run(f)

		case <-d.quit:
			return
		}
	}
}

// run executes f, recovering from a panic so one bad closure cannot stop
// the dispatcher.
func (d *Dispatcher) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Criticalf("Dispatched closure panicked: %v\n%s", r,
				debug.Stack())
		}
	}()

	f()
}
