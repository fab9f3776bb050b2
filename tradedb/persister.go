package tradedb

import (
	"bytes"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/p2ptrade/escrowd/trade"
)

// DefaultFlushInterval is the interval pending trades are written at.
const DefaultFlushInterval = 200 * time.Millisecond

// Persister batches persistence requests. A request snapshots the trade
// immediately, so later mutations do not leak into the stored version, and
// the latest snapshot of each trade is written on the next flush.
type Persister struct {
	started sync.Once
	stopped sync.Once

	db     *DB
	ticker ticker.Ticker

	mu      sync.Mutex
	pending map[string][]byte
	order   []string

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewPersister creates a persister writing to db whenever t ticks. A nil
// ticker defaults to DefaultFlushInterval.
func NewPersister(db *DB, t ticker.Ticker) *Persister {
	if t == nil {
		t = ticker.New(DefaultFlushInterval)
	}

	return &Persister{
		db:      db,
		ticker:  t,
		pending: make(map[string][]byte),
		quit:    make(chan struct{}),
	}
}

// Start launches the flush loop.
func (p *Persister) Start() error {
	p.started.Do(func() {
		log.Debugf("Trade persister starting")

		p.ticker.Resume()

		p.wg.Add(1)
		go p.flushLoop()
	})

	return nil
}

// Stop halts the flush loop and writes all pending trades.
func (p *Persister) Stop() error {
	var err error
	p.stopped.Do(func() {
		log.Debugf("Trade persister shutting down")

		close(p.quit)
		p.wg.Wait()
		p.ticker.Stop()

		err = p.Flush()
	})

	return err
}

// RequestPersistence schedules the trade to be written.
func (p *Persister) RequestPersistence(t *trade.Trade) error {
	var b bytes.Buffer
	if err := encodeTrade(&b, t); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[t.ID]; !ok {
		p.order = append(p.order, t.ID)
	}
	p.pending[t.ID] = b.Bytes()

	return nil
}

// Flush writes all pending trades now. Trades that fail to write stay
// pending.
func (p *Persister) Flush() error {
	p.mu.Lock()
	pending, order := p.pending, p.order
	p.pending = make(map[string][]byte)
	p.order = nil
	p.mu.Unlock()

	var firstErr error
	for _, id := range order {
		err := p.db.putRaw(id, pending[id])
		if err == nil {
			continue
		}

		log.Errorf("Unable to persist trade %v: %v", id, err)
		if firstErr == nil {
			firstErr = err
		}

		p.requeue(id, pending[id])
	}

	return firstErr
}

// requeue puts back a failed write unless a newer snapshot arrived.
func (p *Persister) requeue(id string, raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[id]; ok {
		return
	}
	p.pending[id] = raw
	p.order = append(p.order, id)
}

// flushLoop writes pending trades on every tick.
//
// NOTE: This MUST be run as a goroutine.
func (p *Persister) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ticker.Ticks():
			if err := p.Flush(); err != nil {
				log.Warnf("Flush failed, retrying on next "+
					"tick: %v", err)
			}

		case <-p.quit:
			return
		}
	}
}
