package chainntnfs

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// MockChainNotifier is a mock implementation of the ChainNotifier interface.
type MockChainNotifier struct {
	mock.Mock
}

// Compile-time check to ensure MockChainNotifier implements ChainNotifier.
var _ ChainNotifier = (*MockChainNotifier)(nil)

// RegisterSpendNtfn registers an intent to be notified once the target
// outpoint is successfully spent within a transaction.
func (m *MockChainNotifier) RegisterSpendNtfn(outpoint *wire.OutPoint,
	pkScript []byte, heightHint uint32) (*SpendEvent, error) {

	args := m.Called(outpoint, pkScript, heightHint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*SpendEvent), args.Error(1)
}

// Start the ChainNotifier. Once started, the implementation should be ready,
// and able to receive notification registrations from clients.
func (m *MockChainNotifier) Start() error {
	args := m.Called()

	return args.Error(0)
}

// Stops the concrete ChainNotifier.
func (m *MockChainNotifier) Stop() error {
	args := m.Called()

	return args.Error(0)
}

// spendClient is a single registered spend notification.
type spendClient struct {
	spend chan *SpendDetail
}

// ManualNotifier is a ChainNotifier whose spends are injected by the caller.
// It is used by tests and by tooling replaying a chain history.
type ManualNotifier struct {
	mu      sync.Mutex
	clients map[wire.OutPoint]map[uint64]*spendClient
	nextID  uint64

	// registered counts every registration ever made per outpoint.
	registered map[wire.OutPoint]int

	quit     chan struct{}
	stopOnce sync.Once
}

// Compile-time check to ensure ManualNotifier implements ChainNotifier.
var _ ChainNotifier = (*ManualNotifier)(nil)

// NewManualNotifier creates a notifier without any registered clients.
func NewManualNotifier() *ManualNotifier {
	return &ManualNotifier{
		clients:    make(map[wire.OutPoint]map[uint64]*spendClient),
		registered: make(map[wire.OutPoint]int),
		quit:       make(chan struct{}),
	}
}

// Start is a no-op.
func (m *ManualNotifier) Start() error {
	return nil
}

// Stop rejects further registrations and notifications.
func (m *ManualNotifier) Stop() error {
	m.stopOnce.Do(func() {
		close(m.quit)
	})

	return nil
}

// RegisterSpendNtfn registers a client for spends of outpoint.
func (m *ManualNotifier) RegisterSpendNtfn(outpoint *wire.OutPoint,
	_ []byte, _ uint32) (*SpendEvent, error) {

	select {
	case <-m.quit:
		return nil, ErrChainNotifierShuttingDown
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	client := &spendClient{
		spend: make(chan *SpendDetail, 10),
	}
	op := *outpoint
	if m.clients[op] == nil {
		m.clients[op] = make(map[uint64]*spendClient)
	}
	m.clients[op][id] = client
	m.registered[op]++

	var cancelOnce sync.Once

	return &SpendEvent{
		Spend: client.spend,
		Cancel: func() {
			cancelOnce.Do(func() {
				m.cancel(op, id)
			})
		},
	}, nil
}

// cancel removes a registered client.
func (m *ManualNotifier) cancel(op wire.OutPoint, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients[op], id)
	if len(m.clients[op]) == 0 {
		delete(m.clients, op)
	}
}

// NotifySpend delivers a spend notification for every input of spendingTx
// to the clients registered for the spent outpoint. It returns the number of
// notifications delivered.
func (m *ManualNotifier) NotifySpend(spendingTx *wire.MsgTx, height int32,
	depth uint32) int {

	type delivery struct {
		client *spendClient
		detail *SpendDetail
	}

	m.mu.Lock()
	var deliveries []delivery
	for i, txIn := range spendingTx.TxIn {
		for _, client := range m.clients[txIn.PreviousOutPoint] {
			deliveries = append(deliveries, delivery{
				client: client,
				detail: NewSpendDetail(
					spendingTx, uint32(i), height, depth,
				),
			})
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, d := range deliveries {
		select {
		case d.client.spend <- d.detail:
			delivered++

		case <-m.quit:
			return delivered
		}
	}

	return delivered
}

// NumClients returns the number of live registrations for op.
func (m *ManualNotifier) NumClients(op wire.OutPoint) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.clients[op])
}

// NumRegistrations returns the number of registrations ever made for op.
func (m *ManualNotifier) NumRegistrations(op wire.OutPoint) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.registered[op]
}
