package wallet

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

// Compile-time check to ensure MockPublisher implements Publisher.
var _ Publisher = (*MockPublisher)(nil)

// BroadcastTx records the call. Tests answer through the callback passed as
// the third argument.
func (m *MockPublisher) BroadcastTx(tx *wire.MsgTx, label string,
	cb func(error)) {

	m.Called(tx, label, cb)
}
