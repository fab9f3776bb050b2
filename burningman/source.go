package burningman

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

var (
	// ErrNoSnapshot is returned when no receiver snapshot is known at or
	// below the requested height.
	ErrNoSnapshot = errors.New("no receiver snapshot at height")

	// ErrNegativeWeight is returned when a snapshot carries a receiver
	// with a negative weight.
	ErrNegativeWeight = errors.New("negative receiver weight")
)

// Receiver is a single weighted fallback receiver. In receiver sets returned
// by GetReceivers the weight is the payout amount in satoshis.
type Receiver struct {
	// Weight is the relative share of the receiver.
	Weight int64 `json:"weight"`

	// Address is the receiver's payout address.
	Address string `json:"address"`
}

// ReceiverSource provides the chain derived receiver weights. Implementations
// must return the same data for the same height on every call.
type ReceiverSource interface {
	// ReceiversAtHeight returns the weighted receivers valid at the
	// given selection height.
	ReceiversAtHeight(height uint32) ([]Receiver, error)

	// LegacyAddress returns the legacy receiver address used when no
	// weighted receivers exist or a large remainder is left over.
	LegacyAddress(height uint32) (string, error)
}

// Snapshot is the receiver set valid from Height onwards.
type Snapshot struct {
	Height    uint32     `json:"height"`
	Receivers []Receiver `json:"receivers"`
}

// StaticSource is an in-memory ReceiverSource. The receivers valid at a
// height are those of the highest snapshot at or below that height.
type StaticSource struct {
	legacyAddress string

	mu        sync.RWMutex
	snapshots []Snapshot
}

// A compile time check to ensure StaticSource implements ReceiverSource.
var _ ReceiverSource = (*StaticSource)(nil)

// NewStaticSource creates a source from the passed snapshots.
func NewStaticSource(legacyAddress string,
	snapshots ...Snapshot) (*StaticSource, error) {

	s := &StaticSource{legacyAddress: legacyAddress}
	for _, snapshot := range snapshots {
		if err := s.AddSnapshot(snapshot); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AddSnapshot adds or replaces the snapshot at the snapshot's height.
func (s *StaticSource) AddSnapshot(snapshot Snapshot) error {
	for _, receiver := range snapshot.Receivers {
		if receiver.Weight < 0 {
			return fmt.Errorf("%w: %v at height %d",
				ErrNegativeWeight, receiver.Address,
				snapshot.Height)
		}
	}

	receivers := make([]Receiver, len(snapshot.Receivers))
	copy(receivers, snapshot.Receivers)
	snapshot.Receivers = receivers

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.snapshots), func(i int) bool {
		return s.snapshots[i].Height >= snapshot.Height
	})
	switch {
	case idx < len(s.snapshots) &&
		s.snapshots[idx].Height == snapshot.Height:

		s.snapshots[idx] = snapshot

	default:
		s.snapshots = append(s.snapshots, Snapshot{})
		copy(s.snapshots[idx+1:], s.snapshots[idx:])
		s.snapshots[idx] = snapshot
	}

	return nil
}

// ReceiversAtHeight returns a copy of the receivers valid at height.
//
// NOTE: Part of the ReceiverSource interface.
func (s *StaticSource) ReceiversAtHeight(height uint32) ([]Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Find the first snapshot above the height, the one before it is the
	// active one.
	idx := sort.Search(len(s.snapshots), func(i int) bool {
		return s.snapshots[i].Height > height
	})
	if idx == 0 {
		return nil, fmt.Errorf("%w %d", ErrNoSnapshot, height)
	}

	active := s.snapshots[idx-1].Receivers
	receivers := make([]Receiver, len(active))
	copy(receivers, active)

	return receivers, nil
}

// LegacyAddress returns the configured legacy address.
//
// NOTE: Part of the ReceiverSource interface.
func (s *StaticSource) LegacyAddress(uint32) (string, error) {
	if s.legacyAddress == "" {
		return "", errors.New("no legacy address configured")
	}

	return s.legacyAddress, nil
}

// snapshotFile is the on-disk format read by LoadSnapshotFile.
type snapshotFile struct {
	LegacyAddress string     `json:"legacy_address"`
	Snapshots     []Snapshot `json:"snapshots"`
}

// LoadSnapshotFile reads a JSON receiver snapshot file into a StaticSource.
// A non-empty legacyAddress overrides the one stored in the file.
func LoadSnapshotFile(path, legacyAddress string) (*StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read receiver file: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unable to parse receiver file %v: %w",
			path, err)
	}

	if legacyAddress == "" {
		legacyAddress = file.LegacyAddress
	}

	log.Debugf("Loaded %d receiver snapshots from %v", len(file.Snapshots),
		path)

	return NewStaticSource(legacyAddress, file.Snapshots...)
}
