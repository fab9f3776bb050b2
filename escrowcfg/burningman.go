package escrowcfg

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2ptrade/escrowd/burningman"
)

const (
	// DefaultSnapshotGrid is the default distance in blocks between two
	// receiver snapshot heights.
	DefaultSnapshotGrid = 10
)

// ErrNoReceiverFile is returned when receivers are needed but no receiver
// file was configured.
var ErrNoReceiverFile = errors.New("no receiver file configured")

// BurningMan holds the options of the redirect receiver selection.
//
//nolint:lll
type BurningMan struct {
	ReceiverFile string `long:"receiverfile" description:"Path to the JSON file holding the receiver snapshots."`

	LegacyAddress string `long:"legacyaddress" description:"Overrides the legacy address stored in the receiver file. It receives large remainders and the whole amount if no receiver qualifies."`

	GenesisHeight uint32 `long:"genesisheight" description:"The block height of the first receiver snapshot."`

	Grid uint32 `long:"grid" description:"The distance in blocks between two snapshot heights."`
}

// DefaultBurningMan returns the default receiver selection options.
func DefaultBurningMan() *BurningMan {
	return &BurningMan{
		Grid: DefaultSnapshotGrid,
	}
}

// Validate checks the receiver selection options.
func (b *BurningMan) Validate() error {
	if b.Grid == 0 {
		return fmt.Errorf("snapshot grid must be positive")
	}

	return nil
}

// ValidateAddress checks that the legacy address override, if set, belongs
// to the given network.
func (b *BurningMan) ValidateAddress(netParams *chaincfg.Params) error {
	if b.LegacyAddress == "" {
		return nil
	}

	_, err := burningman.DecodeAddress(b.LegacyAddress, netParams)
	if err != nil {
		return fmt.Errorf("invalid legacy address %v: %w",
			b.LegacyAddress, err)
	}

	return nil
}

// Source loads the configured receiver file.
func (b *BurningMan) Source() (*burningman.StaticSource, error) {
	if b.ReceiverFile == "" {
		return nil, ErrNoReceiverFile
	}

	return burningman.LoadSnapshotFile(
		CleanAndExpandPath(b.ReceiverFile), b.LegacyAddress,
	)
}

// SelectionHeight returns the snapshot height both trade parties select
// receivers at, given the chain height the trade was taken at.
func (b *BurningMan) SelectionHeight(chainHeight uint32) uint32 {
	return burningman.SelectionHeight(b.GenesisHeight, chainHeight, b.Grid)
}

// Compile-time constraint to ensure BurningMan implements the Validator
// interface.
var _ Validator = (*BurningMan)(nil)
