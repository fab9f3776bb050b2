package burningman

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2ptrade/escrowd/escrow"
)

const (
	// MinOutputAmount is the smallest receiver output created. Shares
	// below it are left to the miners.
	MinOutputAmount btcutil.Amount = 1000

	// MinRemainderToLegacy is the threshold above which a remainder left
	// over by dropped or rounded shares goes to the legacy address rather
	// than to the miners.
	MinRemainderToLegacy btcutil.Amount = 50_000

	// outputCostVBytes is the virtual size charged per receiver output
	// when deciding if a share is worth an output.
	outputCostVBytes = 32

	// legacyBaseVBytes is the size of a receiver transaction without
	// outputs, used for non redirect receiver sets.
	legacyBaseVBytes = 51
)

var (
	// ErrInsufficientInput is returned when the input cannot cover the
	// mining fee and fee bump reservation.
	ErrInsufficientInput = errors.New("input too small for receiver set")

	// ErrNoReceivers is returned when no output survives filtering.
	ErrNoReceivers = errors.New("no receivers selected")

	// ErrWrongNetwork is returned for an address that decodes but
	// belongs to another network.
	ErrWrongNetwork = errors.New("address is for another network")
)

// DecodeAddress decodes addr and checks that it belongs to netParams.
// btcutil.DecodeAddress alone accepts segwit addresses of any network.
func DecodeAddress(addr string,
	netParams *chaincfg.Params) (btcutil.Address, error) {

	decoded, err := btcutil.DecodeAddress(addr, netParams)
	if err != nil {
		return nil, err
	}

	if !decoded.IsForNet(netParams) {
		return nil, fmt.Errorf("%w: %v is not a %v address",
			ErrWrongNetwork, addr, netParams.Name)
	}

	return decoded, nil
}

// Config houses the collaborators of a Service.
type Config struct {
	// Source provides the receiver weights at a height.
	Source ReceiverSource

	// Params is the escrow policy in force.
	Params escrow.Params

	// NetParams is used to validate receiver addresses. Receivers whose
	// address does not decode or belongs to another network are skipped.
	NetParams *chaincfg.Params
}

// Service computes deterministic receiver sets for redirect transactions.
type Service struct {
	cfg Config
}

// NewService creates a new receiver selection service.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// receiverOptions holds the optional arguments of GetReceivers.
type receiverOptions struct {
	minTxWeight     int64
	subtractFeeBump bool
	isRedirect      bool
}

// ReceiverOption is a functional option for GetReceivers.
type ReceiverOption func(*receiverOptions)

// WithMinTxWeight overrides the minimum transaction weight used when sizing
// the mining fee.
func WithMinTxWeight(weight int64) ReceiverOption {
	return func(o *receiverOptions) {
		o.minTxWeight = weight
	}
}

// WithFeeBump reserves the redirect fee bump output value from the input
// before it is partitioned.
func WithFeeBump() ReceiverOption {
	return func(o *receiverOptions) {
		o.subtractFeeBump = true
	}
}

// WithRedirect sizes the mining fee for a redirect transaction spending a
// warning output, instead of the generic receiver transaction estimate.
func WithRedirect() ReceiverOption {
	return func(o *receiverOptions) {
		o.isRedirect = true
	}
}

// GetReceivers partitions inputAmount across the weighted receivers valid at
// selectionHeight. The result is sorted by amount and then address, and is
// identical for identical arguments and receiver data, so both trade parties
// derive byte identical redirect outputs.
func (s *Service) GetReceivers(selectionHeight uint32,
	inputAmount btcutil.Amount, depositFeeRate escrow.SatPerVByte,
	opts ...ReceiverOption) ([]Receiver, error) {

	options := receiverOptions{
		minTxWeight: s.cfg.Params.MinTxWeight,
	}
	for _, opt := range opts {
		opt(&options)
	}

	candidates, err := s.candidates(selectionHeight)
	if err != nil {
		return nil, err
	}

	legacyAddress, err := s.cfg.Source.LegacyAddress(selectionHeight)
	if err != nil {
		return nil, err
	}

	feeRate := max(depositFeeRate, s.cfg.Params.MinFeeRate)

	// Without weighted receivers everything goes to the legacy address.
	numOutputs := max(len(candidates), 1)
	fee := s.miningFee(options, feeRate, numOutputs)

	spendable := inputAmount - fee
	if options.subtractFeeBump {
		spendable -= s.cfg.Params.RedirectFeeBumpValue
	}
	if spendable <= 0 {
		return nil, fmt.Errorf("%w: input=%v fee=%v", ErrInsufficientInput,
			inputAmount, fee)
	}

	if len(candidates) == 0 {
		log.Infof("No weighted receivers at height %d, paying %v to "+
			"legacy address", selectionHeight, spendable)

		return []Receiver{{
			Weight:  int64(spendable),
			Address: legacyAddress,
		}}, nil
	}

	var totalWeight int64
	for _, candidate := range candidates {
		totalWeight += candidate.Weight
	}

	minOutput := max(
		MinOutputAmount, feeRate.FeeForVSize(outputCostVBytes*2),
	)

	receivers := make([]Receiver, 0, len(candidates))
	for _, candidate := range candidates {
		amount := shareOf(
			candidate.Weight, totalWeight, int64(spendable),
		)
		if btcutil.Amount(amount) < minOutput {
			log.Tracef("Dropping receiver %v with share %v below "+
				"%v", candidate.Address,
				btcutil.Amount(amount), minOutput)

			continue
		}

		receivers = append(receivers, Receiver{
			Weight:  amount,
			Address: candidate.Address,
		})
	}

	sort.SliceStable(receivers, func(i, j int) bool {
		if receivers[i].Weight != receivers[j].Weight {
			return receivers[i].Weight < receivers[j].Weight
		}

		return receivers[i].Address < receivers[j].Address
	})

	var total int64
	for _, receiver := range receivers {
		total += receiver.Weight
	}

	if remainder := int64(spendable) - total; remainder >
		int64(MinRemainderToLegacy) {

		receivers = append(receivers, Receiver{
			Weight:  remainder,
			Address: legacyAddress,
		})
	}

	if len(receivers) == 0 {
		return nil, fmt.Errorf("%w at height %d for %v", ErrNoReceivers,
			selectionHeight, spendable)
	}

	log.Debugf("Selected %d receivers at height %d for input %v "+
		"(fee=%v, fee_rate=%v)", len(receivers), selectionHeight,
		inputAmount, fee, feeRate)

	return receivers, nil
}

// FeeReceiverAddress picks a single receiver address at the given height,
// with a probability proportional to the receiver's weight. The legacy
// address is returned if no receiver carries weight.
func (s *Service) FeeReceiverAddress(height uint32, rng Rand) (string, error) {
	candidates, err := s.candidates(height)
	if err != nil {
		return "", err
	}

	weights := make([]int64, len(candidates))
	for i, candidate := range candidates {
		weights[i] = candidate.Weight
	}

	idx := PickRandomIndex(weights, rng)
	if idx == -1 {
		return s.cfg.Source.LegacyAddress(height)
	}

	return candidates[idx].Address, nil
}

// candidates returns the receivers at height that carry weight and a valid
// address, in the order the source returned them.
func (s *Service) candidates(height uint32) ([]Receiver, error) {
	receivers, err := s.cfg.Source.ReceiversAtHeight(height)
	if err != nil {
		return nil, err
	}

	candidates := make([]Receiver, 0, len(receivers))
	for _, receiver := range receivers {
		if receiver.Weight <= 0 {
			continue
		}

		if s.cfg.NetParams != nil {
			_, err := DecodeAddress(
				receiver.Address, s.cfg.NetParams,
			)
			if err != nil {
				log.Warnf("Skipping receiver with invalid "+
					"address %q: %v", receiver.Address, err)

				continue
			}
		}

		candidates = append(candidates, receiver)
	}

	return candidates, nil
}

// miningFee returns the fee of the receiver transaction with the given number
// of receiver outputs.
func (s *Service) miningFee(options receiverOptions,
	feeRate escrow.SatPerVByte, numOutputs int) btcutil.Amount {

	var weight int64
	if options.isRedirect {
		weight = escrow.RedirectTxWeight(numOutputs)
	} else {
		weight = int64(legacyBaseVBytes+outputCostVBytes*numOutputs) *
			4
	}

	return feeRate.FeeForWeight(max(weight, options.minTxWeight))
}

// shareOf returns weight/total of amount, rounded down so the shares never
// sum to more than amount. The product is computed in 128 bits so large
// weights cannot overflow.
func shareOf(weight, total, amount int64) int64 {
	hi, lo := bits.Mul64(uint64(weight), uint64(amount))
	quo, _ := bits.Div64(hi, lo, uint64(total))

	return int64(quo)
}
