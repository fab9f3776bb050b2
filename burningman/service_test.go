package burningman

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testAddress returns a deterministic regtest P2WPKH address.
func testAddress(t testing.TB, seed byte) string {
	t.Helper()

	hash := make([]byte, 20)
	for i := range hash {
		hash[i] = seed
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		hash, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

func newTestService(t testing.TB, receivers ...Receiver) *Service {
	t.Helper()

	source, err := NewStaticSource(testAddress(t, 0xff), Snapshot{
		Height:    100,
		Receivers: receivers,
	})
	require.NoError(t, err)

	return NewService(Config{
		Source:    source,
		Params:    escrow.DefaultParams(),
		NetParams: &chaincfg.RegressionNetParams,
	})
}

func sumReceivers(receivers []Receiver) btcutil.Amount {
	var total int64
	for _, receiver := range receivers {
		total += receiver.Weight
	}

	return btcutil.Amount(total)
}

// TestGetReceiversDeterministic asserts two independent services fed the same
// data compute identical receiver sets.
func TestGetReceiversDeterministic(t *testing.T) {
	t.Parallel()

	receivers := []Receiver{
		{Weight: 30, Address: testAddress(t, 3)},
		{Weight: 10, Address: testAddress(t, 1)},
		{Weight: 20, Address: testAddress(t, 2)},
		{Weight: 20, Address: testAddress(t, 4)},
	}

	// The peer's data source returns the receivers in another order.
	reversed := make([]Receiver, len(receivers))
	for i, receiver := range receivers {
		reversed[len(receivers)-1-i] = receiver
	}

	local := newTestService(t, receivers...)
	remote := newTestService(t, reversed...)

	opts := []ReceiverOption{WithRedirect(), WithFeeBump()}
	localSet, err := local.GetReceivers(105, 1_000_000, 12, opts...)
	require.NoError(t, err)

	again, err := local.GetReceivers(105, 1_000_000, 12, opts...)
	require.NoError(t, err)
	require.Equal(t, localSet, again)

	remoteSet, err := remote.GetReceivers(105, 1_000_000, 12, opts...)
	require.NoError(t, err)
	require.Equal(t, localSet, remoteSet)

	// Outputs are ordered by amount, then address.
	for i := 1; i < len(localSet); i++ {
		prev, cur := localSet[i-1], localSet[i]
		require.True(t, prev.Weight < cur.Weight ||
			(prev.Weight == cur.Weight && prev.Address < cur.Address))
	}
}

// TestGetReceiversAmounts checks the partition against the fee and fee bump
// reservation.
func TestGetReceiversAmounts(t *testing.T) {
	t.Parallel()

	params := escrow.DefaultParams()
	service := newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
		Receiver{Weight: 3, Address: testAddress(t, 2)},
	)

	const input btcutil.Amount = 1_000_000
	receivers, err := service.GetReceivers(
		100, input, 10, WithRedirect(), WithFeeBump(),
	)
	require.NoError(t, err)
	require.Len(t, receivers, 2)

	fee := params.RedirectTxFee(10, 2)
	spendable := input - fee - params.RedirectFeeBumpValue

	require.Equal(t, int64(spendable/4), receivers[0].Weight)
	require.Equal(t, int64(spendable*3/4), receivers[1].Weight)
	require.LessOrEqual(t, sumReceivers(receivers), spendable)
}

// TestGetReceiversForeignNetwork asserts a receiver whose address belongs to
// another network is left out of the set instead of breaking the redirect
// transaction later.
func TestGetReceiversForeignNetwork(t *testing.T) {
	t.Parallel()

	mainnet, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	regtest := testAddress(t, 1)
	service := newTestService(t,
		Receiver{Weight: 1, Address: mainnet.EncodeAddress()},
		Receiver{Weight: 1, Address: regtest},
	)

	receivers, err := service.GetReceivers(
		100, 1_000_000, 10, WithRedirect(), WithFeeBump(),
	)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	require.Equal(t, regtest, receivers[0].Address)

	_, err = DecodeAddress(
		mainnet.EncodeAddress(), &chaincfg.RegressionNetParams,
	)
	require.ErrorIs(t, err, ErrWrongNetwork)

	decoded, err := DecodeAddress(regtest, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, regtest, decoded.EncodeAddress())

	_, err = DecodeAddress("garbage", &chaincfg.RegressionNetParams)
	require.Error(t, err)
}

// TestGetReceiversMinFeeRate asserts a deposit fee rate below the floor is
// raised before the fee is computed.
func TestGetReceiversMinFeeRate(t *testing.T) {
	t.Parallel()

	service := newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
	)

	low, err := service.GetReceivers(100, 500_000, 1, WithRedirect())
	require.NoError(t, err)

	floor, err := service.GetReceivers(100, 500_000, 10, WithRedirect())
	require.NoError(t, err)
	require.Equal(t, floor, low)
}

// TestGetReceiversDropsDust asserts shares below the minimum output are left
// to the miners and a large remainder goes to the legacy address.
func TestGetReceiversDropsDust(t *testing.T) {
	t.Parallel()

	service := newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
		Receiver{Weight: 999_999, Address: testAddress(t, 2)},
	)

	receivers, err := service.GetReceivers(100, 200_000, 10)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	require.Equal(t, testAddress(t, 2), receivers[0].Address)

	// Now only small receivers exist, so everything is a remainder.
	service = newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
		Receiver{Weight: 1, Address: testAddress(t, 2)},
		Receiver{Weight: 1, Address: testAddress(t, 3)},
	)
	receivers, err = service.GetReceivers(100, 2_500, 10)
	require.ErrorIs(t, err, ErrNoReceivers)
	require.Nil(t, receivers)

	service = newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
		Receiver{Weight: 1_000_000, Address: "not-an-address"},
	)
	receivers, err = service.GetReceivers(100, 1_000_000, 10)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	require.Equal(t, testAddress(t, 1), receivers[0].Address)
}

// TestGetReceiversRemainderToLegacy checks that the share of a filtered
// receiver goes to the legacy address once it crosses the threshold.
func TestGetReceiversRemainderToLegacy(t *testing.T) {
	t.Parallel()

	legacy := testAddress(t, 0xff)
	service := newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
		Receiver{Weight: 1, Address: "bogus"},
	)

	// The bogus receiver is skipped entirely, so its weight does not
	// count and the valid receiver takes the whole amount.
	receivers, err := service.GetReceivers(100, 1_000_000, 10)
	require.NoError(t, err)
	require.Len(t, receivers, 1)

	// Many tiny receivers next to a big one leave a remainder above the
	// threshold.
	small := make([]Receiver, 0, 101)
	for i := 0; i < 100; i++ {
		small = append(small, Receiver{
			Weight:  1,
			Address: testAddress(t, byte(i+1)),
		})
	}
	small = append(small, Receiver{
		Weight:  200,
		Address: testAddress(t, 0xf0),
	})
	service = newTestService(t, small...)

	receivers, err = service.GetReceivers(100, 300_000, 10)
	require.NoError(t, err)
	require.Len(t, receivers, 2)
	require.Equal(t, testAddress(t, 0xf0), receivers[0].Address)
	require.Equal(t, legacy, receivers[1].Address)
	require.Greater(t, receivers[1].Weight, int64(MinRemainderToLegacy))
}

// TestGetReceiversLegacyFallback asserts the legacy address receives the
// spendable amount when no weighted receivers exist.
func TestGetReceiversLegacyFallback(t *testing.T) {
	t.Parallel()

	params := escrow.DefaultParams()
	service := newTestService(t)

	receivers, err := service.GetReceivers(
		100, 400_000, 10, WithRedirect(), WithFeeBump(),
	)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	require.Equal(t, testAddress(t, 0xff), receivers[0].Address)

	expected := 400_000 - params.RedirectTxFee(10, 1) -
		params.RedirectFeeBumpValue
	require.Equal(t, int64(expected), receivers[0].Weight)
}

// TestGetReceiversErrors covers missing snapshots and tiny inputs.
func TestGetReceiversErrors(t *testing.T) {
	t.Parallel()

	service := newTestService(t,
		Receiver{Weight: 1, Address: testAddress(t, 1)},
	)

	_, err := service.GetReceivers(99, 1_000_000, 10)
	require.ErrorIs(t, err, ErrNoSnapshot)

	_, err = service.GetReceivers(100, 1_000, 10, WithFeeBump())
	require.ErrorIs(t, err, ErrInsufficientInput)
}

// TestGetReceiversProperty checks for random receiver sets that the outputs
// never exceed the spendable amount and that the result is reproducible.
func TestGetReceiversProperty(t *testing.T) {
	t.Parallel()

	params := escrow.DefaultParams()

	rapid.Check(t, func(rt *rapid.T) {
		numReceivers := rapid.IntRange(1, 40).Draw(rt, "num")

		receivers := make([]Receiver, numReceivers)
		for i := range receivers {
			receivers[i] = Receiver{
				Weight: rapid.Int64Range(0, 10_000).Draw(
					rt, fmt.Sprintf("weight%d", i),
				),
				Address: testAddress(t, byte(i+1)),
			}
		}
		input := btcutil.Amount(rapid.Int64Range(
			100_000, 100_000_000,
		).Draw(rt, "input"))
		feeRate := escrow.SatPerVByte(
			rapid.Int64Range(1, 200).Draw(rt, "fee_rate"),
		)

		service := newTestService(t, receivers...)
		first, err := service.GetReceivers(
			100, input, feeRate, WithRedirect(), WithFeeBump(),
		)
		if err != nil {
			return
		}

		second, err := service.GetReceivers(
			100, input, feeRate, WithRedirect(), WithFeeBump(),
		)
		require.NoError(rt, err)
		require.Equal(rt, first, second)

		feeBound := input - params.RedirectFeeBumpValue -
			params.RedirectTxFee(max(feeRate, params.MinFeeRate), 1)
		require.LessOrEqual(rt, sumReceivers(first), feeBound)
	})
}

// TestFeeReceiverAddress checks the weighted single address pick.
func TestFeeReceiverAddress(t *testing.T) {
	t.Parallel()

	service := newTestService(t,
		Receiver{Weight: 0, Address: testAddress(t, 1)},
		Receiver{Weight: 5, Address: testAddress(t, 2)},
	)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		addr, err := service.FeeReceiverAddress(100, rng)
		require.NoError(t, err)
		require.Equal(t, testAddress(t, 2), addr)
	}

	service = newTestService(t)
	addr, err := service.FeeReceiverAddress(100, rng)
	require.NoError(t, err)
	require.Equal(t, testAddress(t, 0xff), addr)
}

// TestLoadSnapshotFile reads a snapshot file from disk.
func TestLoadSnapshotFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "receivers.json")
	content := fmt.Sprintf(`{
		"legacy_address": %q,
		"snapshots": [
			{"height": 10, "receivers": [
				{"address": %q, "weight": 4}
			]},
			{"height": 20, "receivers": [
				{"address": %q, "weight": 6}
			]}
		]
	}`, testAddress(t, 0xff), testAddress(t, 1), testAddress(t, 2))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	source, err := LoadSnapshotFile(path, "")
	require.NoError(t, err)

	receivers, err := source.ReceiversAtHeight(15)
	require.NoError(t, err)
	require.Equal(t, []Receiver{
		{Weight: 4, Address: testAddress(t, 1)},
	}, receivers)

	receivers, err = source.ReceiversAtHeight(1000)
	require.NoError(t, err)
	require.Equal(t, testAddress(t, 2), receivers[0].Address)

	legacy, err := source.LegacyAddress(20)
	require.NoError(t, err)
	require.Equal(t, testAddress(t, 0xff), legacy)

	_, err = NewStaticSource("", Snapshot{
		Height:    1,
		Receivers: []Receiver{{Weight: -1, Address: "x"}},
	})
	require.ErrorIs(t, err, ErrNegativeWeight)
}
