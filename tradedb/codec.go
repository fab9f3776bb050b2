package tradedb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/trade"
)

const (
	tradeIDType              tlv.Type = 1
	tradeIsBuyerType         tlv.Type = 2
	tradeLockTimeType        tlv.Type = 3
	tradeFeeRateType         tlv.Type = 4
	tradeDepositTxType       tlv.Type = 5
	tradeSelectionHeightType tlv.Type = 6
	tradePhaseType           tlv.Type = 7
	tradeDisputeStateType    tlv.Type = 8
	tradeMediationResultType tlv.Type = 9
	tradeLocalPartyType      tlv.Type = 10
	tradeRemotePartyType     tlv.Type = 11

	partyRoleType              tlv.Type = 1
	partyMultiSigKeyType       tlv.Type = 2
	partyWarningBumpAddrType   tlv.Type = 3
	partyRedirectBumpAddrType  tlv.Type = 4
	partyClaimAddrType         tlv.Type = 5
	partyWarningTxType         tlv.Type = 6
	partyWarningBuyerSigType   tlv.Type = 7
	partyWarningSellerSigType  tlv.Type = 8
	partyFinalizedWarningType  tlv.Type = 9
	partyRedirectTxType        tlv.Type = 10
	partyRedirectBuyerSigType  tlv.Type = 11
	partyRedirectSellerSigType tlv.Type = 12
	partyFinalizedRedirectType tlv.Type = 13
	partySignedClaimType       tlv.Type = 14
)

// serializeTx returns the canonical serialization of tx, or nil for a nil
// transaction.
func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, nil
	}

	var b bytes.Buffer
	if err := tx.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeTx parses a transaction, returning nil for empty input.
func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return tx, nil
}

// optionalBytes adds a var bytes record if b is non-empty.
func optionalBytes(records []tlv.Record, typ tlv.Type,
	b *[]byte) []tlv.Record {

	if len(*b) == 0 {
		return records
	}

	return append(records, tlv.MakePrimitiveRecord(typ, b))
}

// encodeTrade serializes a trade into a TLV stream.
func encodeTrade(w io.Writer, t *trade.Trade) error {
	var (
		id              = []byte(t.ID)
		isBuyer         uint8
		lockTime        = t.LockTime
		feeRate         = uint64(t.DepositTxFeeRate)
		selectionHeight = t.SelectionHeight
		phase           = uint8(t.Phase)
		disputeState    = uint8(t.DisputeState)
		mediation       = uint8(t.MediationResultState)
	)
	if t.IsBuyer {
		isBuyer = 1
	}

	depositTx, err := serializeTx(t.DepositTx)
	if err != nil {
		return err
	}

	var localParty, remoteParty bytes.Buffer
	if err := encodeParty(&localParty, t.Local); err != nil {
		return fmt.Errorf("unable to encode local party: %w", err)
	}
	if err := encodeParty(&remoteParty, t.Remote); err != nil {
		return fmt.Errorf("unable to encode remote party: %w", err)
	}
	local, remote := localParty.Bytes(), remoteParty.Bytes()

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(tradeIDType, &id),
		tlv.MakePrimitiveRecord(tradeIsBuyerType, &isBuyer),
		tlv.MakePrimitiveRecord(tradeLockTimeType, &lockTime),
		tlv.MakePrimitiveRecord(tradeFeeRateType, &feeRate),
	}
	records = optionalBytes(records, tradeDepositTxType, &depositTx)
	records = append(records,
		tlv.MakePrimitiveRecord(
			tradeSelectionHeightType, &selectionHeight,
		),
		tlv.MakePrimitiveRecord(tradePhaseType, &phase),
		tlv.MakePrimitiveRecord(tradeDisputeStateType, &disputeState),
		tlv.MakePrimitiveRecord(tradeMediationResultType, &mediation),
		tlv.MakePrimitiveRecord(tradeLocalPartyType, &local),
		tlv.MakePrimitiveRecord(tradeRemotePartyType, &remote),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeTrade parses a trade from a TLV stream.
func decodeTrade(r io.Reader) (*trade.Trade, error) {
	var (
		id                        []byte
		isBuyer                   uint8
		lockTime, selectionHeight uint32
		feeRate                   uint64
		depositTx                 []byte
		phase, disputeState       uint8
		mediation                 uint8
		localParty, remoteParty   []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(tradeIDType, &id),
		tlv.MakePrimitiveRecord(tradeIsBuyerType, &isBuyer),
		tlv.MakePrimitiveRecord(tradeLockTimeType, &lockTime),
		tlv.MakePrimitiveRecord(tradeFeeRateType, &feeRate),
		tlv.MakePrimitiveRecord(tradeDepositTxType, &depositTx),
		tlv.MakePrimitiveRecord(
			tradeSelectionHeightType, &selectionHeight,
		),
		tlv.MakePrimitiveRecord(tradePhaseType, &phase),
		tlv.MakePrimitiveRecord(tradeDisputeStateType, &disputeState),
		tlv.MakePrimitiveRecord(tradeMediationResultType, &mediation),
		tlv.MakePrimitiveRecord(tradeLocalPartyType, &localParty),
		tlv.MakePrimitiveRecord(tradeRemotePartyType, &remoteParty),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	t := trade.New(
		string(id), isBuyer == 1, lockTime,
		escrow.SatPerVByte(feeRate),
	)
	t.SelectionHeight = selectionHeight
	t.Phase = trade.Phase(phase)
	t.DisputeState = trade.DisputeState(disputeState)
	t.MediationResultState = trade.MediationResultState(mediation)

	t.DepositTx, err = deserializeTx(depositTx)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit tx: %w", err)
	}

	t.Local, err = decodeParty(bytes.NewReader(localParty))
	if err != nil {
		return nil, fmt.Errorf("unable to decode local party: %w", err)
	}

	t.Remote, err = decodeParty(bytes.NewReader(remoteParty))
	if err != nil {
		return nil, fmt.Errorf("unable to decode remote party: %w",
			err)
	}

	return t, nil
}

// encodeParty serializes one party's escrow state into a TLV stream.
func encodeParty(w io.Writer, p *trade.PartyEscrowState) error {
	var (
		role         = uint8(p.Role)
		multiSigKey  []byte
		warningBump  = []byte(p.WarningFeeBumpAddress)
		redirectBump = []byte(p.RedirectFeeBumpAddress)
		claimAddr    = []byte(p.ClaimAddress)
		warningBuyer = p.WarningTxBuyerSig
		warningSell  = p.WarningTxSellerSig
		redirBuyer   = p.RedirectTxBuyerSig
		redirSell    = p.RedirectTxSellerSig
		finalWarning = p.FinalizedWarningTx.UnwrapOr(nil)
		finalRedir   = p.FinalizedRedirectTx.UnwrapOr(nil)
		signedClaim  = p.SignedClaimTx.UnwrapOr(nil)
	)
	if p.MultiSigPubKey != nil {
		multiSigKey = p.MultiSigPubKey.SerializeCompressed()
	}

	warningTx, err := serializeTx(p.WarningTx)
	if err != nil {
		return err
	}
	redirectTx, err := serializeTx(p.RedirectTx)
	if err != nil {
		return err
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(partyRoleType, &role),
	}
	records = optionalBytes(records, partyMultiSigKeyType, &multiSigKey)
	records = optionalBytes(records, partyWarningBumpAddrType, &warningBump)
	records = optionalBytes(
		records, partyRedirectBumpAddrType, &redirectBump,
	)
	records = optionalBytes(records, partyClaimAddrType, &claimAddr)
	records = optionalBytes(records, partyWarningTxType, &warningTx)
	records = optionalBytes(
		records, partyWarningBuyerSigType, &warningBuyer,
	)
	records = optionalBytes(records, partyWarningSellerSigType, &warningSell)
	records = optionalBytes(
		records, partyFinalizedWarningType, &finalWarning,
	)
	records = optionalBytes(records, partyRedirectTxType, &redirectTx)
	records = optionalBytes(records, partyRedirectBuyerSigType, &redirBuyer)
	records = optionalBytes(
		records, partyRedirectSellerSigType, &redirSell,
	)
	records = optionalBytes(
		records, partyFinalizedRedirectType, &finalRedir,
	)
	records = optionalBytes(records, partySignedClaimType, &signedClaim)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeParty parses one party's escrow state from a TLV stream.
func decodeParty(r io.Reader) (*trade.PartyEscrowState, error) {
	var (
		role                                 uint8
		multiSigKey                          []byte
		warningBump, redirectBump, claimAddr []byte
		warningTx, redirectTx                []byte
		warningBuyer, warningSell            []byte
		redirBuyer, redirSell                []byte
		finalWarning, finalRedir             []byte
		signedClaim                          []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(partyRoleType, &role),
		tlv.MakePrimitiveRecord(partyMultiSigKeyType, &multiSigKey),
		tlv.MakePrimitiveRecord(partyWarningBumpAddrType, &warningBump),
		tlv.MakePrimitiveRecord(
			partyRedirectBumpAddrType, &redirectBump,
		),
		tlv.MakePrimitiveRecord(partyClaimAddrType, &claimAddr),
		tlv.MakePrimitiveRecord(partyWarningTxType, &warningTx),
		tlv.MakePrimitiveRecord(
			partyWarningBuyerSigType, &warningBuyer,
		),
		tlv.MakePrimitiveRecord(partyWarningSellerSigType, &warningSell),
		tlv.MakePrimitiveRecord(
			partyFinalizedWarningType, &finalWarning,
		),
		tlv.MakePrimitiveRecord(partyRedirectTxType, &redirectTx),
		tlv.MakePrimitiveRecord(partyRedirectBuyerSigType, &redirBuyer),
		tlv.MakePrimitiveRecord(
			partyRedirectSellerSigType, &redirSell,
		),
		tlv.MakePrimitiveRecord(
			partyFinalizedRedirectType, &finalRedir,
		),
		tlv.MakePrimitiveRecord(partySignedClaimType, &signedClaim),
	)
	if err != nil {
		return nil, err
	}

	typeMap, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	p := trade.NewPartyEscrowState(trade.Role(role))
	p.WarningFeeBumpAddress = string(warningBump)
	p.RedirectFeeBumpAddress = string(redirectBump)
	p.ClaimAddress = string(claimAddr)
	p.WarningTxBuyerSig = warningBuyer
	p.WarningTxSellerSig = warningSell
	p.RedirectTxBuyerSig = redirBuyer
	p.RedirectTxSellerSig = redirSell

	if len(multiSigKey) != 0 {
		p.MultiSigPubKey, err = btcec.ParsePubKey(multiSigKey)
		if err != nil {
			return nil, fmt.Errorf("invalid multisig key: %w", err)
		}
	}

	p.WarningTx, err = deserializeTx(warningTx)
	if err != nil {
		return nil, fmt.Errorf("invalid warning tx: %w", err)
	}
	p.RedirectTx, err = deserializeTx(redirectTx)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect tx: %w", err)
	}

	p.FinalizedWarningTx = optionFromType(
		typeMap, partyFinalizedWarningType, finalWarning,
	)
	p.FinalizedRedirectTx = optionFromType(
		typeMap, partyFinalizedRedirectType, finalRedir,
	)
	p.SignedClaimTx = optionFromType(
		typeMap, partySignedClaimType, signedClaim,
	)

	return p, nil
}

// optionFromType wraps b in an option that is set if the record was present
// in the decoded stream.
func optionFromType(typeMap tlv.TypeMap, typ tlv.Type,
	b []byte) fn.Option[[]byte] {

	if _, ok := typeMap[typ]; !ok {
		return fn.None[[]byte]()
	}

	return fn.Some(b)
}
