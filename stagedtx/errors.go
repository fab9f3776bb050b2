package stagedtx

import "errors"

var (
	// ErrAmountMismatch is returned when the local and peer copies of a
	// staged transaction disagree on amounts. Both parties built them
	// from the same data, so a mismatch breaks the protocol and must not
	// be retried.
	ErrAmountMismatch = errors.New("staged tx amount mismatch")

	// ErrMissingDepositTx is returned when the deposit transaction is
	// not known yet.
	ErrMissingDepositTx = errors.New("deposit tx missing")

	// ErrMissingWarningTx is returned when a warning transaction is
	// needed but was not built yet.
	ErrMissingWarningTx = errors.New("warning tx missing")

	// ErrMissingPeerSignature is returned when a signature needed to
	// finalize a staged transaction was not received yet.
	ErrMissingPeerSignature = errors.New("peer signature missing")

	// ErrMissingPeerPubKey is returned when a multisig key needed to
	// build or finalize a staged transaction is not known yet.
	ErrMissingPeerPubKey = errors.New("peer multisig key missing")

	// ErrReceiverMismatch is returned when the outputs of a redirect
	// transaction do not match the expected receiver set.
	ErrReceiverMismatch = errors.New("redirect receivers mismatch")

	// ErrScriptVerification is returned when a finalized transaction
	// fails script validation.
	ErrScriptVerification = errors.New("staged tx script verification " +
		"failed")
)
