// Package labels contains the labels attached to the staged transactions
// escrowd publishes. They are declared in a separate package so the
// protocol and the wallet can share them.
package labels

import (
	"fmt"

	"github.com/btcsuite/btcwallet/wtxmgr"
)

// External labels a transaction published without a label.
const External = "external"

// LabelVersion versions our labels so they can be extended while still
// being easy to match.
type LabelVersion uint8

// LabelVersionZero is the first label version.
const LabelVersionZero LabelVersion = iota

// LabelType is the kind of staged transaction a label describes. It is a
// string for readability in wallet listings.
type LabelType string

const (
	// LabelTypeWarningTx labels a warning transaction.
	LabelTypeWarningTx LabelType = "warningtx"

	// LabelTypeRedirectTx labels a redirect transaction.
	LabelTypeRedirectTx LabelType = "redirecttx"

	// LabelTypeClaimTx labels a claim transaction.
	LabelTypeClaimTx LabelType = "claimtx"
)

// MakeLabel creates a label for a staged transaction of the given trade,
// version:label_type:trade-{id}. Without a trade id the label is just
// version:label_type. Labels longer than the wallet limit are truncated.
func MakeLabel(labelType LabelType, tradeID string) string {
	label := fmt.Sprintf("%v:%v", LabelVersionZero, labelType)
	if tradeID != "" {
		label = fmt.Sprintf("%v:trade-%v", label, tradeID)
	}

	if len(label) > wtxmgr.TxLabelLimit {
		label = label[:wtxmgr.TxLabelLimit]
	}

	return label
}

// Validate returns the generic label if label is empty. A non empty label
// is checked against the wallet's length limit.
func Validate(label string) (string, error) {
	if len(label) > wtxmgr.TxLabelLimit {
		return "", fmt.Errorf("label length: %v exceeds limit of %v",
			len(label), wtxmgr.TxLabelLimit)
	}

	if len(label) == 0 {
		return External, nil
	}

	return label, nil
}
