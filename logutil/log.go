// Package logutil holds helpers for logging transactions without paying
// for their formatting when the log level is off.
package logutil

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	"github.com/davecgh/go-spew/spew"
)

// LogClosure defers building a log string until the line is written.
type LogClosure func() string

// String invokes the closure.
func (c LogClosure) String() string {
	return c()
}

// SpewLogClosure dumps a with spew once the line is written.
func SpewLogClosure(a any) LogClosure {
	return func() string {
		return spew.Sdump(a)
	}
}

// TxOutputsClosure renders the outputs of tx as a comma separated list of
// value:script_class pairs.
func TxOutputsClosure(tx *wire.MsgTx) LogClosure {
	return func() string {
		outputs := make([]string, 0, len(tx.TxOut))
		for _, txOut := range tx.TxOut {
			class := txscript.GetScriptClass(txOut.PkScript)
			outputs = append(outputs, fmt.Sprintf(
				"%v:%v", btcutil.Amount(txOut.Value), class,
			))
		}

		return strings.Join(outputs, ", ")
	}
}

// LogTxHash returns an attribute carrying the hash of tx.
func LogTxHash(key string, tx *wire.MsgTx) slog.Attr {
	if tx == nil {
		return btclog.Fmt(key, "<nil>")
	}

	return btclog.Fmt(key, "%v", tx.TxHash())
}

// LogOutPoint returns an attribute carrying op in txid:index form.
func LogOutPoint(key string, op wire.OutPoint) slog.Attr {
	return btclog.Fmt(key, "%v", op)
}
