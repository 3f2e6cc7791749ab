// Package assets implements the in-process token ledgers escrows and
// payments move: fungible balances, non-fungible ownership and multi-unit
// balances.
//
// Ledgers keep all state in the host through the call's *substrate.Tx, so a
// transfer is undone together with everything else when the call aborts.
// The acting account of every mutating method is tx.Caller(). Components
// moving assets they hold switch to their own address with Tx.As.
package assets

import (
	"fmt"
	"math"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names shared by all ledgers.
const (
	EventTransfer       = "Transfer"
	EventApproval       = "Approval"
	EventApprovalForAll = "ApprovalForAll"
)

func loadUint(tx *substrate.Tx, key string) (uint64, error) {
	b, ok, err := tx.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("assets: corrupt value at %s: %w", key, err)
	}
	return n, nil
}

func storeUint(tx *substrate.Tx, key string, n uint64) error {
	if n == 0 {
		return tx.Delete(key)
	}
	return tx.Put(key, []byte(strconv.FormatUint(n, 10)))
}

func addUint(tx *substrate.Tx, op, key string, delta uint64) error {
	cur, err := loadUint(tx, key)
	if err != nil {
		return err
	}
	if cur > math.MaxUint64-delta {
		return protoerr.New(protoerr.KindInvalidArgument, op, "amount overflow")
	}
	return storeUint(tx, key, cur+delta)
}

func subUint(tx *substrate.Tx, op, key string, delta uint64, what string) error {
	cur, err := loadUint(tx, key)
	if err != nil {
		return err
	}
	if cur < delta {
		return protoerr.New(protoerr.KindTransferFailed, op, "insufficient %s: have %d, need %d", what, cur, delta)
	}
	return storeUint(tx, key, cur-delta)
}

func loadFlag(tx *substrate.Tx, key string) (bool, error) {
	_, ok, err := tx.Get(key)
	return ok, err
}

func storeFlag(tx *substrate.Tx, key string, on bool) error {
	if !on {
		return tx.Delete(key)
	}
	return tx.Put(key, []byte("1"))
}

func checkMinter(tx *substrate.Tx, op string, minter substrate.Address) error {
	if tx.Caller() != minter {
		return protoerr.New(protoerr.KindUnauthorized, op, "caller %s is not the minter", tx.Caller())
	}
	return nil
}

func checkRecipient(op string, to substrate.Address) error {
	if to.IsZero() {
		return protoerr.New(protoerr.KindTransferFailed, op, "transfer to the zero address")
	}
	return nil
}
