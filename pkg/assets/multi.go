package assets

import (
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// MultiToken keeps per-(owner, id) balances with operator approval.
type MultiToken struct {
	addr   substrate.Address
	minter substrate.Address
	symbol string
}

// NewMulti creates a multi-unit token ledger. Only minter may mint.
func NewMulti(addr, minter substrate.Address, symbol string) *MultiToken {
	return &MultiToken{addr: addr, minter: minter, symbol: symbol}
}

func (t *MultiToken) Address() substrate.Address { return t.addr }

func (t *MultiToken) Symbol() string { return t.symbol }

func (t *MultiToken) balanceKey(owner substrate.Address, id uint64) string {
	return fmt.Sprintf("asset/%s/balance/%s/%d", t.addr, owner, id)
}

func (t *MultiToken) operatorKey(owner, operator substrate.Address) string {
	return fmt.Sprintf("asset/%s/operator/%s/%s", t.addr, owner, operator)
}

func (t *MultiToken) BalanceOf(tx *substrate.Tx, owner substrate.Address, id uint64) (uint64, error) {
	return loadUint(tx, t.balanceKey(owner, id))
}

func (t *MultiToken) IsApprovedForAll(tx *substrate.Tx, owner, operator substrate.Address) (bool, error) {
	return loadFlag(tx, t.operatorKey(owner, operator))
}

// Mint credits amount units of id to to.
func (t *MultiToken) Mint(tx *substrate.Tx, to substrate.Address, id, amount uint64) error {
	const op = "assets.MintMulti"
	if err := checkMinter(tx, op, t.minter); err != nil {
		return err
	}
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	if err := addUint(tx, op, t.balanceKey(to, id), amount); err != nil {
		return err
	}
	t.emitTransfer(tx, "", to, id, amount)
	return nil
}

// SetApprovalForAll lets operator move every balance of the caller.
func (t *MultiToken) SetApprovalForAll(tx *substrate.Tx, operator substrate.Address, approved bool) error {
	if err := storeFlag(tx, t.operatorKey(tx.Caller(), operator), approved); err != nil {
		return err
	}
	tx.Emit(t.addr, EventApprovalForAll, map[string]string{
		"owner":    string(tx.Caller()),
		"operator": string(operator),
		"approved": strconv.FormatBool(approved),
	})
	return nil
}

// TransferFrom moves amount units of id from from to to. The caller must be
// from or an approved operator.
func (t *MultiToken) TransferFrom(tx *substrate.Tx, from, to substrate.Address, id, amount uint64) error {
	const op = "assets.TransferMulti"
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	if spender := tx.Caller(); spender != from {
		ok, err := t.IsApprovedForAll(tx, from, spender)
		if err != nil {
			return err
		}
		if !ok {
			return protoerr.New(protoerr.KindUnauthorized, op, "%s is not an operator for %s", spender, from)
		}
	}
	if err := subUint(tx, op, t.balanceKey(from, id), amount, "balance"); err != nil {
		return err
	}
	if err := addUint(tx, op, t.balanceKey(to, id), amount); err != nil {
		return err
	}
	t.emitTransfer(tx, from, to, id, amount)
	return nil
}

func (t *MultiToken) emitTransfer(tx *substrate.Tx, from, to substrate.Address, id, amount uint64) {
	tx.Emit(t.addr, EventTransfer, map[string]string{
		"from":  string(from),
		"to":    string(to),
		"id":    strconv.FormatUint(id, 10),
		"value": strconv.FormatUint(amount, 10),
	})
}
