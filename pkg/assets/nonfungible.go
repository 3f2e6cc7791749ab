package assets

import (
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// NonFungibleToken tracks the owner of each token id.
type NonFungibleToken struct {
	addr   substrate.Address
	minter substrate.Address
	symbol string
}

// NewNonFungible creates a non-fungible token ledger. Only minter may mint.
func NewNonFungible(addr, minter substrate.Address, symbol string) *NonFungibleToken {
	return &NonFungibleToken{addr: addr, minter: minter, symbol: symbol}
}

func (t *NonFungibleToken) Address() substrate.Address { return t.addr }

func (t *NonFungibleToken) Symbol() string { return t.symbol }

func (t *NonFungibleToken) ownerKey(id uint64) string {
	return fmt.Sprintf("asset/%s/owner/%d", t.addr, id)
}

func (t *NonFungibleToken) approvedKey(id uint64) string {
	return fmt.Sprintf("asset/%s/approved/%d", t.addr, id)
}

func (t *NonFungibleToken) operatorKey(owner, operator substrate.Address) string {
	return fmt.Sprintf("asset/%s/operator/%s/%s", t.addr, owner, operator)
}

// OwnerOf returns the owner of id. A token that was never minted is NotFound.
func (t *NonFungibleToken) OwnerOf(tx *substrate.Tx, id uint64) (substrate.Address, error) {
	b, ok, err := tx.Get(t.ownerKey(id))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", protoerr.New(protoerr.KindNotFound, "assets.OwnerOf", "token %d", id)
	}
	return substrate.Address(b), nil
}

// Approved returns the account approved for id, if any.
func (t *NonFungibleToken) Approved(tx *substrate.Tx, id uint64) (substrate.Address, error) {
	b, _, err := tx.Get(t.approvedKey(id))
	return substrate.Address(b), err
}

func (t *NonFungibleToken) IsApprovedForAll(tx *substrate.Tx, owner, operator substrate.Address) (bool, error) {
	return loadFlag(tx, t.operatorKey(owner, operator))
}

// Mint creates id owned by to.
func (t *NonFungibleToken) Mint(tx *substrate.Tx, to substrate.Address, id uint64) error {
	const op = "assets.MintNonFungible"
	if err := checkMinter(tx, op, t.minter); err != nil {
		return err
	}
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	if _, ok, err := tx.Get(t.ownerKey(id)); err != nil {
		return err
	} else if ok {
		return protoerr.New(protoerr.KindInvalidArgument, op, "token %d already minted", id)
	}
	if err := tx.Put(t.ownerKey(id), []byte(to)); err != nil {
		return err
	}
	t.emitTransfer(tx, "", to, id)
	return nil
}

// Approve lets spender move id. The caller must own id.
func (t *NonFungibleToken) Approve(tx *substrate.Tx, spender substrate.Address, id uint64) error {
	const op = "assets.ApproveNonFungible"
	owner, err := t.OwnerOf(tx, id)
	if err != nil {
		return err
	}
	if owner != tx.Caller() {
		return protoerr.New(protoerr.KindUnauthorized, op, "caller does not own token %d", id)
	}
	if err := tx.Put(t.approvedKey(id), []byte(spender)); err != nil {
		return err
	}
	tx.Emit(t.addr, EventApproval, map[string]string{
		"owner":   string(owner),
		"spender": string(spender),
		"id":      strconv.FormatUint(id, 10),
	})
	return nil
}

// SetApprovalForAll lets operator move every token of the caller.
func (t *NonFungibleToken) SetApprovalForAll(tx *substrate.Tx, operator substrate.Address, approved bool) error {
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

// TransferFrom moves id from from to to. The caller must be the owner, the
// approved account or an operator.
func (t *NonFungibleToken) TransferFrom(tx *substrate.Tx, from, to substrate.Address, id uint64) error {
	const op = "assets.TransferNonFungible"
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	owner, err := t.OwnerOf(tx, id)
	if err != nil {
		return protoerr.Wrap(protoerr.KindTransferFailed, op, err)
	}
	if owner != from {
		return protoerr.New(protoerr.KindTransferFailed, op, "token %d is not owned by %s", id, from)
	}
	if spender := tx.Caller(); spender != owner {
		approved, err := t.Approved(tx, id)
		if err != nil {
			return err
		}
		operator, err := t.IsApprovedForAll(tx, owner, spender)
		if err != nil {
			return err
		}
		if approved != spender && !operator {
			return protoerr.New(protoerr.KindUnauthorized, op, "%s is not approved for token %d", spender, id)
		}
	}
	if err := tx.Delete(t.approvedKey(id)); err != nil {
		return err
	}
	if err := tx.Put(t.ownerKey(id), []byte(to)); err != nil {
		return err
	}
	t.emitTransfer(tx, from, to, id)
	return nil
}

func (t *NonFungibleToken) emitTransfer(tx *substrate.Tx, from, to substrate.Address, id uint64) {
	tx.Emit(t.addr, EventTransfer, map[string]string{
		"from": string(from),
		"to":   string(to),
		"id":   strconv.FormatUint(id, 10),
	})
}
