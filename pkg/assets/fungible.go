package assets

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// FungibleToken is a balance ledger with spender allowances.
type FungibleToken struct {
	addr   substrate.Address
	minter substrate.Address
	symbol string
	logger *slog.Logger
}

// NewFungible creates a fungible token ledger. Only minter may mint.
func NewFungible(addr, minter substrate.Address, symbol string) *FungibleToken {
	return &FungibleToken{
		addr:   addr,
		minter: minter,
		symbol: symbol,
		logger: slog.Default().With("component", "assets", "token", symbol),
	}
}

func (t *FungibleToken) Address() substrate.Address { return t.addr }

func (t *FungibleToken) Symbol() string { return t.symbol }

func (t *FungibleToken) balanceKey(owner substrate.Address) string {
	return fmt.Sprintf("asset/%s/balance/%s", t.addr, owner)
}

func (t *FungibleToken) allowanceKey(owner, spender substrate.Address) string {
	return fmt.Sprintf("asset/%s/allowance/%s/%s", t.addr, owner, spender)
}

func (t *FungibleToken) nonceKey(owner substrate.Address) string {
	return fmt.Sprintf("asset/%s/nonce/%s", t.addr, owner)
}

func (t *FungibleToken) supplyKey() string { return fmt.Sprintf("asset/%s/supply", t.addr) }

func (t *FungibleToken) BalanceOf(tx *substrate.Tx, owner substrate.Address) (uint64, error) {
	return loadUint(tx, t.balanceKey(owner))
}

func (t *FungibleToken) Allowance(tx *substrate.Tx, owner, spender substrate.Address) (uint64, error) {
	return loadUint(tx, t.allowanceKey(owner, spender))
}

func (t *FungibleToken) TotalSupply(tx *substrate.Tx) (uint64, error) {
	return loadUint(tx, t.supplyKey())
}

// Nonce returns the next permit nonce expected for owner.
func (t *FungibleToken) Nonce(tx *substrate.Tx, owner substrate.Address) (uint64, error) {
	return loadUint(tx, t.nonceKey(owner))
}

// Mint credits amount to to.
func (t *FungibleToken) Mint(tx *substrate.Tx, to substrate.Address, amount uint64) error {
	const op = "assets.Mint"
	if err := checkMinter(tx, op, t.minter); err != nil {
		return err
	}
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	if err := addUint(tx, op, t.supplyKey(), amount); err != nil {
		return err
	}
	if err := addUint(tx, op, t.balanceKey(to), amount); err != nil {
		return err
	}
	t.emitTransfer(tx, "", to, amount)
	return nil
}

// Approve sets the caller's allowance for spender.
func (t *FungibleToken) Approve(tx *substrate.Tx, spender substrate.Address, amount uint64) error {
	return t.approve(tx, tx.Caller(), spender, amount)
}

func (t *FungibleToken) approve(tx *substrate.Tx, owner, spender substrate.Address, amount uint64) error {
	if err := storeUint(tx, t.allowanceKey(owner, spender), amount); err != nil {
		return err
	}
	tx.Emit(t.addr, EventApproval, map[string]string{
		"owner":   string(owner),
		"spender": string(spender),
		"value":   strconv.FormatUint(amount, 10),
	})
	return nil
}

// Transfer moves amount from the caller to to.
func (t *FungibleToken) Transfer(tx *substrate.Tx, to substrate.Address, amount uint64) error {
	const op = "assets.Transfer"
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	return t.move(tx, op, tx.Caller(), to, amount)
}

// TransferFrom moves amount from from to to. A caller other than from spends
// its allowance and must hold one.
func (t *FungibleToken) TransferFrom(tx *substrate.Tx, from, to substrate.Address, amount uint64) error {
	const op = "assets.TransferFrom"
	if err := checkRecipient(op, to); err != nil {
		return err
	}
	if spender := tx.Caller(); spender != from {
		key := t.allowanceKey(from, spender)
		allowed, err := loadUint(tx, key)
		if err != nil {
			return err
		}
		if allowed == 0 {
			return protoerr.New(protoerr.KindUnauthorized, op, "%s has no allowance from %s", spender, from)
		}
		if err := subUint(tx, op, key, amount, "allowance"); err != nil {
			return err
		}
	}
	return t.move(tx, op, from, to, amount)
}

func (t *FungibleToken) move(tx *substrate.Tx, op string, from, to substrate.Address, amount uint64) error {
	if err := subUint(tx, op, t.balanceKey(from), amount, "balance"); err != nil {
		return err
	}
	if err := addUint(tx, op, t.balanceKey(to), amount); err != nil {
		return err
	}
	t.emitTransfer(tx, from, to, amount)
	return nil
}

func (t *FungibleToken) emitTransfer(tx *substrate.Tx, from, to substrate.Address, amount uint64) {
	tx.Emit(t.addr, EventTransfer, map[string]string{
		"from":  string(from),
		"to":    string(to),
		"value": strconv.FormatUint(amount, 10),
	})
}

// Permit verifies a signed permit token, consumes its nonce and sets the
// allowance it grants.
func (t *FungibleToken) Permit(tx *substrate.Tx, token string) (PermitClaims, error) {
	const op = "assets.Permit"
	claims, err := VerifyPermit(token, t.addr, tx.Now())
	if err != nil {
		return PermitClaims{}, err
	}
	want, err := t.Nonce(tx, claims.Owner)
	if err != nil {
		return PermitClaims{}, err
	}
	if claims.Nonce != want {
		return PermitClaims{}, protoerr.New(protoerr.KindUnauthorized, op, "permit nonce %d, expected %d", claims.Nonce, want)
	}
	if err := storeUint(tx, t.nonceKey(claims.Owner), want+1); err != nil {
		return PermitClaims{}, err
	}
	if err := t.approve(tx, claims.Owner, claims.Spender, claims.Value); err != nil {
		return PermitClaims{}, err
	}
	t.logger.DebugContext(tx.Context(), "permit consumed", "owner", claims.Owner, "spender", claims.Spender, "nonce", claims.Nonce)
	return claims, nil
}
