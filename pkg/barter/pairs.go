package barter

import (
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/escrow"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/payment"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Helpers for common pairs. The asked payment is always payable to the
// caller.

func BuyFungibleForFungible(tx *substrate.Tx, esc *escrow.FungibleEscrow, pay *payment.FungiblePayment,
	bidToken substrate.Address, bidAmount uint64, askToken substrate.Address, askAmount uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.FungibleData{Token: bidToken, Amount: bidAmount},
		pay, payment.FungibleData{Token: askToken, Amount: askAmount, Payee: tx.Caller()}, expiration)
}

func BuyFungibleForNonFungible(tx *substrate.Tx, esc *escrow.FungibleEscrow, pay *payment.NonFungiblePayment,
	bidToken substrate.Address, bidAmount uint64, askToken substrate.Address, askID uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.FungibleData{Token: bidToken, Amount: bidAmount},
		pay, payment.NonFungibleData{Token: askToken, ID: askID, Payee: tx.Caller()}, expiration)
}

func BuyFungibleForMulti(tx *substrate.Tx, esc *escrow.FungibleEscrow, pay *payment.MultiPayment,
	bidToken substrate.Address, bidAmount uint64, askToken substrate.Address, askID, askAmount uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.FungibleData{Token: bidToken, Amount: bidAmount},
		pay, payment.MultiData{Token: askToken, ID: askID, Amount: askAmount, Payee: tx.Caller()}, expiration)
}

func BuyNonFungibleForFungible(tx *substrate.Tx, esc *escrow.NonFungibleEscrow, pay *payment.FungiblePayment,
	bidToken substrate.Address, bidID uint64, askToken substrate.Address, askAmount uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.NonFungibleData{Token: bidToken, ID: bidID},
		pay, payment.FungibleData{Token: askToken, Amount: askAmount, Payee: tx.Caller()}, expiration)
}

func BuyNonFungibleForNonFungible(tx *substrate.Tx, esc *escrow.NonFungibleEscrow, pay *payment.NonFungiblePayment,
	bidToken substrate.Address, bidID uint64, askToken substrate.Address, askID uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.NonFungibleData{Token: bidToken, ID: bidID},
		pay, payment.NonFungibleData{Token: askToken, ID: askID, Payee: tx.Caller()}, expiration)
}

func BuyMultiForFungible(tx *substrate.Tx, esc *escrow.MultiEscrow, pay *payment.FungiblePayment,
	bidToken substrate.Address, bidID, bidAmount uint64, askToken substrate.Address, askAmount uint64, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.MultiData{Token: bidToken, ID: bidID, Amount: bidAmount},
		pay, payment.FungibleData{Token: askToken, Amount: askAmount, Payee: tx.Caller()}, expiration)
}

// BuyBundleForBundle trades one heterogeneous batch for another.
func BuyBundleForBundle(tx *substrate.Tx, esc *escrow.BundleEscrow, pay *payment.BundlePayment,
	bid, ask obligation.Bundle, expiration time.Time,
) (registry.Record, error) {
	return Buy(tx, esc, escrow.BundleData{Bundle: bid},
		pay, payment.BundleData{Bundle: ask, Payee: tx.Caller()}, expiration)
}

// PermitAndBuyFungibleForFungible is BuyFungibleForFungible preceded by a
// permit for the bid token.
func PermitAndBuyFungibleForFungible(tx *substrate.Tx, permit SignedPermit, esc *escrow.FungibleEscrow, pay *payment.FungiblePayment,
	bidAmount uint64, askToken substrate.Address, askAmount uint64, expiration time.Time,
) (registry.Record, error) {
	return PermitAndBuy(tx, []SignedPermit{permit}, esc, escrow.FungibleData{Token: permit.Token.Address(), Amount: bidAmount},
		pay, payment.FungibleData{Token: askToken, Amount: askAmount, Payee: tx.Caller()}, expiration)
}
