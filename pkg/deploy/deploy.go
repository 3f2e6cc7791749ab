// Package deploy assembles the whole protocol on a host.
//
// Every component lives at identity.ComponentAddress of its name, so two
// nodes deploying onto the same backend agree on every address.
package deploy

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter"
	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter/expression"
	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter/optimistic"
	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter/oracle"
	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter/vote"
	"github.com/Mindburn-Labs/helm/settlement/pkg/assets"
	"github.com/Mindburn-Labs/helm/settlement/pkg/escrow"
	"github.com/Mindburn-Labs/helm/settlement/pkg/identity"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/payment"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Component names.
const (
	NameRegistry = "registry"

	NameFungibleEscrow    = "escrow.fungible"
	NameNonFungibleEscrow = "escrow.nonfungible"
	NameMultiEscrow       = "escrow.multi"
	NameBundleEscrow      = "escrow.bundle"

	NameFungiblePayment    = "payment.fungible"
	NameNonFungiblePayment = "payment.nonfungible"
	NameMultiPayment       = "payment.multi"
	NameBundlePayment      = "payment.bundle"

	NameResults = "obligation.string"

	NameTrivial          = "arbiter.trivial"
	NameIntrinsics       = "arbiter.intrinsics"
	NameIntrinsicsSchema = "arbiter.intrinsics_schema"
	NameSpecificRecord   = "arbiter.specific_record"
	NameTrustedParty     = "arbiter.trusted_party"
	NameAttribute        = "arbiter.attribute"
	NameAll              = "arbiter.all"
	NameAny              = "arbiter.any"
	NameNot              = "arbiter.not"
	NameExpression       = "arbiter.expression"
	NameOracle           = "arbiter.oracle"
	NameVote             = "arbiter.vote"
	NameOptimistic       = "arbiter.optimistic"
)

// Names lists every component New deploys, registry first.
func Names() []string {
	return []string{
		NameRegistry,
		NameFungibleEscrow, NameNonFungibleEscrow, NameMultiEscrow, NameBundleEscrow,
		NameFungiblePayment, NameNonFungiblePayment, NameMultiPayment, NameBundlePayment,
		NameResults,
		NameTrivial, NameIntrinsics, NameIntrinsicsSchema, NameSpecificRecord, NameTrustedParty, NameAttribute,
		NameAll, NameAny, NameNot, NameExpression, NameOracle, NameVote, NameOptimistic,
	}
}

// Addr is the address of the component called name.
func Addr(name string) substrate.Address { return identity.ComponentAddress(name) }

// Protocol holds every deployed component.
type Protocol struct {
	Registry *registry.Registry

	FungibleEscrow    *escrow.FungibleEscrow
	NonFungibleEscrow *escrow.NonFungibleEscrow
	MultiEscrow       *escrow.MultiEscrow
	BundleEscrow      *escrow.BundleEscrow

	FungiblePayment    *payment.FungiblePayment
	NonFungiblePayment *payment.NonFungiblePayment
	MultiPayment       *payment.MultiPayment
	BundlePayment      *payment.BundlePayment

	Results *obligation.StringObligation

	Trivial          *arbiter.Trivial
	Intrinsics       *arbiter.Intrinsics
	IntrinsicsSchema *arbiter.IntrinsicsSchema
	SpecificRecord   *arbiter.SpecificRecord
	TrustedParty     *arbiter.TrustedParty
	Attribute        *arbiter.Attribute
	All              *arbiter.All
	Any              *arbiter.Any
	Not              *arbiter.Not
	Expression       *expression.Arbiter
	Oracle           *oracle.Arbiter
	Vote             *vote.Arbiter
	Optimistic       *optimistic.Arbiter

	host *substrate.Host
	wasm *optimistic.Wasm
}

// New deploys the registry, every obligation kind and every arbiter on h.
// Close releases the optimistic arbiter's wasm runtime.
func New(ctx context.Context, h *substrate.Host) (*Protocol, error) {
	p := &Protocol{host: h}
	p.Registry = registry.New(Addr(NameRegistry))
	if err := h.Deploy(p.Registry); err != nil {
		return nil, err
	}
	reg := p.Registry

	var err error
	if p.FungibleEscrow, err = escrow.NewFungible(ctx, h, reg, Addr(NameFungibleEscrow)); err != nil {
		return nil, err
	}
	if p.NonFungibleEscrow, err = escrow.NewNonFungible(ctx, h, reg, Addr(NameNonFungibleEscrow)); err != nil {
		return nil, err
	}
	if p.MultiEscrow, err = escrow.NewMulti(ctx, h, reg, Addr(NameMultiEscrow)); err != nil {
		return nil, err
	}
	if p.BundleEscrow, err = escrow.NewBundle(ctx, h, reg, Addr(NameBundleEscrow)); err != nil {
		return nil, err
	}
	if p.FungiblePayment, err = payment.NewFungible(ctx, h, reg, Addr(NameFungiblePayment)); err != nil {
		return nil, err
	}
	if p.NonFungiblePayment, err = payment.NewNonFungible(ctx, h, reg, Addr(NameNonFungiblePayment)); err != nil {
		return nil, err
	}
	if p.MultiPayment, err = payment.NewMulti(ctx, h, reg, Addr(NameMultiPayment)); err != nil {
		return nil, err
	}
	if p.BundlePayment, err = payment.NewBundle(ctx, h, reg, Addr(NameBundlePayment)); err != nil {
		return nil, err
	}
	if p.Results, err = obligation.NewStringObligation(ctx, h, reg, Addr(NameResults)); err != nil {
		return nil, err
	}

	if p.Expression, err = expression.New(Addr(NameExpression)); err != nil {
		return nil, err
	}
	length, err := optimistic.NewCEL("length", `string(size(input))`)
	if err != nil {
		return nil, err
	}
	if p.wasm, err = optimistic.NewWasm(ctx, "double", optimistic.DoublerModule()); err != nil {
		return nil, err
	}

	p.Trivial = arbiter.NewTrivial(Addr(NameTrivial))
	p.Intrinsics = arbiter.NewIntrinsics(Addr(NameIntrinsics))
	p.IntrinsicsSchema = arbiter.NewIntrinsicsSchema(Addr(NameIntrinsicsSchema))
	p.SpecificRecord = arbiter.NewSpecificRecord(Addr(NameSpecificRecord))
	p.TrustedParty = arbiter.NewTrustedParty(Addr(NameTrustedParty))
	p.Attribute = arbiter.NewAttribute(Addr(NameAttribute))
	p.All = arbiter.NewAll(Addr(NameAll))
	p.Any = arbiter.NewAny(Addr(NameAny))
	p.Not = arbiter.NewNot(Addr(NameNot))
	p.Oracle = oracle.New(Addr(NameOracle), reg)
	p.Vote = vote.New(Addr(NameVote), reg)
	p.Optimistic = optimistic.New(Addr(NameOptimistic), p.Results, optimistic.Uppercase{}, length, p.wasm)

	for _, c := range []substrate.Component{
		p.FungibleEscrow, p.NonFungibleEscrow, p.MultiEscrow, p.BundleEscrow,
		p.FungiblePayment, p.NonFungiblePayment, p.MultiPayment, p.BundlePayment,
		p.Results,
		p.Trivial, p.Intrinsics, p.IntrinsicsSchema, p.SpecificRecord, p.TrustedParty, p.Attribute,
		p.All, p.Any, p.Not, p.Expression, p.Oracle, p.Vote, p.Optimistic,
	} {
		if err := h.Deploy(c); err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
	}
	slog.Default().InfoContext(ctx, "protocol deployed", "registry", p.Registry.Address())
	return p, nil
}

// Close releases resources held by deployed components.
func (p *Protocol) Close(ctx context.Context) error {
	if p.wasm == nil {
		return nil
	}
	return p.wasm.Close(ctx)
}

// Host is the host the protocol is deployed on.
func (p *Protocol) Host() *substrate.Host { return p.host }

// EscrowState returns the state of escrow uid of the kind named kind:
// fungible, nonfungible, multi or bundle.
func (p *Protocol) EscrowState(tx *substrate.Tx, kind string, uid registry.UID) (escrow.State, error) {
	switch kind {
	case "fungible":
		return p.FungibleEscrow.State(tx, uid)
	case "nonfungible":
		return p.NonFungibleEscrow.State(tx, uid)
	case "multi":
		return p.MultiEscrow.State(tx, uid)
	case "bundle":
		return p.BundleEscrow.State(tx, uid)
	}
	return "", protoerr.New(protoerr.KindNotFound, "deploy.EscrowState", "unknown escrow kind %q", kind)
}

// EscrowOutcome returns how escrow uid of the kind named kind was resolved.
func (p *Protocol) EscrowOutcome(tx *substrate.Tx, kind string, uid registry.UID) (escrow.Outcome, error) {
	var (
		o     escrow.Outcome
		found bool
		err   error
	)
	switch kind {
	case "fungible":
		o, found, err = p.FungibleEscrow.Outcome(tx, uid)
	case "nonfungible":
		o, found, err = p.NonFungibleEscrow.Outcome(tx, uid)
	case "multi":
		o, found, err = p.MultiEscrow.Outcome(tx, uid)
	case "bundle":
		o, found, err = p.BundleEscrow.Outcome(tx, uid)
	default:
		return escrow.Outcome{}, protoerr.New(protoerr.KindNotFound, "deploy.EscrowOutcome", "unknown escrow kind %q", kind)
	}
	if err != nil {
		return escrow.Outcome{}, err
	}
	if !found {
		return escrow.Outcome{}, protoerr.New(protoerr.KindNotFound, "deploy.EscrowOutcome", "escrow %s is unresolved", uid)
	}
	return o, nil
}

// DeployFungible adds a fungible token ledger named symbol.
func (p *Protocol) DeployFungible(symbol string, minter substrate.Address) (*assets.FungibleToken, error) {
	t := assets.NewFungible(Addr("asset.fungible."+symbol), minter, symbol)
	return t, p.host.Deploy(t)
}

// DeployNonFungible adds a non-fungible token ledger named symbol.
func (p *Protocol) DeployNonFungible(symbol string, minter substrate.Address) (*assets.NonFungibleToken, error) {
	t := assets.NewNonFungible(Addr("asset.nonfungible."+symbol), minter, symbol)
	return t, p.host.Deploy(t)
}

// DeployMulti adds a multi-token ledger named symbol.
func (p *Protocol) DeployMulti(symbol string, minter substrate.Address) (*assets.MultiToken, error) {
	t := assets.NewMulti(Addr("asset.multi."+symbol), minter, symbol)
	return t, p.host.Deploy(t)
}
