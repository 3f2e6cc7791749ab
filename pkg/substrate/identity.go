package substrate

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
)

// Identity lets a deployed component act as its own address. The host mints
// one per deployed component and hands it over through BindIdentity; a copy
// or a zero value is never accepted by Tx.As.
type Identity struct {
	addr Address
}

// Address is the account the identity acts as.
func (id *Identity) Address() Address {
	if id == nil {
		return ""
	}
	return id.addr
}

// IdentityBinder is implemented by components that move assets they hold in
// custody. Deploy passes them their identity.
type IdentityBinder interface {
	BindIdentity(id *Identity)
}

// As returns a view of the same call whose caller is the component owning
// id. Writes and events still belong to the enclosing call.
func (tx *Tx) As(id *Identity) (*Tx, error) {
	const op = "substrate.As"
	if id == nil || id.addr.IsZero() {
		return nil, protoerr.New(protoerr.KindUnauthorized, op, "no identity")
	}
	if !tx.s.host.owns(id) {
		return nil, protoerr.New(protoerr.KindUnauthorized, op, "identity for %s was not issued by this host", id.addr)
	}
	return &Tx{s: tx.s, caller: id.addr, readOnly: tx.readOnly}, nil
}

func (h *Host) owns(id *Identity) bool {
	h.compMu.RLock()
	defer h.compMu.RUnlock()
	return h.identities[id.addr] == id
}
