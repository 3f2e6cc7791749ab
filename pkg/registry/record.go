package registry

import (
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// UID identifies a record.
type UID string

// SchemaUID identifies a registered schema.
type SchemaUID string

// Definition is the shape an obligation kind registers.
type Definition struct {
	Name      string `json:"name"`
	Version   string `json:"version"` // semver
	Shape     string `json:"shape"`   // JSON Schema document
	Revocable bool   `json:"revocable"`
}

// Schema is a registered Definition.
type Schema struct {
	UID SchemaUID `json:"uid"`
	Definition
	Owner        substrate.Address `json:"owner"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// Record is an immutable-payload, revocable registry entry. A zero
// ExpirationTime means the record never expires; a zero RevocationTime means
// it has not been revoked. RevocationTime is set once and never cleared.
type Record struct {
	UID            UID               `json:"uid"`
	Schema         SchemaUID         `json:"schema"`
	Time           time.Time         `json:"time"`
	ExpirationTime time.Time         `json:"expiration_time"`
	RevocationTime time.Time         `json:"revocation_time"`
	RefUID         UID               `json:"ref_uid,omitempty"`
	Recipient      substrate.Address `json:"recipient"`
	Attester       substrate.Address `json:"attester"`
	Revocable      bool              `json:"revocable"`
	Data           []byte            `json:"data"`
}

// IsRevoked reports whether the record has been revoked.
func (r Record) IsRevoked() bool { return !r.RevocationTime.IsZero() }

// HasExpiration reports whether the record carries an expiration time.
func (r Record) HasExpiration() bool { return !r.ExpirationTime.IsZero() }

// IsExpired reports whether the record is expired at now. A record is
// expired from its expiration time onwards.
func (r Record) IsExpired(now time.Time) bool {
	return r.HasExpiration() && !now.Before(r.ExpirationTime)
}

// Request is the input to Attest.
type Request struct {
	Recipient  substrate.Address
	Expiration time.Time
	Revocable  bool
	RefUID     UID
	Data       []byte
}
