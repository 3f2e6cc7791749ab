// Package registry is the shared, schema-typed record store obligations write
// to.
//
// Schemas are registered once by their owning component. Registration mints a
// Capability that only the registry can create; creating or revoking a record
// of a schema requires presenting that schema's capability. This is the
// authorization hook: no component other than the schema owner can write
// records of its kind.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventSchemaRegistered = "SchemaRegistered"
	EventAttested         = "Attested"
	EventRevoked          = "Revoked"
)

var (
	schemaNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("settlement/registry/schema"))
	recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("settlement/registry/record"))
)

// Capability authorizes record writes for one schema.
type Capability struct {
	schema SchemaUID
	holder substrate.Address
}

// Schema returns the schema the capability grants.
func (c *Capability) Schema() SchemaUID { return c.schema }

// Holder returns the component the capability was minted for.
func (c *Capability) Holder() substrate.Address { return c.holder }

// Registry is the record store component.
type Registry struct {
	addr   substrate.Address
	logger *slog.Logger

	mu   sync.Mutex
	caps map[SchemaUID]*Capability
}

// New creates a registry deployed at addr.
func New(addr substrate.Address) *Registry {
	return &Registry{
		addr:   addr,
		logger: slog.Default().With("component", "registry"),
		caps:   make(map[SchemaUID]*Capability),
	}
}

func (r *Registry) Address() substrate.Address { return r.addr }

func (r *Registry) schemaKey(uid SchemaUID) string {
	return fmt.Sprintf("registry/%s/schema/%s", r.addr, uid)
}

func (r *Registry) recordKey(uid UID) string {
	return fmt.Sprintf("registry/%s/record/%s", r.addr, uid)
}

func (r *Registry) indexKey() string { return fmt.Sprintf("registry/%s/schemas", r.addr) }

func (r *Registry) nonceKey() string { return fmt.Sprintf("registry/%s/nonce", r.addr) }

// RegisterSchema registers def with the caller as owner and returns the
// owner's capability. Registering an identical definition again from the same
// owner returns the existing schema with a fresh capability, which replaces
// the previous one. The capability becomes current when the call commits.
func (r *Registry) RegisterSchema(tx *substrate.Tx, def Definition) (Schema, *Capability, error) {
	const op = "registry.RegisterSchema"
	if def.Name == "" {
		return Schema{}, nil, protoerr.New(protoerr.KindInvalidArgument, op, "schema name is empty")
	}
	if _, err := semver.NewVersion(def.Version); err != nil {
		return Schema{}, nil, protoerr.Wrap(protoerr.KindInvalidArgument, op, err)
	}
	owner := tx.Caller()
	if owner.IsZero() {
		return Schema{}, nil, protoerr.New(protoerr.KindUnauthorized, op, "anonymous caller")
	}

	body, err := codec.Encode(def)
	if err != nil {
		return Schema{}, nil, err
	}
	uid := SchemaUID(uuid.NewSHA1(schemaNamespace, body).String())

	var existing Schema
	found, err := tx.GetJSON(r.schemaKey(uid), &existing)
	if err != nil {
		return Schema{}, nil, err
	}
	if found {
		if existing.Owner != owner {
			return Schema{}, nil, protoerr.New(protoerr.KindUnauthorized, op,
				"schema %s is owned by %s", uid, existing.Owner)
		}
		c, err := r.mint(tx, uid, owner)
		if err != nil {
			return Schema{}, nil, err
		}
		return existing, c, nil
	}

	schema := Schema{
		UID:          uid,
		Definition:   def,
		Owner:        owner,
		RegisteredAt: tx.Now(),
	}
	if err := tx.PutJSON(r.schemaKey(uid), schema); err != nil {
		return Schema{}, nil, err
	}
	var index []SchemaUID
	if _, err := tx.GetJSON(r.indexKey(), &index); err != nil {
		return Schema{}, nil, err
	}
	if err := tx.PutJSON(r.indexKey(), append(index, uid)); err != nil {
		return Schema{}, nil, err
	}

	tx.Emit(r.addr, EventSchemaRegistered, map[string]string{
		"schema":  string(uid),
		"name":    def.Name,
		"version": def.Version,
		"owner":   string(owner),
	})
	c, err := r.mint(tx, uid, owner)
	if err != nil {
		return Schema{}, nil, err
	}
	r.logger.InfoContext(tx.Context(), "schema registered", "schema", uid, "name", def.Name, "owner", owner)
	return schema, c, nil
}

func (r *Registry) mint(tx *substrate.Tx, uid SchemaUID, holder substrate.Address) (*Capability, error) {
	c := &Capability{schema: uid, holder: holder}
	err := tx.OnCommit(func() {
		r.mu.Lock()
		r.caps[uid] = c
		r.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) authorize(op string, c *Capability) error {
	if c == nil {
		return protoerr.New(protoerr.KindUnauthorized, op, "missing capability")
	}
	r.mu.Lock()
	current := r.caps[c.schema]
	r.mu.Unlock()
	if current != c {
		return protoerr.New(protoerr.KindUnauthorized, op, "capability for schema %s is not current", c.schema)
	}
	return nil
}

// Attest creates a record of the capability's schema, attested by the
// capability holder.
func (r *Registry) Attest(tx *substrate.Tx, c *Capability, req Request) (Record, error) {
	const op = "registry.Attest"
	if err := r.authorize(op, c); err != nil {
		return Record{}, err
	}
	schema, err := r.Schema(tx, c.schema)
	if err != nil {
		return Record{}, err
	}
	if req.Revocable && !schema.Revocable {
		return Record{}, protoerr.New(protoerr.KindInvalidArgument, op, "schema %s is irrevocable", schema.UID)
	}
	now := tx.Now()
	if !req.Expiration.IsZero() && !req.Expiration.After(now) {
		return Record{}, protoerr.New(protoerr.KindExpired, op, "expiration %s is not in the future", req.Expiration)
	}
	if req.RefUID != "" {
		if _, err := r.Read(tx, req.RefUID); err != nil {
			return Record{}, err
		}
	}

	nonce, err := tx.Next(r.nonceKey())
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Schema:         schema.UID,
		Time:           now,
		ExpirationTime: req.Expiration,
		RefUID:         req.RefUID,
		Recipient:      req.Recipient,
		Attester:       c.holder,
		Revocable:      req.Revocable,
		Data:           req.Data,
	}
	body, err := codec.Encode(struct {
		Record
		Nonce string `json:"nonce"`
	}{rec, strconv.FormatUint(nonce, 10)})
	if err != nil {
		return Record{}, err
	}
	rec.UID = UID(uuid.NewSHA1(recordNamespace, body).String())

	if err := tx.PutJSON(r.recordKey(rec.UID), rec); err != nil {
		return Record{}, err
	}
	tx.Emit(r.addr, EventAttested, map[string]string{
		"uid":       string(rec.UID),
		"schema":    string(rec.Schema),
		"attester":  string(rec.Attester),
		"recipient": string(rec.Recipient),
		"ref_uid":   string(rec.RefUID),
	})
	return rec, nil
}

// Revoke marks a record of the capability's schema as revoked at call time.
func (r *Registry) Revoke(tx *substrate.Tx, c *Capability, uid UID) (Record, error) {
	const op = "registry.Revoke"
	if err := r.authorize(op, c); err != nil {
		return Record{}, err
	}
	rec, err := r.Read(tx, uid)
	if err != nil {
		return Record{}, err
	}
	if rec.Schema != c.schema {
		return Record{}, protoerr.New(protoerr.KindSchemaMismatch, op, "record %s has schema %s", uid, rec.Schema)
	}
	if !rec.Revocable {
		return Record{}, protoerr.New(protoerr.KindUnauthorized, op, "record %s is irrevocable", uid)
	}
	if rec.IsRevoked() {
		return Record{}, protoerr.New(protoerr.KindRevoked, op, "record %s already revoked", uid)
	}

	rec.RevocationTime = tx.Now()
	if err := tx.PutJSON(r.recordKey(uid), rec); err != nil {
		return Record{}, err
	}
	tx.Emit(r.addr, EventRevoked, map[string]string{
		"uid":       string(uid),
		"schema":    string(rec.Schema),
		"attester":  string(rec.Attester),
		"recipient": string(rec.Recipient),
	})
	return rec, nil
}

// Read returns the record with uid.
func (r *Registry) Read(tx *substrate.Tx, uid UID) (Record, error) {
	var rec Record
	found, err := tx.GetJSON(r.recordKey(uid), &rec)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, protoerr.New(protoerr.KindNotFound, "registry.Read", "record %s", uid)
	}
	return rec, nil
}

// Schema returns the registered schema with uid.
func (r *Registry) Schema(tx *substrate.Tx, uid SchemaUID) (Schema, error) {
	var s Schema
	found, err := tx.GetJSON(r.schemaKey(uid), &s)
	if err != nil {
		return Schema{}, err
	}
	if !found {
		return Schema{}, protoerr.New(protoerr.KindNotFound, "registry.Schema", "schema %s", uid)
	}
	return s, nil
}

// Schemas lists every registered schema in registration order.
func (r *Registry) Schemas(tx *substrate.Tx) ([]Schema, error) {
	var index []SchemaUID
	if _, err := tx.GetJSON(r.indexKey(), &index); err != nil {
		return nil, err
	}
	out := make([]Schema, 0, len(index))
	for _, uid := range index {
		s, err := r.Schema(tx, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Lookup returns the highest-versioned schema named name whose version
// satisfies constraint (e.g. "^1.0").
func (r *Registry) Lookup(tx *substrate.Tx, name, constraint string) (Schema, error) {
	const op = "registry.Lookup"
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return Schema{}, protoerr.Wrap(protoerr.KindInvalidArgument, op, err)
	}
	all, err := r.Schemas(tx)
	if err != nil {
		return Schema{}, err
	}

	type candidate struct {
		v *semver.Version
		s Schema
	}
	var matches []candidate
	for _, s := range all {
		if s.Name != name {
			continue
		}
		v, err := semver.NewVersion(s.Version)
		if err != nil {
			continue
		}
		if c.Check(v) {
			matches = append(matches, candidate{v: v, s: s})
		}
	}
	if len(matches) == 0 {
		return Schema{}, protoerr.New(protoerr.KindNotFound, op, "no schema %s matching %s", name, constraint)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].v.GreaterThan(matches[j].v) })
	return matches[0].s, nil
}
