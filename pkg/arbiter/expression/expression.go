// Package expression implements an arbiter whose demand is a boolean
// expression over the fulfillment record, written in CEL or expr.
//
// Expressions see these variables:
//
//	record  map: uid, schema, attester, recipient, ref_uid, time,
//	        expiration_time, revocation_time (unix seconds, 0 when unset),
//	        revocable, revoked
//	data    the record payload decoded as JSON, or null
//	now     call time, unix seconds
//	escrow  uid of the escrow being collected
package expression

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Supported languages.
const (
	LangCEL  = "cel"
	LangExpr = "expr"
)

// Demand is an expression that must evaluate to true.
type Demand struct {
	Lang string `json:"lang"`
	Expr string `json:"expr"`
}

var demandShape = codec.MustCompile("arbiter.expression", "1.0.0", `{
  "type": "object",
  "required": ["lang", "expr"],
  "additionalProperties": false,
  "properties": {
    "lang": {"enum": ["cel", "expr"]},
    "expr": {"type": "string", "minLength": 1, "maxLength": 4096}
  }
}`)

// Arbiter evaluates expression demands. Compiled programs are cached per
// source text.
type Arbiter struct {
	addr   substrate.Address
	celEnv *cel.Env

	mu       sync.RWMutex
	celCache map[string]cel.Program
	exprMu   sync.RWMutex
	exprProg map[string]*exprvm.Program
}

// New creates the arbiter deployed at addr.
func New(addr substrate.Address) (*Arbiter, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("data", cel.DynType),
		cel.Variable("now", cel.IntType),
		cel.Variable("escrow", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Arbiter{
		addr:     addr,
		celEnv:   env,
		celCache: make(map[string]cel.Program),
		exprProg: make(map[string]*exprvm.Program),
	}, nil
}

func (a *Arbiter) Address() substrate.Address { return a.addr }

func (a *Arbiter) EncodeDemand(d Demand) ([]byte, error) { return demandShape.Encode(d) }

func (a *Arbiter) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	var d Demand
	if err := demandShape.Decode(demand, &d); err != nil {
		return false, err
	}
	vars := Variables(f, tx.Now(), escrowID)
	switch d.Lang {
	case LangCEL:
		return a.evalCEL(d.Expr, vars)
	default:
		return a.evalExpr(d.Expr, vars)
	}
}

// Variables builds the evaluation environment for f.
func Variables(f registry.Record, now time.Time, escrowID registry.UID) map[string]any {
	var data any
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			data = nil
		}
	}
	return map[string]any{
		"record": map[string]any{
			"uid":             string(f.UID),
			"schema":          string(f.Schema),
			"attester":        string(f.Attester),
			"recipient":       string(f.Recipient),
			"ref_uid":         string(f.RefUID),
			"time":            unix(f.Time),
			"expiration_time": unix(f.ExpirationTime),
			"revocation_time": unix(f.RevocationTime),
			"revocable":       f.Revocable,
			"revoked":         f.IsRevoked(),
		},
		"data":   data,
		"now":    now.Unix(),
		"escrow": string(escrowID),
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (a *Arbiter) evalCEL(src string, vars map[string]any) (bool, error) {
	const op = "expression.cel"
	a.mu.RLock()
	prg, hit := a.celCache[src]
	a.mu.RUnlock()

	if !hit {
		a.mu.Lock()
		if prg, hit = a.celCache[src]; !hit {
			ast, issues := a.celEnv.Compile(src)
			if issues != nil && issues.Err() != nil {
				a.mu.Unlock()
				return false, protoerr.Wrap(protoerr.KindDecode, op, issues.Err())
			}
			p, err := a.celEnv.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				a.mu.Unlock()
				return false, protoerr.Wrap(protoerr.KindDecode, op, err)
			}
			a.celCache[src] = p
			prg = p
		}
		a.mu.Unlock()
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, protoerr.Wrap(protoerr.KindDecode, op, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, protoerr.New(protoerr.KindDecode, op, "result is %T, not bool", out.Value())
	}
	return val, nil
}

func (a *Arbiter) evalExpr(src string, vars map[string]any) (bool, error) {
	const op = "expression.expr"
	a.exprMu.RLock()
	prg, hit := a.exprProg[src]
	a.exprMu.RUnlock()

	if !hit {
		p, err := exprlang.Compile(src,
			exprlang.Env(map[string]any{}),
			exprlang.AllowUndefinedVariables(),
			exprlang.AsBool(),
		)
		if err != nil {
			return false, protoerr.Wrap(protoerr.KindDecode, op, err)
		}
		a.exprMu.Lock()
		a.exprProg[src] = p
		a.exprMu.Unlock()
		prg = p
	}

	out, err := exprlang.Run(prg, vars)
	if err != nil {
		return false, protoerr.Wrap(protoerr.KindDecode, op, err)
	}
	val, ok := out.(bool)
	if !ok {
		return false, protoerr.New(protoerr.KindDecode, op, "result is %T, not bool", out)
	}
	return val, nil
}
