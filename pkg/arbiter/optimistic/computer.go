package optimistic

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/tetratelabs/wazero"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Computer recomputes the expected result for an input during mediation.
// Implementations must be deterministic.
type Computer interface {
	Name() string
	Compute(ctx context.Context, input string) (string, error)
}

// Uppercase maps input to upper case.
type Uppercase struct{}

func (Uppercase) Name() string { return "uppercase" }

func (Uppercase) Compute(_ context.Context, input string) (string, error) {
	return cases.Upper(language.Und).String(input), nil
}

// CEL evaluates a fixed expression over the string variable input. The
// result is rendered with fmt's %v.
type CEL struct {
	name string
	prg  cel.Program
}

func NewCEL(name, expr string) (*CEL, error) {
	env, err := cel.NewEnv(cel.Variable("input", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &CEL{name: name, prg: prg}, nil
}

func (c *CEL) Name() string { return c.name }

func (c *CEL) Compute(ctx context.Context, input string) (string, error) {
	out, _, err := c.prg.ContextEval(ctx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	return fmt.Sprint(out.Value()), nil
}

// Wasm runs the exported function compute(i64) i64 of a WebAssembly module.
// Input and output are decimal integers. The module gets no imports.
type Wasm struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	mu sync.Mutex
}

// NewWasm compiles module. Close releases it.
func NewWasm(ctx context.Context, name string, module []byte) (*Wasm, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(16))
	compiled, err := r.CompileModule(ctx, module)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasm: compilation failed: %w", err)
	}
	if _, ok := compiled.ExportedFunctions()["compute"]; !ok {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasm: module %s does not export compute", name)
	}
	return &Wasm{name: name, runtime: r, compiled: compiled}, nil
}

func (w *Wasm) Name() string { return w.name }

func (w *Wasm) Compute(ctx context.Context, input string) (string, error) {
	n, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return "", fmt.Errorf("wasm: input %q is not an integer: %w", input, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return "", fmt.Errorf("wasm: instantiation failed: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	res, err := mod.ExportedFunction("compute").Call(ctx, uint64(n))
	if err != nil {
		return "", fmt.Errorf("wasm: compute failed: %w", err)
	}
	if len(res) != 1 {
		return "", fmt.Errorf("wasm: compute returned %d values", len(res))
	}
	return strconv.FormatInt(int64(res[0]), 10), nil
}

func (w *Wasm) Close(ctx context.Context) error { return w.runtime.Close(ctx) }

// DoublerModule is a minimal module exporting compute(x) = x * 2.
func DoublerModule() []byte {
	body := []byte{
		0x00,       // no locals
		0x20, 0x00, // local.get 0
		0x42, 0x02, // i64.const 2
		0x7e, // i64.mul
		0x0b, // end
	}
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(0x01, []byte{0x01, 0x60, 0x01, 0x7e, 0x01, 0x7e})...) // type: (i64) -> i64
	mod = append(mod, section(0x03, []byte{0x01, 0x00})...)                         // func 0 has type 0
	mod = append(mod, section(0x07, append([]byte{0x01, 0x07}, append([]byte("compute"), 0x00, 0x00)...))...)
	code := append([]byte{0x01}, uleb(uint32(len(body)))...)
	mod = append(mod, section(0x0a, append(code, body...))...)
	return mod
}

func section(id byte, payload []byte) []byte {
	return append(append([]byte{id}, uleb(uint32(len(payload)))...), payload...)
}

func uleb(n uint32) []byte {
	buf := make([]byte, binary.MaxVarintLen32)
	return buf[:binary.PutUvarint(buf, uint64(n))]
}
