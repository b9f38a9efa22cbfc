package scripting

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// WeightFunction is the Lua global a rule must define:
//
//	function weight(amount, id, name) return <number >= 0> end
const WeightFunction = "weight"

var (
	// ErrNoWeightFunction is returned when a rule does not define weight().
	ErrNoWeightFunction = errors.New("rule does not define weight(amount, id, name)")
	// ErrInvalidWeight is returned when weight() yields a non-number,
	// negative, NaN or infinite value.
	ErrInvalidWeight = errors.New("rule returned an invalid weight")
)

// WeightRule maps a participant's raw amount (bid, donation, ticket count) to
// a drawing weight.
//
// WeightRule is safe for concurrent use; evaluations are serialized because
// an LState is single-threaded.
type WeightRule struct {
	name      string
	instLimit int
	logger    *zap.Logger

	mu sync.Mutex
	L  *lua.LState
}

// CompileWeightRule loads src as a rule called name.
//
// Precondition: logger must be non-nil; instLimit >= 0 (0 uses DefaultInstructionLimit).
// Postcondition: Returns ErrNoWeightFunction when src does not define weight.
func CompileWeightRule(name, src string, instLimit int, logger *zap.Logger) (*WeightRule, error) {
	L := NewSandboxedState(instLimit)
	registerModules(L, name, logger)

	err := L.DoString(src)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading rule %q: %w", name, err)
	}
	if _, ok := L.GetGlobal(WeightFunction).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("scripting: rule %q: %w", name, ErrNoWeightFunction)
	}
	return &WeightRule{name: name, instLimit: instLimit, logger: logger, L: L}, nil
}

// LoadWeightRule compiles the rule in the file at path.
func LoadWeightRule(path string, instLimit int, logger *zap.Logger) (*WeightRule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading rule %q: %w", path, err)
	}
	return CompileWeightRule(filepath.Base(path), string(src), instLimit, logger)
}

// Name returns the rule's name.
func (r *WeightRule) Name() string { return r.name }

// Weight evaluates weight(amount, id, name) under a fresh instruction budget.
//
// Postcondition: Returns a finite, non-negative weight or an error wrapping
// ErrInvalidWeight or the Lua runtime error.
func (r *WeightRule) Weight(amount float64, id, name string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	release := budget(r.L, r.instLimit)
	defer release()

	if err := r.L.CallByParam(lua.P{
		Fn:      r.L.GetGlobal(WeightFunction),
		NRet:    1,
		Protect: true,
	}, lua.LNumber(amount), lua.LString(id), lua.LString(name)); err != nil {
		return 0, fmt.Errorf("scripting: rule %q for %q: %w", r.name, id, err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("scripting: rule %q for %q returned %s: %w", r.name, id, ret.Type(), ErrInvalidWeight)
	}
	w := float64(n)
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0, fmt.Errorf("scripting: rule %q for %q returned %v: %w", r.name, id, w, ErrInvalidWeight)
	}
	return w, nil
}

// Apply returns a copy of pool with every weight replaced by the rule's
// result for that participant's current weight.
//
// Postcondition: pool is unchanged; the first failing participant aborts.
func (r *WeightRule) Apply(pool wheel.Pool) (wheel.Pool, error) {
	out := pool.Clone()
	for i := range out {
		w, err := r.Weight(out[i].Weight, out[i].ID, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Weight = w
	}
	r.logger.Debug("weight rule applied", zap.String("rule", r.name), zap.Int("participants", len(out)))
	return out, nil
}

// Close releases the Lua state.
func (r *WeightRule) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L != nil {
		r.L.Close()
		r.L = nil
	}
}
