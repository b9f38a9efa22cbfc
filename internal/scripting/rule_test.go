package scripting_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

const sqrtRule = `
function weight(amount, id, name)
	return math.sqrt(amount)
end
`

func compile(t testing.TB, src string, limit int) (*scripting.WeightRule, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	rule, err := scripting.CompileWeightRule("test", src, limit, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(rule.Close)
	return rule, logs
}

func TestWeightRule_Evaluates(t *testing.T) {
	rule, _ := compile(t, sqrtRule, 0)
	w, err := rule.Weight(16, "a", "Alice")
	require.NoError(t, err)
	assert.Equal(t, 4.0, w)
}

func TestWeightRule_SeesIDAndName(t *testing.T) {
	rule, _ := compile(t, `
		function weight(amount, id, name)
			if id == "vip" or string.sub(name, 1, 1) == "Z" then return amount * 2 end
			return amount
		end
	`, 0)
	w, err := rule.Weight(5, "vip", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 10.0, w)
	w, err = rule.Weight(5, "x", "Zed")
	require.NoError(t, err)
	assert.Equal(t, 10.0, w)
	w, err = rule.Weight(5, "x", "Amy")
	require.NoError(t, err)
	assert.Equal(t, 5.0, w)
}

func TestWeightRule_Helpers(t *testing.T) {
	rule, logs := compile(t, `
		function weight(amount, id, name)
			fortune.log("weighing " .. id)
			local w = fortune.tiers(amount, {{0, 1}, {100, 5}, {1000, 20}})
			return fortune.clamp(w, 0, 10)
		end
	`, 0)
	cases := map[float64]float64{0: 1, 99: 1, 100: 5, 5000: 10}
	for amount, want := range cases {
		got, err := rule.Weight(amount, "p", "P")
		require.NoError(t, err)
		assert.Equal(t, want, got, "amount %v", amount)
	}
	assert.Equal(t, len(cases), logs.FilterMessage("weight rule").Len())
}

func TestWeightRule_MissingFunction(t *testing.T) {
	_, err := scripting.CompileWeightRule("empty", `local x = 1`, 0, zap.NewNop())
	assert.ErrorIs(t, err, scripting.ErrNoWeightFunction)
}

func TestWeightRule_SyntaxError(t *testing.T) {
	_, err := scripting.CompileWeightRule("broken", `function weight(`, 0, zap.NewNop())
	assert.Error(t, err)
}

func TestWeightRule_InvalidResults(t *testing.T) {
	for name, body := range map[string]string{
		"negative": `return -1`,
		"string":   `return "heavy"`,
		"nil":      `return nil`,
		"infinite": `return math.huge`,
		"nan":      `return 0/0`,
	} {
		rule, _ := compile(t, "function weight(amount, id, name) "+body+" end", 0)
		_, err := rule.Weight(1, "a", "A")
		assert.ErrorIs(t, err, scripting.ErrInvalidWeight, name)
	}
}

func TestWeightRule_RuntimeError(t *testing.T) {
	rule, _ := compile(t, `function weight(amount, id, name) error("nope") end`, 0)
	_, err := rule.Weight(1, "a", "A")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, scripting.ErrInvalidWeight)
}

// TestWeightRule_BudgetIsPerEvaluation verifies that a loop that exhausts the
// budget fails while the same rule keeps working on cheap inputs afterwards.
func TestWeightRule_BudgetIsPerEvaluation(t *testing.T) {
	rule, _ := compile(t, `
		function weight(amount, id, name)
			if amount < 0.5 then
				while true do end
			end
			return amount
		end
	`, 1000)
	_, err := rule.Weight(0.1, "spin", "Spinner")
	assert.Error(t, err)

	for i := 0; i < 50; i++ {
		w, err := rule.Weight(3, "ok", "OK")
		require.NoError(t, err, "evaluation %d", i)
		assert.Equal(t, 3.0, w)
	}
}

func TestWeightRule_Apply(t *testing.T) {
	rule, _ := compile(t, sqrtRule, 0)
	pool := wheel.Pool{{ID: "a", Weight: 4}, {ID: "b", Weight: 9}, {ID: "c", Weight: 0}}
	out, err := rule.Apply(pool)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 0}, []float64{out[0].Weight, out[1].Weight, out[2].Weight})
	assert.Equal(t, 4.0, pool[0].Weight, "input pool is not mutated")
}

func TestWeightRule_ConcurrentUse(t *testing.T) {
	rule, _ := compile(t, sqrtRule, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w, err := rule.Weight(25, "a", "A")
				assert.NoError(t, err)
				assert.Equal(t, 5.0, w)
			}
		}()
	}
	wg.Wait()
}

func TestLoadWeightRule_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sqrt.lua")
	require.NoError(t, os.WriteFile(path, []byte(sqrtRule), 0644))
	rule, err := scripting.LoadWeightRule(path, 0, zap.NewNop())
	require.NoError(t, err)
	defer rule.Close()
	assert.Equal(t, "sqrt.lua", rule.Name())

	_, err = scripting.LoadWeightRule(filepath.Join(dir, "missing.lua"), 0, zap.NewNop())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProperty_IdentityRulePreservesWeights(t *testing.T) {
	rule, _ := compile(t, `function weight(amount, id, name) return amount end`, 0)
	rapid.Check(t, func(rt *rapid.T) {
		amount := rapid.Float64Range(0, 1e9).Draw(rt, "amount")
		w, err := rule.Weight(amount, "id", "name")
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if w != amount {
			rt.Fatalf("weight %v != amount %v", w, amount)
		}
	})
}
