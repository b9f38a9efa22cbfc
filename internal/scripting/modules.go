package scripting

import (
	"math"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules installs the fortune.* helper table into L.
//
//	fortune.log(msg)          info log tagged with the rule name
//	fortune.clamp(x, lo, hi)  x limited to [lo, hi]
//	fortune.tiers(x, t)       weight of the highest tier {min, weight} with min <= x
func registerModules(L *lua.LState, name string, logger *zap.Logger) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			logger.Info("weight rule", zap.String("rule", name), zap.String("msg", L.CheckString(1)))
			return 0
		},
		"clamp": func(L *lua.LState) int {
			x := float64(L.CheckNumber(1))
			lo := float64(L.CheckNumber(2))
			hi := float64(L.CheckNumber(3))
			L.Push(lua.LNumber(math.Min(math.Max(x, lo), hi)))
			return 1
		},
		"tiers": func(L *lua.LState) int {
			x := float64(L.CheckNumber(1))
			tiers := L.CheckTable(2)
			best, bestMin := 0.0, math.Inf(-1)
			tiers.ForEach(func(_, v lua.LValue) {
				tier, ok := v.(*lua.LTable)
				if !ok {
					return
				}
				min, okMin := tier.RawGetInt(1).(lua.LNumber)
				w, okW := tier.RawGetInt(2).(lua.LNumber)
				if !okMin || !okW {
					return
				}
				if float64(min) <= x && float64(min) > bestMin {
					best, bestMin = float64(w), float64(min)
				}
			})
			L.Push(lua.LNumber(best))
			return 1
		},
	})
	L.SetGlobal("fortune", mod)
}
