package scripting

import (
	"maps"
	"slices"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Blackboard is a world resource of named values shared between scripts
// and Go systems. Values are float64, string or bool.
type Blackboard struct {
	values map[string]any
}

func NewBlackboard() Blackboard {
	return Blackboard{values: make(map[string]any)}
}

// Set stores v under key. Integers are widened to float64 to match what a
// script would see; other types are ignored.
func (b *Blackboard) Set(key string, v any) {
	if b.values == nil {
		b.values = make(map[string]any)
	}
	switch x := v.(type) {
	case float64, string, bool:
		b.values[key] = x
	case int:
		b.values[key] = float64(x)
	case int64:
		b.values[key] = float64(x)
	case float32:
		b.values[key] = float64(x)
	}
}

func (b *Blackboard) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Number returns the value under key as a float64, or 0.
func (b *Blackboard) Number(key string) float64 {
	f, _ := b.values[key].(float64)
	return f
}

// Text returns the value under key as a string, or "".
func (b *Blackboard) Text(key string) string {
	s, _ := b.values[key].(string)
	return s
}

func (b *Blackboard) Delete(key string) { delete(b.values, key) }
func (b *Blackboard) Len() int          { return len(b.values) }

// Keys returns the keys in sorted order.
func (b *Blackboard) Keys() []string {
	return slices.Sorted(maps.Keys(b.values))
}

func (b *Blackboard) toTable(L *lua.LState) *lua.LTable {
	t := L.CreateTable(0, len(b.values))
	for k, v := range b.values {
		switch x := v.(type) {
		case float64:
			t.RawSetString(k, lua.LNumber(x))
		case string:
			t.RawSetString(k, lua.LString(x))
		case bool:
			t.RawSetString(k, lua.LBool(x))
		}
	}
	return t
}

// fromTable replaces the contents of b with the string-keyed scalar fields
// of t. Keys a script set to nil are gone afterwards.
func (b *Blackboard) fromTable(t *lua.LTable, log *zap.Logger) {
	values := make(map[string]any, len(b.values))
	t.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			log.Debug("blackboard: skipped non-string key", zap.String("key", k.String()))
			return
		}
		switch x := v.(type) {
		case lua.LNumber:
			values[string(key)] = float64(x)
		case lua.LString:
			values[string(key)] = string(x)
		case lua.LBool:
			values[string(key)] = bool(x)
		default:
			log.Debug("blackboard: skipped value",
				zap.String("key", string(key)), zap.String("type", v.Type().String()))
		}
	})
	b.values = values
}
