// Package stdlib implements the minimal standard library: a handful
// of global functions plus two collaborators that exercise the
// runtime's weak-table and finalizer machinery from script-visible
// code: a finalizer-bearing userdata type (an open "resource
// handle") and a weak-value cache table.
package stdlib

import (
	"fmt"
	"time"

	"gscript/internal/value"
	"gscript/internal/vm"
)

// Install registers the standard library's global functions and
// collaborators into host's global table. Called once per Host by
// cmd/gscript before running a chunk.
func Install(host *vm.Host) {
	set := func(name string, fn vm.GoFunc) {
		host.TableSet(host.Globals, host.Strs.Literal(name), value.LightFunction(fn))
	}

	set("print", builtinPrint)
	set("tostring", builtinToString)
	set("type", builtinType)
	set("rawequal", builtinRawEqual)
	set("setmetatable", builtinSetMetatable(host))
	set("os_time", builtinOSTime)
	set("os_clock", builtinOSClock)
	set("newhandle", builtinNewHandle(host))

	installCache(host)
}

func builtinPrint(m *vm.VM, args []value.Value) ([]value.Value, error) {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = displayString(a)
	}
	fmt.Println(parts...)
	return nil, nil
}

func builtinToString(m *vm.VM, args []value.Value) ([]value.Value, error) {
	if len(args) == 0 {
		return []value.Value{m.Host().InternString("nil")}, nil
	}
	return []value.Value{m.Host().InternString(displayString(args[0]))}, nil
}

func builtinType(m *vm.VM, args []value.Value) ([]value.Value, error) {
	if len(args) == 0 {
		return []value.Value{m.Host().InternString("nil")}, nil
	}
	return []value.Value{m.Host().InternString(args[0].Tag.String())}, nil
}

func builtinRawEqual(m *vm.VM, args []value.Value) ([]value.Value, error) {
	if len(args) < 2 {
		return []value.Value{value.Bool(false)}, nil
	}
	return []value.Value{value.Bool(args[0].RawEqual(args[1]))}, nil
}

// builtinSetMetatable installs a metatable on a table argument,
// routing through Host.CheckFinalizer so a `__gc` entry reclassifies
// the table as finalizable, and a `__mode` entry sets its weakness.
func builtinSetMetatable(host *vm.Host) vm.GoFunc {
	return func(m *vm.VM, args []value.Value) ([]value.Value, error) {
		if len(args) < 2 || args[0].Tag != value.TagTable {
			return nil, fmt.Errorf("setmetatable expects (table, metatable)")
		}
		t, _ := args[0].AsObject().(*value.Table)
		var mt *value.Table
		if args[1].Tag == value.TagTable {
			mt, _ = args[1].AsObject().(*value.Table)
		}
		mode := value.Nil
		if mt != nil {
			mode = mt.Get(host.Strs.Literal("__mode"))
		}
		weakMode := vm.WeakModeFromString("")
		if mode.IsString() {
			weakMode = vm.WeakModeFromString(mode.Str())
		}
		t.SetMetatable(mt, weakMode)
		host.CheckFinalizer(mt, t)
		return []value.Value{args[0]}, nil
	}
}

func builtinOSTime(m *vm.VM, args []value.Value) ([]value.Value, error) {
	return []value.Value{value.Int(time.Now().Unix())}, nil
}

func builtinOSClock(m *vm.VM, args []value.Value) ([]value.Value, error) {
	return []value.Value{value.Float(float64(time.Now().UnixNano()) / 1e9)}, nil
}

// handle is the Data payload of a "resource handle" userdata:
// opening one allocates a finalizer-bearing object whose __gc closes
// it.
type handle struct {
	name   string
	closed bool
}

// builtinNewHandle allocates a userdata wrapping a handle and
// installs a metatable whose `__gc` entry marks it closed:
// host.CheckFinalizer moves the userdata onto the finalizable list as
// soon as the metatable is assigned.
func builtinNewHandle(host *vm.Host) vm.GoFunc {
	return func(m *vm.VM, args []value.Value) ([]value.Value, error) {
		name := "handle"
		if len(args) > 0 && args[0].IsString() {
			name = args[0].Str()
		}
		u := host.NewUserdata(&handle{name: name})
		mt := host.NewTable()
		host.TableSet(mt, host.Strs.Literal("__gc"), value.LightFunction(vm.GoFunc(
			func(*vm.VM, []value.Value) ([]value.Value, error) {
				u.Data.(*handle).closed = true
				return nil, nil
			},
		)))
		host.CheckFinalizer(mt, u)
		return []value.Value{value.Object(value.TagUserdata, u)}, nil
	}
}

// installCache installs a global "cache" table whose values are weak
// (`__mode = "v"`), so entries are dropped once nothing else
// references their value.
func installCache(host *vm.Host) {
	cache := host.NewTable()
	mt := host.NewTable()
	host.TableSet(mt, host.Strs.Literal("__mode"), host.InternString("v"))
	cache.SetMetatable(mt, vm.WeakModeFromString("v"))
	host.TableSet(host.Globals, host.Strs.Literal("cache"), value.Object(value.TagTable, cache))
}

func displayString(v value.Value) string {
	if s, ok := toDisplay(v); ok {
		return s
	}
	return fmt.Sprintf("%s: %p", v.Tag, v.AsObject())
}

func toDisplay(v value.Value) (string, bool) {
	switch v.Tag {
	case value.TagNil:
		return "nil", true
	case value.TagBool:
		return fmt.Sprintf("%t", v.AsBool()), true
	case value.TagInt:
		return fmt.Sprintf("%d", v.AsInt()), true
	case value.TagFloat:
		return fmt.Sprintf("%.14g", v.AsFloat()), true
	case value.TagShortString, value.TagLongString:
		return v.Str(), true
	default:
		return "", false
	}
}
