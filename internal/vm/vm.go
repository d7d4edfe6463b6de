package vm

import (
	"fmt"

	"github.com/rs/zerolog"

	"gscript/internal/code"
	"gscript/internal/diag"
	"gscript/internal/gc"
	"gscript/internal/value"
)

// stackSlots sizes every thread's fixed value stack. The stack is
// never reallocated once created, so open-upvalue pointers into it
// stay valid for the thread's whole lifetime; a grow would leave them
// dangling.
const stackSlots = 8192

// GoFunc is a host-native function value, stored as a light-function
// payload (value.LightFunction): the entry-point shape
// internal/stdlib registers into the globals table.
type GoFunc func(vm *VM, args []value.Value) ([]value.Value, error)

// frame is one active call's register window: a slice of the owning
// thread's fixed stack, plus the call's PC and varargs.
type frame struct {
	closure *value.Closure
	proto   *code.Prototype
	base    int // index into thread.Stack where R(0) lives
	pc      int
	varargs []value.Value
}

func (fr *frame) reg(thread *value.Thread, i int) *value.Value {
	return &thread.Stack[fr.base+i]
}

// DebugHook, if set, is invoked once per executed instruction. This
// field is only a seam so future work has somewhere to attach
// line/call/return hooks without reshaping the dispatch loop; no
// hook dispatch logic is implemented.
type DebugHook func(vm *VM, line int)

// VM is one interpreter instance driving a single Host's heap and
// main thread.
type VM struct {
	host   *Host
	thread *value.Thread
	frames []*frame
	log    zerolog.Logger

	DebugHook DebugHook
}

// New builds a VM bound to host, wiring host.caller so that a
// finalizer (__gc) can invoke a closure as ordinary user code without
// internal/gc importing internal/vm. The host's identity tag is
// folded into every subsequent log line so traces from different
// hosts can be told apart.
func New(host *Host, log zerolog.Logger) *VM {
	vm := &VM{
		host:   host,
		thread: host.Main,
		log:    log.With().Str("component", "vm").Str("host", host.ID.String()).Logger(),
	}
	host.SetCaller(func(fn value.Value, args []value.Value) ([]value.Value, error) {
		return vm.CallValue(fn, args)
	})
	vm.log.Debug().Msg("vm started")
	return vm
}

// RootClosure wraps proto in a closure whose upvalues are all bound
// directly to the global table; internal/lexer/scope.go's
// ensureEnvUpval comment: "the outermost chunk... installing upvalue 0
// as a host-provided slot... bound directly to the global table
// instead of copying a parent register/upvalue." A freshly parsed
// top-level chunk has exactly one upvalue ("_ENV"); any others would
// only appear if proto were handed in from chunkio with stale
// descriptors, so every upvalue here is conservatively bound to
// globals rather than just upvalue 0.
func (vm *VM) RootClosure(proto *code.Prototype) *value.Closure {
	cl := vm.host.NewClosure(proto, len(proto.Upvalues))
	env := value.Object(value.TagTable, vm.host.Globals)
	for i := range proto.Upvalues {
		cl.Upvals[i] = value.NewClosedUpvalue(env)
	}
	return cl
}

// Run compiles nothing itself (internal/lexer does that): it drives
// proto as the top-level chunk.
func (vm *VM) Run(proto *code.Prototype) ([]value.Value, error) {
	cl := vm.RootClosure(proto)
	return vm.Call(cl, nil)
}

// Call invokes closure cl with args, running its prototype's
// instructions to completion (a RETURN at depth 0 relative to this
// call). Nested CALL/TAILCALL opcodes recurse into Call again, one Go
// stack frame per gscript call frame.
func (vm *VM) Call(cl *value.Closure, args []value.Value) ([]value.Value, error) {
	proto, ok := cl.Proto.(*code.Prototype)
	if !ok {
		return nil, diag.Runtime(0, fmt.Errorf("closure has no prototype"))
	}
	base := vm.nextBase()
	if base+proto.MaxStackSize() > len(vm.thread.Stack) {
		return nil, diag.Runtime(0, fmt.Errorf("stack overflow"))
	}
	fr := &frame{closure: cl, proto: proto, base: base}
	np := proto.NumParams()
	for i := 0; i < np; i++ {
		if i < len(args) {
			*fr.reg(vm.thread, i) = args[i]
		} else {
			*fr.reg(vm.thread, i) = value.Nil
		}
	}
	if proto.IsVararg() && len(args) > np {
		fr.varargs = append([]value.Value(nil), args[np:]...)
	}
	vm.frames = append(vm.frames, fr)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()
	return vm.execFrame(fr)
}

// CallValue invokes fn, which may be a closure (value.TagClosure) or
// a host-native GoFunc (value.TagLightFunction) registered by
// internal/stdlib.
func (vm *VM) CallValue(fn value.Value, args []value.Value) ([]value.Value, error) {
	switch fn.Tag {
	case value.TagClosure:
		cl, _ := fn.AsObject().(*value.Closure)
		if cl == nil {
			return nil, diag.Runtime(0, fmt.Errorf("attempt to call a non-function value"))
		}
		return vm.Call(cl, args)
	case value.TagLightFunction:
		gf, ok := fn.AsNative().(GoFunc)
		if !ok {
			return nil, diag.Runtime(0, fmt.Errorf("attempt to call a non-function value"))
		}
		return gf(vm, args)
	default:
		return nil, diag.Runtime(0, fmt.Errorf("attempt to call a %s value", fn.Tag))
	}
}

// nextBase picks the register-window base for a newly pushed frame:
// directly above the top of the currently executing frame's window,
// or 0 for the first call. All frames of a thread share its one
// stack.
func (vm *VM) nextBase() int {
	if len(vm.frames) == 0 {
		return 0
	}
	top := vm.frames[len(vm.frames)-1]
	return top.base + top.proto.MaxStackSize()
}

// Host exposes the bound Host, used by internal/stdlib entry points
// that need to allocate heap objects or intern strings.
func (vm *VM) Host() *Host { return vm.host }

// Globals returns the interpreter's global table, the binding every
// root closure's "_ENV" upvalue resolves to.
func (vm *VM) Globals() *value.Table { return vm.host.Globals }

var _ gc.Object = (*value.Table)(nil)
