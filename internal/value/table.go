package value

import "gscript/internal/gc"

// Proto is the narrow view internal/value needs of a compiled function
// prototype (internal/code.Prototype) to build a Closure around it,
// without internal/value importing internal/code; that import would
// run the other direction already (code imports value for the tagged
// Value type used in the constant pool), so this interface keeps the
// dependency one-way.
type Proto interface {
	gc.Object
	NumParams() int
	IsVararg() bool
	MaxStackSize() int
}

// Table is the hash/array hybrid container, GC-managed and
// optionally weak: a contiguous array part for dense integer keys and
// a map for everything else.
type Table struct {
	header gc.Header
	array  []Value
	hash   map[Value]Value
	meta   *Table
	mode   gc.WeakMode
	gcFn   func(*Table) error
}

func NewTable() *Table {
	return &Table{hash: make(map[Value]Value)}
}

func (t *Table) Header() *gc.Header    { return &t.header }
func (t *Table) Kind() gc.Kind         { return gc.KindTable }
func (t *Table) WeakMode() gc.WeakMode { return t.mode }

// IsWhite satisfies value.GCObject: lets a Table travel inside a
// tagged Value (value.Object) without internal/value re-importing
// internal/gc's full Object interface at that call site.
func (t *Table) IsWhite() bool { return t.header.IsWhite() }

// Metatable returns the table's metatable, or nil.
func (t *Table) Metatable() *Table { return t.meta }

// SetMetatable installs mt and recomputes weakness from its __mode
// field (the caller is expected to have already read the `__mode`
// string off mt and translated it to a gc.WeakMode; see internal/vm's
// host glue, which owns string-key metamethod lookups).
func (t *Table) SetMetatable(mt *Table, mode gc.WeakMode) {
	t.meta = mt
	t.mode = mode
}

// SetFinalizer registers fn as this table's __gc metamethod reference.
// Tables are a convenient finalizer carrier for tests; real finalizers
// mostly live on userdata (internal/value/userdata.go).
func (t *Table) SetFinalizer(fn func(*Table) error) { t.gcFn = fn }

func (t *Table) HasFinalizer() bool { return t.gcFn != nil }

func (t *Table) RunFinalizer() error {
	if t.gcFn == nil {
		return nil
	}
	fn := t.gcFn
	t.gcFn = nil
	return fn(t)
}

// Get performs a raw (metamethod-free) lookup; integer keys in
// [1,len(array)] are served from the array part.
func (t *Table) Get(key Value) Value {
	if key.Tag == TagInt {
		if i := key.AsInt(); i >= 1 && int(i) <= len(t.array) {
			return t.array[i-1]
		}
	}
	if v, ok := t.hash[key]; ok {
		return v
	}
	return Nil
}

// Set performs a raw store. Storing Nil at an existing key removes
// it.
func (t *Table) Set(key, val Value) {
	if key.Tag == TagInt {
		i := key.AsInt()
		if i >= 1 && int(i) <= len(t.array) {
			t.array[i-1] = val
			return
		}
		if int(i) == len(t.array)+1 && !val.IsNil() {
			t.array = append(t.array, val)
			t.migrateFromHash()
			return
		}
	}
	if val.IsNil() {
		delete(t.hash, key)
		return
	}
	t.hash[key] = val
}

// migrateFromHash pulls any hash entries that now extend the array
// part contiguously, so a table filled out of order still densifies.
func (t *Table) migrateFromHash() {
	for {
		key := Int(int64(len(t.array) + 1))
		v, ok := t.hash[key]
		if !ok {
			return
		}
		delete(t.hash, key)
		t.array = append(t.array, v)
	}
}

// Len implements the `#t` length operator over the array part only;
// for tables with holes any border is a valid answer.
func (t *Table) Len() int { return len(t.array) }

// Traverse marks the metatable and every key/value not excluded by
// this table's declared weakness. A WeakKeys table's values are
// handled instead by TraverseEphemeron during the atomic-phase
// fixpoint; a WeakValues/WeakBoth table's weak side(s) are left for
// ClearWeak once mark reaches fixpoint.
func (t *Table) Traverse(mark func(gc.Object)) {
	if t.meta != nil {
		mark(t.meta)
	}
	markValue := func(v Value) {
		if v.IsCollectable() {
			if obj := v.AsObject(); obj != nil {
				mark(obj.(gc.Object))
			}
		}
	}
	switch t.mode {
	case gc.WeakNone:
		for _, v := range t.array {
			markValue(v)
		}
		for k, v := range t.hash {
			markValue(k)
			markValue(v)
		}
	case gc.WeakKeys:
		// Ephemeron: neither side marked strongly here.
	case gc.WeakValues:
		// Keys are strong, values are weak: mark keys only. Array-part
		// slots are implicitly keyed by integer, never collectable.
		for k := range t.hash {
			markValue(k)
		}
	case gc.WeakBoth:
		// allweak: neither side marked strongly here.
	}
}

// TraverseEphemeron is meaningful only when WeakMode() == WeakKeys: for
// every hash entry whose key already satisfies isMarked, mark its
// value. Returns true if this pass marked anything new, so the
// collector's atomic-phase loop (internal/gc/weak.go) can detect
// fixpoint.
func (t *Table) TraverseEphemeron(isMarked func(gc.Object) bool, mark func(gc.Object)) bool {
	if t.mode != gc.WeakKeys {
		return false
	}
	progressed := false
	for k, v := range t.hash {
		if !k.IsCollectable() || !v.IsCollectable() {
			continue
		}
		kobj, ok := k.AsObject().(gc.Object)
		if !ok || !isMarked(kobj) {
			continue
		}
		vobj, ok := v.AsObject().(gc.Object)
		if !ok || isMarked(vobj) {
			continue
		}
		mark(vobj)
		progressed = true
	}
	return progressed
}

// ClearWeak nils the weak side(s) of dead entries and purges fully
// dead ones.
func (t *Table) ClearWeak(isMarked func(gc.Object) bool) {
	if t.mode == gc.WeakNone {
		return
	}
	dead := func(v Value) bool {
		if !v.IsCollectable() {
			return false
		}
		obj, ok := v.AsObject().(gc.Object)
		return ok && !isMarked(obj)
	}
	if t.mode == gc.WeakValues || t.mode == gc.WeakBoth {
		for i, v := range t.array {
			if dead(v) {
				t.array[i] = Nil
			}
		}
	}
	for k, v := range t.hash {
		keyDead := (t.mode == gc.WeakKeys || t.mode == gc.WeakBoth) && dead(k)
		valDead := (t.mode == gc.WeakValues || t.mode == gc.WeakBoth) && dead(v)
		switch {
		case keyDead:
			delete(t.hash, k)
		case valDead:
			t.hash[k] = Nil
		}
	}
}
