package value

import (
	"unsafe"

	"github.com/dolthub/swiss"
	"gscript/internal/gc"
)

// maxShortLen is the cutover between unboxed short strings (stored
// directly in a Value, interned by content) and heap-allocated long
// strings.
const maxShortLen = 40

// hashLimitBits bounds how many bytes of a long string hashBytes
// samples: at most 2^5 bytes are visited regardless of string
// length.
const hashLimitBits = 5

// hashBytes is a seeded rolling hash that strides through the string
// so long strings cost O(1) bytes examined instead of O(len).
func hashBytes(s string, seed uint32) uint32 {
	h := seed ^ uint32(len(s))
	step := (len(s) >> hashLimitBits) + 1
	for l := len(s); l >= step; l -= step {
		h ^= (h << 5) + (h >> 2) + uint32(s[l-1])
	}
	return h
}

// LongString is the heap-managed representation of a string longer
// than maxShortLen. It carries a lazily-computed, cached hash so
// repeated table lookups on the same long string don't re-walk its
// bytes.
type LongString struct {
	header gc.Header
	data   string
	seed   uint32
	hash   uint32
	hashed bool
}

func newLongString(s string, seed uint32) *LongString {
	return &LongString{data: s, seed: seed}
}

func (s *LongString) Header() *gc.Header     { return &s.header }
func (s *LongString) Kind() gc.Kind          { return gc.KindString }
func (s *LongString) WeakMode() gc.WeakMode  { return gc.WeakNone }
func (s *LongString) IsWhite() bool          { return s.header.IsWhite() }
func (s *LongString) Traverse(func(gc.Object)) {}
func (s *LongString) TraverseEphemeron(func(gc.Object) bool, func(gc.Object)) bool {
	return false
}
func (s *LongString) ClearWeak(func(gc.Object) bool) {}
func (s *LongString) HasFinalizer() bool             { return false }
func (s *LongString) RunFinalizer() error             { return nil }

func (s *LongString) String() string { return s.data }
func (s *LongString) Len() int       { return len(s.data) }

// Hash returns the string's hash, computing and caching it on first
// use.
func (s *LongString) Hash() uint32 {
	if !s.hashed {
		s.hash = hashBytes(s.data, s.seed)
		s.hashed = true
	}
	return s.hash
}

// EqualLongString compares identity first, content second.
func EqualLongString(a, b *LongString) bool {
	return a == b || (len(a.data) == len(b.data) && a.data == b.data)
}

// strCacheN and strCacheM size the address-keyed literal cache:
// strCacheN direct-mapped rows of strCacheM entries each.
const (
	strCacheN = 53
	strCacheM = 2
)

// Strings is the string subsystem: it interns short strings by
// content into a swiss.Map, caches literal-to-Value lookups by
// source-literal address, and mints long strings as fresh heap
// objects. Named Strings rather than Table to avoid colliding with
// this package's hash/array Table type (table.go).
type Strings struct {
	seed  uint32
	short *swiss.Map[string, Value]
	cache [strCacheN][strCacheM]literalEntry
}

type literalEntry struct {
	addr uintptr
	src  string
	val  Value
	set  bool
}

// NewStrings builds a string subsystem; seed randomizes the hash for
// flood resistance.
func NewStrings(seed uint32) *Strings {
	return &Strings{seed: seed, short: swiss.NewMap[string, Value](64)}
}

// Intern returns the canonical Value for s: a deduplicated unboxed
// short string, or a freshly allocated long string heap object.
func (t *Strings) Intern(s string) Value {
	if len(s) <= maxShortLen {
		return t.internShort(s)
	}
	return Object(TagLongString, newLongString(s, t.seed))
}

func (t *Strings) internShort(s string) Value {
	if v, ok := t.short.Get(s); ok {
		return v
	}
	v := ShortString(s)
	t.short.Put(s, v)
	return v
}

// Literal is the address-cached entry point for string literals
// embedded in compiled bytecode: repeated references to the exact same
// Go string header (e.g. the same constant-pool entry decoded twice)
// skip the hash/lookup path entirely.
func (t *Strings) Literal(s string) Value {
	addr := uintptr(unsafe.Pointer(unsafe.StringData(s)))
	i := addr % strCacheN
	row := &t.cache[i]
	for j := 0; j < strCacheM; j++ {
		if row[j].set && row[j].src == s {
			return row[j].val
		}
	}
	v := t.Intern(s)
	for j := strCacheM - 1; j > 0; j-- {
		row[j] = row[j-1]
	}
	row[0] = literalEntry{addr: addr, src: s, val: v, set: true}
	return v
}

// Len reports the number of distinct short strings currently interned.
func (t *Strings) Len() int { return t.short.Count() }
