package value_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gscript/internal/value"
)

func TestShortStringsInternByContent(t *testing.T) {
	tbl := value.NewStrings(1)
	a := tbl.Intern("hello")
	b := tbl.Intern("hel" + "lo")
	require.Equal(t, value.TagShortString, a.Tag)
	require.True(t, a.RawEqual(b))
	require.Equal(t, 1, tbl.Len())
}

func TestLongStringsAreHeapObjects(t *testing.T) {
	tbl := value.NewStrings(1)
	long := strings.Repeat("x", 100)
	v := tbl.Intern(long)
	require.Equal(t, value.TagLongString, v.Tag)
	require.True(t, v.IsCollectable())
	require.Equal(t, long, v.Str())
}

func TestLongStringEqualityByContent(t *testing.T) {
	tbl := value.NewStrings(1)
	long := strings.Repeat("ab", 60)
	v1 := tbl.Intern(long)
	v2 := tbl.Intern(strings.Repeat("ab", 60))
	// Distinct heap objects, equal content.
	require.NotSame(t, v1.AsObject(), v2.AsObject())
	require.True(t, v1.RawEqual(v2))
}

func TestLiteralCacheReturnsSameValue(t *testing.T) {
	tbl := value.NewStrings(1)
	lit := "door"
	v1 := tbl.Literal(lit)
	v2 := tbl.Literal(lit)
	require.True(t, v1.RawEqual(v2))
}

func TestIntAndFloatNeverRawEqual(t *testing.T) {
	require.False(t, value.Int(1).RawEqual(value.Float(1.0)))
	require.True(t, value.Int(1).RawEqual(value.Int(1)))
	require.True(t, value.Float(1.0).RawEqual(value.Float(1.0)))
}

func TestFalsiness(t *testing.T) {
	require.True(t, value.Nil.IsFalsy())
	require.True(t, value.Bool(false).IsFalsy())
	require.False(t, value.Bool(true).IsFalsy())
	require.False(t, value.Int(0).IsFalsy(), "zero is truthy")
	require.False(t, value.ShortString("").IsFalsy(), "empty string is truthy")
}
