package chunkio_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"gscript/internal/chunkio"
	"gscript/internal/lexer"
	"gscript/internal/value"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	strs := value.NewStrings(0)
	proto, err := lexer.Compile("chunk", `
		local greeting = "hello"
		local function twice(x)
			return x + x
		end
		answer = twice(21)
		return greeting, answer, 1.5
	`, strs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, chunkio.Dump(&buf, proto))

	loaded, err := chunkio.LoadInto(bytes.NewReader(buf.Bytes()), strs)
	require.NoError(t, err)

	require.Equal(t, proto.Code, loaded.Code)
	require.Equal(t, proto.Lines, loaded.Lines)
	require.Equal(t, proto.NumParams(), loaded.NumParams())
	require.Equal(t, proto.IsVararg(), loaded.IsVararg())
	require.Equal(t, proto.MaxStackSize(), loaded.MaxStackSize())
	require.Len(t, loaded.Constants, len(proto.Constants))
	for i := range proto.Constants {
		require.True(t, proto.Constants[i].RawEqual(loaded.Constants[i]),
			"constant %d differs after round trip", i)
	}
	require.Len(t, loaded.Protos, len(proto.Protos))
	require.Equal(t, proto.Protos[0].Code, loaded.Protos[0].Code)
	require.Equal(t, proto.Protos[0].NumParams(), loaded.Protos[0].NumParams())
	require.Equal(t, proto.Upvalues, loaded.Upvalues)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := chunkio.Load(bytes.NewReader([]byte("NOPE....")))
	require.Error(t, err)
}

func TestLoadRejectsTruncatedChunk(t *testing.T) {
	strs := value.NewStrings(0)
	proto, err := lexer.Compile("chunk", "return 1", strs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, chunkio.Dump(&buf, proto))
	_, err = chunkio.Load(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	require.Error(t, err)
}
