package canonjson

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_KeyOrdering(t *testing.T) {
	in := map[string]any{"b": 1, "a": 2, "c": 3}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestMarshal_NoWhitespace(t *testing.T) {
	in := map[string]any{"x": []any{1, 2, 3}}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"x":[1,2,3]}`, string(out))
}

func TestMarshal_IntegerShortestForm(t *testing.T) {
	out, err := Marshal(42)
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))
}

func TestMarshal_NonFiniteNumberRejected(t *testing.T) {
	_, err := Marshal(math.NaN())
	assert.ErrorIs(t, err, ErrNonFiniteNumber)

	_, err = Marshal(math.Inf(1))
	assert.ErrorIs(t, err, ErrNonFiniteNumber)
}

func TestMarshal_UnsupportedValueRejected(t *testing.T) {
	_, err := Marshal(func() {})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestMarshal_HTMLCharsNotEscaped(t *testing.T) {
	out, err := Marshal("<a>&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(out))
}

func TestMarshal_RoundTripIdentity(t *testing.T) {
	// spec.md §8 item 5: canonical(parse(canonical(x))) == canonical(x).
	in := map[string]any{"z": "hello", "a": []any{1, "two", true, nil}}
	first, err := Marshal(in)
	require.NoError(t, err)

	var parsed any
	require.NoError(t, json.Unmarshal(first, &parsed))

	second, err := Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestMarshal_DeterministicAcrossCalls(t *testing.T) {
	in := map[string]any{"run": "r1", "node": "n1", "attempt": 3}
	a, err := Marshal(in)
	require.NoError(t, err)
	b, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshal_UnicodeNormalization(t *testing.T) {
	// "e" + combining acute accent (NFD) should canonicalize the same as
	// precomposed "é" (NFC).
	nfd := "é"
	nfc := "é"
	outNFD, err := Marshal(nfd)
	require.NoError(t, err)
	outNFC, err := Marshal(nfc)
	require.NoError(t, err)
	assert.Equal(t, string(outNFC), string(outNFD))
}

func TestMarshal_LineSeparatorsNotEscaped(t *testing.T) {
	out, err := Marshal("a b c")
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(out))
}

func TestEqual(t *testing.T) {
	same, err := Equal(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.True(t, same)

	diff, err := Equal(map[string]any{"a": 1}, map[string]any{"a": 2})
	require.NoError(t, err)
	assert.False(t, diff)
}
