package canonicalize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestJCSNestedDeterminism(t *testing.T) {
	v := map[string]any{
		"z": []any{map[string]any{"k2": "v", "k1": true}},
		"a": map[string]any{"nested": nil},
	}
	first, err := JCS(v)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := JCS(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"s": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"<a>&</a>"}`, string(out))
}

func TestJCSRejectsNaNAndInf(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := JCS(map[string]any{"x": bad})
		require.ErrorIs(t, err, ErrNonCanonical)
	}
}

func TestJCSRejectsNonUTF8Key(t *testing.T) {
	_, err := JCS(map[string]any{string([]byte{0xff, 0xfe}): 1})
	require.ErrorIs(t, err, ErrNonCanonical)
}

// Round trip: canonical(parse(canonical(x))) == canonical(x).
func TestJCSRoundTrip(t *testing.T) {
	v := map[string]any{
		"b":   []any{1.5, "two", false},
		"a":   map[string]any{"y": "x", "x": 10},
		"nul": nil,
	}
	first, err := JCS(v)
	require.NoError(t, err)

	var parsed any
	require.NoError(t, json.Unmarshal(first, &parsed))

	second, err := JCS(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCanonicalHashStable(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashBytes(t *testing.T) {
	// sha256("") is a fixed vector
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}
