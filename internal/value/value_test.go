package value

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny_Nested(t *testing.T) {
	in := map[string]any{
		"query":  "climate adaptation",
		"limit":  5,
		"strict": true,
		"tags":   []any{"a", "b"},
		"extra":  nil,
		"nested": map[string]any{"score": 0.5},
	}

	v, err := MapFromAny(in)
	require.NoError(t, err)

	q, ok := v.String("query")
	assert.True(t, ok)
	assert.Equal(t, "climate adaptation", q)

	limit, ok := v.Int("limit")
	assert.True(t, ok)
	assert.Equal(t, 5, limit)

	strict, ok := v.Bool("strict")
	assert.True(t, ok)
	assert.True(t, strict)

	tags, ok := v.StringList("tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)

	assert.False(t, v.Has("extra"))
	assert.False(t, v.Has("missing"))

	nested, ok := v.Map("nested")
	require.True(t, ok)
	score, ok := nested.Number("score")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-12)
}

func TestFromAny_UnsupportedType(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	_, err = MapFromAny(map[string]any{"ch": make(chan int)})
	assert.ErrorContains(t, err, `key "ch"`)
}

func TestMap_IntRejectsFractions(t *testing.T) {
	m := Map{"n": Number(2.5)}
	_, ok := m.Int("n")
	assert.False(t, ok)
}

func TestMap_StringListRejectsMixedKinds(t *testing.T) {
	m := Map{"l": List{String("a"), Number(1)}}
	_, ok := m.StringList("l")
	assert.False(t, ok)
}

func TestMap_JSONRoundTrip(t *testing.T) {
	m := Map{
		"name":  String("summary"),
		"count": Number(3),
		"items": List{String("x"), Bool(false), Null{}},
		"meta":  Map{"k": String("v")},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Map
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func TestParseMap(t *testing.T) {
	m, err := ParseMap(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = ParseMap([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = ParseMap([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = ParseMap([]byte(`{"n": 1e400}`))
	assert.Error(t, err)
}

func TestSortedKeys(t *testing.T) {
	m := Map{"b": Null{}, "a": Null{}, "c": Null{}}
	assert.Equal(t, []string{"a", "b", "c"}, m.SortedKeys())
}

func TestFromAny_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FromAny(map[string]any{"score": f})
		require.ErrorIs(t, err, ErrNonFinite)
	}
	_, err := FromAny(float32(math.Inf(1)))
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestCheckFinite(t *testing.T) {
	require.NoError(t, CheckFinite(Map{"a": Number(1), "b": List{Number(2), String("x")}}))
	require.NoError(t, CheckFinite(nil))

	err := CheckFinite(Map{"hits": List{Number(0.3), Map{"score": Number(math.NaN())}}})
	require.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), `key "hits": index 1: key "score"`)
}
