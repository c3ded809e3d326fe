package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueFromJSON(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind ValueKind
	}{
		{"null", `null`, KindNull},
		{"bool", `true`, KindBool},
		{"number", `42.5`, KindNumber},
		{"string", `"hello"`, KindString},
		{"array", `[1, 2, 3]`, KindArray},
		{"object", `{"a": 1}`, KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueFromJSON([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}

	_, err := ValueFromJSON([]byte(`{bad`))
	assert.Error(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	in := `{"b":[1,2,{"x":null}],"a":"text","c":true}`
	v, err := ValueFromJSON([]byte(in))
	require.NoError(t, err)

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	// keys come back sorted
	assert.Equal(t, `{"a":"text","b":[1,2,{"x":null}],"c":true}`, string(out))

	again, err := ValueFromJSON(out)
	require.NoError(t, err)
	assert.True(t, v.Equal(again))
}

func TestValueCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		expected int
	}{
		{"null equals null", NullValue, NullValue, 0},
		{"kind order null before bool", NullValue, BoolValue(false), -1},
		{"false before true", BoolValue(false), BoolValue(true), -1},
		{"numbers numeric", NumberValue(2), NumberValue(10), -1},
		{"equal numbers", NumberValue(1.5), NumberValue(1.5), 0},
		{"strings bytewise", StringValue("a"), StringValue("b"), -1},
		{"number before string", NumberValue(99), StringValue("1"), -1},
		{"array prefix shorter first", ArrayValue(NumberValue(1)), ArrayValue(NumberValue(1), NumberValue(2)), -1},
		{"array element order", ArrayValue(NumberValue(2)), ArrayValue(NumberValue(1), NumberValue(9)), 1},
		{
			"objects by key then value",
			ObjectValue(map[string]Value{"a": NumberValue(1)}),
			ObjectValue(map[string]Value{"a": NumberValue(2)}),
			-1,
		},
		{
			"object key order",
			ObjectValue(map[string]Value{"a": NumberValue(1)}),
			ObjectValue(map[string]Value{"b": NumberValue(1)}),
			-1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.a.Compare(tt.b)
			switch {
			case tt.expected < 0:
				assert.Negative(t, c)
				assert.Positive(t, tt.b.Compare(tt.a))
			case tt.expected > 0:
				assert.Positive(t, c)
			default:
				assert.Zero(t, c)
				assert.True(t, tt.a.Equal(tt.b))
			}
		})
	}
}

func TestValueEqualStructural(t *testing.T) {
	a, err := ValueFromJSON([]byte(`{"x": [1, {"y": "z"}], "n": 1}`))
	require.NoError(t, err)
	b, err := ValueFromJSON([]byte(`{"n": 1.0, "x": [1, {"y": "z"}]}`))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := ValueFromJSON([]byte(`{"n": 1, "x": [1, {"y": "w"}]}`))
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestValueFieldAccess(t *testing.T) {
	v, err := ValueFromJSON([]byte(`{"stage": "proposal"}`))
	require.NoError(t, err)

	f, ok := v.Field("stage")
	require.True(t, ok)
	assert.Equal(t, "proposal", f.String())

	_, ok = v.Field("missing")
	assert.False(t, ok)

	_, ok = StringValue("not-an-object").Field("stage")
	assert.False(t, ok)
}
