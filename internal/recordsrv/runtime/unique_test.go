package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/pkg/types"
)

func TestUniqueHashAcceptsEveryKind(t *testing.T) {
	// bare scalars must hash, not just objects
	for name, v := range map[string]types.Value{
		"string":  types.StringValue("abc"),
		"number":  types.NumberValue(3.5),
		"boolean": types.BoolValue(true),
		"array":   types.ArrayValue(types.NumberValue(1), types.StringValue("a")),
		"null":    types.NullValue,
	} {
		h, err := UniqueHash(v)
		require.Nil(t, err, name)
		assert.Len(t, h, 64, name)
	}
}

func TestUniqueHashDeterministic(t *testing.T) {
	h1, err := UniqueHash(types.StringValue("a@example.com"))
	require.Nil(t, err)
	h2, err := UniqueHash(types.StringValue("a@example.com"))
	require.Nil(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := UniqueHash(types.StringValue("b@example.com"))
	require.Nil(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestUniqueHashUnicodeNormalization(t *testing.T) {
	// "é" precomposed vs "e" + combining acute must hash identically
	composed, err := UniqueHash(types.StringValue("café"))
	require.Nil(t, err)
	decomposed, err := UniqueHash(types.StringValue("café"))
	require.Nil(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestUniqueHashTypeSensitive(t *testing.T) {
	asString, err := UniqueHash(types.StringValue("42"))
	require.Nil(t, err)
	asNumber, err := UniqueHash(types.NumberValue(42))
	require.Nil(t, err)
	assert.NotEqual(t, asString, asNumber)
}

func TestUniqueHashObjectKeyOrder(t *testing.T) {
	a := types.ObjectValue(map[string]types.Value{
		"x": types.NumberValue(1),
		"y": types.StringValue("s"),
	})
	b := types.ObjectValue(map[string]types.Value{
		"y": types.StringValue("s"),
		"x": types.NumberValue(1),
	})
	ha, err := UniqueHash(a)
	require.Nil(t, err)
	hb, err := UniqueHash(b)
	require.Nil(t, err)
	assert.Equal(t, ha, hb)
}
