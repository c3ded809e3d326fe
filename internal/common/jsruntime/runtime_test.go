package jsruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"arithmetic", "record.a + record.b", false},
		{"conditional", "record.stage === 'won' ? record.amount : 0", false},
		{"string concat", "record.first_name + ' ' + record.last_name", false},
		{"empty", "", true},
		{"syntax error", "record.a +", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEval(t *testing.T) {
	ctx := context.Background()

	t.Run("number result", func(t *testing.T) {
		e, err := Compile("record.quantity * record.unit_price")
		require.NoError(t, err)
		got, err := e.Eval(ctx, []byte(`{"quantity": 3, "unit_price": 2.5}`), Options{})
		require.NoError(t, err)
		assert.Equal(t, 7.5, got)
	})

	t.Run("string result", func(t *testing.T) {
		e, err := Compile("record.first_name + ' ' + record.last_name")
		require.NoError(t, err)
		got, err := e.Eval(ctx, []byte(`{"first_name": "Ada", "last_name": "Lovelace"}`), Options{})
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got)
	})

	t.Run("missing key yields null", func(t *testing.T) {
		e, err := Compile("record.missing === undefined ? null : record.missing")
		require.NoError(t, err)
		got, err := e.Eval(ctx, []byte(`{}`), Options{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("runtime error", func(t *testing.T) {
		e, err := Compile("record.a.b.c")
		require.NoError(t, err)
		_, err = e.Eval(ctx, []byte(`{}`), Options{})
		assert.ErrorIs(t, err, ErrExecutionError)
	})

	t.Run("timeout interrupts", func(t *testing.T) {
		e, err := Compile("(function() { for (;;) {} })()")
		require.NoError(t, err)
		_, err = e.Eval(ctx, []byte(`{}`), Options{Timeout: 50 * time.Millisecond})
		assert.ErrorIs(t, err, ErrExecutionTimeout)
	})

	t.Run("function result rejected", func(t *testing.T) {
		e, err := Compile("(function() { return 1; })")
		require.NoError(t, err)
		_, err = e.Eval(ctx, []byte(`{}`), Options{})
		assert.Error(t, err)
	})
}
