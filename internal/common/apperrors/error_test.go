package apperrors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("ancestry", func(t *testing.T) {
		base := New("base error")
		assert.Equal(t, "base error", base.Error())
		assert.ErrorIs(t, base, base)

		child := base.New("child error")
		assert.Equal(t, "child error", child.Error())
		assert.ErrorIs(t, child, base)

		grandchild := child.New("grandchild error")
		assert.ErrorIs(t, grandchild, child)
		assert.ErrorIs(t, grandchild, base)

		other := New("other error")
		assert.NotErrorIs(t, child, other)
	})

	t.Run("wrapping", func(t *testing.T) {
		base := New("base error")
		child := base.New("child error")

		cause := errors.New("cause")
		wrapped := child.Err(cause)
		assert.Equal(t, "child error", wrapped.Error())
		assert.ErrorIs(t, wrapped, base)
		assert.ErrorIs(t, wrapped, cause)

		wrapped = child.MsgErr("replaced", cause)
		assert.Equal(t, "replaced", wrapped.Error())
		assert.ErrorIs(t, wrapped, base)
		assert.ErrorIs(t, wrapped, cause)

		// deriving must not mutate the shared error value
		assert.Equal(t, "child error", child.Error())
	})

	t.Run("status codes", func(t *testing.T) {
		base := New("base error").SetStatusCode(http.StatusBadRequest)
		child := base.New("child error")
		assert.Equal(t, http.StatusBadRequest, child.StatusCode())

		conflict := child.SetStatusCode(http.StatusConflict)
		assert.Equal(t, http.StatusConflict, conflict.StatusCode())
	})

	t.Run("expand", func(t *testing.T) {
		e := New("outer").SetExpandError(true).Err(errors.New("inner1"), errors.New("inner2"))
		assert.Equal(t, "outer: inner1; inner2", e.ErrorAll())

		plain := New("outer").Err(errors.New("inner"))
		assert.Equal(t, "outer", plain.ErrorAll())
	})
}
