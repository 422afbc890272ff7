package apperr

import (
	"database/sql"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := errors.Wrap(FileNotAllowed("name"), "build record")

	assert.ErrorIs(t, err, ErrFileNotAllowed)
	assert.NotErrorIs(t, err, ErrInvalidFormat)
	assert.Equal(t, KindFileNotAllowed, KindOf(err))
	assert.Equal(t, "build record: name: field does not accept uploads", err.Error())
}

func TestStoreKeepsClassifiedErrors(t *testing.T) {
	v := Validation("price", "must be positive")
	assert.Same(t, v, Store(v, "insert"))

	wrapped := Store(sql.ErrConnDone, "insert")
	assert.ErrorIs(t, wrapped, ErrStore)
	assert.ErrorIs(t, wrapped, sql.ErrConnDone)
	assert.Nil(t, Store(nil, "insert"))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindStore, KindOf(errors.New("boom")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("entity %q", "ghosts")))
}
