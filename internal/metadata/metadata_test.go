package metadata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/testutil"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID         int64          `bun:"id,pk,autoincrement"`
	Name       string         `bun:"name"`
	Enabled    bool           `bun:"enabled"`
	Labels     []string       `bun:"labels,array"`
	Attributes map[string]any `bun:"attributes,type:jsonb"`
	Photo      string         `bun:"photo"`
	Secret     string         `bun:"secret"`
	CreatedAt  time.Time      `bun:"created_at"`
}

func TestRegisterDerivesColumns(t *testing.T) {
	reg := metadata.NewRegistry(testutil.SQLite(t))
	ent, err := reg.Register(metadata.Definition{
		Name:    "widgets",
		Model:   (*widget)(nil),
		Visible: []string{"id", "name", "enabled", "labels", "attributes", "photo"},
		Uploads: map[string]metadata.UploadRule{
			"photo": {AllowedMime: []string{"image/*"}, StoragePath: "widgets"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "widgets", ent.Table)
	assert.Equal(t, "id", ent.PrimaryKey)

	kinds := map[string]metadata.ColumnKind{
		"id":         metadata.KindScalar,
		"enabled":    metadata.KindBool,
		"labels":     metadata.KindArray,
		"attributes": metadata.KindJSON,
		"created_at": metadata.KindScalar,
	}
	for name, want := range kinds {
		col, ok := ent.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, want, col.Kind, name)
	}

	assert.True(t, ent.Visible("name"))
	assert.False(t, ent.Visible("secret"))
	assert.True(t, ent.Persists("secret"))
	assert.False(t, ent.Visible("$tags"))

	rule, ok := ent.Upload("photo")
	require.True(t, ok)
	assert.Equal(t, []string{"image/*"}, rule.AllowedMime)
	_, ok = ent.Upload("name")
	assert.False(t, ok)
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	reg := metadata.NewRegistry(testutil.SQLite(t))

	_, err := reg.Register(metadata.Definition{Name: "a", Model: (*widget)(nil), Visible: []string{"nope"}})
	assert.Error(t, err)

	_, err = reg.Register(metadata.Definition{
		Name:    "b",
		Model:   (*widget)(nil),
		Uploads: map[string]metadata.UploadRule{"avatar": {}},
	})
	assert.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	reg := metadata.NewRegistry(testutil.SQLite(t))
	reg.MustRegister(metadata.Definition{Name: "widgets", Model: (*widget)(nil)})

	_, err := reg.Register(metadata.Definition{Name: "widgets", Model: (*widget)(nil)})
	assert.Error(t, err)

	ent, err := reg.Get("widgets")
	require.NoError(t, err)
	assert.Len(t, ent.VisibleFields(), 8)

	_, err = reg.Get("gadgets")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"widgets"}, reg.Names())
}

func TestIsVirtual(t *testing.T) {
	assert.True(t, metadata.IsVirtual("$tags"))
	assert.False(t, metadata.IsVirtual("tags"))
}
