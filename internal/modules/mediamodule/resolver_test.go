package mediamodule

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nightjar-media/nightjar/internal/database"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.MediaFile{}))
	return NewResolver(db, hclog.NewNullLogger())
}

func seedFile(t *testing.T, r *Resolver, id, path string) {
	t.Helper()
	require.NoError(t, r.db.Create(&database.MediaFile{
		ID:        id,
		Path:      path,
		Container: "mkv",
		Title:     "Test Movie",
	}).Error)
}

func TestResolveKnownFile(t *testing.T) {
	r := newTestResolver(t)
	seedFile(t, r, "media-1", "/library/movie.mkv")

	path, err := r.Resolve(context.Background(), "media-1")
	require.NoError(t, err)
	assert.Equal(t, "/library/movie.mkv", path)
}

func TestResolveUnknownFile(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, streamingmodule.ErrMediaFileNotFound)
}

func TestGet(t *testing.T) {
	r := newTestResolver(t)
	seedFile(t, r, "media-1", "/library/movie.mkv")

	file, err := r.Get(context.Background(), "media-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Movie", file.Title)

	_, err = r.Get(context.Background(), "media-2")
	assert.ErrorIs(t, err, streamingmodule.ErrMediaFileNotFound)
}

func TestList(t *testing.T) {
	r := newTestResolver(t)
	seedFile(t, r, "media-1", "/library/a.mkv")
	seedFile(t, r, "media-2", "/library/b.mkv")

	files, err := r.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = r.List(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
