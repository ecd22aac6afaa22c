// Package mediamodule exposes the media catalog to the rest of the
// application. The streaming engine depends on it only through the
// resolver seam.
package mediamodule

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/nightjar-media/nightjar/internal/database"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// Resolver looks media files up in the catalog database.
type Resolver struct {
	logger hclog.Logger
	db     *gorm.DB
}

// NewResolver creates a catalog-backed media resolver.
func NewResolver(db *gorm.DB, logger hclog.Logger) *Resolver {
	return &Resolver{
		logger: logger.Named("media-resolver"),
		db:     db,
	}
}

// Resolve maps a media file id to its on-disk path. Unknown ids report
// streamingmodule.ErrMediaFileNotFound so the caller can distinguish a bad
// request from a broken catalog.
func (r *Resolver) Resolve(ctx context.Context, mediaFileID string) (string, error) {
	var file database.MediaFile
	err := r.db.WithContext(ctx).
		Select("path").
		Where("id = ?", mediaFileID).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", streamingmodule.ErrMediaFileNotFound
		}
		return "", fmt.Errorf("lookup media file %s: %w", mediaFileID, err)
	}
	return file.Path, nil
}

// List returns a page of catalogued files, newest first.
func (r *Resolver) List(ctx context.Context, limit, offset int) ([]database.MediaFile, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var files []database.MediaFile
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	return files, nil
}

// Get returns the full catalog record for one file.
func (r *Resolver) Get(ctx context.Context, mediaFileID string) (*database.MediaFile, error) {
	var file database.MediaFile
	err := r.db.WithContext(ctx).Where("id = ?", mediaFileID).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, streamingmodule.ErrMediaFileNotFound
		}
		return nil, fmt.Errorf("get media file %s: %w", mediaFileID, err)
	}
	return &file, nil
}
