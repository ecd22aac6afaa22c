package database

import "time"

// MediaFile is one catalogued file in the library. The streaming engine
// only ever resolves an id to a path; richer metadata lives with the
// scanning and enrichment subsystems.
type MediaFile struct {
	ID        string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Path      string    `gorm:"type:varchar(1024);not null" json:"path"`
	Container string    `gorm:"type:varchar(32)" json:"container"`
	SizeBytes int64     `json:"size_bytes"`
	Title     string    `gorm:"type:varchar(512)" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (MediaFile) TableName() string {
	return "media_files"
}
