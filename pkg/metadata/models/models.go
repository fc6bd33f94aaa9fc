// Package models defines the persisted entities of the ferry metadata
// store: user accounts and file records.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&File{},
	}
}
