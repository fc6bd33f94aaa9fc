package models

import (
	"time"

	"github.com/ferryfs/ferry/pkg/protocol"
)

// File is the metadata record of one stored file.
//
// Exactly one of {Public == true, RecipientID != nil, neither} holds at a
// time; that choice is the file's storage tier (public, shared, private).
// The on-disk location of the backing bytes is a pure function of the
// tier, the owner username, the recipient username, and Name.
type File struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string    `gorm:"not null;size:36;index" json:"owner_id"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	Size        int64     `gorm:"not null" json:"size"`
	Public      bool      `gorm:"default:false;index" json:"public"`
	RecipientID *string   `gorm:"size:36;index" json:"recipient_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	Owner     *User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Recipient *User `gorm:"foreignKey:RecipientID" json:"recipient,omitempty"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// Tier derives the storage tier from the visibility fields.
func (f *File) Tier() protocol.Tier {
	switch {
	case f.Public:
		return protocol.TierPublic
	case f.RecipientID != nil:
		return protocol.TierShared
	default:
		return protocol.TierPrivate
	}
}
