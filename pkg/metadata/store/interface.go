package store

import (
	"context"
	"time"

	"github.com/ferryfs/ferry/pkg/metadata/models"
)

// Store is the metadata persistence interface the protocol core consumes.
// GORMStore is the production implementation; tests may substitute their
// own.
type Store interface {
	// User operations
	GetUser(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (string, error)
	UpdateUserSession(ctx context.Context, userID string, sessionID *string) error
	UpdateLastLogin(ctx context.Context, userID string, timestamp time.Time) error

	// File lookups
	GetFile(ctx context.Context, id string) (*models.File, error)
	GetPrivateFileByName(ctx context.Context, ownerID, name string) (*models.File, error)
	GetPublicFileByName(ctx context.Context, name string) (*models.File, error)
	GetSharedFileByName(ctx context.Context, recipientID, name string) (*models.File, error)
	GetOwnedFileByName(ctx context.Context, ownerID, name string) (*models.File, error)

	// File listings
	ListPrivateFiles(ctx context.Context, ownerID string) ([]*models.File, error)
	ListPublicFiles(ctx context.Context) ([]*models.File, error)
	ListSharedFiles(ctx context.Context, userID string) ([]*models.File, error)

	// File mutations; each is a single conditional row operation
	CreateFile(ctx context.Context, file *models.File) (string, error)
	SetFileVisibility(ctx context.Context, fileID string, public bool, recipientID *string) error
	SetFileVisibilityOwned(ctx context.Context, fileID, ownerID string, public bool, recipientID *string) error
	DeleteFileOwned(ctx context.Context, fileID, ownerID string) error
	DeleteFilePublic(ctx context.Context, fileID string) error

	Ping(ctx context.Context) error
	Close() error
}

// Interface conformance check.
var _ Store = (*GORMStore)(nil)
