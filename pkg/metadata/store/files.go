package store

import (
	"context"
	"time"

	"github.com/ferryfs/ferry/pkg/metadata/models"
)

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "id", id, models.ErrFileNotFound, "Owner", "Recipient")
}

// GetPrivateFileByName looks up a private-tier file by owner and name.
func (s *GORMStore) GetPrivateFileByName(ctx context.Context, ownerID, name string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Where("owner_id = ? AND name = ? AND public = ? AND recipient_id IS NULL", ownerID, name, false).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// GetPublicFileByName looks up a public-tier file by name. The public
// directory is flat, so the name identifies at most one live file.
func (s *GORMStore) GetPublicFileByName(ctx context.Context, name string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Where("name = ? AND public = ?", name, true).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// GetSharedFileByName looks up a shared-tier file by recipient and name.
func (s *GORMStore) GetSharedFileByName(ctx context.Context, recipientID, name string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Recipient").
		Where("recipient_id = ? AND name = ?", recipientID, name).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// GetOwnedFileByName looks up any file owned by ownerID with the given
// name, regardless of tier. Used for owner-initiated visibility changes.
func (s *GORMStore) GetOwnedFileByName(ctx context.Context, ownerID, name string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Recipient").
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// ListPrivateFiles returns the private-tier files owned by ownerID.
func (s *GORMStore) ListPrivateFiles(ctx context.Context, ownerID string) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Where("owner_id = ? AND public = ? AND recipient_id IS NULL", ownerID, false).
		Order("name").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListPublicFiles returns every public-tier file.
func (s *GORMStore) ListPublicFiles(ctx context.Context) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Where("public = ?", true).
		Order("name").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListSharedFiles returns the shared-tier files visible to userID, either
// as recipient or as the sharing owner.
func (s *GORMStore) ListSharedFiles(ctx context.Context, userID string) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Recipient").
		Where("recipient_id IS NOT NULL AND (recipient_id = ? OR owner_id = ?)", userID, userID).
		Order("name").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) CreateFile(ctx context.Context, file *models.File) (string, error) {
	file.CreatedAt = time.Now()
	return createWithID(s.db, ctx, file, func(f *models.File, id string) { f.ID = id }, file.ID, models.ErrDuplicateFile)
}

// SetFileVisibility updates a file's tier fields by primary key. The
// single-row conditional update is the atomicity boundary for visibility
// changes; callers must not rely on a preceding existence check.
func (s *GORMStore) SetFileVisibility(ctx context.Context, fileID string, public bool, recipientID *string) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"public":       public,
			"recipient_id": recipientID,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// SetFileVisibilityOwned is SetFileVisibility restricted to files owned
// by ownerID, so ownership enforcement and the update are one atomic row
// operation.
func (s *GORMStore) SetFileVisibilityOwned(ctx context.Context, fileID, ownerID string, public bool, recipientID *string) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ? AND owner_id = ?", fileID, ownerID).
		Updates(map[string]any{
			"public":       public,
			"recipient_id": recipientID,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// DeleteFileOwned deletes a file record if and only if ownerID owns it.
func (s *GORMStore) DeleteFileOwned(ctx context.Context, fileID, ownerID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", fileID, ownerID).
		Delete(&models.File{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// DeleteFilePublic deletes a file record if and only if it is public.
// This backs the admin delete path, which may not touch private or
// shared files.
func (s *GORMStore) DeleteFilePublic(ctx context.Context, fileID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND public = ?", fileID, true).
		Delete(&models.File{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}
