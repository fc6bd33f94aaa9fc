package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/auth"
	"github.com/ferryfs/ferry/pkg/metadata/models"
	"github.com/ferryfs/ferry/pkg/protocol"
	"github.com/ferryfs/ferry/pkg/session"
	"github.com/ferryfs/ferry/pkg/storage"
)

func (c *connection) handleRegister(ctx context.Context, cmd protocol.Register) (string, error) {
	err := c.server.auth.Register(ctx, cmd.Username, cmd.Password)
	switch {
	case err == nil:
		return protocol.RespRegisterSuccess, c.write(protocol.RespRegisterSuccess)
	case errors.Is(err, models.ErrDuplicateUser):
		return protocol.RespRegisterFailed, c.write(protocol.RespRegisterFailed, "username already exists")
	case errors.Is(err, auth.ErrEmptyCredentials):
		return protocol.RespRegisterFailed, c.write(protocol.RespRegisterFailed, "username and password required")
	default:
		logger.Error("Registration failed", "username", cmd.Username, "error", err)
		return protocol.RespRegisterFailed, c.write(protocol.RespRegisterFailed, "internal error")
	}
}

func (c *connection) handleLogin(ctx context.Context, cmd protocol.Login) (string, error) {
	result, err := c.server.auth.Login(ctx, cmd.Username, cmd.Password)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) && !errors.Is(err, auth.ErrEmptyCredentials) {
			logger.Error("Login failed", "username", cmd.Username, "error", err)
		}
		return protocol.RespLoginFailed, c.write(protocol.RespLoginFailed)
	}

	c.session = result.SessionID
	return protocol.RespLoginSuccess, c.write(
		protocol.RespLoginSuccess, result.SessionID, result.Username, result.Role, result.UserID)
}

func (c *connection) handleLogout(ctx context.Context, cmd protocol.Logout) (string, error) {
	err := c.server.auth.Logout(ctx, cmd.SessionID())
	if cmd.SessionID() == c.session {
		c.session = ""
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return protocol.RespInvalidSession, c.write(protocol.RespInvalidSession)
		}
		logger.Error("Logout failed", "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}
	return protocol.RespLogoutSuccess, c.write(protocol.RespLogoutSuccess)
}

func (c *connection) handleList(ctx context.Context, sess session.Data, cmd protocol.List) (string, error) {
	var (
		files []*models.File
		err   error
	)
	switch cmd.Tier {
	case protocol.TierPublic:
		files, err = c.server.store.ListPublicFiles(ctx)
	case protocol.TierShared:
		files, err = c.server.store.ListSharedFiles(ctx, sess.UserID)
	default:
		files, err = c.server.store.ListPrivateFiles(ctx, sess.UserID)
	}
	if err != nil {
		logger.Error("List failed", "tier", cmd.Tier, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	if len(files) == 0 {
		return protocol.RespListEmpty, c.write(protocol.RespListEmpty)
	}

	entries := make([]string, 0, len(files))
	for _, f := range files {
		entries = append(entries, f.ID+":"+f.Name)
	}
	return protocol.RespListSuccess, c.write(protocol.RespListSuccess, strings.Join(entries, protocol.ListJoiner))
}

func (c *connection) handleMakePublic(ctx context.Context, sess session.Data, cmd protocol.MakePublic) (string, error) {
	if cmd.Admin && sess.Role != string(models.RoleAdmin) {
		return protocol.RespPermissionDenied, c.write(protocol.RespPermissionDenied)
	}

	var (
		file *models.File
		err  error
	)
	if cmd.Admin {
		file, err = c.resolveAnyFile(ctx, cmd.Identifier)
	} else {
		file, err = c.resolveOwnedFile(ctx, sess, cmd.Identifier)
	}
	if err != nil {
		return c.fileErrorResponse(err)
	}
	if file.Public {
		// Already public; idempotent success.
		return c.makePublicSuccess(cmd.Admin)
	}

	// The public namespace is shared between owners, same as for uploads:
	// refuse to move onto another owner's name.
	if taken, err := c.clearDestination(ctx, file, protocol.TierPublic, nil); err != nil {
		logger.Error("Destination check failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	} else if taken {
		return protocol.RespError, c.write(protocol.RespError, "destination name in use")
	}

	srcPath, dstPath, err := c.tierPaths(ctx, file, protocol.TierPublic, nil)
	if err != nil {
		logger.Error("Path resolution failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	// The conditional row update is the authorization and atomicity
	// boundary; the preceding lookup only located the record.
	if cmd.Admin {
		err = c.server.store.SetFileVisibility(ctx, file.ID, true, nil)
	} else {
		err = c.server.store.SetFileVisibilityOwned(ctx, file.ID, sess.UserID, true, nil)
	}
	if err != nil {
		return c.fileErrorResponse(err)
	}

	if err := c.server.layout.Move(srcPath, dstPath); err != nil {
		logger.Error("Failed to relocate file bytes", "file", file.ID, "error", err)
		// Roll the metadata back so it keeps pointing at the bytes.
		if rbErr := c.server.store.SetFileVisibility(ctx, file.ID, false, file.RecipientID); rbErr != nil {
			logger.Error("Rollback failed, metadata and bytes diverged", "file", file.ID, "error", rbErr)
		}
		return protocol.RespError, c.write(protocol.RespError, "failed to relocate file")
	}

	logger.Info("File made public", "file", file.ID, "name", file.Name, "by", sess.Username)
	return c.makePublicSuccess(cmd.Admin)
}

func (c *connection) makePublicSuccess(admin bool) (string, error) {
	if admin {
		return protocol.RespAdminPublicSuccess, c.write(protocol.RespAdminPublicSuccess)
	}
	return protocol.RespMakePublicSuccess, c.write(protocol.RespMakePublicSuccess)
}

func (c *connection) handleMakeShared(ctx context.Context, sess session.Data, cmd protocol.MakeShared) (string, error) {
	recipient, err := c.server.store.GetUser(ctx, cmd.Recipient)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return protocol.RespError, c.write(protocol.RespError, "recipient not found")
		}
		logger.Error("Recipient lookup failed", "recipient", cmd.Recipient, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	file, err := c.resolveOwnedFile(ctx, sess, cmd.Identifier)
	if err != nil {
		return c.fileErrorResponse(err)
	}

	if taken, err := c.clearDestination(ctx, file, protocol.TierShared, recipient); err != nil {
		logger.Error("Destination check failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	} else if taken {
		return protocol.RespError, c.write(protocol.RespError, "destination name in use")
	}

	srcPath, dstPath, err := c.tierPaths(ctx, file, protocol.TierShared, recipient)
	if err != nil {
		logger.Error("Path resolution failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	if err := c.server.store.SetFileVisibilityOwned(ctx, file.ID, sess.UserID, false, &recipient.ID); err != nil {
		return c.fileErrorResponse(err)
	}

	if err := c.server.layout.Move(srcPath, dstPath); err != nil {
		logger.Error("Failed to relocate file bytes", "file", file.ID, "error", err)
		if rbErr := c.server.store.SetFileVisibility(ctx, file.ID, file.Public, file.RecipientID); rbErr != nil {
			logger.Error("Rollback failed, metadata and bytes diverged", "file", file.ID, "error", rbErr)
		}
		return protocol.RespError, c.write(protocol.RespError, "failed to relocate file")
	}

	logger.Info("File shared", "file", file.ID, "name", file.Name, "owner", sess.Username, "recipient", recipient.Username)
	return protocol.RespMakeSharedSuccess, c.write(protocol.RespMakeSharedSuccess)
}

func (c *connection) handleDelete(ctx context.Context, sess session.Data, cmd protocol.Delete) (string, error) {
	if cmd.Admin {
		return c.handleAdminDelete(ctx, sess, cmd)
	}

	file, err := c.resolveOwnedFile(ctx, sess, cmd.Identifier)
	if err != nil {
		return c.fileErrorResponse(err)
	}

	path, err := c.filePath(ctx, file)
	if err != nil {
		logger.Error("Path resolution failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	if err := c.server.store.DeleteFileOwned(ctx, file.ID, sess.UserID); err != nil {
		return c.fileErrorResponse(err)
	}

	if err := c.server.layout.Remove(path); err != nil {
		// The record is gone; orphaned bytes are only a space leak.
		logger.Warn("Failed to remove file bytes", "file", file.ID, "path", path, "error", err)
	}

	logger.Info("File deleted", "file", file.ID, "name", file.Name, "by", sess.Username)
	return protocol.RespDeleteSuccess, c.write(protocol.RespDeleteSuccess)
}

// handleAdminDelete deletes a public file on behalf of an admin. Private
// and shared files are off limits even to admins.
func (c *connection) handleAdminDelete(ctx context.Context, sess session.Data, cmd protocol.Delete) (string, error) {
	if sess.Role != string(models.RoleAdmin) {
		return protocol.RespPermissionDenied, c.write(protocol.RespPermissionDenied)
	}

	file, err := c.resolvePublicFile(ctx, cmd.Identifier)
	if err != nil {
		return c.fileErrorResponse(err)
	}
	if !file.Public {
		return protocol.RespPermissionDenied, c.write(protocol.RespPermissionDenied)
	}

	path, err := c.filePath(ctx, file)
	if err != nil {
		logger.Error("Path resolution failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	// Conditional on public=true so an admin delete racing a visibility
	// change can never remove a file that just went private.
	if err := c.server.store.DeleteFilePublic(ctx, file.ID); err != nil {
		return c.fileErrorResponse(err)
	}

	if err := c.server.layout.Remove(path); err != nil {
		logger.Warn("Failed to remove file bytes", "file", file.ID, "path", path, "error", err)
	}

	logger.Info("Public file deleted by admin", "file", file.ID, "name", file.Name, "admin", sess.Username)
	return protocol.RespDeleteSuccess, c.write(protocol.RespDeleteSuccess)
}

// errNotOwner marks a file that resolved but belongs to someone else.
var errNotOwner = errors.New("caller does not own file")

func (c *connection) fileErrorResponse(err error) (string, error) {
	switch {
	case errors.Is(err, errNotOwner):
		return protocol.RespPermissionDenied, c.write(protocol.RespPermissionDenied)
	case errors.Is(err, models.ErrFileNotFound), errors.Is(err, models.ErrUserNotFound):
		return protocol.RespFileNotFound, c.write(protocol.RespFileNotFound)
	case errors.Is(err, storage.ErrUnsafeName):
		return protocol.RespError, c.write(protocol.RespError, "invalid file name")
	default:
		logger.Error("File operation failed", "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}
}

// resolveOwnedFile resolves an identifier to a file owned by the caller.
// The identifier is a file id or a bare filename; ownership is verified
// here for a useful PERMISSION_DENIED, and enforced again atomically by
// the conditional update that follows.
func (c *connection) resolveOwnedFile(ctx context.Context, sess session.Data, identifier string) (*models.File, error) {
	if file, err := c.server.store.GetFile(ctx, identifier); err == nil {
		if file.OwnerID != sess.UserID {
			return nil, errNotOwner
		}
		return file, nil
	} else if !errors.Is(err, models.ErrFileNotFound) {
		return nil, err
	}

	name, err := storage.SafeName(identifier)
	if err != nil {
		return nil, err
	}
	return c.server.store.GetOwnedFileByName(ctx, sess.UserID, name)
}

// resolveAnyFile resolves an identifier regardless of owner: a file id or
// an owner/filename composite. Used by the admin make-public path.
func (c *connection) resolveAnyFile(ctx context.Context, identifier string) (*models.File, error) {
	if file, err := c.server.store.GetFile(ctx, identifier); err == nil {
		return file, nil
	} else if !errors.Is(err, models.ErrFileNotFound) {
		return nil, err
	}

	owner, name, ok := splitComposite(identifier)
	if !ok {
		return nil, models.ErrFileNotFound
	}
	user, err := c.server.store.GetUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	safe, err := storage.SafeName(name)
	if err != nil {
		return nil, err
	}
	return c.server.store.GetOwnedFileByName(ctx, user.ID, safe)
}

// resolvePublicFile resolves an identifier to a public file: a file id or
// a bare filename in the flat public namespace.
func (c *connection) resolvePublicFile(ctx context.Context, identifier string) (*models.File, error) {
	if file, err := c.server.store.GetFile(ctx, identifier); err == nil {
		return file, nil
	} else if !errors.Is(err, models.ErrFileNotFound) {
		return nil, err
	}

	name, err := storage.SafeName(identifier)
	if err != nil {
		return nil, err
	}
	return c.server.store.GetPublicFileByName(ctx, name)
}

// splitComposite splits an owner/filename composite identifier.
func splitComposite(identifier string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(identifier, "/")
	if !ok || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// filePath resolves the on-disk path of a file in its current tier.
func (c *connection) filePath(ctx context.Context, file *models.File) (string, error) {
	owner, recipient, err := c.fileUsernames(ctx, file)
	if err != nil {
		return "", err
	}
	return c.server.layout.FilePath(file.Tier(), owner, recipient, file.Name)
}

// tierPaths resolves the current path of a file and its path in the
// target tier. newRecipient is set only when the target tier is shared.
func (c *connection) tierPaths(ctx context.Context, file *models.File, target protocol.Tier, newRecipient *models.User) (src, dst string, err error) {
	src, err = c.filePath(ctx, file)
	if err != nil {
		return "", "", err
	}

	owner, _, err := c.fileUsernames(ctx, file)
	if err != nil {
		return "", "", err
	}
	recipientName := ""
	if newRecipient != nil {
		recipientName = newRecipient.Username
	}
	dst, err = c.server.layout.FilePath(target, owner, recipientName, file.Name)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// fileUsernames returns the owner and recipient usernames of a file,
// using the preloaded associations when present.
func (c *connection) fileUsernames(ctx context.Context, file *models.File) (owner, recipient string, err error) {
	if file.Owner != nil {
		owner = file.Owner.Username
	} else {
		u, err := c.server.store.GetUserByID(ctx, file.OwnerID)
		if err != nil {
			return "", "", fmt.Errorf("resolve owner: %w", err)
		}
		owner = u.Username
	}

	if file.RecipientID != nil {
		if file.Recipient != nil {
			recipient = file.Recipient.Username
		} else {
			u, err := c.server.store.GetUserByID(ctx, *file.RecipientID)
			if err != nil {
				return "", "", fmt.Errorf("resolve recipient: %w", err)
			}
			recipient = u.Username
		}
	}
	return owner, recipient, nil
}
