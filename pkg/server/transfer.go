package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ferryfs/ferry/internal/bytesize"
	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/metadata/models"
	"github.com/ferryfs/ferry/pkg/protocol"
	"github.com/ferryfs/ferry/pkg/session"
	"github.com/ferryfs/ferry/pkg/storage"
)

// handleUpload runs the upload handshake: validate, READY_FOR_DATA,
// receive exactly the declared byte count, then commit metadata. The
// metadata row is written only after the byte count matches, so a failed
// transfer never leaves a record pointing at missing bytes.
func (c *connection) handleUpload(ctx context.Context, sess session.Data, cmd protocol.Upload) (string, error) {
	name, err := storage.SafeName(cmd.Filename)
	if err != nil {
		return protocol.RespError, c.write(protocol.RespError, "invalid file name")
	}

	var recipient *models.User
	if cmd.Tier == protocol.TierShared {
		recipient, err = c.server.store.GetUser(ctx, cmd.Recipient)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				return protocol.RespUploadFailed, c.write(protocol.RespUploadFailed, "recipient not found")
			}
			logger.Error("Recipient lookup failed", "recipient", cmd.Recipient, "error", err)
			return protocol.RespError, c.write(protocol.RespError, "internal error")
		}
	}

	recipientName := ""
	if recipient != nil {
		recipientName = recipient.Username
	}
	path, err := c.server.layout.FilePath(cmd.Tier, sess.Username, recipientName, name)
	if err != nil {
		return protocol.RespError, c.write(protocol.RespError, "invalid file name")
	}

	// Public and shared namespaces are shared between owners; refuse to
	// overwrite another owner's bytes at the same destination name.
	if taken, err := c.destinationTaken(ctx, sess, cmd.Tier, name, recipient); err != nil {
		logger.Error("Destination check failed", "name", name, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	} else if taken {
		return protocol.RespUploadFailed, c.write(protocol.RespUploadFailed, "destination name in use")
	}

	if err := c.write(protocol.RespReadyForData); err != nil {
		return protocol.RespReadyForData, err
	}

	received, recvErr := c.receiveBytes(ctx, path, cmd.Size)
	if c.server.metrics != nil && received > 0 {
		c.server.metrics.RecordBytesTransferred("in", uint64(received))
	}
	if recvErr != nil || received != cmd.Size {
		// Partial bytes are deleted; no metadata row was ever written.
		if err := c.server.layout.Remove(path); err != nil {
			logger.Warn("Failed to remove partial upload", "path", path, "error", err)
		}
		logger.Warn("Upload incomplete",
			"name", name, "owner", sess.Username,
			"declared", bytesize.ByteSize(cmd.Size), "received", bytesize.ByteSize(received),
			"error", recvErr)
		if writeErr := c.write(protocol.RespUploadIncomplete); writeErr != nil {
			return protocol.RespUploadIncomplete, writeErr
		}
		// A short transfer usually means the peer is gone; if the write
		// above succeeded the connection is still usable.
		return protocol.RespUploadIncomplete, nil
	}

	if err := c.commitUpload(ctx, sess, cmd.Tier, name, cmd.Size, recipient); err != nil {
		logger.Error("Failed to commit upload metadata", "name", name, "owner", sess.Username, "error", err)
		if err := c.server.layout.Remove(path); err != nil {
			logger.Warn("Failed to remove uncommitted upload", "path", path, "error", err)
		}
		return protocol.RespUploadFailed, c.write(protocol.RespUploadFailed, "metadata commit failed")
	}

	logger.Info("Upload complete",
		"name", name, "tier", cmd.Tier, "owner", sess.Username, "size", bytesize.ByteSize(cmd.Size))
	return protocol.RespUploadSuccess, c.write(protocol.RespUploadSuccess)
}

// receiveBytes streams exactly size bytes from the connection into path.
// It returns the number of bytes actually received; a zero-length read or
// any error before size is reached ends the transfer early.
func (c *connection) receiveBytes(ctx context.Context, path string, size int64) (int64, error) {
	f, err := c.server.layout.Create(path)
	if err != nil {
		return 0, err
	}

	var received int64
	buf := make([]byte, c.server.config.BufferSize)

	for received < size {
		select {
		case <-ctx.Done():
			f.Close()
			return received, ctx.Err()
		default:
		}

		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		c.resetIdleDeadline()
		n, readErr := c.conn.Read(chunk)
		if n > 0 {
			if _, writeErr := f.Write(chunk[:n]); writeErr != nil {
				f.Close()
				return received, fmt.Errorf("write to disk: %w", writeErr)
			}
			received += int64(n)
		}
		if readErr != nil {
			f.Close()
			if errors.Is(readErr, io.EOF) && received == size {
				return received, nil
			}
			return received, readErr
		}
		if n == 0 {
			f.Close()
			return received, io.ErrUnexpectedEOF
		}
	}

	if err := f.Close(); err != nil {
		return received, fmt.Errorf("flush upload: %w", err)
	}
	return received, nil
}

// destinationTaken reports whether the destination name in a shared
// namespace (public or shared tier) already belongs to a different owner.
// Re-uploading one's own file is allowed and supersedes it.
func (c *connection) destinationTaken(ctx context.Context, sess session.Data, tier protocol.Tier, name string, recipient *models.User) (bool, error) {
	var (
		existing *models.File
		err      error
	)
	switch tier {
	case protocol.TierPublic:
		existing, err = c.server.store.GetPublicFileByName(ctx, name)
	case protocol.TierShared:
		existing, err = c.server.store.GetSharedFileByName(ctx, recipient.ID, name)
	default:
		return false, nil
	}
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	return existing.OwnerID != sess.UserID, nil
}

// clearDestination guards a visibility change into a shared namespace
// the same way destinationTaken guards an upload, keyed on the file's
// owner rather than the caller so admin promotions behave the same. A
// name held by a different owner blocks the move; the owner's own
// record at that name is superseded like a re-upload.
func (c *connection) clearDestination(ctx context.Context, file *models.File, target protocol.Tier, recipient *models.User) (bool, error) {
	var (
		existing *models.File
		err      error
	)
	switch target {
	case protocol.TierPublic:
		existing, err = c.server.store.GetPublicFileByName(ctx, file.Name)
	case protocol.TierShared:
		existing, err = c.server.store.GetSharedFileByName(ctx, recipient.ID, file.Name)
	default:
		return false, nil
	}
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	if existing.ID == file.ID {
		return false, nil
	}
	if existing.OwnerID != file.OwnerID {
		return true, nil
	}
	if err := c.server.store.DeleteFileOwned(ctx, existing.ID, existing.OwnerID); err != nil && !errors.Is(err, models.ErrFileNotFound) {
		return false, err
	}
	return false, nil
}

// commitUpload writes the metadata row for a completed upload. A
// previous file at the same destination path is superseded: its row is
// removed first so the name maps to exactly one live record.
func (c *connection) commitUpload(ctx context.Context, sess session.Data, tier protocol.Tier, name string, size int64, recipient *models.User) error {
	var (
		existing *models.File
		err      error
	)
	switch tier {
	case protocol.TierPublic:
		existing, err = c.server.store.GetPublicFileByName(ctx, name)
	case protocol.TierShared:
		existing, err = c.server.store.GetSharedFileByName(ctx, recipient.ID, name)
	default:
		existing, err = c.server.store.GetPrivateFileByName(ctx, sess.UserID, name)
	}
	if err == nil && existing.OwnerID == sess.UserID {
		if err := c.server.store.DeleteFileOwned(ctx, existing.ID, sess.UserID); err != nil && !errors.Is(err, models.ErrFileNotFound) {
			return err
		}
	} else if err != nil && !errors.Is(err, models.ErrFileNotFound) {
		return err
	}

	file := &models.File{
		OwnerID: sess.UserID,
		Name:    name,
		Size:    size,
		Public:  tier == protocol.TierPublic,
	}
	if recipient != nil {
		file.RecipientID = &recipient.ID
	}
	_, err = c.server.store.CreateFile(ctx, file)
	return err
}

// handleDownload runs the download handshake: authorize, DOWNLOAD_READY
// with name and size, wait for the client's ready ack, stream the bytes,
// then read the client's completion ack.
func (c *connection) handleDownload(ctx context.Context, sess session.Data, cmd protocol.Download) (string, error) {
	file, err := c.resolveDownload(ctx, sess, cmd)
	if err != nil {
		return c.fileErrorResponse(err)
	}

	if !c.mayDownload(sess, file) {
		return protocol.RespPermissionDenied, c.write(protocol.RespPermissionDenied)
	}

	path, err := c.filePath(ctx, file)
	if err != nil {
		logger.Error("Path resolution failed", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}

	f, size, err := c.server.layout.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("File record has no backing bytes", "file", file.ID, "path", path)
			return protocol.RespFileNotFound, c.write(protocol.RespFileNotFound)
		}
		logger.Error("Failed to open file", "file", file.ID, "error", err)
		return protocol.RespError, c.write(protocol.RespError, "internal error")
	}
	defer f.Close()

	if err := c.write(protocol.RespDownloadReady, file.Name, strconv.FormatInt(size, 10)); err != nil {
		return protocol.RespDownloadReady, err
	}

	// The client acknowledges before the stream starts so the READY
	// response and the payload cannot land in one socket read.
	c.resetIdleDeadline()
	ack, err := protocol.ReadMessage(c.conn)
	if err != nil {
		return protocol.RespDownloadReady, err
	}
	if ack != protocol.AckReadyForData {
		logger.Warn("Unexpected download ack", "expected", protocol.AckReadyForData, "got", ack)
		return protocol.RespDownloadReady, nil
	}

	sent, err := c.sendBytes(ctx, f, size)
	if c.server.metrics != nil && sent > 0 {
		c.server.metrics.RecordBytesTransferred("out", uint64(sent))
	}
	if err != nil || sent != size {
		logger.Warn("Download incomplete",
			"file", file.ID, "name", file.Name,
			"size", bytesize.ByteSize(size), "sent", bytesize.ByteSize(sent), "error", err)
		if err != nil {
			return protocol.RespDownloadReady, err
		}
		return protocol.RespDownloadReady, nil
	}

	c.resetIdleDeadline()
	if ack, err := protocol.ReadMessage(c.conn); err != nil {
		logger.Warn("Missing transfer completion ack", "file", file.ID, "error", err)
		return protocol.RespDownloadReady, err
	} else if ack != protocol.AckTransferComplete {
		logger.Warn("Unexpected transfer completion ack", "file", file.ID, "got", ack)
	}

	logger.Info("Download complete",
		"file", file.ID, "name", file.Name, "tier", file.Tier(), "by", sess.Username,
		"size", bytesize.ByteSize(size))
	return protocol.RespDownloadReady, nil
}

// sendBytes streams size bytes from f to the connection in buffer-sized
// chunks.
func (c *connection) sendBytes(ctx context.Context, f *os.File, size int64) (int64, error) {
	var sent int64
	buf := make([]byte, c.server.config.BufferSize)

	for sent < size {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			c.resetIdleDeadline()
			written, writeErr := c.conn.Write(buf[:n])
			sent += int64(written)
			if writeErr != nil {
				return sent, writeErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return sent, nil
			}
			return sent, readErr
		}
	}
	return sent, nil
}

// resolveDownload resolves a download identifier: a file id, a bare
// filename in the requested tier, or an owner/filename composite.
func (c *connection) resolveDownload(ctx context.Context, sess session.Data, cmd protocol.Download) (*models.File, error) {
	if file, err := c.server.store.GetFile(ctx, cmd.Identifier); err == nil {
		return file, nil
	} else if !errors.Is(err, models.ErrFileNotFound) {
		return nil, err
	}

	if owner, name, ok := splitComposite(cmd.Identifier); ok {
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

	name, err := storage.SafeName(cmd.Identifier)
	if err != nil {
		return nil, err
	}
	switch cmd.Tier {
	case protocol.TierPublic:
		return c.server.store.GetPublicFileByName(ctx, name)
	case protocol.TierShared:
		return c.server.store.GetSharedFileByName(ctx, sess.UserID, name)
	default:
		return c.server.store.GetPrivateFileByName(ctx, sess.UserID, name)
	}
}

// mayDownload reports whether sess may read file: public files are open
// to any authenticated user, otherwise the caller must be the owner, the
// recipient, or an admin.
func (c *connection) mayDownload(sess session.Data, file *models.File) bool {
	if file.Public {
		return true
	}
	if file.OwnerID == sess.UserID {
		return true
	}
	if file.RecipientID != nil && *file.RecipientID == sess.UserID {
		return true
	}
	return sess.Role == string(models.RoleAdmin)
}
