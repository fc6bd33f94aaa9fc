package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ferryfs/ferry/pkg/protocol"
)

// Upload sends a local file to the server. For the shared tier a
// recipient username is required; the other tiers ignore it. The server
// stores the file under its base name.
func (c *Client) Upload(tier protocol.Tier, localPath, recipient string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return ErrNotAuthenticated
	}
	if tier == protocol.TierShared && recipient == "" {
		return fmt.Errorf("shared upload requires a recipient")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}
	size := info.Size()
	name := filepath.Base(localPath)

	args := []string{c.session.ID, name, strconv.FormatInt(size, 10)}
	if tier == protocol.TierShared {
		args = append(args, recipient)
	}

	fields, err := c.roundTrip(uploadKeyword(tier), args...)
	if err != nil {
		return err
	}
	switch fields[0] {
	case protocol.RespReadyForData:
		// fall through to streaming
	case protocol.RespInvalidSession:
		return ErrInvalidSession
	case protocol.RespUploadFailed:
		return fmt.Errorf("%w: %s", ErrUploadFailed, detail(fields))
	case protocol.RespError:
		return fmt.Errorf("%w: %s", ErrUploadFailed, detail(fields))
	default:
		return unexpected(fields)
	}

	if err := c.streamTo(f, size); err != nil {
		return fmt.Errorf("stream upload: %w", err)
	}

	fields, err = c.recv()
	if err != nil {
		return err
	}
	switch fields[0] {
	case protocol.RespUploadSuccess:
		return nil
	case protocol.RespUploadIncomplete:
		return ErrUploadIncomplete
	case protocol.RespUploadFailed:
		return fmt.Errorf("%w: %s", ErrUploadFailed, detail(fields))
	default:
		return unexpected(fields)
	}
}

// Download fetches a file into destDir and returns the saved path. The
// identifier is a file id, a bare filename, or an owner/filename
// composite depending on the tier.
func (c *Client) Download(tier protocol.Tier, identifier, destDir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return "", ErrNotAuthenticated
	}

	fields, err := c.roundTrip(downloadKeyword(tier), c.session.ID, identifier)
	if err != nil {
		return "", err
	}
	switch fields[0] {
	case protocol.RespDownloadReady:
		// fall through to streaming
	case protocol.RespFileNotFound:
		return "", ErrFileNotFound
	case protocol.RespPermissionDenied:
		return "", ErrPermissionDenied
	case protocol.RespInvalidSession:
		return "", ErrInvalidSession
	case protocol.RespError:
		return "", fmt.Errorf("%w: %s", ErrProtocol, detail(fields))
	default:
		return "", unexpected(fields)
	}

	if len(fields) < 3 {
		return "", unexpected(fields)
	}
	name := fields[1]
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return "", fmt.Errorf("%w: bad size %q", ErrProtocol, fields[2])
	}

	// The filename is server-supplied; reduce it to a base name so a
	// compromised server cannot write outside destDir.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: bad filename", ErrProtocol)
	}
	destPath := filepath.Join(destDir, name)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open destination: %w", err)
	}

	// Ack before the stream so the READY response and payload cannot
	// land in one socket read.
	if err := c.send(protocol.AckReadyForData); err != nil {
		out.Close()
		os.Remove(destPath)
		return "", err
	}

	received, recvErr := c.streamFrom(out, size)
	if closeErr := out.Close(); recvErr == nil && closeErr != nil {
		recvErr = closeErr
	}
	if recvErr != nil || received != size {
		// Partial file on disk is an acceptable failure mode; no retry.
		if recvErr == nil {
			recvErr = ErrTransferTruncated
		}
		return destPath, fmt.Errorf("download %s: %w (received %d of %d bytes)", name, recvErr, received, size)
	}

	if err := c.send(protocol.AckTransferComplete); err != nil {
		return destPath, err
	}
	return destPath, nil
}

// streamTo writes exactly size bytes from r to the connection.
func (c *Client) streamTo(r io.Reader, size int64) error {
	buf := make([]byte, c.cfg.BufferSize)
	var sent int64
	for sent < size {
		n, readErr := r.Read(buf)
		if n > 0 {
			c.applyDeadline()
			written, writeErr := c.conn.Write(buf[:n])
			sent += int64(written)
			if writeErr != nil {
				return writeErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}
	}
	if sent != size {
		return fmt.Errorf("%w: sent %d of %d bytes", ErrTransferTruncated, sent, size)
	}
	return nil
}

// streamFrom reads exactly size bytes from the connection into w,
// returning the byte count actually received.
func (c *Client) streamFrom(w io.Writer, size int64) (int64, error) {
	buf := make([]byte, c.cfg.BufferSize)
	var received int64
	for received < size {
		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		c.applyDeadline()
		n, readErr := c.conn.Read(chunk)
		if n > 0 {
			if _, writeErr := w.Write(chunk[:n]); writeErr != nil {
				return received, writeErr
			}
			received += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return received, readErr
		}
		if n == 0 {
			break
		}
	}
	return received, nil
}

func uploadKeyword(tier protocol.Tier) string {
	switch tier {
	case protocol.TierPublic:
		return protocol.KwUploadPublic
	case protocol.TierShared:
		return protocol.KwUploadShared
	default:
		return protocol.KwUploadPrivate
	}
}

func downloadKeyword(tier protocol.Tier) string {
	switch tier {
	case protocol.TierPublic:
		return protocol.KwDownloadPublic
	case protocol.TierShared:
		return protocol.KwDownloadShared
	default:
		return protocol.KwDownloadPrivate
	}
}
