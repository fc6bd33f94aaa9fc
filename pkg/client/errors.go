package client

import "errors"

// Sentinel errors mapped from server response keywords. Callers use
// errors.Is to branch on the failure class.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrRegisterFailed    = errors.New("registration failed")
	ErrLoginFailed       = errors.New("login failed")
	ErrInvalidSession    = errors.New("invalid session")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrFileNotFound      = errors.New("file not found")
	ErrUploadFailed      = errors.New("upload failed")
	ErrUploadIncomplete  = errors.New("upload incomplete")
	ErrTransferTruncated = errors.New("transfer truncated")
	ErrProtocol          = errors.New("unexpected server response")
)
