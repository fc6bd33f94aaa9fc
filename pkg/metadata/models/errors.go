package models

import "errors"

// Common errors for metadata operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")

	ErrFileNotFound  = errors.New("file not found")
	ErrDuplicateFile = errors.New("file already exists")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
