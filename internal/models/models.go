package models

import (
	"errors"
	"fmt"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type SignupRequest struct {
	Username        string `json:"username" validate:"required,max=64"`
	Password        string `json:"password" validate:"required,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,max=72"`
	DisplayName     string `json:"displayName" validate:"required,max=128"`
}

// SessionData is what a session remembers about the logged-in user.
type SessionData struct {
	LoggedIn    bool   `json:"logged_in"`
	Username    string `json:"username"`
	FilePath    string `json:"file_path"`
	DisplayName string `json:"display_name"`
}

type InternalStatsResponse struct {
	Users int64 `json:"users"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

const (
	NamespaceBackendFS    = "fs"
	NamespaceBackendMinio = "minio"
)

// ErrAuthenticationFailed is the only login failure a client ever sees.
var ErrAuthenticationFailed = errors.New("invalid username or password")

var (
	ErrUserNotFound       = fmt.Errorf("user not found: %w", ErrAuthenticationFailed)
	ErrInvalidCredentials = fmt.Errorf("password does not match: %w", ErrAuthenticationFailed)
)

var (
	ErrPasswordMismatch  = errors.New("passwords don't match")
	ErrUsernameTaken     = errors.New("username is already taken")
	ErrNamespaceConflict = errors.New("user namespace already exists")
	ErrInvalidUsername   = errors.New("username contains forbidden characters")
)

var (
	ErrStoreUnavailable     = errors.New("credential store is unavailable")
	ErrNamespaceUnavailable = errors.New("namespace storage is unavailable")
)
