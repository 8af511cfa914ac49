package service

import (
	"context"

	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

type userFinder interface {
	FindByUsername(ctx context.Context, username string) (*user.User, bool, error)
}

type passwordVerifier interface {
	Verify(hash, password string) bool
	VerifyDummy(password string)
}

// Authenticator checks submitted credentials against the credential store.
type Authenticator struct {
	db     userFinder
	hasher passwordVerifier
}

func NewAuthenticator(db userFinder, hasher passwordVerifier) *Authenticator {
	return &Authenticator{
		db:     db,
		hasher: hasher,
	}
}

// Authenticate returns the session data of the user if password matches.
// Both failure causes wrap models.ErrAuthenticationFailed and cost one bcrypt comparison.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (models.SessionData, error) {
	if username == "" || password == "" {
		a.hasher.VerifyDummy(password)
		return models.SessionData{}, models.ErrInvalidCredentials
	}

	usr, found, err := a.db.FindByUsername(ctx, username)
	if err != nil {
		logger.Log.Errorln("Auth service: user lookup failed:", err)
		return models.SessionData{}, err
	}

	if !found {
		a.hasher.VerifyDummy(password)
		logger.Log.Debugln("Auth service: login for unknown user", username)
		return models.SessionData{}, models.ErrUserNotFound
	}

	if !a.hasher.Verify(usr.PasswordHash, password) {
		logger.Log.Debugln("Auth service: wrong password for", username)
		return models.SessionData{}, models.ErrInvalidCredentials
	}

	return sessionDataOf(usr), nil
}

func sessionDataOf(usr *user.User) models.SessionData {
	return models.SessionData{
		LoggedIn:    true,
		Username:    usr.Username,
		FilePath:    usr.FilePath,
		DisplayName: usr.DisplayName,
	}
}
