package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/namespace"
	"github.com/patric-chuzhbe/sinkgate/internal/user"
)

type userInserter interface {
	InsertIfAbsent(ctx context.Context, usr *user.User, beforeCommit storage.BeforeCommitFunc) error
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

type namespaceProvisioner interface {
	CreateExclusive(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// Registrar creates accounts together with their namespaces.
type Registrar struct {
	db         userInserter
	hasher     passwordHasher
	namespaces namespaceProvisioner
	now        func() time.Time
}

func NewRegistrar(db userInserter, hasher passwordHasher, namespaces namespaceProvisioner) *Registrar {
	return &Registrar{
		db:         db,
		hasher:     hasher,
		namespaces: namespaces,
		now:        time.Now,
	}
}

// Register creates the account described by request.
//
// The username is claimed by the store first; the namespace is provisioned while
// the claim is held and the record is published only after that succeeds. If
// publishing fails after the namespace was created, the namespace is removed, so
// either both exist or neither does.
func (r *Registrar) Register(ctx context.Context, request models.SignupRequest) (models.SessionData, error) {
	if request.Password != request.ConfirmPassword {
		return models.SessionData{}, models.ErrPasswordMismatch
	}

	filePath, err := namespace.Path(request.Username)
	if err != nil {
		return models.SessionData{}, err
	}

	passwordHash, err := r.hasher.Hash(request.Password)
	if err != nil {
		return models.SessionData{}, err
	}

	usr := &user.User{
		Username:     request.Username,
		PasswordHash: passwordHash,
		DisplayName:  request.DisplayName,
		FilePath:     filePath,
		CreatedAt:    r.now().UTC(),
	}

	provisioned := false
	err = r.db.InsertIfAbsent(ctx, usr, func(ctx context.Context) error {
		if err := r.namespaces.CreateExclusive(ctx, filePath); err != nil {
			if errors.Is(err, namespace.ErrAlreadyExists) {
				return models.ErrNamespaceConflict
			}
			return fmt.Errorf("%w: %w", models.ErrNamespaceUnavailable, err)
		}
		provisioned = true
		return nil
	})
	if err != nil {
		if provisioned {
			r.removeNamespace(ctx, filePath)
		}
		logger.Log.Debugln("Registrar service: signup failed for", request.Username, "error:", err)
		return models.SessionData{}, err
	}

	logger.Log.Infoln("Registrar service: registered", request.Username)

	return sessionDataOf(usr), nil
}

func (r *Registrar) removeNamespace(ctx context.Context, filePath string) {
	if err := r.namespaces.Remove(context.WithoutCancel(ctx), filePath); err != nil {
		logger.Log.Errorln("Registrar service: orphaned namespace", filePath, "could not be removed:", err)
	}
}
