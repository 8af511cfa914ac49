// Package session issues and resolves login sessions. Session state lives
// server-side in a Store; the client only holds a signed JWT whose ID claim is
// the session id, delivered as a cookie and echoed in the Authorization header.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
)

type sessionKeeper interface {
	Create(ctx context.Context, data models.SessionData) (string, error)
	Get(ctx context.Context, id string) (models.SessionData, bool)
	Delete(ctx context.Context, id string)
}

// Manager ties the server-side Store to the HTTP transport.
type Manager struct {
	// store holds the session state.
	store sessionKeeper

	// cookieName is the name of the cookie used to store the JWT.
	cookieName string

	// signingKey is the key used to sign JWTs.
	signingKey []byte

	ttl time.Duration

	// secure marks the cookie Secure; set when serving HTTPS.
	secure bool
}

// Claims represents the JWT claims used by the system.
// RegisteredClaims.ID carries the session id.
type Claims struct {
	jwt.RegisteredClaims
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// DataKey is the context key under which RequireSession stores models.SessionData.
const DataKey ContextKey = "sessionData"

// NewManager creates a Manager backed by store.
func NewManager(
	store sessionKeeper,
	cookieName string,
	signingKey []byte,
	ttl time.Duration,
	secure bool,
) *Manager {
	return &Manager{
		store:      store,
		cookieName: cookieName,
		signingKey: signingKey,
		ttl:        ttl,
		secure:     secure,
	}
}

// Create stores data as a logged-in session and returns its id.
func (m *Manager) Create(ctx context.Context, data models.SessionData) (string, error) {
	data.LoggedIn = true

	return m.store.Create(ctx, data)
}

// AttachToResponse hands the session to the client as a signed cookie and Authorization header.
func (m *Manager) AttachToResponse(response http.ResponseWriter, id string) error {
	now := time.Now()
	JWTString, err := m.buildJWTString(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	if err != nil {
		return err
	}

	response.Header().Set("Authorization", JWTString)

	http.SetCookie(
		response,
		&http.Cookie{
			Name:     m.cookieName,
			Value:    JWTString,
			Path:     "/",
			MaxAge:   int(m.ttl.Seconds()),
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		},
	)

	return nil
}

// FromRequest resolves the session the request carries, if it is still alive.
func (m *Manager) FromRequest(request *http.Request) (models.SessionData, bool) {
	id, ok := m.sessionIDFromRequest(request)
	if !ok {
		return models.SessionData{}, false
	}

	return m.store.Get(request.Context(), id)
}

// Destroy forgets the request's session and tells the client to drop the cookie.
func (m *Manager) Destroy(response http.ResponseWriter, request *http.Request) {
	if id, ok := m.sessionIDFromRequest(request); ok {
		m.store.Delete(request.Context(), id)
	}

	http.SetCookie(
		response,
		&http.Cookie{
			Name:     m.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		},
	)
}

// RequireSession is an HTTP middleware that rejects requests without a live session
// and stores the session data in the request context otherwise.
func (m *Manager) RequireSession(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		data, ok := m.FromRequest(request)
		if !ok {
			http.Error(response, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(request.Context(), DataKey, data)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// DataFromContext returns the session data stored by RequireSession.
func DataFromContext(ctx context.Context) (models.SessionData, bool) {
	data, ok := ctx.Value(DataKey).(models.SessionData)
	return data, ok
}

func (m *Manager) getTokenStringFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	if tokenString != "" {
		return tokenString
	}
	cookie, err := request.Cookie(m.cookieName)
	if err == nil {
		tokenString = cookie.Value
	}

	return tokenString
}

func (m *Manager) sessionIDFromRequest(request *http.Request) (string, bool) {
	tokenString := m.getTokenStringFromAuthorizationHeaderOrCookie(request)
	if tokenString == "" {
		return "", false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.signingKey, nil
		},
	)
	if err != nil || !token.Valid {
		logger.Log.Debugln("Rejected session token:", zap.Error(err))
		return "", false
	}

	return claims.ID, claims.ID != ""
}

func (m *Manager) buildJWTString(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, *claims)

	tokenString, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf(
			"in internal/session/session.go/buildJWTString(): error while `token.SignedString()` calling: %w",
			err,
		)
	}

	return tokenString, nil
}
