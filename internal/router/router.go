// Package router defines the HTTP routes of the login/signup service.
//
// Credentials arrive as a url-encoded form or as JSON, chosen by Content-Type.
// A successful login or signup issues a session and answers 303 See Other
// pointing at the landing page.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/sinkgate/internal/gzippedhttp"
	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/passwordhash"
	"github.com/patric-chuzhbe/sinkgate/internal/session"
)

const maxRequestBodySize = 1 << 20

const internalErrorMessage = "internal server error"

// signupClientErrors are the signup failures reported to the client as 400 with their own message.
var signupClientErrors = []error{
	models.ErrPasswordMismatch,
	models.ErrUsernameTaken,
	models.ErrNamespaceConflict,
	models.ErrInvalidUsername,
	passwordhash.ErrPasswordTooLong,
}

type authenticator interface {
	Authenticate(ctx context.Context, username, password string) (models.SessionData, error)
}

type registrar interface {
	Register(ctx context.Context, request models.SignupRequest) (models.SessionData, error)
}

type sessionManager interface {
	Create(ctx context.Context, data models.SessionData) (string, error)
	AttachToResponse(response http.ResponseWriter, id string) error
	Destroy(response http.ResponseWriter, request *http.Request)
	RequireSession(h http.Handler) http.Handler
}

type trustedNetworkGuard interface {
	TrustedOnly(h http.Handler) http.Handler
}

type storage interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Router holds the dependencies of the HTTP handlers.
type Router struct {
	db            storage
	authenticator authenticator
	registrar     registrar
	sessions      sessionManager
	landingPage   string
	validate      *validator.Validate
}

// New builds the chi router with every route and middleware of the service.
func New(
	db storage,
	authenticator authenticator,
	registrar registrar,
	sessions sessionManager,
	trustedNetwork trustedNetworkGuard,
	landingPage string,
) *chi.Mux {
	myRouter := &Router{
		db:            db,
		authenticator: authenticator,
		registrar:     registrar,
		sessions:      sessions,
		landingPage:   landingPage,
		validate:      newValidator(),
	}

	router := chi.NewRouter()

	router.Use(
		logger.WithLoggingHTTPMiddleware,
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
	)

	router.Post(`/login`, myRouter.PostLogin)
	router.Post(`/signup`, myRouter.PostSignup)
	router.Post(`/logout`, myRouter.PostLogout)
	router.Get(`/ping`, myRouter.GetPing)
	router.With(sessions.RequireSession).Get(`/main`, myRouter.GetMain)
	router.With(trustedNetwork.TrustedOnly).Get(`/api/internal/stats`, myRouter.GetApiinternalstats)

	return router
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

func isJSONRequest(request *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(request.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// formValue returns the first non-empty value among the given field names.
func formValue(form url.Values, names ...string) string {
	for _, name := range names {
		if value := form.Get(name); value != "" {
			return value
		}
	}

	return ""
}

func decodeJSONBody(request *http.Request, destination interface{}) error {
	decoder := json.NewDecoder(request.Body)
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf(
			"in internal/router/router.go/decodeJSONBody(): error while `decoder.Decode()` calling: %w",
			err,
		)
	}

	return nil
}

func getLoginRequest(request *http.Request) (models.LoginRequest, error) {
	var result models.LoginRequest
	if isJSONRequest(request) {
		err := decodeJSONBody(request, &result)
		return result, err
	}

	if err := request.ParseForm(); err != nil {
		return result, err
	}
	result.Username = request.PostForm.Get("username")
	result.Password = request.PostForm.Get("password")

	return result, nil
}

func getSignupRequest(request *http.Request) (models.SignupRequest, error) {
	var result models.SignupRequest
	if isJSONRequest(request) {
		err := decodeJSONBody(request, &result)
		return result, err
	}

	if err := request.ParseForm(); err != nil {
		return result, err
	}
	result.Username = request.PostForm.Get("username")
	result.Password = request.PostForm.Get("password")
	result.ConfirmPassword = formValue(request.PostForm, "confirmPassword", "confirmpassword")
	result.DisplayName = formValue(request.PostForm, "displayName", "displayname")

	return result, nil
}

// validationMessage turns validator errors into a message naming the offending fields.
func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "invalid request"
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, fieldError.Field()+" is required")
		case "max":
			messages = append(messages, fieldError.Field()+" is too long")
		default:
			messages = append(messages, fieldError.Field()+" is invalid")
		}
	}

	return strings.Join(messages, "; ")
}

// startSession creates a session for data, hands it to the client and redirects to the landing page.
func (router *Router) startSession(response http.ResponseWriter, request *http.Request, data models.SessionData) {
	id, err := router.sessions.Create(request.Context(), data)
	if err != nil {
		logger.Log.Errorln("Error calling the `router.sessions.Create()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	if err := router.sessions.AttachToResponse(response, id); err != nil {
		logger.Log.Errorln("Error calling the `router.sessions.AttachToResponse()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	http.Redirect(response, request, router.landingPage, http.StatusSeeOther)
}

// PostLogin authenticates the submitted credentials.
// Every credential failure is the same 401 with the same message.
func (router *Router) PostLogin(response http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(response, request.Body, maxRequestBodySize)

	loginRequest, err := getLoginRequest(request)
	if err != nil {
		logger.Log.Debugln("Error calling the `getLoginRequest()`:", zap.Error(err))
		http.Error(response, "malformed request body", http.StatusBadRequest)
		return
	}

	if err := router.validate.Struct(loginRequest); err != nil {
		http.Error(response, models.ErrAuthenticationFailed.Error(), http.StatusUnauthorized)
		return
	}

	data, err := router.authenticator.Authenticate(request.Context(), loginRequest.Username, loginRequest.Password)
	if errors.Is(err, models.ErrAuthenticationFailed) {
		http.Error(response, models.ErrAuthenticationFailed.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		logger.Log.Errorln("Error calling the `router.authenticator.Authenticate()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	router.startSession(response, request, data)
}

// PostSignup creates the account and its namespace, then logs the new user in.
func (router *Router) PostSignup(response http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(response, request.Body, maxRequestBodySize)

	signupRequest, err := getSignupRequest(request)
	if err != nil {
		logger.Log.Debugln("Error calling the `getSignupRequest()`:", zap.Error(err))
		http.Error(response, "malformed request body", http.StatusBadRequest)
		return
	}

	if err := router.validate.Struct(signupRequest); err != nil {
		http.Error(response, validationMessage(err), http.StatusBadRequest)
		return
	}

	data, err := router.registrar.Register(request.Context(), signupRequest)
	if err != nil {
		for _, clientError := range signupClientErrors {
			if errors.Is(err, clientError) {
				http.Error(response, clientError.Error(), http.StatusBadRequest)
				return
			}
		}
		logger.Log.Errorln("Error calling the `router.registrar.Register()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	router.startSession(response, request, data)
}

// GetMain is the landing page: the data of the current session.
func (router *Router) GetMain(response http.ResponseWriter, request *http.Request) {
	data, ok := session.DataFromContext(request.Context())
	if !ok {
		http.Error(response, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(response).Encode(data); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`:", zap.Error(err))
	}
}

// PostLogout destroys the current session, if any.
func (router *Router) PostLogout(response http.ResponseWriter, request *http.Request) {
	router.sessions.Destroy(response, request)
	response.WriteHeader(http.StatusNoContent)
}

// GetPing reports whether the credential store is reachable.
func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.db.Ping(request.Context()); err != nil {
		logger.Log.Errorln("Error calling the `router.db.Ping()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	response.WriteHeader(http.StatusOK)
	if _, err := response.Write([]byte("pong")); err != nil {
		logger.Log.Debugln("Error calling the `response.Write()`:", zap.Error(err))
	}
}

// GetApiinternalstats reports the number of registered users.
func (router *Router) GetApiinternalstats(response http.ResponseWriter, request *http.Request) {
	users, err := router.db.GetNumberOfUsers(request.Context())
	if err != nil {
		logger.Log.Errorln("Error calling the `router.db.GetNumberOfUsers()`:", zap.Error(err))
		http.Error(response, internalErrorMessage, http.StatusInternalServerError)
		return
	}

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(response).Encode(models.InternalStatsResponse{Users: users}); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`:", zap.Error(err))
	}
}
