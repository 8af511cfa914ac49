package router

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/sinkgate/internal/db/memorystorage"
	dbstorage "github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/ipchecker"
	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/mockstorage"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/namespace/fsnamespace"
	"github.com/patric-chuzhbe/sinkgate/internal/passwordhash"
	"github.com/patric-chuzhbe/sinkgate/internal/service"
	"github.com/patric-chuzhbe/sinkgate/internal/session"
)

const (
	testCookieName    = "sinkgate_session"
	testLandingPage   = "/main"
	testTrustedSubnet = "127.0.0.0/8"
)

var testSigningKey = []byte(strings.Repeat("k", 32))

type testStorage interface {
	dbstorage.Storage
}

type initOption func(*initOptions)

type initOptions struct {
	mockStorage testStorage
}

func withMockStorage(db testStorage) initOption {
	return func(options *initOptions) {
		options.mockStorage = db
	}
}

// setupTestRouter starts the full HTTP stack on an in-memory store and a
// temporary namespace root. t may be nil when called from examples.
func setupTestRouter(t *testing.T, optionsProto ...initOption) (*httptest.Server, testStorage, string) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	var err error
	var db testStorage
	if options.mockStorage != nil {
		db = options.mockStorage
	} else {
		db, err = memorystorage.New()
		if t != nil {
			require.NoError(t, err)
		}
	}

	namespacesRoot, err := os.MkdirTemp("", "namespaces")
	if t != nil {
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = os.RemoveAll(namespacesRoot)
		})
	}

	namespaces, err := fsnamespace.New(namespacesRoot)
	if t != nil {
		require.NoError(t, err)
	}

	hasher, err := passwordhash.New(bcrypt.MinCost)
	if t != nil {
		require.NoError(t, err)
	}

	trustedNetwork, err := ipchecker.New(testTrustedSubnet)
	if t != nil {
		require.NoError(t, err)
	}

	sessions := session.NewManager(
		session.NewStore(time.Hour),
		testCookieName,
		testSigningKey,
		time.Hour,
		false,
	)

	theRouter := New(
		db,
		service.NewAuthenticator(db, hasher),
		service.NewRegistrar(db, hasher, namespaces),
		sessions,
		trustedNetwork,
		testLandingPage,
	)

	err = logger.Init("debug")
	if t != nil {
		require.NoError(t, err)
	}

	return httptest.NewServer(theRouter), db, namespacesRoot
}

// newTestClient returns a client with a cookie jar that reports redirects instead of following them.
func newTestClient() *resty.Client {
	return resty.New().SetRedirectPolicy(resty.RedirectPolicyFunc(
		func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	))
}

func signupForm(username, password, confirmPassword, displayName string) map[string]string {
	return map[string]string{
		"username":        username,
		"password":        password,
		"confirmPassword": confirmPassword,
		"displayName":     displayName,
	}
}

func mustSignup(t *testing.T, client *resty.Client, serverURL, username, password string) *resty.Response {
	t.Helper()
	resp, err := client.R().
		SetFormData(signupForm(username, password, password, strings.ToUpper(username))).
		Post(serverURL + "/signup")
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode(), string(resp.Body()))
	return resp
}

func gzipString(t *testing.T, input string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	_, err := gzipWriter.Write([]byte(input))
	require.NoError(t, err)
	require.NoError(t, gzipWriter.Close())
	return buf.Bytes()
}

func TestPostSignup(t *testing.T) {
	server, _, namespacesRoot := setupTestRouter(t)
	defer server.Close()

	mustSignup(t, newTestClient(), server.URL, "taken", "pw")

	type tRequest struct {
		contentType string
		form        map[string]string
		body        string
	}
	type tExpectedResponse struct {
		code      int
		location  string
		body      string
		namespace string
	}
	type tTestCase struct {
		name             string
		request          tRequest
		expectedResponse tExpectedResponse
	}
	testCases := []tTestCase{
		{
			name: "form",
			request: tRequest{
				form: signupForm("alice", "pw", "pw", "Alice"),
			},
			expectedResponse: tExpectedResponse{
				code:      http.StatusSeeOther,
				location:  testLandingPage,
				namespace: "alice",
			},
		},
		{
			name: "legacy form field names",
			request: tRequest{
				form: map[string]string{
					"username":        "erin",
					"password":        "pw",
					"confirmpassword": "pw",
					"displayname":     "Erin",
				},
			},
			expectedResponse: tExpectedResponse{
				code:      http.StatusSeeOther,
				location:  testLandingPage,
				namespace: "erin",
			},
		},
		{
			name: "json",
			request: tRequest{
				contentType: "application/json",
				body:        `{"username":"frank","password":"pw","confirmPassword":"pw","displayName":"Frank"}`,
			},
			expectedResponse: tExpectedResponse{
				code:      http.StatusSeeOther,
				location:  testLandingPage,
				namespace: "frank",
			},
		},
		{
			name: "password mismatch",
			request: tRequest{
				form: signupForm("bob", "pw1", "pw2", "Bob"),
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: models.ErrPasswordMismatch.Error(),
			},
		},
		{
			name: "username taken",
			request: tRequest{
				form: signupForm("taken", "other", "other", "Someone"),
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: models.ErrUsernameTaken.Error(),
			},
		},
		{
			name: "missing display name",
			request: tRequest{
				form: signupForm("gina", "pw", "pw", ""),
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: "displayName is required",
			},
		},
		{
			name: "path traversal username",
			request: tRequest{
				form: signupForm("../etc", "pw", "pw", "Evil"),
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: models.ErrInvalidUsername.Error(),
			},
		},
		{
			name: "username longer than a path segment",
			request: tRequest{
				form: signupForm(strings.Repeat("😀", 64), "pw", "pw", "Emoji"),
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: models.ErrInvalidUsername.Error(),
			},
		},
		{
			name: "malformed json",
			request: tRequest{
				contentType: "application/json",
				body:        `{"username":`,
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: "malformed request body",
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := newTestClient().R()
			if testCase.request.form != nil {
				req.SetFormData(testCase.request.form)
			} else {
				req.SetHeader("Content-Type", testCase.request.contentType)
				req.SetBody(testCase.request.body)
			}

			resp, err := req.Post(server.URL + "/signup")
			require.NoError(t, err)

			assert.Equal(t, testCase.expectedResponse.code, resp.StatusCode(), string(resp.Body()))
			assert.Equal(t, testCase.expectedResponse.location, resp.Header().Get("Location"))
			if testCase.expectedResponse.body != "" {
				assert.Contains(t, string(resp.Body()), testCase.expectedResponse.body)
			}
			if testCase.expectedResponse.namespace != "" {
				assert.DirExists(t, filepath.Join(namespacesRoot, testCase.expectedResponse.namespace))
			}
		})
	}

	_, err := os.Stat(filepath.Join(namespacesRoot, "bob"))
	assert.True(t, os.IsNotExist(err), "a failed signup must not leave a namespace behind")
}

func TestPostLogin(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	defer server.Close()

	mustSignup(t, newTestClient(), server.URL, "alice", "secret")

	type tRequest struct {
		contentType string
		form        map[string]string
		body        string
	}
	type tExpectedResponse struct {
		code     int
		location string
		body     string
	}
	type tTestCase struct {
		name             string
		request          tRequest
		expectedResponse tExpectedResponse
	}
	authenticationFailed := tExpectedResponse{
		code: http.StatusUnauthorized,
		body: models.ErrAuthenticationFailed.Error() + "\n",
	}
	testCases := []tTestCase{
		{
			name: "form",
			request: tRequest{
				form: map[string]string{"username": "alice", "password": "secret"},
			},
			expectedResponse: tExpectedResponse{code: http.StatusSeeOther, location: testLandingPage},
		},
		{
			name: "json",
			request: tRequest{
				contentType: "application/json; charset=utf-8",
				body:        `{"username":"alice","password":"secret"}`,
			},
			expectedResponse: tExpectedResponse{code: http.StatusSeeOther, location: testLandingPage},
		},
		{
			name: "wrong password",
			request: tRequest{
				form: map[string]string{"username": "alice", "password": "wrong"},
			},
			expectedResponse: authenticationFailed,
		},
		{
			name: "unknown user",
			request: tRequest{
				form: map[string]string{"username": "nobody", "password": "secret"},
			},
			expectedResponse: authenticationFailed,
		},
		{
			name: "missing password",
			request: tRequest{
				form: map[string]string{"username": "alice"},
			},
			expectedResponse: authenticationFailed,
		},
		{
			name: "malformed json",
			request: tRequest{
				contentType: "application/json",
				body:        `not json`,
			},
			expectedResponse: tExpectedResponse{
				code: http.StatusBadRequest,
				body: "malformed request body\n",
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := newTestClient().R()
			if testCase.request.form != nil {
				req.SetFormData(testCase.request.form)
			} else {
				req.SetHeader("Content-Type", testCase.request.contentType)
				req.SetBody(testCase.request.body)
			}

			resp, err := req.Post(server.URL + "/login")
			require.NoError(t, err)

			assert.Equal(t, testCase.expectedResponse.code, resp.StatusCode(), string(resp.Body()))
			assert.Equal(t, testCase.expectedResponse.location, resp.Header().Get("Location"))
			if testCase.expectedResponse.body != "" {
				assert.Equal(t, testCase.expectedResponse.body, string(resp.Body()))
			}
			if testCase.expectedResponse.code == http.StatusSeeOther {
				assert.NotEmpty(t, resp.Header().Get("Authorization"))
			} else {
				assert.Empty(t, resp.Header().Get("Authorization"))
				assert.Empty(t, resp.Cookies())
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	defer server.Close()

	client := newTestClient()
	signupResp := mustSignup(t, client, server.URL, "alice", "secret")

	var sessionCookie *http.Cookie
	for _, cookie := range signupResp.Cookies() {
		if cookie.Name == testCookieName {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sessionCookie.SameSite)

	resp, err := client.R().Get(server.URL + "/main")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var data models.SessionData
	require.NoError(t, json.Unmarshal(resp.Body(), &data))
	assert.Equal(t, models.SessionData{
		LoggedIn:    true,
		Username:    "alice",
		FilePath:    "alice/",
		DisplayName: "ALICE",
	}, data)

	token := signupResp.Header().Get("Authorization")
	resp, err = resty.New().R().SetHeader("Authorization", "Bearer "+token).Get(server.URL + "/main")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = client.R().Post(server.URL + "/logout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	resp, err = client.R().Get(server.URL + "/main")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	resp, err = resty.New().R().SetHeader("Authorization", token).Get(server.URL + "/main")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode(), "a logged out token must not resolve")
}

func TestGetMainRejectsForgedToken(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	defer server.Close()

	type tTestCase struct {
		name          string
		authorization string
	}
	testCases := []tTestCase{
		{name: "no token"},
		{name: "garbage token", authorization: "garbage"},
		{
			name:          "unsigned token",
			authorization: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJqdGkiOiJ4In0.",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := resty.New().R()
			if testCase.authorization != "" {
				req.SetHeader("Authorization", testCase.authorization)
			}

			resp, err := req.Get(server.URL + "/main")
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
		})
	}
}

func TestSignupNamespaceConflict(t *testing.T) {
	server, db, namespacesRoot := setupTestRouter(t)
	defer server.Close()

	require.NoError(t, os.Mkdir(filepath.Join(namespacesRoot, "dave"), 0o755))

	resp, err := newTestClient().R().
		SetFormData(signupForm("dave", "pw", "pw", "Dave")).
		Post(server.URL + "/signup")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), models.ErrNamespaceConflict.Error())

	_, found, err := db.FindByUsername(context.Background(), "dave")
	require.NoError(t, err)
	assert.False(t, found)

	resp, err = newTestClient().R().
		SetFormData(map[string]string{"username": "dave", "password": "pw"}).
		Post(server.URL + "/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestConcurrentSignup(t *testing.T) {
	server, db, namespacesRoot := setupTestRouter(t)
	defer server.Close()

	const attempts = 8
	codes := make([]int, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := newTestClient().R().
				SetFormData(signupForm("carol", fmt.Sprintf("pw%d", i), fmt.Sprintf("pw%d", i), "Carol")).
				Post(server.URL + "/signup")
			if err == nil {
				codes[i] = resp.StatusCode()
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, code := range codes {
		switch code {
		case http.StatusSeeOther:
			succeeded++
		default:
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, succeeded)

	users, err := db.GetNumberOfUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
	assert.DirExists(t, filepath.Join(namespacesRoot, "carol"))
}

func TestPostSignupGzipped(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	defer server.Close()

	form := url.Values{
		"username":        {"gzipper"},
		"password":        {"pw"},
		"confirmPassword": {"pw"},
		"displayName":     {"Gzipper"},
	}.Encode()

	resp, err := newTestClient().R().
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Content-Encoding", "gzip").
		SetBody(gzipString(t, form)).
		Post(server.URL + "/signup")
	require.NoError(t, err)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode(), string(resp.Body()))
}

func TestStoreUnavailable(t *testing.T) {
	db := &mockstorage.StorageMock{}
	db.On("FindByUsername", mock.Anything, "alice").Return(nil, false, models.ErrStoreUnavailable)
	db.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(models.ErrStoreUnavailable)
	db.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	server, _, namespacesRoot := setupTestRouter(t, withMockStorage(db))
	defer server.Close()

	type tTestCase struct {
		name string
		path string
		form map[string]string
	}
	testCases := []tTestCase{
		{name: "login", path: "/login", form: map[string]string{"username": "alice", "password": "pw"}},
		{name: "signup", path: "/signup", form: signupForm("alice", "pw", "pw", "Alice")},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resp, err := newTestClient().R().SetFormData(testCase.form).Post(server.URL + testCase.path)
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
			assert.Equal(t, internalErrorMessage+"\n", string(resp.Body()))
		})
	}

	resp, err := resty.New().R().Get(server.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())

	_, err = os.Stat(filepath.Join(namespacesRoot, "alice"))
	assert.True(t, os.IsNotExist(err))
	db.AssertExpectations(t)
}

func TestGetPing(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	defer server.Close()

	resp, err := resty.New().R().Get(server.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "pong", string(resp.Body()))
}

func TestGetApiinternalstats(t *testing.T) {
	db := &mockstorage.StorageMock{
		OnGetNumberOfUsers: func(_ context.Context) (int64, error) {
			return 42, nil
		},
	}
	server, _, _ := setupTestRouter(t, withMockStorage(db))
	defer server.Close()

	type tExpectedResponse struct {
		code int
		body string
	}
	type tTestCase struct {
		name             string
		realIP           string
		expectedResponse tExpectedResponse
	}
	testCases := []tTestCase{
		{
			name:             "trusted client",
			expectedResponse: tExpectedResponse{code: http.StatusOK, body: `{"users":42}`},
		},
		{
			name:             "untrusted client",
			realIP:           "8.8.8.8",
			expectedResponse: tExpectedResponse{code: http.StatusForbidden},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := resty.New().R()
			if testCase.realIP != "" {
				req.SetHeader("X-Real-IP", testCase.realIP)
			}

			resp, err := req.Get(server.URL + "/api/internal/stats")
			require.NoError(t, err)
			assert.Equal(t, testCase.expectedResponse.code, resp.StatusCode())
			if testCase.expectedResponse.body != "" {
				assert.JSONEq(t, testCase.expectedResponse.body, string(resp.Body()))
			}
		})
	}
}
