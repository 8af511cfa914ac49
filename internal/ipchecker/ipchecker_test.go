package ipchecker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	checker, err := New("")
	require.NoError(t, err)
	assert.True(t, checker.IsTrustedSubnetEmpty())
	assert.False(t, checker.Check(net.ParseIP("127.0.0.1")))

	_, err = New("not-a-cidr")
	assert.Error(t, err)
}

func TestGetClientIP(t *testing.T) {
	checker, err := New("10.0.0.0/8")
	require.NoError(t, err)

	type tTestCase struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
		wantErr    bool
	}
	testCases := []tTestCase{
		{name: "remote addr", remoteAddr: "10.1.2.3:5555", expected: "10.1.2.3"},
		{
			name:       "x-real-ip wins",
			remoteAddr: "192.168.0.1:5555",
			headers:    map[string]string{"X-Real-IP": "10.0.0.7", "X-Forwarded-For": "172.16.0.1"},
			expected:   "10.0.0.7",
		},
		{
			name:       "first forwarded address",
			remoteAddr: "192.168.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "10.9.9.9, 172.16.0.1"},
			expected:   "10.9.9.9",
		},
		{
			name:       "malformed forwarded address",
			remoteAddr: "192.168.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "garbage"},
			wantErr:    true,
		},
		{name: "malformed remote addr", remoteAddr: "nonsense", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
			req.RemoteAddr = testCase.remoteAddr
			for k, v := range testCase.headers {
				req.Header.Set(k, v)
			}

			ip, err := checker.GetClientIP(req)
			if testCase.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, ip.String())
		})
	}
}

func TestTrustedOnly(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	trusted, err := New("10.0.0.0/8")
	require.NoError(t, err)
	nobody, err := New("")
	require.NoError(t, err)

	type tTestCase struct {
		name     string
		checker  *IPChecker
		realIP   string
		expected int
	}
	testCases := []tTestCase{
		{name: "inside subnet", checker: trusted, realIP: "10.20.30.40", expected: http.StatusOK},
		{name: "outside subnet", checker: trusted, realIP: "8.8.8.8", expected: http.StatusForbidden},
		{name: "no subnet configured", checker: nobody, realIP: "10.20.30.40", expected: http.StatusForbidden},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
			req.Header.Set("X-Real-IP", testCase.realIP)
			rec := httptest.NewRecorder()

			testCase.checker.TrustedOnly(ok).ServeHTTP(rec, req)

			assert.Equal(t, testCase.expected, rec.Code)
		})
	}
}
