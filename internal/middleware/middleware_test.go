package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/queuechat/pkg/logger"
)

const testSecret = "test-secret"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	valid, err := IssueToken(testSecret, "alice", time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "alice", time.Minute)
	require.NoError(t, err)
	badSubject, err := IssueToken(testSecret, "ali:ce", time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{"valid header", "Bearer " + valid, "", http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + valid, "", http.StatusOK, "alice"},
		{"query token", "", valid, http.StatusOK, "alice"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, "", http.StatusUnauthorized, ""},
		{"unsigned", "Bearer " + none, "", http.StatusUnauthorized, ""},
		{"subject not an identity", "Bearer " + badSubject, "", http.StatusUnauthorized, ""},
	}

	h := Auth(testSecret)(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestLogging_CorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestLogging_PassesFlusherAndStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRecordUser(t *testing.T) {
	token, err := IssueToken(testSecret, "bob", time.Minute)
	require.NoError(t, err)

	var info *requestInfo
	h := Logging(logger.NewNop())(Auth(testSecret)(RecordUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = r.Context().Value(requestInfoKey).(*requestInfo)
	}))))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, info)
	assert.Equal(t, "bob", info.userID)
}

func TestUserRateLimit(t *testing.T) {
	h := Auth(testSecret)(UserRateLimit(2, time.Minute)(echoUser()))

	send := func(user string) int {
		token, err := IssueToken(testSecret, user, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	// Separate bucket per identity.
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, time.Minute)(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(echoUser())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent("  "))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", MaxTextLength+1)))
	assert.Error(t, ValidateMessageContent("bad \xff"))

	assert.NoError(t, ValidateIdentity("alice"))
	assert.Error(t, ValidateIdentity(""))
	assert.Error(t, ValidateIdentity("a:b"))
	assert.Error(t, ValidateIdentity(strings.Repeat("a", 129)))

	assert.NoError(t, ValidateConversationID("0190b7e4-8a6f-7cc2-9f5e-2d1e3a4b5c6d"))
	assert.Error(t, ValidateConversationID("nope"))

	assert.NoError(t, ValidateImageName("alice-1700000000000"))
	assert.Error(t, ValidateImageName(""))
	assert.Error(t, ValidateImageName("../etc"))
	assert.Error(t, ValidateImageName("a/b"))
}
