package upstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

func testLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.DiscardHandler))
}

func signToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
	}).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return token
}

// apiServer fakes the slice of the web API the worker talks to.
type apiServer struct {
	t         *testing.T
	token     string
	authCalls int
	patches   []json.RawMessage
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /authentication", func(w http.ResponseWriter, r *http.Request) {
		s.authCalls++

		var body map[string]any
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(s.t, "local", body["strategy"])
		assert.Equal(s.t, "worker@example.org", body["email"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": s.token})
	})

	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.User{ID: r.PathValue("id"), Email: "worker@example.org"})
	})

	mux.HandleFunc("GET /organizations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.Organization{ID: r.PathValue("id"), Slug: "hillside"})
	})

	mux.HandleFunc("GET /uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.Upload{ID: r.PathValue("id"), OrganizationID: "org-1"})
	})

	mux.HandleFunc("PATCH /uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(s.t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(s.t, err)
		s.patches = append(s.patches, body)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func newTestClient(t *testing.T) (*Client, *apiServer) {
	t.Helper()

	api := &apiServer{t: t, token: signToken(t, "user-1", time.Now().Add(time.Hour))}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client := NewClient(Config{
		URL:      server.URL,
		Email:    "worker@example.org",
		Password: "hunter2",
	}, testLogger())

	return client, api
}

func TestAuthenticate(t *testing.T) {
	client, api := newTestClient(t)

	token, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.token, token)
	assert.Equal(t, token, client.currentToken())
}

func TestGetAuthUser(t *testing.T) {
	client, api := newTestClient(t)

	user, err := client.GetAuthUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, 1, api.authCalls)

	// The cached token is still valid, so the second call skips the
	// authentication round-trip.
	user, err = client.GetAuthUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, 1, api.authCalls)
}

func TestGetAuthUserRefreshesExpiredToken(t *testing.T) {
	client, api := newTestClient(t)
	client.setToken(signToken(t, "user-1", time.Now().Add(-time.Hour)))

	user, err := client.GetAuthUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, 1, api.authCalls, "expired token forces re-authentication")
}

func TestGetAuthUserRecoversFromGarbageToken(t *testing.T) {
	client, api := newTestClient(t)
	client.setToken("not.a.jwt")

	user, err := client.GetAuthUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, 1, api.authCalls)
}

func TestGetUpload(t *testing.T) {
	client, _ := newTestClient(t)

	upload, err := client.GetUpload(context.Background(), "upload-1")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", upload.ID)
	assert.Equal(t, "org-1", upload.OrganizationID)
}

func TestGetUploadNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetUpload(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetOrganization(t *testing.T) {
	client, _ := newTestClient(t)

	org, err := client.GetOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "hillside", org.Slug)
}

func TestPatchUploadResult(t *testing.T) {
	client, api := newTestClient(t)

	err := client.PatchUploadResult(context.Background(), "upload-1", &model.ImportResult{
		Processed: []model.ProcessedItem{{
			File:  &model.FileRef{Name: "a.dat", Path: "/tmp/ws/a.dat"},
			Stats: &model.ImportStats{RecordCount: 30, PublishCount: 30},
		}},
	})
	require.NoError(t, err)

	require.Len(t, api.patches, 1)

	// The service expects an update-operator body so only result moves.
	var body map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(api.patches[0], &body))
	require.Contains(t, body, "$set")
	require.Contains(t, body["$set"], "result")

	var result model.ImportResult
	require.NoError(t, json.Unmarshal(body["$set"]["result"], &result))
	require.Len(t, result.Processed, 1)
	assert.Equal(t, int64(30), result.Processed[0].Stats.RecordCount)
}
