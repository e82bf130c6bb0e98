package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/log"
	"merchant-sync/internal/usecase"
)

type MockImporter struct {
	RunFunc       func(ctx context.Context, path string) (usecase.ImportResult, error)
	RunReaderFunc func(ctx context.Context, name string, r io.Reader) (usecase.ImportResult, error)
}

func (m *MockImporter) Run(ctx context.Context, path string) (usecase.ImportResult, error) {
	return m.RunFunc(ctx, path)
}

func (m *MockImporter) RunReader(ctx context.Context, name string, r io.Reader) (usecase.ImportResult, error) {
	return m.RunReaderFunc(ctx, name, r)
}

type MockStore struct {
	PingErr error
	Pending int
}

func (m *MockStore) Ping(ctx context.Context) error { return m.PingErr }

func (m *MockStore) PendingCount(ctx context.Context) (int, error) { return m.Pending, nil }

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestHealthAndReady(t *testing.T) {
	st := &MockStore{}
	r := NewRouter(&MockImporter{}, st, "", log.Discard())

	w, body := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = do(t, r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	st.PingErr = errors.New("connection refused")
	w, body = do(t, r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body["status"])
}

// importDir returns a fresh import directory with symlinks resolved.
func importDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestImportStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     usecase.ImportResult
		err        error
		wantStatus int
	}{
		{"success", usecase.ImportResult{Imported: 4, Published: 4}, nil, http.StatusOK},
		{"validation", usecase.ImportResult{}, fmt.Errorf("failed to normalize: %w",
			apperr.Validation("disbursement_frequency", "MONTHLY", errors.New("unknown"))), http.StatusUnprocessableEntity},
		{"missing file", usecase.ImportResult{}, fmt.Errorf("failed to open batch file: %w", os.ErrNotExist), http.StatusNotFound},
		{"publish", usecase.ImportResult{Imported: 4, Published: 1},
			apperr.Publish("merchant_upserted", "acme", errors.New("nack")), http.StatusBadGateway},
		{"storage", usecase.ImportResult{}, apperr.Storage("upsert merchants", errors.New("down")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := importDir(t)
			var gotPath string
			importer := &MockImporter{RunFunc: func(ctx context.Context, path string) (usecase.ImportResult, error) {
				gotPath = path
				return tt.result, tt.err
			}}
			r := NewRouter(importer, &MockStore{}, dir, log.Discard())

			w, body := do(t, r, http.MethodPost, "/imports", `{"path":"merchants.csv"}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, filepath.Join(dir, "merchants.csv"), gotPath)
			if tt.wantStatus == http.StatusOK || tt.wantStatus == http.StatusBadGateway {
				assert.EqualValues(t, tt.result.Imported, body["imported"])
				assert.EqualValues(t, tt.result.Published, body["published"])
			}
		})
	}
}

func TestImportRejectsPathsOutsideImportDir(t *testing.T) {
	dir := importDir(t)
	outside := importDir(t)
	secret := filepath.Join(outside, "secrets.env")
	require.NoError(t, os.WriteFile(secret, []byte("# header\nDB_PASSWORD=hunter2\n"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.csv")))

	importer := &MockImporter{RunFunc: func(ctx context.Context, path string) (usecase.ImportResult, error) {
		t.Fatalf("importer must not run for %s", path)
		return usecase.ImportResult{}, nil
	}}
	r := NewRouter(importer, &MockStore{}, dir, log.Discard())

	for _, path := range []string{secret, "../" + filepath.Base(outside) + "/secrets.env", "link.csv", "/etc/passwd"} {
		w, body := do(t, r, http.MethodPost, "/imports", fmt.Sprintf(`{"path":%q}`, path))
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.NotContains(t, fmt.Sprint(body), "hunter2", path)
	}
}

func TestImportDisabledWithoutImportDir(t *testing.T) {
	r := NewRouter(&MockImporter{}, &MockStore{}, "", log.Discard())

	w, _ := do(t, r, http.MethodPost, "/imports", `{"path":"merchants.csv"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestValidationResponseDoesNotEchoFileContent(t *testing.T) {
	dir := importDir(t)
	importer := &MockImporter{RunFunc: func(ctx context.Context, path string) (usecase.ImportResult, error) {
		return usecase.ImportResult{}, &apperr.ValidationError{Field: "id", Value: "DB_PASSWORD=hunter2", Line: 2, Err: errors.New("invalid UUID length")}
	}}
	r := NewRouter(importer, &MockStore{}, dir, log.Discard())

	w, body := do(t, r, http.MethodPost, "/imports", `{"path":"merchants.csv"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "id", body["field"])
	assert.EqualValues(t, 2, body["line"])
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestImportRejectsBadRequests(t *testing.T) {
	importer := &MockImporter{RunFunc: func(ctx context.Context, path string) (usecase.ImportResult, error) {
		t.Fatal("importer must not run")
		return usecase.ImportResult{}, nil
	}}
	r := NewRouter(importer, &MockStore{}, importDir(t), log.Discard())

	for _, body := range []string{`{"path":`, `{}`} {
		w, _ := do(t, r, http.MethodPost, "/imports", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestUploadPassesBodyThrough(t *testing.T) {
	var got string
	importer := &MockImporter{RunReaderFunc: func(ctx context.Context, name string, rd io.Reader) (usecase.ImportResult, error) {
		b, err := io.ReadAll(rd)
		got = string(b)
		return usecase.ImportResult{Imported: 1, Published: 1}, err
	}}
	r := NewRouter(importer, &MockStore{}, "", log.Discard())

	batch := "id;reference;email;live_on;disbursement_frequency;minimum_monthly_fee\n"
	w, body := do(t, r, http.MethodPost, "/imports/upload", batch)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, batch, got)
	assert.EqualValues(t, 1, body["imported"])
}

func TestOutboxPending(t *testing.T) {
	r := NewRouter(&MockImporter{}, &MockStore{Pending: 3}, "", log.Discard())

	w, body := do(t, r, http.MethodGet, "/outbox", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["pending"])
}
