package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/auth"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/services"
)

const (
	testSecret = "test-secret"
	testUser   = "11111111-1111-1111-1111-111111111111"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeFiles struct {
	uploadName string
	uploadLen  int
	analyzed   [3]string
	deleted    string
	list       []*models.File
	err        error
}

func (f *fakeFiles) Upload(_ context.Context, data []byte, name string) (*models.UploadedImage, error) {
	f.uploadName, f.uploadLen = name, len(data)
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadedImage{URL: "http://blobs/uploads/users/abc" + name, Name: name, Dimensions: "1x1", Size: "0.07 kB"}, nil
}

func (f *fakeFiles) Analyze(_ context.Context, ownerID, url, weightID string) (*models.File, error) {
	f.analyzed = [3]string{ownerID, url, weightID}
	if f.err != nil {
		return nil, f.err
	}
	return &models.File{ID: "f1", UserID: ownerID, Name: "abcpart7.png", URL: "http://blobs/main/x", StorageKey: "main/x",
		Classification: "Good", Accuracy: "82%", ErrorRate: "18%"}, nil
}

func (f *fakeFiles) Demo(_ context.Context, url string) (*models.DemoResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.DemoResult{URL: "http://blobs/demos/x", Classification: "No Good", Accuracy: "60%", ErrorRate: "40%"}, nil
}

func (f *fakeFiles) ListOwned(context.Context, string) ([]*models.File, error) { return f.list, f.err }

func (f *fakeFiles) GetOwned(_ context.Context, _, id string) (*models.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.File{ID: id}, nil
}

func (f *fakeFiles) DeleteOwned(_ context.Context, _, id string) error {
	f.deleted = id
	return f.err
}

func (f *fakeFiles) ClearOwned(context.Context, string) (int, error) { return 2, f.err }

type fakeWeights struct {
	deployed services.DeployInput
	list     []*models.Weight
	err      error
}

func (f *fakeWeights) Deploy(_ context.Context, _ string, in services.DeployInput) (*models.Weight, error) {
	f.deployed = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.Weight{ID: "w1", Project: in.Project, APIKey: in.APIKey, Version: in.Version, Kind: in.Kind}, nil
}

func (f *fakeWeights) ListOwned(context.Context, string) ([]*models.Weight, error) { return f.list, f.err }

func (f *fakeWeights) GetOwned(_ context.Context, _, id string) (*models.Weight, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Weight{ID: id, APIKey: "secret-key"}, nil
}

func (f *fakeWeights) DeleteOwned(context.Context, string, string) error { return f.err }

type fakeUsers struct {
	err error
}

func (f *fakeUsers) Register(_ context.Context, userName, email, _ string) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Profile{ID: testUser, UserName: userName, Email: email}, nil
}

func (f *fakeUsers) Login(context.Context, string, string) (*services.LoginResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.LoginResult{TokenPair: services.TokenPair{AccessToken: "a", RefreshToken: "r"}, UserName: "alice01"}, nil
}

func (f *fakeUsers) RefreshToken(context.Context, string) (*services.TokenPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil
}

func (f *fakeUsers) Me(_ context.Context, id string) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Profile{ID: id}, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id, userName, email string) (*models.Profile, error) {
	return &models.Profile{ID: id, UserName: userName, Email: email}, f.err
}

func (f *fakeUsers) ChangePassword(context.Context, string, string, string) error { return f.err }

func (f *fakeUsers) ChangeProfileImage(_ context.Context, id string, _ []byte, name string) (*models.Profile, error) {
	return &models.Profile{ID: id, ProfileImageURL: "http://blobs/profiles/" + name}, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testServer struct {
	router  *gin.Engine
	files   *fakeFiles
	weights *fakeWeights
	users   *fakeUsers
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{files: &fakeFiles{}, weights: &fakeWeights{}, users: &fakeUsers{}}
	cfg := &config.Config{SecretKey: testSecret, MaxUploadBytes: 64}
	h := NewHandler(ts.files, ts.weights, ts.users, fakePinger{}, cfg, logging.Nop{})
	ts.router = NewRouter(h, []string{"http://localhost:3000"})

	token, err := auth.GenerateToken(testUser, []byte(testSecret), time.Minute)
	require.NoError(t, err)
	ts.token = token
	return ts
}

func (ts *testServer) do(req *http.Request, authorized bool) *httptest.ResponseRecorder {
	if authorized {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) json(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req, true)
}

func multipartRequest(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{common.Validation("x"), http.StatusBadRequest, "validation_error"},
		{common.Conflict("x", nil), http.StatusConflict, "conflict"},
		{common.NotFound("x"), http.StatusNotFound, "not_found"},
		{common.Dependency("x", 503, nil), http.StatusBadGateway, "dependency_error"},
		{common.Persistence("x", nil), http.StatusInternalServerError, "persistence_error"},
		{common.EmptyDetection("x"), http.StatusUnprocessableEntity, "empty_detection"},
		{common.Unauthorized("x"), http.StatusUnauthorized, "unauthorized"},
		{errors.New("x"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.code)
		assert.Equal(t, tt.code, code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/files", nil), false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req, false).Code)

	other, err := auth.GenerateToken(testUser, []byte("other-secret"), time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = ts.do(req, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode(t, w)["error"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	h := NewHandler(ts.files, ts.weights, ts.users, fakePinger{err: errors.New("down")},
		&config.Config{SecretKey: testSecret, MaxUploadBytes: 64}, logging.Nop{})
	w = httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(multipartRequest(t, "/api/v1/files/upload", "part7.png", []byte("png-bytes")), true)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "part7.png", ts.files.uploadName)
	assert.Equal(t, len("png-bytes"), ts.files.uploadLen)
	assert.Equal(t, "part7.png", decode(t, w)["name"])
}

func TestUpload_Rejects(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", nil)
	w := ts.do(req, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(multipartRequest(t, "/api/v1/files/upload", "big.png", bytes.Repeat([]byte{1}, 65)), true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.files.uploadName)
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(http.MethodPost, "/api/v1/files/analyze", gin.H{"url": "http://blobs/u.png", "weight_id": "w1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, [3]string{testUser, "http://blobs/u.png", "w1"}, ts.files.analyzed)

	body := decode(t, w)
	assert.Equal(t, "82%", body["accuracy"])
	assert.Equal(t, "18%", body["error_rate"])
	assert.NotContains(t, body, "storage_key")
	assert.NotContains(t, body, "StorageKey")

	w = ts.json(http.MethodPost, "/api/v1/files/analyze", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_ErrorBodies(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "conflict carries url",
			err:    common.Conflict("file already exists", map[string]any{"url": "http://blobs/main/old"}),
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "conflict", body["error"])
				assert.Equal(t, "http://blobs/main/old", body["url"])
			},
		},
		{
			name:   "dependency keeps upstream status",
			err:    common.Dependency("predict", http.StatusForbidden, errors.New("denied")),
			status: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, http.StatusForbidden, body["upstream_status"])
			},
		},
		{
			name:   "empty detection",
			err:    common.EmptyDetection("no detections"),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "internal hides details",
			err:    errors.New("pq: secret detail"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal server error", body["message"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.files.err = tt.err

			w := ts.json(http.MethodPost, "/api/v1/files/analyze", gin.H{"url": "http://blobs/u.png"})
			assert.Equal(t, tt.status, w.Code)
			if tt.check != nil {
				tt.check(t, decode(t, w))
			}
		})
	}
}

func TestDemo(t *testing.T) {
	ts := newTestServer(t)
	w := ts.json(http.MethodPost, "/api/v1/files/demo", gin.H{"url": "http://blobs/u.png"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "No Good", decode(t, w)["classification"])
}

func TestStagingRoutesAllowAnonymous(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/demo", strings.NewReader(`{"url":"http://blobs/u.png"}`))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req, false)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "http://blobs/demos/x", decode(t, w)["url"])

	w = ts.do(multipartRequest(t, "/api/v1/files/upload", "part7.png", []byte("png-bytes")), false)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "part7.png", ts.files.uploadName)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/analyze", strings.NewReader(`{"url":"http://blobs/u.png"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req, false).Code)
}

func TestListFiles(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())

	ts.files.list = []*models.File{{ID: "a"}, {ID: "b"}}
	w = ts.json(http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestGetAndDeleteFile(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(http.MethodGet, "/api/v1/files/f9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "f9", decode(t, w)["id"])

	w = ts.json(http.MethodDelete, "/api/v1/files/f9", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "f9", ts.files.deleted)

	ts.files.err = common.NotFound("file not found")
	assert.Equal(t, http.StatusNotFound, ts.json(http.MethodGet, "/api/v1/files/zz", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.json(http.MethodDelete, "/api/v1/files/zz", nil).Code)
}

func TestClearFiles(t *testing.T) {
	ts := newTestServer(t)
	w := ts.json(http.MethodDelete, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["deleted"])

	ts.files.err = common.Dependency("delete", 500, nil)
	assert.Equal(t, http.StatusBadGateway, ts.json(http.MethodDelete, "/api/v1/files", nil).Code)
}

func TestWeights(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(http.MethodPost, "/api/v1/weights", gin.H{
		"project": "lsc", "api_key": "k", "version": 2, "kind": "demo",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, services.DeployInput{Project: "lsc", APIKey: "k", Version: 2, Kind: "demo"}, ts.weights.deployed)
	assert.NotContains(t, decode(t, w), "api_key")

	w = ts.json(http.MethodGet, "/api/v1/weights", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.json(http.MethodGet, "/api/v1/weights/w7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "w7", body["id"])
	assert.NotContains(t, body, "api_key")
	assert.NotContains(t, w.Body.String(), "secret-key")

	assert.Equal(t, http.StatusNoContent, ts.json(http.MethodDelete, "/api/v1/weights/w7", nil).Code)

	ts.weights.err = common.Conflict("duplicate", nil)
	assert.Equal(t, http.StatusConflict, ts.json(http.MethodPost, "/api/v1/weights", gin.H{"project": "p"}).Code)
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.json(http.MethodPost, "/api/v1/auth/register", gin.H{"username": "alice01", "email": "a@b.c", "password": "pwd"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "password")

	w = ts.json(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@b.c", "password": "pwd"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "a", body["access_token"])
	assert.Equal(t, "r", body["refresh_token"])
	assert.Equal(t, "alice01", body["username"])

	w = ts.json(http.MethodPost, "/api/v1/auth/token/refresh", gin.H{"refresh_token": "r"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r2", decode(t, w)["refresh_token"])

	w = ts.json(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testUser, decode(t, w)["id"])

	w = ts.json(http.MethodPut, "/api/v1/auth/me", gin.H{"username": "alice02", "email": "n@b.c"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice02", decode(t, w)["username"])

	w = ts.json(http.MethodPut, "/api/v1/auth/me/password", gin.H{"old_password": "a", "new_password": "b"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	imgReq := multipartRequest(t, "/api/v1/auth/me/image", "me.png", []byte("img"))
	imgReq.Method = http.MethodPut
	w = ts.do(imgReq, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://blobs/profiles/me.png", decode(t, w)["profile_image_url"])

	ts.users.err = common.Unauthorized("invalid email or password")
	w = ts.json(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@b.c", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", decode(t, w)["message"])
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), false)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = ts.do(req, false)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}
