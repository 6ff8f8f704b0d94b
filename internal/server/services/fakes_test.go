package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/server/inference"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/files"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/users"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/weights"
)

var errBoom = errors.New("boom")

// --- blob store ---

const storeBase = "http://blobs.test/files/"

type memStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	putErr      error
	listErr     error
	deleteErr   map[string]error
	failDeletes error
	deletes     []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, deleteErr: map[string]error{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return storeBase + key, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, common.NotFound("object not found")
	}
	return data, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeletes != nil {
		return m.failDeletes
	}
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	m.deletes = append(m.deletes, key)
	delete(m.objects, key)
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) PublicURL(key string) string { return storeBase + key }

func (m *memStore) KeyFromURL(url string) (string, error) {
	if !strings.HasPrefix(url, storeBase) || len(url) == len(storeBase) {
		return "", common.Validation("url does not belong to the store")
	}
	return strings.TrimPrefix(url, storeBase), nil
}

func (m *memStore) keys(prefix string) []string {
	keys, _ := m.List(context.Background(), prefix)
	return keys
}

// --- inference ---

type fakePredictor struct {
	detections []inference.Detection
	err        error
	calls      []inference.ModelRef
}

func (f *fakePredictor) Predict(_ context.Context, _ []byte, model inference.ModelRef) ([]inference.Detection, error) {
	f.calls = append(f.calls, model)
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}

type fakeDeployer struct {
	err   error
	calls []inference.DeployRequest
}

func (f *fakeDeployer) Deploy(_ context.Context, req inference.DeployRequest) error {
	f.calls = append(f.calls, req)
	return f.err
}

// --- repositories ---

type memFiles struct {
	rows      []*models.File
	createErr error
	deleteErr error
	listErr   error
}

func (r *memFiles) Create(_ context.Context, f *models.File) (*models.File, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, row := range r.rows {
		if row.UserID == f.UserID && row.Name == f.Name {
			return nil, fmt.Errorf("file exists: %w", common.ErrConflict)
		}
	}
	c := *f
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.rows = append(r.rows, &c)
	out := c
	return &out, nil
}

func (r *memFiles) FindByName(_ context.Context, userID, name string) (*models.File, error) {
	for _, row := range r.rows {
		if row.UserID == userID && row.Name == name {
			c := *row
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memFiles) GetOwned(_ context.Context, userID, id string) (*models.File, error) {
	if err := uuidInput(id); err != nil {
		return nil, err
	}
	for _, row := range r.rows {
		if row.UserID == userID && row.ID == id {
			c := *row
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memFiles) ListOwned(_ context.Context, userID string) ([]*models.File, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := []*models.File{}
	for _, row := range r.rows {
		if row.UserID == userID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memFiles) ListByWeight(_ context.Context, weightID string) ([]*models.File, error) {
	out := []*models.File{}
	for _, row := range r.rows {
		if row.WeightID == weightID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memFiles) DeleteOwned(_ context.Context, userID, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for i, row := range r.rows {
		if row.UserID == userID && row.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

// uuidInput mimics the uuid column type: only the plain hex form, with or
// without hyphens, is valid input.
func uuidInput(id string) error {
	if _, err := uuid.Parse(id); err != nil || strings.HasPrefix(strings.ToLower(id), "urn:") {
		return errors.New(`invalid input syntax for type uuid: "` + id + `"`)
	}
	return nil
}

type memWeights struct {
	rows      []*models.Weight
	existsErr error
	createErr error
}

func (r *memWeights) Create(_ context.Context, w *models.Weight) (*models.Weight, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, row := range r.rows {
		if row.UserID == w.UserID && row.APIKey == w.APIKey {
			return nil, fmt.Errorf("weight exists: %w", common.ErrConflict)
		}
	}
	c := *w
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	r.rows = append(r.rows, &c)
	out := c
	return &out, nil
}

func (r *memWeights) ExistsByAPIKey(_ context.Context, userID, apiKey string) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	for _, row := range r.rows {
		if row.UserID == userID && row.APIKey == apiKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *memWeights) GetOwned(_ context.Context, userID, id string) (*models.Weight, error) {
	if err := uuidInput(id); err != nil {
		return nil, err
	}
	for _, row := range r.rows {
		if row.UserID == userID && row.ID == id {
			c := *row
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memWeights) ListOwned(_ context.Context, userID string) ([]*models.Weight, error) {
	out := []*models.Weight{}
	for _, row := range r.rows {
		if row.UserID == userID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memWeights) DeleteOwned(_ context.Context, userID, id string) error {
	for i, row := range r.rows {
		if row.UserID == userID && row.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

type memUsers struct {
	rows      map[string]*models.User
	updateErr error
}

func newMemUsers() *memUsers { return &memUsers{rows: map[string]*models.User{}} }

func (r *memUsers) conflict(id, userName, email string) error {
	for _, u := range r.rows {
		if u.ID == id {
			continue
		}
		if u.UserName == userName {
			return users.ErrUserNameTaken
		}
		if u.Email == email {
			return users.ErrEmailTaken
		}
	}
	return nil
}

func (r *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	if err := r.conflict("", u.UserName, u.Email); err != nil {
		return nil, err
	}
	c := *u
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	r.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.rows {
		if u.Email == strings.ToLower(email) {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memUsers) update(id string, fn func(u *models.User)) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	u, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *memUsers) UpdateProfile(_ context.Context, id, userName, email string) error {
	if err := r.conflict(id, userName, email); err != nil {
		return err
	}
	return r.update(id, func(u *models.User) { u.UserName, u.Email = userName, email })
}

func (r *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = hash })
}

func (r *memUsers) UpdateProfileImage(_ context.Context, id, url string) error {
	return r.update(id, func(u *models.User) { u.ProfileImageURL = url })
}

type memRefresh struct {
	rows      map[string]*models.RefreshToken
	createErr error
	deleteErr error
}

func newMemRefresh() *memRefresh { return &memRefresh{rows: map[string]*models.RefreshToken{}} }

func (r *memRefresh) Create(_ context.Context, userID, token string, validity time.Duration) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.rows[token] = &models.RefreshToken{ID: uuid.NewString(), UserID: userID, TokenHash: token, Expires: time.Now().Add(validity)}
	return nil
}

func (r *memRefresh) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := r.rows[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memRefresh) Delete(_ context.Context, token string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.rows[token]; !ok {
		return common.ErrNotFound
	}
	delete(r.rows, token)
	return nil
}

func (r *memRefresh) DeleteByUser(_ context.Context, userID string) error {
	for k, t := range r.rows {
		if t.UserID == userID {
			delete(r.rows, k)
		}
	}
	return nil
}

type fakeRepoManager struct {
	users   *memUsers
	refresh *memRefresh
	weights *memWeights
	files   *memFiles
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:   newMemUsers(),
		refresh: newMemRefresh(),
		weights: &memWeights{},
		files:   &memFiles{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.refresh }
func (m *fakeRepoManager) Weights(dbx.DBTX) weights.Repository             { return m.weights }
func (m *fakeRepoManager) Files(dbx.DBTX) files.Repository                 { return m.files }
