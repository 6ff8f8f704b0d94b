package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/inference"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/lscinspector/internal/server/storage"
)

// DeployInput describes a model registration request.
type DeployInput struct {
	Workspace string
	Project   string
	APIKey    string
	Version   int
	ModelType string
	Kind      string
	ModelPath string
}

func (in *DeployInput) normalize() {
	in.Workspace = strings.TrimSpace(in.Workspace)
	in.Project = strings.TrimSpace(in.Project)
	in.APIKey = strings.TrimSpace(in.APIKey)
	in.ModelType = strings.TrimSpace(in.ModelType)
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	in.ModelPath = strings.TrimSpace(in.ModelPath)
}

func (in *DeployInput) validate() error {
	switch in.Kind {
	case common.WeightKindDemo, common.WeightKindCustom:
	default:
		return common.Validation(fmt.Sprintf("kind must be %q or %q", common.WeightKindDemo, common.WeightKindCustom))
	}
	if in.Project == "" {
		return common.Validation("project is required")
	}
	if in.APIKey == "" {
		return common.Validation("api key is required")
	}
	if in.Version < 1 {
		return common.Validation("version must be at least 1")
	}
	if in.Kind == common.WeightKindCustom {
		if in.Workspace == "" {
			return common.Validation("workspace is required for custom weights")
		}
		if in.ModelType == "" {
			return common.Validation("model type is required for custom weights")
		}
		if in.ModelPath == "" {
			return common.Validation("model path is required for custom weights")
		}
	}
	return nil
}

// WeightService registers models and owns their lifecycle, including the
// cascade over analysis records produced with them.
type WeightService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       storage.Store
	deployer    inference.Deployer
	files       *FileService
	weightsDir  string
	readFile    func(dir, name string) ([]byte, error)
	log         logging.Logger
}

// NewWeightService wires a WeightService. files performs the record cascade
// on delete; custom weights files are read from cfg.WeightsDir.
func NewWeightService(db *sql.DB, m repomanager.RepositoryManager, store storage.Store,
	deployer inference.Deployer, files *FileService, cfg *config.Config, log logging.Logger) *WeightService {
	return &WeightService{
		db:          db,
		repomanager: m,
		store:       store,
		deployer:    deployer,
		files:       files,
		weightsDir:  cfg.WeightsDir,
		readFile:    readInRoot,
		log:         log.With("module", "weights"),
	}
}

// readInRoot reads name through an os.Root, so symlinks cannot lead out of
// dir either.
func readInRoot(dir, name string) ([]byte, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// modelFile maps a client supplied model path onto a path local to the
// weights directory.
func modelFile(p string) (string, error) {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", common.Validation("model path must be relative to the weights directory")
	}
	clean := filepath.Clean(p)
	if clean == "." || !filepath.IsLocal(clean) {
		return "", common.Validation("model path must stay inside the weights directory")
	}
	return clean, nil
}

// Deploy validates and registers a model for ownerID. Custom weights are
// archived and pushed to the provider before the row is written.
func (s *WeightService) Deploy(ctx context.Context, ownerID string, in DeployInput) (*models.Weight, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	repo := s.repomanager.Weights(s.db)
	exists, err := repo.ExistsByAPIKey(ctx, ownerID, in.APIKey)
	if err != nil {
		return nil, common.Persistence("look up weight", err)
	}
	if exists {
		return nil, common.Conflict("a model with this api key is already registered", nil)
	}

	var archive string
	if in.Kind == common.WeightKindCustom {
		if archive, err = s.deployCustom(ctx, ownerID, in); err != nil {
			return nil, err
		}
	}

	w, err := repo.Create(ctx, &models.Weight{
		UserID:     ownerID,
		Workspace:  in.Workspace,
		Project:    in.Project,
		APIKey:     in.APIKey,
		Version:    in.Version,
		ModelType:  in.ModelType,
		Kind:       in.Kind,
		StorageKey: archive,
	})
	if err != nil {
		s.discardArchive(ctx, archive)
		if errors.Is(err, common.ErrConflict) {
			return nil, common.Conflict("a model with this api key is already registered", nil)
		}
		return nil, common.Persistence("save weight", err)
	}

	s.log.Info(ctx, "weight deployed", "user_id", ownerID, "weight_id", w.ID, "kind", w.Kind)
	return w, nil
}

// deployCustom archives the weights file and pushes it to the provider. It
// returns the archive key; on failure nothing is left in the store.
func (s *WeightService) deployCustom(ctx context.Context, ownerID string, in DeployInput) (string, error) {
	if s.weightsDir == "" {
		return "", common.Validation("custom weights are disabled on this server")
	}
	name, err := modelFile(in.ModelPath)
	if err != nil {
		return "", err
	}
	data, err := s.readFile(s.weightsDir, name)
	if err != nil {
		return "", common.Validation(fmt.Sprintf("cannot read weights file %q", filepath.ToSlash(name)))
	}
	if len(data) == 0 {
		return "", common.Validation("weights file is empty")
	}

	prefix, err := common.RandomPrefix()
	if err != nil {
		return "", err
	}
	key := storage.WeightsPrefix + ownerID + "/" + prefix + filepath.Base(name)
	if _, err := s.store.Put(ctx, key, data); err != nil {
		return "", err
	}

	err = s.deployer.Deploy(ctx, inference.DeployRequest{
		APIKey:    in.APIKey,
		Workspace: in.Workspace,
		Project:   in.Project,
		Version:   in.Version,
		ModelType: in.ModelType,
		Weights:   data,
	})
	if err != nil {
		s.discardArchive(ctx, key)
		return "", err
	}
	return key, nil
}

func (s *WeightService) discardArchive(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error(ctx, "compensating delete failed", "key", key, "error", err)
	}
}

// ListOwned returns the owner's models, oldest first.
func (s *WeightService) ListOwned(ctx context.Context, ownerID string) ([]*models.Weight, error) {
	list, err := s.repomanager.Weights(s.db).ListOwned(ctx, ownerID)
	if err != nil {
		return nil, common.Persistence("list weights", err)
	}
	return list, nil
}

// GetOwned returns one model. Missing, foreign and malformed ids all yield
// ErrNotFound.
func (s *WeightService) GetOwned(ctx context.Context, ownerID, weightID string) (*models.Weight, error) {
	id, ok := canonicalID(weightID)
	if !ok {
		return nil, common.NotFound("weight not found")
	}
	w, err := s.repomanager.Weights(s.db).GetOwned(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("weight not found")
		}
		return nil, common.Persistence("load weight", err)
	}
	return w, nil
}

// DeleteOwned removes a model together with every analysis record made
// with it, then its archived weights file. A failing blob delete stops the
// cascade and keeps the model.
func (s *WeightService) DeleteOwned(ctx context.Context, ownerID, weightID string) error {
	w, err := s.GetOwned(ctx, ownerID, weightID)
	if err != nil {
		return err
	}
	if err := s.files.deleteByWeight(ctx, w.ID); err != nil {
		return err
	}
	if w.StorageKey != "" {
		if err := s.store.Delete(ctx, w.StorageKey); err != nil {
			return err
		}
	}
	if err := s.repomanager.Weights(s.db).DeleteOwned(ctx, ownerID, w.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NotFound("weight not found")
		}
		return common.Persistence("delete weight", err)
	}
	s.log.Info(ctx, "weight deleted", "user_id", ownerID, "weight_id", w.ID)
	return nil
}
