package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
	"github.com/dmitrijs2005/lscinspector/internal/server/imaging"
	"github.com/dmitrijs2005/lscinspector/internal/server/inference"
	"github.com/dmitrijs2005/lscinspector/internal/server/models"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/lscinspector/internal/server/storage"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeImageName strips any directory part from name, replaces unsafe
// characters and requires a png or jpeg extension.
func SanitizeImageName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")

	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return "", common.Validation("file must be a .png, .jpg or .jpeg image")
	}
	if strings.TrimSuffix(name, path.Ext(name)) == "" {
		return "", common.Validation("file name is empty")
	}
	return name, nil
}

// Verdict is the outcome derived from the top detection.
type Verdict struct {
	Classification string
	Accuracy       string
	ErrorRate      string
}

// Summarize picks the most confident detection. Accuracy is its confidence
// rounded to a whole percent and ErrorRate is the remainder, so the two
// always add up to 100%.
func Summarize(detections []inference.Detection) (Verdict, error) {
	if len(detections) == 0 {
		return Verdict{}, common.EmptyDetection("model could not classify this image; try another or a smaller file")
	}
	top := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > top.Confidence {
			top = d
		}
	}
	pct := int(math.Round(math.Max(0, math.Min(1, top.Confidence)) * 100))
	return Verdict{
		Classification: top.Class,
		Accuracy:       fmt.Sprintf("%d%%", pct),
		ErrorRate:      fmt.Sprintf("%d%%", 100-pct),
	}, nil
}

// FileService runs the upload, analyze, record lifecycle and the owner
// scoped retrieval and deletion of analysis records.
type FileService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	store          storage.Store
	predictor      inference.Predictor
	maxUploadBytes int64
	log            logging.Logger
}

// NewFileService wires a FileService.
func NewFileService(db *sql.DB, m repomanager.RepositoryManager, store storage.Store,
	predictor inference.Predictor, cfg *config.Config, log logging.Logger) *FileService {
	return &FileService{
		db:             db,
		repomanager:    m,
		store:          store,
		predictor:      predictor,
		maxUploadBytes: cfg.MaxUploadBytes,
		log:            log.With("module", "files"),
	}
}

// Upload stages an original image in the blob store. No record is written
// and no uniqueness check is made.
func (s *FileService) Upload(ctx context.Context, data []byte, fileName string) (*models.UploadedImage, error) {
	if len(data) == 0 {
		return nil, common.Validation("no file uploaded")
	}
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return nil, common.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxUploadBytes))
	}
	name, err := SanitizeImageName(fileName)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	prefix, err := common.RandomPrefix()
	if err != nil {
		return nil, err
	}
	url, err := s.store.Put(ctx, storage.UploadsPrefix+prefix+name, data)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "image uploaded", "url", url)
	return &models.UploadedImage{
		URL:        url,
		Name:       name,
		Dimensions: imaging.Dimensions(img),
		Size:       common.HumanSize(len(data)),
	}, nil
}

// annotated is a rendered overlay ready to be stored.
type annotated struct {
	data       []byte
	dimensions string
	verdict    Verdict
}

// inspect loads the source image, runs the model and renders the overlay.
func (s *FileService) inspect(ctx context.Context, sourceKey string, model inference.ModelRef) (*annotated, error) {
	data, err := s.store.Get(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.Validation("uploaded image not found")
		}
		return nil, err
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	detections, err := s.predictor.Predict(ctx, data, model)
	if err != nil {
		return nil, err
	}
	verdict, err := Summarize(detections)
	if err != nil {
		return nil, err
	}

	out, err := imaging.Encode(imaging.Overlay(img, detections), format)
	if err != nil {
		return nil, err
	}
	return &annotated{data: out, dimensions: imaging.Dimensions(img), verdict: verdict}, nil
}

// canonicalID accepts only the hyphenated 36 character uuid form and
// returns it lower-cased. uuid.Parse also takes "urn:uuid:" ids, which
// Postgres does not.
func canonicalID(id string) (string, bool) {
	if len(id) != 36 {
		return "", false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func (s *FileService) resolveModel(ctx context.Context, ownerID, weightID string) (inference.ModelRef, error) {
	if weightID == "" {
		return inference.Demo, nil
	}
	id, ok := canonicalID(weightID)
	if !ok {
		return inference.ModelRef{}, common.NotFound("weight not found")
	}
	w, err := s.repomanager.Weights(s.db).GetOwned(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return inference.ModelRef{}, common.NotFound("weight not found")
		}
		return inference.ModelRef{}, common.Persistence("load weight", err)
	}
	return inference.ModelRef{APIKey: w.APIKey, Project: w.Project, Version: w.Version}, nil
}

func (s *FileService) conflict(ctx context.Context, ownerID, name string) error {
	details := map[string]any{}
	if existing, err := s.repomanager.Files(s.db).FindByName(ctx, ownerID, name); err == nil {
		details["url"] = existing.URL
	}
	return common.Conflict("file already exists", details)
}

// compensate removes a blob written by a failed operation. It outlives the
// request context; a failure is logged and left for manual cleanup.
func (s *FileService) compensate(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error(ctx, "compensating delete failed", "key", key, "error", err)
	}
}

// Analyze classifies a staged image for ownerID and records the result.
// An empty weightID selects the demo model.
func (s *FileService) Analyze(ctx context.Context, ownerID, sourceURL, weightID string) (*models.File, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, common.Validation("no uploaded file url")
	}
	sourceKey, err := s.store.KeyFromURL(sourceURL)
	if err != nil {
		return nil, err
	}
	name := path.Base(sourceKey)
	if _, err := SanitizeImageName(name); err != nil {
		return nil, err
	}

	filesRepo := s.repomanager.Files(s.db)
	existing, err := filesRepo.FindByName(ctx, ownerID, name)
	switch {
	case err == nil:
		return nil, common.Conflict("file already exists", map[string]any{"url": existing.URL})
	case !errors.Is(err, common.ErrNotFound):
		return nil, common.Persistence("look up file", err)
	}

	model, err := s.resolveModel(ctx, ownerID, weightID)
	if err != nil {
		return nil, err
	}

	result, err := s.inspect(ctx, sourceKey, model)
	if err != nil {
		return nil, err
	}

	prefix, err := common.RandomPrefix()
	if err != nil {
		return nil, err
	}
	key := storage.MainPrefix + ownerID + "/" + prefix + name
	url, err := s.store.Put(ctx, key, result.data)
	if err != nil {
		return nil, err
	}

	record := &models.File{
		UserID:         ownerID,
		WeightID:       weightID,
		Name:           name,
		StorageKey:     key,
		Dimensions:     result.dimensions,
		Size:           common.HumanSize(len(result.data)),
		URL:            url,
		Classification: result.verdict.Classification,
		Accuracy:       result.verdict.Accuracy,
		ErrorRate:      result.verdict.ErrorRate,
	}
	created, err := filesRepo.Create(ctx, record)
	if err != nil {
		s.compensate(ctx, key)
		if errors.Is(err, common.ErrConflict) {
			return nil, s.conflict(ctx, ownerID, name)
		}
		return nil, common.Persistence("save file record", err)
	}

	s.log.Info(ctx, "file analyzed", "user_id", ownerID, "file_id", created.ID, "classification", created.Classification)
	return created, nil
}

// Demo classifies a staged image with the demo model. Nothing is recorded.
func (s *FileService) Demo(ctx context.Context, sourceURL string) (*models.DemoResult, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, common.Validation("no uploaded file url")
	}
	sourceKey, err := s.store.KeyFromURL(sourceURL)
	if err != nil {
		return nil, err
	}
	name := path.Base(sourceKey)
	if _, err := SanitizeImageName(name); err != nil {
		return nil, err
	}

	result, err := s.inspect(ctx, sourceKey, inference.Demo)
	if err != nil {
		return nil, err
	}

	prefix, err := common.RandomPrefix()
	if err != nil {
		return nil, err
	}
	url, err := s.store.Put(ctx, storage.DemosPrefix+prefix+name, result.data)
	if err != nil {
		return nil, err
	}

	return &models.DemoResult{
		URL:            url,
		Classification: result.verdict.Classification,
		Accuracy:       result.verdict.Accuracy,
		ErrorRate:      result.verdict.ErrorRate,
	}, nil
}

// ListOwned returns the owner's records, oldest first. The slice is empty,
// never nil, when there are none.
func (s *FileService) ListOwned(ctx context.Context, ownerID string) ([]*models.File, error) {
	list, err := s.repomanager.Files(s.db).ListOwned(ctx, ownerID)
	if err != nil {
		return nil, common.Persistence("list files", err)
	}
	return list, nil
}

// GetOwned returns one record. Missing, foreign and malformed ids are all
// reported the same way.
func (s *FileService) GetOwned(ctx context.Context, ownerID, fileID string) (*models.File, error) {
	id, ok := canonicalID(fileID)
	if !ok {
		return nil, common.NotFound("file not found")
	}
	f, err := s.repomanager.Files(s.db).GetOwned(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("file not found")
		}
		return nil, common.Persistence("load file", err)
	}
	return f, nil
}

// deleteRecord removes the blob first and the row only once the blob is
// gone, so a failed remote delete leaves the record intact.
func (s *FileService) deleteRecord(ctx context.Context, f *models.File) error {
	if err := s.store.Delete(ctx, f.StorageKey); err != nil {
		return err
	}
	if err := s.repomanager.Files(s.db).DeleteOwned(ctx, f.UserID, f.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// removed concurrently
			return nil
		}
		return common.Persistence("delete file record", err)
	}
	return nil
}

// DeleteOwned removes one record and its annotated image.
func (s *FileService) DeleteOwned(ctx context.Context, ownerID, fileID string) error {
	f, err := s.GetOwned(ctx, ownerID, fileID)
	if err != nil {
		return err
	}
	if err := s.deleteRecord(ctx, f); err != nil {
		return err
	}
	s.log.Info(ctx, "file deleted", "user_id", ownerID, "file_id", fileID)
	return nil
}

// ClearOwned removes every record of the owner. The first failing blob
// delete aborts; records cleared before it stay cleared. Returns how many
// records were removed.
func (s *FileService) ClearOwned(ctx context.Context, ownerID string) (int, error) {
	list, err := s.ListOwned(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	for i, f := range list {
		if err := s.deleteRecord(ctx, f); err != nil {
			s.log.Warn(ctx, "clear aborted", "user_id", ownerID, "cleared", i, "error", err)
			return i, err
		}
	}
	if len(list) > 0 {
		s.log.Info(ctx, "files cleared", "user_id", ownerID, "count", len(list))
	}
	return len(list), nil
}

// deleteByWeight removes every record analysed with weightID, blob first.
func (s *FileService) deleteByWeight(ctx context.Context, weightID string) error {
	list, err := s.repomanager.Files(s.db).ListByWeight(ctx, weightID)
	if err != nil {
		return common.Persistence("list files by weight", err)
	}
	for _, f := range list {
		if err := s.deleteRecord(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
