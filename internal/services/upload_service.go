package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alumnet/backend/internal/config"
	"github.com/alumnet/backend/internal/models"
	"github.com/alumnet/backend/pkg/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validation failures; rejected before any I/O, neither store is touched.
var (
	ErrEmptyFile          = errors.New("empty file buffer")
	ErrFileTooLarge       = errors.New("file exceeds maximum size")
	ErrMimeTypeNotAllowed = errors.New("file type not allowed")
	ErrTooManyFiles       = errors.New("too many files in request")
	ErrSingularBatch      = errors.New("singular tag accepts only one file per upload")
)

// UploadContext says where an upload attaches: which resource, under which
// tag, on whose behalf.
type UploadContext struct {
	ResourceType models.ResourceType
	ResourceID   string
	Tag          models.MediaTag
	UploaderID   uuid.UUID
	Metadata     map[string]string
	Position     *int
}

// UploadOptions carries the per-tag cardinality and ordering policy.
type UploadOptions struct {
	MaxFileSize          int64
	AllowedMimeTypes     []string
	ReplaceExisting      bool
	UseGlobalPositioning bool
}

// UploadResult is what route handlers hand back to clients.
type UploadResult struct {
	ID           uuid.UUID `json:"id"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	ExternalID   string    `json:"external_id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	Position     int       `json:"position"`
}

// UploadFailure records one file's failure inside a batch.
type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchUploadResult never fails atomically: every file carries its own outcome.
type BatchUploadResult struct {
	Successful []UploadResult  `json:"successful"`
	Failed     []UploadFailure `json:"failed"`
}

// BufferedFile is an in-memory upload candidate.
type BufferedFile struct {
	Filename string
	Data     []byte
}

// UploadService turns validated file bytes plus an attachment context into
// persisted ledger entries backed by external objects.
type UploadService struct {
	ledger MediaLedger
	host   ImageHost
	cfg    *config.Config
	log    *zap.Logger

	droppedExternalDeletes atomic.Int64
}

func NewUploadService(ledger MediaLedger, host ImageHost, cfg *config.Config, log *zap.Logger) *UploadService {
	return &UploadService{ledger: ledger, host: host, cfg: cfg, log: log}
}

// DroppedExternalDeletes reports how many external deletes were swallowed
// during replace/cleanup flows since startup. Surfaced in the admin stats.
func (s *UploadService) DroppedExternalDeletes() int64 {
	return s.droppedExternalDeletes.Load()
}

func (s *UploadService) validate(file BufferedFile, opts UploadOptions) error {
	if len(file.Data) == 0 {
		return ErrEmptyFile
	}
	max := opts.MaxFileSize
	if max == 0 {
		max = s.cfg.UploadDefaultMaxSize
	}
	if int64(len(file.Data)) > max {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(file.Data), max)
	}
	mimeType := http.DetectContentType(file.Data)
	if !validation.MimeTypeAllowed(mimeType, opts.AllowedMimeTypes) {
		return fmt.Errorf("%w: %s", ErrMimeTypeNotAllowed, mimeType)
	}
	return nil
}

// externalMetadata builds the metadata embedded in the external object. The
// reserved keys are what reconciliation filters on; caller keys never
// override them.
func (s *UploadService) externalMetadata(uc UploadContext) map[string]string {
	meta := map[string]string{}
	for k, v := range uc.Metadata {
		meta[k] = v
	}
	meta["app"] = s.cfg.MediaAppTag
	meta["env"] = s.cfg.MediaEnvironment
	meta["uploaded_at"] = time.Now().UTC().Format(time.RFC3339)
	meta["resource_type"] = string(uc.ResourceType)
	meta["resource_id"] = uc.ResourceID
	meta["tag"] = string(uc.Tag)
	meta["uploader_id"] = uc.UploaderID.String()
	return meta
}

func (s *UploadService) startPosition(ctx context.Context, uc UploadContext, opts UploadOptions) (int, error) {
	if uc.Position != nil {
		return *uc.Position, nil
	}
	// A singular slot is always position 0, whether or not it replaces.
	if uc.Tag.IsSingular() {
		return 0, nil
	}
	if opts.ReplaceExisting {
		return 0, nil
	}
	max, found, err := s.ledger.MaxPosition(ctx, uc.ResourceType, uc.ResourceID, uc.Tag, opts.UseGlobalPositioning)
	if err != nil {
		return 0, fmt.Errorf("failed to compute position: %w", err)
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

// deleteExisting removes all current assets for (resource, tag). External
// deletes are attempted first per record and swallowed on failure; the ledger
// rows always go.
func (s *UploadService) deleteExisting(ctx context.Context, uc UploadContext) error {
	existing, err := s.ledger.FindByResource(ctx, uc.ResourceType, uc.ResourceID, []models.MediaTag{uc.Tag})
	if err != nil {
		return err
	}
	for i := range existing {
		s.deleteExternal(ctx, existing[i].ExternalID)
		if err := s.ledger.Delete(ctx, existing[i].ID); err != nil {
			return fmt.Errorf("failed to delete replaced asset %s: %w", existing[i].ID, err)
		}
	}
	return nil
}

func (s *UploadService) deleteExternal(ctx context.Context, externalID string) {
	if err := s.host.Delete(ctx, externalID); err != nil {
		s.droppedExternalDeletes.Add(1)
		s.log.Warn("external delete failed, continuing",
			zap.String("external_id", externalID),
			zap.Error(err))
	}
}

// doUpload performs the external upload and ledger persist for one validated
// file at a fixed position.
func (s *UploadService) doUpload(ctx context.Context, file BufferedFile, uc UploadContext, position int) (*UploadResult, error) {
	mimeType := http.DetectContentType(file.Data)
	safeName := validation.SanitizeFilename(file.Filename)
	storedName := fmt.Sprintf("%s-%s%s", uc.ResourceType, uuid.New().String(), strings.ToLower(filepath.Ext(safeName)))

	hosted, err := s.host.Upload(ctx, file.Data, storedName, s.externalMetadata(uc))
	if err != nil {
		return nil, fmt.Errorf("external upload failed: %w", err)
	}

	asset := &models.MediaAsset{
		ExternalID:       hosted.ExternalID,
		Filename:         storedName,
		OriginalFilename: safeName,
		MimeType:         mimeType,
		SizeBytes:        int64(len(file.Data)),
		URL:              pickVariant(hosted.Variants, "public"),
		ThumbnailURL:     pickVariant(hosted.Variants, "thumbnail"),
		Variants:         models.JSONMap(hosted.Variants),
		ResourceType:     uc.ResourceType,
		ResourceID:       uc.ResourceID,
		Tag:              uc.Tag,
		Position:         position,
		UploaderID:       uc.UploaderID,
		Metadata:         models.JSONMap(uc.Metadata),
	}

	if uc.Tag.IsSingular() {
		err = s.ledger.Upsert(ctx, asset)
	} else {
		err = s.ledger.Create(ctx, asset)
	}
	if err != nil {
		// The external object now has no ledger record. That orphan is
		// expected drift, picked up by the reconciliation sweep.
		s.log.Error("ledger persist failed after external upload, orphan created",
			zap.String("external_id", hosted.ExternalID),
			zap.String("resource_type", string(uc.ResourceType)),
			zap.String("resource_id", uc.ResourceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to persist media asset: %w", err)
	}

	return &UploadResult{
		ID:           asset.ID,
		URL:          asset.URL,
		ThumbnailURL: asset.ThumbnailURL,
		ExternalID:   asset.ExternalID,
		Filename:     asset.OriginalFilename,
		Size:         asset.SizeBytes,
		Position:     asset.Position,
	}, nil
}

func pickVariant(variants map[string]string, preferred string) string {
	if url, ok := variants[preferred]; ok {
		return url
	}
	for _, url := range variants {
		return url
	}
	return ""
}

// UploadSingle attaches one file. Validation failures return before any I/O;
// with ReplaceExisting set, current assets for the tag are removed first.
func (s *UploadService) UploadSingle(ctx context.Context, file BufferedFile, uc UploadContext, opts UploadOptions) (*UploadResult, error) {
	if err := models.ValidateAttachment(uc.ResourceType, uc.Tag); err != nil {
		return nil, err
	}
	if err := s.validate(file, opts); err != nil {
		return nil, err
	}
	if opts.ReplaceExisting {
		if err := s.deleteExisting(ctx, uc); err != nil {
			return nil, err
		}
	}
	position, err := s.startPosition(ctx, uc, opts)
	if err != nil {
		return nil, err
	}
	return s.doUpload(ctx, file, uc, position)
}

// UploadMultiple processes files sequentially, assigning consecutive positions
// from the value computed once at batch start. One file's failure never aborts
// the rest; the batch itself always succeeds. Singular tags hold exactly one
// asset, so batches of more than one file are rejected up front.
func (s *UploadService) UploadMultiple(ctx context.Context, files []BufferedFile, uc UploadContext, opts UploadOptions) (*BatchUploadResult, error) {
	if err := models.ValidateAttachment(uc.ResourceType, uc.Tag); err != nil {
		return nil, err
	}
	if uc.Tag.IsSingular() && len(files) > 1 {
		return nil, fmt.Errorf("%w: got %d files for tag %s", ErrSingularBatch, len(files), uc.Tag)
	}
	if opts.ReplaceExisting {
		if err := s.deleteExisting(ctx, uc); err != nil {
			return nil, err
		}
	}
	position, err := s.startPosition(ctx, uc, opts)
	if err != nil {
		return nil, err
	}

	result := &BatchUploadResult{
		Successful: []UploadResult{},
		Failed:     []UploadFailure{},
	}
	for _, file := range files {
		if err := s.validate(file, opts); err != nil {
			result.Failed = append(result.Failed, UploadFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}
		res, err := s.doUpload(ctx, file, uc, position)
		if err != nil {
			result.Failed = append(result.Failed, UploadFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, *res)
		position++
	}
	return result, nil
}

// UploadFromRequest drains the request's multipart form into buffered files
// and delegates. A single file with ReplaceExisting goes through the single
// upload path.
func (s *UploadService) UploadFromRequest(ctx context.Context, r *http.Request, field string, uc UploadContext, opts UploadOptions) (*BatchUploadResult, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		return nil, errors.New("no files in request")
	}
	if len(headers) > s.cfg.UploadMaxFiles {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyFiles, len(headers), s.cfg.UploadMaxFiles)
	}

	files := make([]BufferedFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", h.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", h.Filename, err)
		}
		files = append(files, BufferedFile{Filename: h.Filename, Data: data})
	}

	if len(files) == 1 && opts.ReplaceExisting {
		res, err := s.UploadSingle(ctx, files[0], uc, opts)
		if err != nil {
			return &BatchUploadResult{
				Successful: []UploadResult{},
				Failed:     []UploadFailure{{Filename: files[0].Filename, Error: err.Error()}},
			}, nil
		}
		return &BatchUploadResult{Successful: []UploadResult{*res}, Failed: []UploadFailure{}}, nil
	}
	return s.UploadMultiple(ctx, files, uc, opts)
}

// DeleteMedia removes one asset from both stores. The external delete is
// attempted first and swallowed on failure; the ledger row is what callers
// observe and it is guaranteed gone.
func (s *UploadService) DeleteMedia(ctx context.Context, id uuid.UUID) error {
	asset, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.deleteExternal(ctx, asset.ExternalID)
	return s.ledger.Delete(ctx, id)
}

// DeleteByResource removes every asset for a resource, optionally narrowed to
// one tag. Returns how many ledger rows were removed.
func (s *UploadService) DeleteByResource(ctx context.Context, rt models.ResourceType, resourceID string, tag *models.MediaTag) (int, error) {
	var tags []models.MediaTag
	if tag != nil {
		tags = []models.MediaTag{*tag}
	}
	assets, err := s.ledger.FindByResource(ctx, rt, resourceID, tags)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := range assets {
		s.deleteExternal(ctx, assets[i].ExternalID)
		if err := s.ledger.Delete(ctx, assets[i].ID); err != nil {
			return deleted, fmt.Errorf("failed to delete asset %s: %w", assets[i].ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// Reorder rewrites a collection's positions to follow orderedIDs.
func (s *UploadService) Reorder(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, orderedIDs []uuid.UUID) error {
	if err := models.ValidateAttachment(rt, tag); err != nil {
		return err
	}
	if tag.IsSingular() {
		return fmt.Errorf("tag %s is singular and cannot be reordered", tag)
	}
	return s.ledger.Reorder(ctx, rt, resourceID, tag, orderedIDs)
}

// UpdateMetadata replaces an asset's opaque metadata. resource_type,
// resource_id and tag stay immutable.
func (s *UploadService) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]string) error {
	if _, err := s.ledger.GetByID(ctx, id); err != nil {
		return err
	}
	return s.ledger.UpdateMetadata(ctx, id, models.JSONMap(metadata))
}
