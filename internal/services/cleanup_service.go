package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alumnet/backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statsCacheKey  = "media:usage_stats"
	ledgerPageSize = 500
)

// ExternalFilter narrows a walk of the external store. Filtering happens
// client-side on the metadata embedded at upload time.
type ExternalFilter struct {
	App            string
	Environment    string
	UploaderID     string
	ResourceType   string
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
}

// SweepError records one item's failure inside a reconciliation pass.
type SweepError struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

// SweepReport is the outcome of a reconciliation pass. A per-item failure
// lands in Errors and never aborts the run.
type SweepReport struct {
	Found   int          `json:"found"`
	Deleted int          `json:"deleted"`
	Errors  []SweepError `json:"errors"`
}

// UsageStats aggregates straight from external-store metadata, independent of
// the ledger. LedgerCount rides along so the two totals can be compared; a gap
// is itself a reconciliation signal.
type UsageStats struct {
	Total         int            `json:"total"`
	ByEnvironment map[string]int `json:"by_environment"`
	ByUploader    map[string]int `json:"by_uploader"`
	ByMonth       map[string]int `json:"by_month"`
	LedgerCount   int64          `json:"ledger_count"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// mediaDeleter is the normal delete path; satisfied by UploadService.
type mediaDeleter interface {
	DeleteMedia(ctx context.Context, id uuid.UUID) error
}

// CleanupService detects and repairs drift between the external store and the
// ledger. All passes are administrative run-to-completion operations, never on
// a request path.
type CleanupService struct {
	ledger  MediaLedger
	host    ImageHost
	deleter mediaDeleter
	redis   *redis.Client
	cfg     *config.Config
	log     *zap.Logger
}

func NewCleanupService(ledger MediaLedger, host ImageHost, deleter mediaDeleter, redisClient *redis.Client, cfg *config.Config, log *zap.Logger) *CleanupService {
	return &CleanupService{
		ledger:  ledger,
		host:    host,
		deleter: deleter,
		redis:   redisClient,
		cfg:     cfg,
		log:     log,
	}
}

func (f ExternalFilter) matches(img HostedImage) bool {
	meta := img.Metadata
	if f.App != "" && meta["app"] != f.App {
		return false
	}
	if f.Environment != "" && meta["env"] != f.Environment {
		return false
	}
	if f.UploaderID != "" && meta["uploader_id"] != f.UploaderID {
		return false
	}
	if f.ResourceType != "" && meta["resource_type"] != f.ResourceType {
		return false
	}
	uploaded := img.UploadedAt
	if ts, ok := meta["uploaded_at"]; ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			uploaded = parsed
		}
	}
	if f.UploadedAfter != nil && uploaded.Before(*f.UploadedAfter) {
		return false
	}
	if f.UploadedBefore != nil && !uploaded.Before(*f.UploadedBefore) {
		return false
	}
	return true
}

// ListExternalByMetadata pages through the entire external store, keeping
// items whose embedded metadata matches the filter. Paging stops on the first
// short page.
func (s *CleanupService) ListExternalByMetadata(ctx context.Context, filter ExternalFilter) ([]HostedImage, error) {
	var matched []HostedImage
	page := 1
	for {
		items, hasMore, err := s.host.List(ctx, page, s.cfg.ImageHostPageSize)
		if err != nil {
			return nil, err
		}
		for _, img := range items {
			if filter.matches(img) {
				matched = append(matched, img)
			}
		}
		if !hasMore {
			return matched, nil
		}
		page++
	}
}

// appFilter scopes a sweep to this application and environment.
func (s *CleanupService) appFilter() ExternalFilter {
	return ExternalFilter{App: s.cfg.MediaAppTag, Environment: s.cfg.MediaEnvironment}
}

// FindOrphans walks the external store looking for objects this application
// owns that have no ledger record. With dryRun the pass only counts; otherwise
// each orphan is deleted externally.
func (s *CleanupService) FindOrphans(ctx context.Context, dryRun bool) (*SweepReport, error) {
	items, err := s.ListExternalByMetadata(ctx, s.appFilter())
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Errors: []SweepError{}}
	for _, img := range items {
		_, err := s.ledger.GetByExternalID(ctx, img.ExternalID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrAssetNotFound) {
			report.Errors = append(report.Errors, SweepError{ExternalID: img.ExternalID, Error: err.Error()})
			continue
		}

		report.Found++
		if dryRun {
			continue
		}
		if err := s.host.Delete(ctx, img.ExternalID); err != nil {
			report.Errors = append(report.Errors, SweepError{ExternalID: img.ExternalID, Error: err.Error()})
			continue
		}
		report.Deleted++
	}

	s.log.Info("orphan sweep finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("found", report.Found),
		zap.Int("deleted", report.Deleted),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// PurgeOlderThan removes this application's external objects uploaded strictly
// before the cutoff. An object uploaded exactly at the cutoff is retained.
// When a ledger record exists it is removed through the normal delete path.
func (s *CleanupService) PurgeOlderThan(ctx context.Context, days int, dryRun bool) (*SweepReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	filter := s.appFilter()
	filter.UploadedBefore = &cutoff

	items, err := s.ListExternalByMetadata(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Found: len(items), Errors: []SweepError{}}
	for _, img := range items {
		if dryRun {
			continue
		}

		asset, err := s.ledger.GetByExternalID(ctx, img.ExternalID)
		switch {
		case err == nil:
			if err := s.deleter.DeleteMedia(ctx, asset.ID); err != nil {
				report.Errors = append(report.Errors, SweepError{ExternalID: img.ExternalID, Error: err.Error()})
				continue
			}
		case errors.Is(err, ErrAssetNotFound):
			if err := s.host.Delete(ctx, img.ExternalID); err != nil {
				report.Errors = append(report.Errors, SweepError{ExternalID: img.ExternalID, Error: err.Error()})
				continue
			}
		default:
			report.Errors = append(report.Errors, SweepError{ExternalID: img.ExternalID, Error: err.Error()})
			continue
		}
		report.Deleted++
	}

	s.log.Info("age purge finished",
		zap.Int("older_than_days", days),
		zap.Bool("dry_run", dryRun),
		zap.Int("found", report.Found),
		zap.Int("deleted", report.Deleted),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// FindDangling is the symmetric sweep: ledger records whose external object no
// longer resolves. With dryRun=false the dead ledger row is removed.
func (s *CleanupService) FindDangling(ctx context.Context, dryRun bool) (*SweepReport, error) {
	report := &SweepReport{Errors: []SweepError{}}

	offset := 0
	for {
		assets, err := s.ledger.List(ctx, offset, ledgerPageSize)
		if err != nil {
			return nil, err
		}
		removed := 0
		for i := range assets {
			asset := assets[i]
			_, err := s.host.Details(ctx, asset.ExternalID)
			if err == nil {
				continue
			}
			var hostErr *HostError
			if !errors.As(err, &hostErr) || hostErr.StatusCode != 404 {
				report.Errors = append(report.Errors, SweepError{ExternalID: asset.ExternalID, Error: err.Error()})
				continue
			}

			report.Found++
			if dryRun {
				continue
			}
			if err := s.ledger.Delete(ctx, asset.ID); err != nil {
				report.Errors = append(report.Errors, SweepError{ExternalID: asset.ExternalID, Error: err.Error()})
				continue
			}
			report.Deleted++
			removed++
		}
		if len(assets) < ledgerPageSize {
			break
		}
		// Deleted rows vanish from subsequent windows; advance past survivors only.
		offset += len(assets) - removed
	}

	s.log.Info("dangling sweep finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("found", report.Found),
		zap.Int("deleted", report.Deleted),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// UsageStats aggregates the external store's contents for this application.
// Results are cached in Redis for a short TTL since the walk pages the whole
// store.
func (s *CleanupService) UsageStats(ctx context.Context) (*UsageStats, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var stats UsageStats
			if json.Unmarshal(cached, &stats) == nil {
				return &stats, nil
			}
		}
	}

	items, err := s.ListExternalByMetadata(ctx, ExternalFilter{App: s.cfg.MediaAppTag})
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		Total:         len(items),
		ByEnvironment: map[string]int{},
		ByUploader:    map[string]int{},
		ByMonth:       map[string]int{},
		GeneratedAt:   time.Now().UTC(),
	}
	for _, img := range items {
		stats.ByEnvironment[img.Metadata["env"]]++
		stats.ByUploader[img.Metadata["uploader_id"]]++
		uploaded := img.UploadedAt
		if ts, ok := img.Metadata["uploaded_at"]; ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				uploaded = parsed
			}
		}
		stats.ByMonth[uploaded.Format("2006-01")]++
	}

	if count, err := s.ledger.Count(ctx); err == nil {
		stats.LedgerCount = count
	}

	if s.redis != nil {
		if encoded, err := json.Marshal(stats); err == nil {
			_ = s.redis.Set(ctx, statsCacheKey, encoded, s.cfg.StatsCacheTTL).Err()
		}
	}
	return stats, nil
}
