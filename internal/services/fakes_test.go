package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alumnet/backend/internal/config"
	"github.com/alumnet/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// -------- test fakes --------

type fakeLedger struct {
	assets map[uuid.UUID]*models.MediaAsset

	// batchQueries counts FindByResources calls; the resolver's query bound
	// is asserted against it.
	batchQueries int

	createErr error
	deleteErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{assets: map[uuid.UUID]*models.MediaAsset{}}
}

func (l *fakeLedger) Create(ctx context.Context, asset *models.MediaAsset) error {
	if l.createErr != nil {
		return l.createErr
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	asset.UploadedAt = time.Now().UTC()
	cp := *asset
	l.assets[asset.ID] = &cp
	return nil
}

func (l *fakeLedger) Upsert(ctx context.Context, asset *models.MediaAsset) error {
	for id, existing := range l.assets {
		if existing.ResourceType == asset.ResourceType &&
			existing.ResourceID == asset.ResourceID &&
			existing.Tag == asset.Tag && asset.Tag.IsSingular() {
			delete(l.assets, id)
		}
	}
	return l.Create(ctx, asset)
}

func (l *fakeLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaAsset, error) {
	asset, ok := l.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	cp := *asset
	return &cp, nil
}

func (l *fakeLedger) GetByExternalID(ctx context.Context, externalID string) (*models.MediaAsset, error) {
	for _, asset := range l.assets {
		if asset.ExternalID == externalID {
			cp := *asset
			return &cp, nil
		}
	}
	return nil, ErrAssetNotFound
}

func (l *fakeLedger) matching(rt models.ResourceType, resourceIDs []string, tags []models.MediaTag) []models.MediaAsset {
	idSet := map[string]bool{}
	for _, id := range resourceIDs {
		idSet[id] = true
	}
	tagSet := map[models.MediaTag]bool{}
	for _, t := range tags {
		tagSet[t] = true
	}

	var out []models.MediaAsset
	for _, asset := range l.assets {
		if asset.ResourceType != rt || !idSet[asset.ResourceID] {
			continue
		}
		if len(tags) > 0 && !tagSet[asset.Tag] {
			continue
		}
		out = append(out, *asset)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func (l *fakeLedger) FindByResource(ctx context.Context, rt models.ResourceType, resourceID string, tags []models.MediaTag) ([]models.MediaAsset, error) {
	return l.matching(rt, []string{resourceID}, tags), nil
}

func (l *fakeLedger) FindByResources(ctx context.Context, rt models.ResourceType, resourceIDs []string, tags []models.MediaTag) ([]models.MediaAsset, error) {
	l.batchQueries++
	return l.matching(rt, resourceIDs, tags), nil
}

func (l *fakeLedger) MaxPosition(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, global bool) (int, bool, error) {
	var tags []models.MediaTag
	if !global {
		tags = []models.MediaTag{tag}
	}
	assets := l.matching(rt, []string{resourceID}, tags)
	if len(assets) == 0 {
		return 0, false, nil
	}
	max := assets[0].Position
	for _, a := range assets {
		if a.Position > max {
			max = a.Position
		}
	}
	return max, true, nil
}

func (l *fakeLedger) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata models.JSONMap) error {
	asset, ok := l.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	asset.Metadata = metadata
	return nil
}

func (l *fakeLedger) Reorder(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, orderedIDs []uuid.UUID) error {
	for i, id := range orderedIDs {
		asset, ok := l.assets[id]
		if !ok {
			return ErrAssetNotFound
		}
		asset.Position = i
	}
	return nil
}

func (l *fakeLedger) Delete(ctx context.Context, id uuid.UUID) error {
	if l.deleteErr != nil {
		return l.deleteErr
	}
	delete(l.assets, id)
	return nil
}

func (l *fakeLedger) List(ctx context.Context, offset, limit int) ([]models.MediaAsset, error) {
	var all []models.MediaAsset
	for _, asset := range l.assets {
		all = append(all, *asset)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExternalID < all[j].ExternalID })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (l *fakeLedger) Count(ctx context.Context) (int64, error) {
	return int64(len(l.assets)), nil
}

type fakeHost struct {
	seq     int
	objects map[string]HostedImage

	uploads []string // external IDs in upload order
	deletes []string

	uploadErr      error
	deleteFailFor  map[string]error
	detailsMissing map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		objects:        map[string]HostedImage{},
		deleteFailFor:  map[string]error{},
		detailsMissing: map[string]bool{},
	}
}

func (h *fakeHost) Upload(ctx context.Context, data []byte, filename string, metadata map[string]string) (*HostedImage, error) {
	if h.uploadErr != nil {
		return nil, h.uploadErr
	}
	h.seq++
	id := fmt.Sprintf("ext-%d", h.seq)
	img := HostedImage{
		ExternalID: id,
		Filename:   filename,
		UploadedAt: time.Now().UTC(),
		Metadata:   metadata,
		Variants: map[string]string{
			"public":    "https://img.test/" + id + "/public",
			"thumbnail": "https://img.test/" + id + "/thumbnail",
		},
	}
	h.objects[id] = img
	h.uploads = append(h.uploads, id)
	return &img, nil
}

func (h *fakeHost) Delete(ctx context.Context, externalID string) error {
	if err, ok := h.deleteFailFor[externalID]; ok {
		return err
	}
	h.deletes = append(h.deletes, externalID)
	delete(h.objects, externalID)
	return nil
}

func (h *fakeHost) Details(ctx context.Context, externalID string) (*HostedImage, error) {
	if h.detailsMissing[externalID] {
		return nil, &HostError{StatusCode: 404, Body: "not found"}
	}
	img, ok := h.objects[externalID]
	if !ok {
		return nil, &HostError{StatusCode: 404, Body: "not found"}
	}
	cp := img
	return &cp, nil
}

func (h *fakeHost) List(ctx context.Context, page, perPage int) ([]HostedImage, bool, error) {
	ids := make([]string, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := (page - 1) * perPage
	if start >= len(ids) {
		return nil, false, nil
	}
	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}
	items := make([]HostedImage, 0, end-start)
	for _, id := range ids[start:end] {
		items = append(items, h.objects[id])
	}
	return items, len(items) == perPage, nil
}

func (h *fakeHost) DeliveryURL(externalID, variant string) string {
	return "https://img.test/" + externalID + "/" + variant
}

func (h *fakeHost) VariantURLs(ctx context.Context, externalID string) (map[string]string, error) {
	img, err := h.Details(ctx, externalID)
	if err != nil {
		return nil, err
	}
	urls := map[string]string{}
	for name := range img.Variants {
		urls[name] = h.DeliveryURL(externalID, name)
	}
	return urls, nil
}

// -------- shared helpers --------

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		MediaAppTag:          "alumnet",
		MediaEnvironment:     "test",
		UploadMaxFiles:       10,
		UploadDefaultMaxSize: 10 * 1024 * 1024,
		ImageHostPageSize:    2,
		StatsCacheTTL:        time.Minute,
	}
}

func newTestUploadService(ledger MediaLedger, host ImageHost) *UploadService {
	return NewUploadService(ledger, host, testConfig(), zap.NewNop())
}

// pngFile returns a minimal buffer that sniffs as image/png.
func pngFile(name string) BufferedFile {
	return BufferedFile{
		Filename: name,
		Data:     append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...),
	}
}

func textFile(name string) BufferedFile {
	return BufferedFile{Filename: name, Data: []byte("definitely not an image, just plain text")}
}
