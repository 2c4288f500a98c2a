package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alumnet/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profilePicContext() UploadContext {
	return UploadContext{
		ResourceType: models.ResourceUserProfile,
		ResourceID:   "user-1",
		Tag:          models.TagProfilePic,
		UploaderID:   uuid.New(),
	}
}

func galleryContext(resourceID string) UploadContext {
	return UploadContext{
		ResourceType: models.ResourcePost,
		ResourceID:   resourceID,
		Tag:          models.TagGallery,
		UploaderID:   uuid.New(),
	}
}

func TestUploadSingle_ValidationFailsBeforeIO(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposeProfilePicture)
	require.NoError(t, err)

	tests := []struct {
		name    string
		file    BufferedFile
		wantErr error
	}{
		{"empty buffer", BufferedFile{Filename: "a.png"}, ErrEmptyFile},
		{"oversized", BufferedFile{Filename: "big.png", Data: make([]byte, 6*1024*1024)}, ErrFileTooLarge},
		{"disallowed type", textFile("notes.txt"), ErrMimeTypeNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UploadSingle(context.Background(), tt.file, profilePicContext(), preset.Options)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// No I/O happened on either store.
	assert.Empty(t, host.uploads)
	assert.Empty(t, ledger.assets)
}

func TestUploadSingle_ReplaceKeepsSingularCardinality(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposeProfilePicture)
	require.NoError(t, err)
	uc := profilePicContext()

	first, err := svc.UploadSingle(context.Background(), pngFile("one.png"), uc, preset.Options)
	require.NoError(t, err)

	second, err := svc.UploadSingle(context.Background(), pngFile("two.png"), uc, preset.Options)
	require.NoError(t, err)

	// Exactly one ledger record, at position 0, pointing at the new object.
	require.Len(t, ledger.assets, 1)
	for _, asset := range ledger.assets {
		assert.Equal(t, second.ExternalID, asset.ExternalID)
		assert.Equal(t, 0, asset.Position)
	}
	assert.Equal(t, 0, second.Position)

	// The first external object was deleted by the replace flow.
	assert.Contains(t, host.deletes, first.ExternalID)
}

func TestUploadSingle_CollectionPositionsAscend(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)
	uc := galleryContext("post-9")

	for want := 0; want < 4; want++ {
		res, err := svc.UploadSingle(context.Background(), pngFile("img.png"), uc, preset.Options)
		require.NoError(t, err)
		assert.Equal(t, want, res.Position)
	}
	assert.Len(t, ledger.assets, 4)
}

func TestUploadSingle_GlobalPositioningSpansTags(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	// A featured image already occupies position 0 on the post.
	featured := UploadContext{
		ResourceType: models.ResourcePost,
		ResourceID:   "post-1",
		Tag:          models.TagFeaturedImage,
		UploaderID:   uuid.New(),
	}
	_, err := svc.UploadSingle(context.Background(), pngFile("cover.png"), featured, UploadOptions{})
	require.NoError(t, err)

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)

	res, err := svc.UploadSingle(context.Background(), pngFile("g.png"), galleryContext("post-1"), preset.Options)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position, "gallery continues the post-wide sequence")
}

func TestUploadMultiple_PartialFailure(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)

	files := []BufferedFile{
		pngFile("a.png"),
		textFile("b.txt"),
		pngFile("c.png"),
	}
	result, err := svc.UploadMultiple(context.Background(), files, galleryContext("post-2"), preset.Options)
	require.NoError(t, err)

	require.Len(t, result.Successful, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b.txt", result.Failed[0].Filename)
	assert.NotEmpty(t, result.Failed[0].Error)

	// Survivors sit at self-consistent contiguous positions.
	assert.Equal(t, 0, result.Successful[0].Position)
	assert.Equal(t, 1, result.Successful[1].Position)
	assert.Len(t, ledger.assets, 2)
}

func TestUploadMultiple_RejectsMultiFileBatchForSingularTag(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposeProfilePicture)
	require.NoError(t, err)

	files := []BufferedFile{pngFile("a.png"), pngFile("b.png")}
	_, err = svc.UploadMultiple(context.Background(), files, profilePicContext(), preset.Options)
	assert.ErrorIs(t, err, ErrSingularBatch)

	// Rejected up front: neither store was touched.
	assert.Empty(t, host.uploads)
	assert.Empty(t, ledger.assets)
}

func TestUploadMultiple_SingleFileSingularStaysAtZero(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	// The logo preset does not pre-delete; a re-upload goes through the
	// upsert and must still hold exactly one row at position 0.
	preset, err := PresetFor(PurposeBusinessLogo)
	require.NoError(t, err)
	uc := UploadContext{
		ResourceType: models.ResourceBusiness,
		ResourceID:   "biz-1",
		Tag:          models.TagLogo,
		UploaderID:   uuid.New(),
	}

	for i := 0; i < 2; i++ {
		result, err := svc.UploadMultiple(context.Background(), []BufferedFile{pngFile("logo.png")}, uc, preset.Options)
		require.NoError(t, err)
		require.Len(t, result.Successful, 1)
		assert.Equal(t, 0, result.Successful[0].Position)
	}
	require.Len(t, ledger.assets, 1)
	for _, asset := range ledger.assets {
		assert.Equal(t, 0, asset.Position)
	}
}

func TestUploadMultiple_ContinuesFromExistingPositions(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)
	uc := galleryContext("post-3")

	_, err = svc.UploadMultiple(context.Background(), []BufferedFile{pngFile("1.png"), pngFile("2.png")}, uc, preset.Options)
	require.NoError(t, err)

	result, err := svc.UploadMultiple(context.Background(), []BufferedFile{pngFile("3.png")}, uc, preset.Options)
	require.NoError(t, err)
	require.Len(t, result.Successful, 1)
	assert.Equal(t, 2, result.Successful[0].Position)
}

func TestUploadSingle_ExternalFailureLeavesLedgerUntouched(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	host.uploadErr = &HostError{StatusCode: 502, Body: "bad gateway"}
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposeProfilePicture)
	require.NoError(t, err)

	_, err = svc.UploadSingle(context.Background(), pngFile("x.png"), profilePicContext(), preset.Options)
	require.Error(t, err)

	var hostErr *HostError
	assert.ErrorAs(t, err, &hostErr)
	assert.Empty(t, ledger.assets)
}

func TestUploadSingle_RejectsUnknownTagForResource(t *testing.T) {
	svc := newTestUploadService(newFakeLedger(), newFakeHost())

	uc := UploadContext{
		ResourceType: models.ResourceUserProfile,
		ResourceID:   "user-1",
		Tag:          models.TagLogo, // logos belong to businesses
		UploaderID:   uuid.New(),
	}
	_, err := svc.UploadSingle(context.Background(), pngFile("l.png"), uc, UploadOptions{})
	require.Error(t, err)
}

func TestDeleteByResource_SurvivesExternalDeleteFailure(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)
	uc := galleryContext("post-4")

	result, err := svc.UploadMultiple(context.Background(),
		[]BufferedFile{pngFile("1.png"), pngFile("2.png"), pngFile("3.png")}, uc, preset.Options)
	require.NoError(t, err)
	require.Len(t, result.Successful, 3)

	// One external delete will fail; the local records must still all go.
	host.deleteFailFor[result.Successful[1].ExternalID] = errors.New("network down")

	deleted, err := svc.DeleteByResource(context.Background(), models.ResourcePost, "post-4", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Empty(t, ledger.assets)
	assert.Equal(t, int64(1), svc.DroppedExternalDeletes())
}

func TestDeleteMedia_RemovesBothStores(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	preset, err := PresetFor(PurposeProfilePicture)
	require.NoError(t, err)

	res, err := svc.UploadSingle(context.Background(), pngFile("p.png"), profilePicContext(), preset.Options)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMedia(context.Background(), res.ID))
	assert.Empty(t, ledger.assets)
	assert.Contains(t, host.deletes, res.ExternalID)

	err = svc.DeleteMedia(context.Background(), res.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestReorder_RejectsSingularTags(t *testing.T) {
	svc := newTestUploadService(newFakeLedger(), newFakeHost())

	err := svc.Reorder(context.Background(), models.ResourceUserProfile, "user-1",
		models.TagProfilePic, []uuid.UUID{uuid.New()})
	require.Error(t, err)
}

func TestUploadMetadata_EmbedsReconciliationKeys(t *testing.T) {
	ledger := newFakeLedger()
	host := newFakeHost()
	svc := newTestUploadService(ledger, host)

	uc := galleryContext("post-7")
	uc.Metadata = map[string]string{"caption": "reunion"}

	preset, err := PresetFor(PurposePostGallery)
	require.NoError(t, err)

	res, err := svc.UploadSingle(context.Background(), pngFile("r.png"), uc, preset.Options)
	require.NoError(t, err)

	meta := host.objects[res.ExternalID].Metadata
	assert.Equal(t, "alumnet", meta["app"])
	assert.Equal(t, "test", meta["env"])
	assert.Equal(t, "post", meta["resource_type"])
	assert.Equal(t, "post-7", meta["resource_id"])
	assert.Equal(t, "gallery", meta["tag"])
	assert.Equal(t, uc.UploaderID.String(), meta["uploader_id"])
	assert.Equal(t, "reunion", meta["caption"])
	assert.NotEmpty(t, meta["uploaded_at"])
}

func TestPresetFor_UnknownPurpose(t *testing.T) {
	_, err := PresetFor(UploadPurpose("vacation_album"))
	require.Error(t, err)
}

func TestPresetFor_LogoDoesNotPreDelete(t *testing.T) {
	preset, err := PresetFor(PurposeBusinessLogo)
	require.NoError(t, err)
	assert.False(t, preset.Options.ReplaceExisting)
	assert.Equal(t, models.TagLogo, preset.Tag)
}
