package services

import (
	"fmt"

	"github.com/alumnet/backend/internal/models"
)

// UploadPurpose names a known attachment purpose. Route handlers pass a
// purpose and get back the resource/tag fragment plus the cardinality policy,
// so route code never hard-codes policy.
type UploadPurpose string

const (
	PurposeProfilePicture UploadPurpose = "profile_picture"
	PurposeProfileBanner  UploadPurpose = "profile_banner"
	PurposeBusinessLogo   UploadPurpose = "business_logo"
	PurposeBusinessBanner UploadPurpose = "business_banner"
	PurposePostGallery    UploadPurpose = "post_gallery"
	PurposeNewsFeatured   UploadPurpose = "news_featured_image"
)

// PresetConfig is the canned (context fragment, options) pair for a purpose.
type PresetConfig struct {
	ResourceType models.ResourceType
	Tag          models.MediaTag
	Options      UploadOptions
}

var defaultImageMimeTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

const mb = 1024 * 1024

var presets = map[UploadPurpose]PresetConfig{
	PurposeProfilePicture: {
		ResourceType: models.ResourceUserProfile,
		Tag:          models.TagProfilePic,
		Options: UploadOptions{
			MaxFileSize:      5 * mb,
			AllowedMimeTypes: defaultImageMimeTypes,
			ReplaceExisting:  true,
		},
	},
	PurposeProfileBanner: {
		ResourceType: models.ResourceUserProfile,
		Tag:          models.TagBanner,
		Options: UploadOptions{
			MaxFileSize:      8 * mb,
			AllowedMimeTypes: defaultImageMimeTypes,
			ReplaceExisting:  true,
		},
	},
	// Logo deliberately does not pre-delete: callers delete explicitly before
	// re-upload. The asymmetry is part of the contract.
	PurposeBusinessLogo: {
		ResourceType: models.ResourceBusiness,
		Tag:          models.TagLogo,
		Options: UploadOptions{
			MaxFileSize:      3 * mb,
			AllowedMimeTypes: defaultImageMimeTypes,
			ReplaceExisting:  false,
		},
	},
	PurposeBusinessBanner: {
		ResourceType: models.ResourceBusiness,
		Tag:          models.TagBanner,
		Options: UploadOptions{
			MaxFileSize:      10 * mb,
			AllowedMimeTypes: defaultImageMimeTypes,
			ReplaceExisting:  true,
		},
	},
	// Post galleries position across all tags of the post, so the first image
	// of the post is position 0 whatever its tag.
	PurposePostGallery: {
		ResourceType: models.ResourcePost,
		Tag:          models.TagGallery,
		Options: UploadOptions{
			MaxFileSize:          10 * mb,
			AllowedMimeTypes:     defaultImageMimeTypes,
			ReplaceExisting:      false,
			UseGlobalPositioning: true,
		},
	},
	PurposeNewsFeatured: {
		ResourceType: models.ResourceNews,
		Tag:          models.TagFeaturedImage,
		Options: UploadOptions{
			MaxFileSize:      8 * mb,
			AllowedMimeTypes: defaultImageMimeTypes,
			ReplaceExisting:  true,
		},
	},
}

// PresetFor returns the canned upload policy for a purpose.
func PresetFor(purpose UploadPurpose) (*PresetConfig, error) {
	preset, ok := presets[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown upload purpose: %s", purpose)
	}
	return &preset, nil
}
