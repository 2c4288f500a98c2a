package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResourceType identifies the kind of domain entity a media asset is attached to.
type ResourceType string

const (
	ResourceUserProfile ResourceType = "user_profile"
	ResourceBusiness    ResourceType = "business"
	ResourcePost        ResourceType = "post"
	ResourceNews        ResourceType = "news"
)

// MediaTag is the semantic role an image plays for its resource.
type MediaTag string

const (
	TagProfilePic    MediaTag = "profile_pic"
	TagBanner        MediaTag = "banner"
	TagLogo          MediaTag = "logo"
	TagFeaturedImage MediaTag = "featured_image"
	TagGallery       MediaTag = "gallery"
)

// singularTags lists the tags that allow at most one asset per resource.
// Everything else is an ordered collection.
var singularTags = map[MediaTag]bool{
	TagProfilePic:    true,
	TagBanner:        true,
	TagLogo:          true,
	TagFeaturedImage: true,
}

// allowedTags restricts which tags each resource type may carry.
// Checked where an UploadContext is built, not at query time.
var allowedTags = map[ResourceType][]MediaTag{
	ResourceUserProfile: {TagProfilePic, TagBanner},
	ResourceBusiness:    {TagLogo, TagBanner, TagGallery},
	ResourcePost:        {TagGallery, TagFeaturedImage},
	ResourceNews:        {TagFeaturedImage, TagGallery},
}

// IsSingular reports whether at most one asset may exist per resource for this tag.
func (t MediaTag) IsSingular() bool {
	return singularTags[t]
}

// IsCollection reports whether the tag holds an ordered, multi-valued set.
func (t MediaTag) IsCollection() bool {
	return !singularTags[t]
}

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	_, ok := allowedTags[rt]
	return ok
}

// AllowedTags returns the tags a resource type may carry.
func (rt ResourceType) AllowedTags() []MediaTag {
	return allowedTags[rt]
}

// SingularTagNames returns the singular tags as strings, for SQL index predicates.
func SingularTagNames() []string {
	names := make([]string, 0, len(singularTags))
	for t := range singularTags {
		names = append(names, string(t))
	}
	return names
}

// ValidateAttachment checks that the (resource type, tag) pair is part of the
// closed attachment taxonomy.
func ValidateAttachment(rt ResourceType, tag MediaTag) error {
	tags, ok := allowedTags[rt]
	if !ok {
		return fmt.Errorf("unknown resource type: %s", rt)
	}
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	return fmt.Errorf("tag %s is not valid for resource type %s", tag, rt)
}

// JSONMap stores a flat string map as jsonb (variants, caller metadata).
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
	return json.Unmarshal(b, m)
}

// MediaAsset is one ledger entry: an image in the external store attached to a
// domain resource under a semantic tag. resource_type, resource_id and tag are
// immutable after creation; only position and metadata may be updated.
type MediaAsset struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID       string    `gorm:"size:128;not null;uniqueIndex" json:"external_id"`
	Filename         string    `gorm:"size:255" json:"filename"`
	OriginalFilename string    `gorm:"size:255" json:"original_filename"`
	MimeType         string    `gorm:"size:120" json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`

	URL          string  `gorm:"size:1024" json:"url"`
	ThumbnailURL string  `gorm:"size:1024" json:"thumbnail_url"`
	Variants     JSONMap `gorm:"type:jsonb" json:"variants"`

	ResourceType ResourceType `gorm:"size:32;not null;index:idx_media_resource,priority:1" json:"resource_type"`
	ResourceID   string       `gorm:"size:64;not null;index:idx_media_resource,priority:2" json:"resource_id"`
	Tag          MediaTag     `gorm:"size:32;not null;index:idx_media_resource,priority:3" json:"tag"`
	Position     int          `gorm:"not null;default:0" json:"position"`

	UploaderID uuid.UUID `gorm:"type:uuid" json:"uploader_id"`
	Metadata   JSONMap   `gorm:"type:jsonb" json:"metadata,omitempty"`

	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID if not set
func (a *MediaAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
