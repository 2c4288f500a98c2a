package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaTagCardinality(t *testing.T) {
	singular := []MediaTag{TagProfilePic, TagBanner, TagLogo, TagFeaturedImage}
	for _, tag := range singular {
		assert.True(t, tag.IsSingular(), "%s must be singular", tag)
		assert.False(t, tag.IsCollection())
	}
	assert.True(t, TagGallery.IsCollection())
	assert.False(t, TagGallery.IsSingular())
}

func TestSingularTagNames_CoversAllSingularTags(t *testing.T) {
	names := SingularTagNames()
	assert.ElementsMatch(t, []string{"profile_pic", "banner", "logo", "featured_image"}, names)
}

func TestResourceTypeValid(t *testing.T) {
	for _, rt := range []ResourceType{ResourceUserProfile, ResourceBusiness, ResourcePost, ResourceNews} {
		assert.True(t, rt.Valid(), "%s", rt)
	}
	assert.False(t, ResourceType("comment").Valid())
}

func TestValidateAttachment(t *testing.T) {
	tests := []struct {
		rt      ResourceType
		tag     MediaTag
		wantErr bool
	}{
		{ResourceUserProfile, TagProfilePic, false},
		{ResourceUserProfile, TagBanner, false},
		{ResourceUserProfile, TagLogo, true},
		{ResourceBusiness, TagLogo, false},
		{ResourceBusiness, TagGallery, false},
		{ResourceBusiness, TagProfilePic, true},
		{ResourcePost, TagFeaturedImage, false},
		{ResourceNews, TagFeaturedImage, false},
		{ResourceType("comment"), TagGallery, true},
	}
	for _, tt := range tests {
		err := ValidateAttachment(tt.rt, tt.tag)
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.rt, tt.tag)
		} else {
			assert.NoError(t, err, "%s/%s", tt.rt, tt.tag)
		}
	}
}

func TestJSONMapValue(t *testing.T) {
	var nilMap JSONMap
	v, err := nilMap.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v, "nil map persists as an empty jsonb object")

	v, err = JSONMap{"caption": "reunion"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"caption":"reunion"}`, v.(string))
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"a":"1"}`)))
	assert.Equal(t, "1", m["a"])

	require.NoError(t, m.Scan(`{"b":"2"}`))
	assert.Equal(t, "2", m["b"])

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))
}
