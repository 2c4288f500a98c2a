package services

import (
	"context"
	"sort"
	"strings"

	"github.com/alumnet/backend/internal/models"
)

// ResourceDescriptor asks for the media of many resources of one type at once.
type ResourceDescriptor struct {
	ResourceType models.ResourceType `json:"resource_type"`
	ResourceIDs  []string            `json:"resource_ids"`
	Tags         []models.MediaTag   `json:"tags"`
}

type resolveKey struct {
	rt  models.ResourceType
	tag models.MediaTag
}

// ResolvedMedia holds the resolver output. Lookups for IDs with no record
// return nil / empty, never an error.
type ResolvedMedia struct {
	singular   map[resolveKey]map[string]*models.MediaAsset
	collection map[resolveKey]map[string][]models.MediaAsset
}

// Singular returns the single asset for a singular tag, or nil when absent.
func (m *ResolvedMedia) Singular(rt models.ResourceType, tag models.MediaTag, resourceID string) *models.MediaAsset {
	byID, ok := m.singular[resolveKey{rt, tag}]
	if !ok {
		return nil
	}
	return byID[resourceID]
}

// Collection returns the ordered assets for a collection tag, ascending by
// position. Empty when the resource has none.
func (m *ResolvedMedia) Collection(rt models.ResourceType, tag models.MediaTag, resourceID string) []models.MediaAsset {
	byID, ok := m.collection[resolveKey{rt, tag}]
	if !ok {
		return nil
	}
	return byID[resourceID]
}

// MediaResolver resolves many resources' media in a bounded number of ledger
// queries: one per (resource type, tag set) combination, never one per ID.
type MediaResolver struct {
	ledger MediaLedger
}

func NewMediaResolver(ledger MediaLedger) *MediaResolver {
	return &MediaResolver{ledger: ledger}
}

// groupKey collapses descriptors that can share a query.
func groupKey(rt models.ResourceType, tags []models.MediaTag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = string(t)
	}
	sort.Strings(names)
	return string(rt) + "|" + strings.Join(names, ",")
}

// Resolve answers all descriptors. Descriptors with the same resource type and
// tag set are merged before querying, so the query count depends on the number
// of (type, tag-set) combinations, not on how many IDs are supplied.
func (r *MediaResolver) Resolve(ctx context.Context, descriptors []ResourceDescriptor) (*ResolvedMedia, error) {
	type group struct {
		rt   models.ResourceType
		tags []models.MediaTag
		ids  []string
		seen map[string]bool
	}
	groups := map[string]*group{}
	var order []string

	for _, d := range descriptors {
		key := groupKey(d.ResourceType, d.Tags)
		g, ok := groups[key]
		if !ok {
			g = &group{rt: d.ResourceType, tags: d.Tags, seen: map[string]bool{}}
			groups[key] = g
			order = append(order, key)
		}
		for _, id := range d.ResourceIDs {
			if !g.seen[id] {
				g.seen[id] = true
				g.ids = append(g.ids, id)
			}
		}
	}

	resolved := &ResolvedMedia{
		singular:   map[resolveKey]map[string]*models.MediaAsset{},
		collection: map[resolveKey]map[string][]models.MediaAsset{},
	}

	for _, key := range order {
		g := groups[key]
		assets, err := r.ledger.FindByResources(ctx, g.rt, g.ids, g.tags)
		if err != nil {
			return nil, err
		}
		for i := range assets {
			a := assets[i]
			k := resolveKey{g.rt, a.Tag}
			if a.Tag.IsSingular() {
				if resolved.singular[k] == nil {
					resolved.singular[k] = map[string]*models.MediaAsset{}
				}
				resolved.singular[k][a.ResourceID] = &assets[i]
			} else {
				if resolved.collection[k] == nil {
					resolved.collection[k] = map[string][]models.MediaAsset{}
				}
				resolved.collection[k][a.ResourceID] = append(resolved.collection[k][a.ResourceID], a)
			}
		}
	}

	// FindByResources orders by position already; keep the guarantee local.
	for _, byID := range resolved.collection {
		for id := range byID {
			list := byID[id]
			sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })
			byID[id] = list
		}
	}
	return resolved, nil
}
