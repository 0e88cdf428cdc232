package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VariantRole names one derived rendition of an uploaded image.
type VariantRole string

const (
	RoleOriginal  VariantRole = "original"
	RoleMedium    VariantRole = "medium"
	RoleThumbnail VariantRole = "thumbnail"
)

// Roles lists every role a photo is derived into.
var Roles = []VariantRole{RoleOriginal, RoleMedium, RoleThumbnail}

// VariantSpec describes how a variant is rendered.
type VariantSpec struct {
	Role      VariantRole `mapstructure:"role" json:"role"`
	MaxWidth  int         `mapstructure:"max_width" json:"max_width"`
	MaxHeight int         `mapstructure:"max_height" json:"max_height"`
	Quality   int         `mapstructure:"quality" json:"quality"`     // JPEG quality 1-100
	Crop      bool        `mapstructure:"crop" json:"crop"`           // fill and center-crop to exact bounds
	Watermark bool        `mapstructure:"watermark" json:"watermark"` // stamp the configured watermark text
}

// Validate checks that the spec can be rendered.
func (s VariantSpec) Validate() error {
	if s.MaxWidth <= 0 || s.MaxHeight <= 0 {
		return fmt.Errorf("variant %s: bounds must be positive, got %dx%d", s.Role, s.MaxWidth, s.MaxHeight)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("variant %s: quality must be within 1-100, got %d", s.Role, s.Quality)
	}

	return nil
}

// VariantSpecs holds exactly one spec per role.
type VariantSpecs struct {
	Original  VariantSpec
	Medium    VariantSpec
	Thumbnail VariantSpec
}

// DefaultVariantSpecs returns the renditions used for print albums.
func DefaultVariantSpecs() VariantSpecs {
	return VariantSpecs{
		Original:  VariantSpec{Role: RoleOriginal, MaxWidth: 4096, MaxHeight: 4096, Quality: 90},
		Medium:    VariantSpec{Role: RoleMedium, MaxWidth: 1200, MaxHeight: 1200, Quality: 82},
		Thumbnail: VariantSpec{Role: RoleThumbnail, MaxWidth: 300, MaxHeight: 300, Quality: 75, Crop: true},
	}
}

// SpecsFromList builds VariantSpecs from a configured list.
// Every role must appear exactly once.
func SpecsFromList(list []VariantSpec) (VariantSpecs, error) {
	var specs VariantSpecs
	seen := make(map[VariantRole]bool, len(Roles))

	for _, s := range list {
		if seen[s.Role] {
			return VariantSpecs{}, fmt.Errorf("variant %s configured twice", s.Role)
		}
		seen[s.Role] = true

		switch s.Role {
		case RoleOriginal:
			specs.Original = s
		case RoleMedium:
			specs.Medium = s
		case RoleThumbnail:
			specs.Thumbnail = s
		default:
			return VariantSpecs{}, fmt.Errorf("unknown variant role %q", s.Role)
		}
	}

	for _, r := range Roles {
		if !seen[r] {
			return VariantSpecs{}, fmt.Errorf("variant %s is not configured", r)
		}
	}

	return specs, specs.Validate()
}

// All returns the specs in role order.
func (v VariantSpecs) All() []VariantSpec {
	return []VariantSpec{v.Original, v.Medium, v.Thumbnail}
}

// Validate checks every spec.
func (v VariantSpecs) Validate() error {
	for _, s := range v.All() {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// MediaVariant is one rendered variant. It only lives while a file is processed.
type MediaVariant struct {
	Role     VariantRole
	Width    int
	Height   int
	ByteSize int
	Key      string
	URL      string
}

// VariantSet groups the three renditions of a photo.
type VariantSet struct {
	Original  MediaVariant
	Medium    MediaVariant
	Thumbnail MediaVariant
}

// Set stores v in the slot that matches its role.
func (s *VariantSet) Set(v MediaVariant) {
	switch v.Role {
	case RoleOriginal:
		s.Original = v
	case RoleMedium:
		s.Medium = v
	case RoleThumbnail:
		s.Thumbnail = v
	}
}

// Album is the parent grouping photos of one batch are attached to.
type Album struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	BatchLabel string    `json:"batch_label"`
	CreatedAt  time.Time `json:"created_at"`
}

// CatalogRecord describes a persisted photo.
type CatalogRecord struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      string    `json:"owner_id"`
	ParentID     uuid.UUID `json:"parent_id"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	StorageKey   string    `json:"storage_key"`
	StorageURL   string    `json:"storage_url"`
	MediumURL    string    `json:"medium_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Degraded     bool      `json:"degraded"` // original embedded as a data URI, no blob store
	CreatedAt    time.Time `json:"created_at"`
}
