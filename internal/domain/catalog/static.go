package catalog

import (
	"sort"
	"time"

	ierr "github.com/flexprice/usagebill/internal/errors"
	jsoniter "github.com/json-iterator/go"
)

// StaticCatalog serves usage sections from versions held in memory
type StaticCatalog struct {
	versions []*Version
}

// NewStaticCatalog validates versions and orders them by effective date
func NewStaticCatalog(versions ...*Version) (*StaticCatalog, error) {
	c := &StaticCatalog{}
	for _, v := range versions {
		if err := c.Add(v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a catalog version
func (c *StaticCatalog) Add(v *Version) error {
	for _, u := range v.Usages {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	c.versions = append(c.versions, v)
	sort.SliceStable(c.versions, func(i, j int) bool {
		return c.versions[i].EffectiveDate.Before(c.versions[j].EffectiveDate)
	})
	return nil
}

// GetUsageDefinition returns the section from the latest version effective
// on or before catalogEffectiveDate
func (c *StaticCatalog) GetUsageDefinition(name string, catalogEffectiveDate time.Time) (*UsageDefinition, error) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.EffectiveDate.After(catalogEffectiveDate) {
			continue
		}
		for _, u := range v.Usages {
			if u.Name == name {
				return u, nil
			}
		}
	}

	return nil, ierr.NewError("usage definition not found").
		WithHint("The catalog has no usage section with this name").
		WithReportableDetails(map[string]any{
			"usage_name":             name,
			"catalog_effective_date": catalogEffectiveDate,
		}).
		Mark(ierr.ErrNotFound)
}

// ParseStaticCatalog decodes a JSON array of catalog versions
func ParseStaticCatalog(data []byte) (*StaticCatalog, error) {
	var versions []*Version
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &versions); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Catalog is not a valid JSON array of versions").
			Mark(ierr.ErrValidation)
	}
	return NewStaticCatalog(versions...)
}
