package catalog

import (
	"time"
)

// Catalog is the read only lookup of usage sections. Implementations must
// not depend on anything but their arguments so computations stay repeatable.
type Catalog interface {
	// GetUsageDefinition returns the section named name in the catalog
	// version in effect at catalogEffectiveDate
	GetUsageDefinition(name string, catalogEffectiveDate time.Time) (*UsageDefinition, error)
}
