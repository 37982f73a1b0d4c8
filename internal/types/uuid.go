package types

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex inv_item_01JBX0QK5Y4V3M8E9ZP2T7C6RD
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_INVOICE         = "inv"
	UUID_PREFIX_INVOICE_ITEM    = "inv_item"
	UUID_PREFIX_TRACKING_RECORD = "trk"
	UUID_PREFIX_BILLING_EVENT   = "bevt"
	UUID_PREFIX_COMPUTATION     = "run"
	UUID_PREFIX_SUBSCRIPTION    = "subs"
	UUID_PREFIX_ACCOUNT         = "acct"
)
