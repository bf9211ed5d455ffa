package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSortableID returns an id that sorts chronologically as a plain string
// comparison: a millisecond Unix timestamp prefix followed by a random
// UUID suffix for uniqueness within the same millisecond. Sessions and
// subagent records both use this so a parent_id -> children scan can rely
// on insertion order without a separate sequence column.
func NewSortableID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}
