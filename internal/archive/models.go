package archive

import (
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
)

// Record is one archived artifact row: the immutable activity document plus
// its sync bookkeeping. The document is never rewritten after Save; only
// SyncedAt changes when the sync collaborator acknowledges an upload.
type Record struct {
	Activity activity.Activity `json:"activity"`
	SyncedAt *time.Time        `json:"synced_at,omitempty"`
}
