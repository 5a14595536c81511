// Package audit appends operation records to a document's own content blob.
// The trail is plain text, one line per accepted operation, and is an
// external-format contract: lines are never escaped, so operation labels
// come from the fixed set below.
package audit

import (
	"context"
	"fmt"
	"time"

	"papertrail/internal/access"
	"papertrail/internal/blob"
	"papertrail/internal/logger"
)

const (
	OpUpload   = "Upload"
	OpEdit     = "Edit"
	OpDownload = "Download"
)

// timeLayout is fixed and locale-independent; it must never contain the
// " - " field separator.
const timeLayout = "2006-01-02 15:04:05"

type Recorder struct {
	store blob.Store
	now   func() time.Time
}

func NewRecorder(store blob.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one "<timestamp> - <role> - <operation>" line. Logging is
// best-effort: a zero handle (content never materialized) is a no-op, and a
// storage fault is logged but never fails the triggering operation.
func (r *Recorder) Record(ctx context.Context, handle blob.Handle, role access.Role, operation string) {
	if handle == "" {
		return
	}
	line := fmt.Sprintf("%s - %s - %s\n", r.now().UTC().Format(timeLayout), role.Label(), operation)
	if err := r.store.Append(ctx, handle, line); err != nil {
		logger.Sugar.Errorw("audit append failed",
			"handle", string(handle),
			"operation", operation,
			"error", err,
		)
	}
}
