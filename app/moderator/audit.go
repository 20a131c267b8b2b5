package moderator

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"
)

// AuditEntry is a single json-lines record of a moderation action
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	CommentID int64     `json:"comment_id"`
	Actor     string    `json:"actor,omitempty"`
	Status    string    `json:"status,omitempty"`
	Label     string    `json:"label,omitempty"`
}

// AuditLog appends moderation actions as json lines to the given writer,
// typically a rotated log file. Safe for concurrent use.
type AuditLog struct {
	wr io.Writer
	mu sync.Mutex
}

// NewAuditLog creates an audit log writing to wr. Nil writer disables auditing.
func NewAuditLog(wr io.Writer) *AuditLog {
	if wr == nil {
		return nil // disabled
	}
	return &AuditLog{wr: wr}
}

// Record writes a single audit entry. Failures are logged and swallowed,
// auditing never blocks moderation.
func (a *AuditLog) Record(_ context.Context, entry AuditEntry) {
	if a == nil {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[WARN] failed to marshal audit entry: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.wr.Write(append(data, '\n')); err != nil {
		log.Printf("[WARN] failed to write audit entry: %v", err)
	}
}
