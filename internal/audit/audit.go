// Package audit records gateway decisions to the request log table.
// Writes are best effort: an audit failure never affects the request.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

type Logger struct {
	store *store.Store
	log   *slog.Logger
}

func New(st *store.Store, log *slog.Logger) *Logger {
	return &Logger{store: st, log: log}
}

// Record queues one audit row. The write runs off the request goroutine on a
// short detached context, so a slow insert never delays the response and a
// cancelled request context still gets its row.
func (l *Logger) Record(apiKeyID, orgID, endpoint, method string, status int, elapsed time.Duration, ip, userAgent string) {
	entry := &model.RequestLog{
		APIKeyID:         apiKeyID,
		OrganizationID:   orgID,
		Endpoint:         endpoint,
		Method:           method,
		ResponseStatus:   status,
		ProcessingTimeMs: elapsed.Milliseconds(),
		IPAddress:        ip,
		UserAgent:        userAgent,
	}
	go l.write(entry)
}

func (l *Logger) write(entry *model.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.store.InsertRequestLog(ctx, entry); err != nil {
		l.log.Warn("audit write failed", "endpoint", entry.Endpoint, "error", err)
	}
}
