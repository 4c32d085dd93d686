package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
// ActorID is the acting identity; ImpersonatorID is set when the actor is
// being impersonated and names the original identity.
type AuditLog struct {
	ActorID        int64
	ImpersonatorID *int64
	Action         string
	Entity         string
	EntityID       string
	Meta           map[string]any
	At             time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := validateAudit(log); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, impersonator_id, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.ActorID, log.ImpersonatorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

func validateAudit(log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

type impersonatorContextKey struct{}

// ContextWithImpersonator records the original identity behind the current actor.
func ContextWithImpersonator(ctx context.Context, originalID int64) context.Context {
	return context.WithValue(ctx, impersonatorContextKey{}, originalID)
}

// ImpersonatorFromContext returns the original identity when impersonating.
func ImpersonatorFromContext(ctx context.Context) *int64 {
	id, ok := ctx.Value(impersonatorContextKey{}).(int64)
	if !ok || id == 0 {
		return nil
	}
	return &id
}

// AuditFromContext fills ImpersonatorID from ctx so actions taken while
// impersonating are attributed to both identities.
func AuditFromContext(ctx context.Context, log AuditLog) AuditLog {
	if log.ImpersonatorID == nil {
		log.ImpersonatorID = ImpersonatorFromContext(ctx)
	}
	return log
}

// MemoryAuditRecorder keeps entries in memory. Used by tests and local runs.
type MemoryAuditRecorder struct {
	Entries []AuditLog
}

// Record appends the entry.
func (m *MemoryAuditRecorder) Record(ctx context.Context, log AuditLog) error {
	if err := validateAudit(log); err != nil {
		return err
	}
	m.Entries = append(m.Entries, log)
	return nil
}

type actorContextKey struct{}

// ContextWithActor records the acting identity for audit attribution.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the acting identity id, or zero for system actions.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}

// Audit records an entry attributed to the actor and impersonator found in
// ctx. A nil recorder is a no-op.
func Audit(ctx context.Context, rec AuditRecorder, log AuditLog) error {
	if rec == nil {
		return nil
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	return rec.Record(ctx, AuditFromContext(ctx, log))
}
