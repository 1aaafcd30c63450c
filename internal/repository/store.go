// Package repository persists the bridge's three owned tables:
// event_sync_state, label_mappings and emitted_events. Every write is a
// single statement; the bridge needs no cross-operation transactions.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
)

// Emission statuses. PENDING is the pre-call state; SUCCESS and
// RETRYABLE_ERROR are terminal for the bridge (an external reconciler may
// requeue RETRYABLE_ERROR rows).
const (
	StatusPending        = "PENDING"
	StatusSuccess        = "SUCCESS"
	StatusRetryableError = "RETRYABLE_ERROR"
)

// SyncState is one tenant's poll position.
type SyncState struct {
	TenantID         string     `json:"tenant_id"`
	LastSyncedCursor *string    `json:"last_synced_cursor"`
	LastSyncedAt     *time.Time `json:"last_synced_at"`
	SyncEnabled      bool       `json:"sync_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SyncStateUpdate carries only the fields to change; nil fields keep
// their stored value.
type SyncStateUpdate struct {
	Cursor   *string
	SyncedAt *time.Time
	Enabled  *bool
}

// PendingEmission is the request-side record written before the remote
// call.
type PendingEmission struct {
	TenantID              string
	EventType             string
	SubjectDID            *string
	SubjectURI            *string
	PlatformActionID      *string
	PlatformCorrelationID *string
}

// EmittedEvent is one audit row of the outbound emission trail.
type EmittedEvent struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenant_id"`
	EventType             string          `json:"event_type"`
	SubjectDID            *string         `json:"subject_did"`
	SubjectURI            *string         `json:"subject_uri"`
	PlatformActionID      *string         `json:"platform_action_id"`
	PlatformCorrelationID *string         `json:"platform_correlation_id"`
	ExternalResponse      json.RawMessage `json:"external_response"`
	Status                string          `json:"status"`
	Error                 *string         `json:"error"`
	RetryCount            int32           `json:"retry_count"`
	CreatedAt             time.Time       `json:"created_at"`
}

// Store is the persistence surface the bridge service depends on.
type Store interface {
	GetSyncState(ctx context.Context, tenantID string) (*SyncState, error)
	UpsertSyncState(ctx context.Context, tenantID string, upd SyncStateUpdate) error
	ListEnabledTenants(ctx context.Context) ([]string, error)

	ListMappings(ctx context.Context, tenantID string) ([]mapper.Mapping, error)
	UpsertMapping(ctx context.Context, tenantID string, m mapper.Mapping) error
	DeleteMapping(ctx context.Context, tenantID, policyType, labelValue string) error

	InsertPendingEmission(ctx context.Context, p PendingEmission) (string, error)
	MarkEmissionSuccess(ctx context.Context, id string, response json.RawMessage) error
	MarkEmissionRetryable(ctx context.Context, id string, errMsg string) error
	ListEmissions(ctx context.Context, tenantID, status string, limit int) ([]EmittedEvent, error)
}

// dbtx is the subset of pgxpool.Pool the store uses, so tests can swap
// in a transaction or a lightweight fake.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db dbtx
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// newUUID generates a UUIDv7 string for new rows.
func newUUID() string {
	id, _ := uuid.NewV7()
	return id.String()
}

// ── sync state ────────────────────────────────────────────────────────────

func (s *PostgresStore) GetSyncState(ctx context.Context, tenantID string) (*SyncState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT tenant_id, last_synced_cursor, last_synced_at, sync_enabled, created_at, updated_at
		FROM event_sync_state
		WHERE tenant_id = $1`, tenantID)

	var (
		st       SyncState
		cursor   pgtype.Text
		syncedAt pgtype.Timestamptz
	)
	err := row.Scan(&st.TenantID, &cursor, &syncedAt, &st.SyncEnabled, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	if cursor.Valid {
		st.LastSyncedCursor = &cursor.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		st.LastSyncedAt = &t
	}
	return &st, nil
}

// UpsertSyncState inserts the row on first touch, otherwise updates only
// the fields present in upd. updated_at is always bumped.
func (s *PostgresStore) UpsertSyncState(ctx context.Context, tenantID string, upd SyncStateUpdate) error {
	cursor := pgtype.Text{}
	if upd.Cursor != nil {
		cursor = pgtype.Text{String: *upd.Cursor, Valid: true}
	}
	syncedAt := pgtype.Timestamptz{}
	if upd.SyncedAt != nil {
		syncedAt = pgtype.Timestamptz{Time: *upd.SyncedAt, Valid: true}
	}
	enabled := pgtype.Bool{}
	if upd.Enabled != nil {
		enabled = pgtype.Bool{Bool: *upd.Enabled, Valid: true}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO event_sync_state (tenant_id, last_synced_cursor, last_synced_at, sync_enabled)
		VALUES ($1, $2, $3, COALESCE($4, TRUE))
		ON CONFLICT (tenant_id) DO UPDATE SET
			last_synced_cursor = COALESCE($2, event_sync_state.last_synced_cursor),
			last_synced_at     = COALESCE($3, event_sync_state.last_synced_at),
			sync_enabled       = COALESCE($4, event_sync_state.sync_enabled),
			updated_at         = now()`,
		tenantID, cursor, syncedAt, enabled)
	if err != nil {
		return fmt.Errorf("upsert sync state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEnabledTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id FROM event_sync_state
		WHERE sync_enabled
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list enabled tenants: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// ── label mappings ────────────────────────────────────────────────────────

func (s *PostgresStore) ListMappings(ctx context.Context, tenantID string) ([]mapper.Mapping, error) {
	rows, err := s.db.Query(ctx, `
		SELECT policy_type, label_value, direction
		FROM label_mappings
		WHERE tenant_id = $1
		ORDER BY policy_type, label_value`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []mapper.Mapping
	for rows.Next() {
		var m mapper.Mapping
		if err := rows.Scan(&m.PolicyType, &m.LabelValue, &m.Direction); err != nil {
			return nil, fmt.Errorf("list mappings: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpsertMapping inserts the pair or, on the (tenant, policy, label)
// conflict, updates direction only.
func (s *PostgresStore) UpsertMapping(ctx context.Context, tenantID string, m mapper.Mapping) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO label_mappings (id, tenant_id, policy_type, label_value, direction)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, policy_type, label_value)
		DO UPDATE SET direction = EXCLUDED.direction`,
		newUUID(), tenantID, m.PolicyType, m.LabelValue, string(m.Direction))
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMapping(ctx context.Context, tenantID, policyType, labelValue string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM label_mappings
		WHERE tenant_id = $1 AND policy_type = $2 AND label_value = $3`,
		tenantID, policyType, labelValue)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// ── emission audit trail ──────────────────────────────────────────────────

func (s *PostgresStore) InsertPendingEmission(ctx context.Context, p PendingEmission) (string, error) {
	id := newUUID()
	_, err := s.db.Exec(ctx, `
		INSERT INTO emitted_events
			(id, tenant_id, event_type, subject_did, subject_uri,
			 platform_action_id, platform_correlation_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, p.TenantID, p.EventType,
		textOrNull(p.SubjectDID), textOrNull(p.SubjectURI),
		textOrNull(p.PlatformActionID), textOrNull(p.PlatformCorrelationID),
		StatusPending)
	if err != nil {
		return "", fmt.Errorf("insert pending emission: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) MarkEmissionSuccess(ctx context.Context, id string, response json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		UPDATE emitted_events
		SET status = $2, external_response = $3, error = NULL
		WHERE id = $1`,
		id, StatusSuccess, response)
	if err != nil {
		return fmt.Errorf("mark emission success: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkEmissionRetryable(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE emitted_events
		SET status = $2, error = $3, retry_count = retry_count + 1
		WHERE id = $1`,
		id, StatusRetryableError, errMsg)
	if err != nil {
		return fmt.Errorf("mark emission retryable: %w", err)
	}
	return nil
}

// ListEmissions returns a tenant's audit rows, newest first, optionally
// filtered by status.
func (s *PostgresStore) ListEmissions(ctx context.Context, tenantID, status string, limit int) ([]EmittedEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, event_type, subject_did, subject_uri,
		       platform_action_id, platform_correlation_id, external_response,
		       status, error, retry_count, created_at
		FROM emitted_events
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list emissions: %w", err)
	}
	defer rows.Close()

	var out []EmittedEvent
	for rows.Next() {
		var (
			e                                  EmittedEvent
			subjectDID, subjectURI             pgtype.Text
			actionID, correlationID, errorText pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &subjectDID, &subjectURI,
			&actionID, &correlationID, &e.ExternalResponse,
			&e.Status, &errorText, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list emissions: %w", err)
		}
		e.SubjectDID = textPtr(subjectDID)
		e.SubjectURI = textPtr(subjectURI)
		e.PlatformActionID = textPtr(actionID)
		e.PlatformCorrelationID = textPtr(correlationID)
		e.Error = textPtr(errorText)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── helpers ───────────────────────────────────────────────────────────────

func textOrNull(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
