package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

const entityColumns = `id, owner_id, resource_type, title, content, audience,
	status, canonical_id, content_fingerprint, source_id,
	last_seen_at, created_at, updated_at`

// GetEntity retrieves a single managed entity by id.
func (s *SQLiteStorage) GetEntity(ctx context.Context, id string) (*model.ManagedEntity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getEntityTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getEntityTx(ctx context.Context, q queryable, id string) (*model.ManagedEntity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	return entity, nil
}

// ListEntities retrieves entities matching the filter, newest first.
func (s *SQLiteStorage) ListEntities(ctx context.Context, filter service.EntityFilter) ([]model.ManagedEntity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listEntitiesTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) listEntitiesTx(ctx context.Context, q queryable, filter service.EntityFilter) ([]model.ManagedEntity, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.SourceID != "" {
		conditions = append(conditions, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, "resource_type = ?")
		args = append(args, string(filter.ResourceType))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []model.ManagedEntity
	for rows.Next() {
		entity, scanErr := scanEntity(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", scanErr)
		}
		entities = append(entities, *entity)
	}
	return entities, rows.Err()
}

// SaveEntity inserts or updates a managed entity.
func (s *SQLiteStorage) SaveEntity(ctx context.Context, entity *model.ManagedEntity) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntity(entity); err != nil {
		return err
	}
	return s.saveEntityTx(ctx, s.db, entity)
}

func (s *SQLiteStorage) saveEntityTx(ctx context.Context, q queryable, entity *model.ManagedEntity) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entities (
			id, owner_id, resource_type, title, content, audience,
			status, canonical_id, content_fingerprint, source_id,
			last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			audience = excluded.audience,
			status = excluded.status,
			canonical_id = excluded.canonical_id,
			content_fingerprint = excluded.content_fingerprint,
			source_id = excluded.source_id,
			last_seen_at = excluded.last_seen_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		entity.ID,
		entity.OwnerID,
		string(entity.ResourceType),
		entity.Title,
		entity.Content,
		entity.Audience,
		string(entity.Status),
		entity.CanonicalID,
		entity.ContentFingerprint,
		entity.SourceID,
		nullableTime(entity.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save entity %s: %w", entity.ID, err)
	}
	return nil
}

// TouchEntitiesSeen refreshes last_seen_at on the given entities.
func (s *SQLiteStorage) TouchEntitiesSeen(ctx context.Context, ids []string, seenAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.touchEntitiesSeenTx(ctx, s.db, ids, seenAt)
}

func (s *SQLiteStorage) touchEntitiesSeenTx(ctx context.Context, q queryable, ids []string, seenAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, seenAt)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := q.ExecContext(ctx,
		`UPDATE entities SET last_seen_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to touch entities: %w", err)
	}
	return nil
}

// ExpireEntity soft-expires an entity, recording the canonical id when the
// expiry comes from a merge. Entities are never hard-deleted.
func (s *SQLiteStorage) ExpireEntity(ctx context.Context, id, canonicalID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.expireEntityTx(ctx, s.db, id, canonicalID, at)
}

func (s *SQLiteStorage) expireEntityTx(ctx context.Context, q queryable, id, canonicalID string, at time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE entities
		SET status = ?, canonical_id = ?, updated_at = ?
		WHERE id = ?
	`, string(model.EntityExpired), canonicalID, at, id)
	if err != nil {
		return fmt.Errorf("failed to expire entity %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check expire result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entity %s", common.ErrNotFound, id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*model.ManagedEntity, error) {
	var entity model.ManagedEntity
	var resourceType, status string
	var lastSeen sql.NullTime

	err := row.Scan(
		&entity.ID,
		&entity.OwnerID,
		&resourceType,
		&entity.Title,
		&entity.Content,
		&entity.Audience,
		&status,
		&entity.CanonicalID,
		&entity.ContentFingerprint,
		&entity.SourceID,
		&lastSeen,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.ResourceType = model.ResourceType(resourceType)
	entity.Status = model.EntityStatus(status)
	if lastSeen.Valid {
		entity.LastSeenAt = lastSeen.Time
	}
	return &entity, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
