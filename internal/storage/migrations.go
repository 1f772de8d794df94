package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS entities (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					resource_type TEXT NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					content TEXT NOT NULL DEFAULT '',
					audience TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					canonical_id TEXT NOT NULL DEFAULT '',
					content_fingerprint TEXT NOT NULL DEFAULT '',
					source_id TEXT NOT NULL DEFAULT '',
					last_seen_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_entities_owner ON entities(owner_id, resource_type, status)`,
				`CREATE INDEX idx_entities_fingerprint ON entities(content_fingerprint)`,
				`CREATE INDEX idx_entities_source ON entities(source_id)`,

				`CREATE TABLE IF NOT EXISTS batches (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					resource_type TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					proposal_count INTEGER NOT NULL DEFAULT 0,
					approved_count INTEGER NOT NULL DEFAULT 0,
					rejected_count INTEGER NOT NULL DEFAULT 0,
					applied_count INTEGER NOT NULL DEFAULT 0,
					summary TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_batches_owner ON batches(owner_id, status)`,
				`CREATE INDEX idx_batches_status ON batches(status, created_at)`,

				`CREATE TABLE IF NOT EXISTS proposals (
					id TEXT PRIMARY KEY,
					batch_id TEXT NOT NULL,
					operation TEXT NOT NULL,
					target_entity_id TEXT NOT NULL DEFAULT '',
					draft_entity_id TEXT NOT NULL DEFAULT '',
					draft_title TEXT NOT NULL DEFAULT '',
					draft_content TEXT NOT NULL DEFAULT '',
					draft_audience TEXT NOT NULL DEFAULT '',
					draft_source_id TEXT NOT NULL DEFAULT '',
					merge_source_ids TEXT NOT NULL DEFAULT '[]',
					reason TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					applied INTEGER NOT NULL DEFAULT 0,
					revision INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME,
					FOREIGN KEY (batch_id) REFERENCES batches(id)
				)`,
				`CREATE INDEX idx_proposals_batch ON proposals(batch_id)`,
				`CREATE INDEX idx_proposals_status ON proposals(status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute %q: %w", query[:40], err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Refinement comment audit trail",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS refinement_comments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					proposal_id TEXT NOT NULL,
					comment TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (proposal_id) REFERENCES proposals(id)
				)`,
				`CREATE INDEX idx_refinement_comments_proposal ON refinement_comments(proposal_id)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute %q: %w", query[:40], err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Index pending delete proposals for sync sweeps",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(
				`CREATE INDEX idx_proposals_pending_op ON proposals(status, operation, target_entity_id)`,
			); err != nil {
				return fmt.Errorf("failed to create pending-op index: %w", err)
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
