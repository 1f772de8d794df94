package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Storage methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) GetEntity(ctx context.Context, id string) (*model.ManagedEntity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getEntityTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListEntities(ctx context.Context, filter service.EntityFilter) ([]model.ManagedEntity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listEntitiesTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SaveEntity(ctx context.Context, entity *model.ManagedEntity) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntity(entity); err != nil {
		return err
	}
	return t.storage.saveEntityTx(ctx, t.tx, entity)
}

func (t *sqliteTransaction) TouchEntitiesSeen(ctx context.Context, ids []string, seenAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.touchEntitiesSeenTx(ctx, t.tx, ids, seenAt)
}

func (t *sqliteTransaction) ExpireEntity(ctx context.Context, id, canonicalID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.expireEntityTx(ctx, t.tx, id, canonicalID, at)
}

func (t *sqliteTransaction) CreateBatch(ctx context.Context, batch *model.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatch(batch); err != nil {
		return err
	}
	return t.storage.createBatchTx(ctx, t.tx, batch)
}

func (t *sqliteTransaction) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getBatchTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListBatches(ctx context.Context, filter service.BatchFilter) ([]model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listBatchesTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) UpdateBatchCounts(ctx context.Context, batch *model.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatch(batch); err != nil {
		return err
	}
	return t.storage.updateBatchCountsTx(ctx, t.tx, batch)
}

func (t *sqliteTransaction) ExpireStaleBatches(ctx context.Context, olderThan time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.expireStaleBatchesTx(ctx, t.tx, olderThan)
}

func (t *sqliteTransaction) CreateProposals(ctx context.Context, proposals []model.Proposal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProposals(proposals); err != nil {
		return err
	}
	return t.storage.createProposalsTx(ctx, t.tx, proposals)
}

func (t *sqliteTransaction) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getProposalTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListProposals(ctx context.Context, batchID string) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}
	return t.storage.listProposalsTx(ctx, t.tx, batchID)
}

func (t *sqliteTransaction) ListPendingDeleteProposals(ctx context.Context, ownerID string, resourceType model.ResourceType) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listPendingDeleteProposalsTx(ctx, t.tx, ownerID, resourceType)
}

func (t *sqliteTransaction) ResolveProposal(ctx context.Context, id string, status model.ProposalStatus, applied bool, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.resolveProposalTx(ctx, t.tx, id, status, applied, at)
}

func (t *sqliteTransaction) ReplaceProposalDraft(ctx context.Context, id string, draft model.DraftContent, expectedRevision int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.replaceProposalDraftTx(ctx, t.tx, id, draft, expectedRevision)
}

func (t *sqliteTransaction) RecordRefinementComment(ctx context.Context, proposalID, comment string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(proposalID, "proposalID"); err != nil {
		return err
	}
	return t.storage.recordRefinementCommentTx(ctx, t.tx, proposalID, comment, at)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
