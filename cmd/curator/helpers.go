package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/config"
	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/reasoning"
	"github.com/curatorhq/curator/internal/service"
	"github.com/curatorhq/curator/internal/storage"
)

// initStorage opens the configured database and runs any pending migrations.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initReasoner builds the configured reasoning client.
func initReasoner() (service.Reasoner, error) {
	cfg := reasoning.Config{
		Provider:          viper.GetString("reasoning.provider"),
		APIKey:            viper.GetString("reasoning.api_key"),
		Model:             viper.GetString("reasoning.model"),
		Temperature:       viper.GetFloat64("reasoning.temperature"),
		MaxTokens:         viper.GetInt("reasoning.max_tokens"),
		RequestsPerMinute: viper.GetInt("reasoning.requests_per_minute"),
	}
	if timeout := viper.GetDuration("reasoning.timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}

	reasoner, err := reasoning.NewReasoner(cfg)
	if err != nil {
		return nil, common.NewUserError(
			"reasoning service is not configured; set reasoning.api_key or CURATOR_REASONING_API_KEY", err)
	}

	return reasoner, nil
}

func sortTokensEnabled() bool {
	return viper.GetBool("fingerprint.sort_tokens")
}

// ownerLocks serializes reconciliation runs and batch applies for the same
// owner within this process. The engine and the approval workflow share it.
var ownerLocks = locks.NewKeyed()

// draftFile is the on-disk shape of an extracted draft.
type draftFile struct {
	ID           string `json:"id,omitempty"`
	OwnerID      string `json:"owner_id"`
	ResourceType string `json:"resource_type"`
	Title        string `json:"title,omitempty"`
	Content      string `json:"content"`
	Audience     string `json:"audience,omitempty"`
	SourceID     string `json:"source_id,omitempty"`
}

// loadDrafts reads a JSON array of drafts from path.
func loadDrafts(path string) ([]model.DraftEntity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("could not read drafts file %s", path), err)
	}

	var raw []draftFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, common.NewUserError(fmt.Sprintf("%s is not a valid JSON array of drafts", path), err)
	}

	drafts := make([]model.DraftEntity, 0, len(raw))
	for i, d := range raw {
		if d.Content == "" {
			return nil, fmt.Errorf("draft %d has no content", i)
		}
		drafts = append(drafts, model.DraftEntity{
			ID:           d.ID,
			OwnerID:      d.OwnerID,
			ResourceType: model.ResourceType(d.ResourceType),
			Title:        d.Title,
			Content:      d.Content,
			Audience:     d.Audience,
			SourceID:     d.SourceID,
			ExtractedAt:  time.Now(),
		})
	}

	return drafts, nil
}
