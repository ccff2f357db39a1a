package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-channels/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type MentionStore struct {
	db   *bun.DB
	repo repository.Repository[*mentionRecord]
}

func NewMentionStore(db *bun.DB) (*MentionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*mentionRecord](db, mentionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid mention repository wiring: %w", err)
		}
	}
	return &MentionStore{db: db, repo: repo}, nil
}

func (s *MentionStore) Cached(ctx context.Context, provider, query string) ([]core.Mention, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: mention store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_identifier", "=", strings.TrimSpace(provider)),
		repository.SelectBy("query", "=", normalizeMentionQuery(query)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Mention, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Append stores entries not already cached for the provider and query.
func (s *MentionStore) Append(ctx context.Context, provider, query string, entries []core.Mention) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: mention store is not configured")
	}
	if len(entries) == 0 {
		return nil
	}
	provider = strings.TrimSpace(provider)
	query = normalizeMentionQuery(query)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := []mentionRecord{}
		if err := tx.NewSelect().
			Model(&existing).
			Column("mention_id").
			Where("provider_identifier = ?", provider).
			Where("query = ?", query).
			Scan(ctx); err != nil {
			return err
		}
		known := map[string]bool{}
		for _, record := range existing {
			known[record.MentionID] = true
		}

		for _, entry := range entries {
			if strings.TrimSpace(entry.ID) == "" || strings.TrimSpace(entry.Label) == "" {
				continue
			}
			if known[entry.ID] {
				continue
			}
			known[entry.ID] = true
			record := &mentionRecord{
				ID:                 uuid.NewString(),
				ProviderIdentifier: provider,
				Query:              query,
				MentionID:          entry.ID,
				Label:              entry.Label,
				Image:              entry.Image,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func normalizeMentionQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

var _ core.MentionStore = (*MentionStore)(nil)
