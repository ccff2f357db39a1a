package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-channels/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChannelStore struct {
	db   *bun.DB
	repo repository.Repository[*channelRecord]
}

func NewChannelStore(db *bun.DB) (*ChannelStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*channelRecord](db, channelHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid channel repository wiring: %w", err)
		}
	}
	return &ChannelStore{db: db, repo: repo}, nil
}

// Upsert creates the channel or updates the existing row for the same
// organization, provider, and external account. Reconnects revive soft
// deleted and disabled rows.
func (s *ChannelStore) Upsert(ctx context.Context, in core.UpsertChannelInput) (core.ChannelRecord, error) {
	if s == nil || s.db == nil {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: channel store is not configured")
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: organization id is required")
	}
	if strings.TrimSpace(in.ProviderIdentifier) == "" {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: provider identifier is required")
	}
	if strings.TrimSpace(in.ExternalAccountID) == "" {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: external account id is required")
	}

	now := time.Now().UTC()
	var result core.ChannelRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &channelRecord{}
		findErr := tx.NewSelect().
			Model(existing).
			WhereAllWithDeleted().
			Where("organization_id = ?", strings.TrimSpace(in.OrganizationID)).
			Where("provider_identifier = ?", strings.TrimSpace(in.ProviderIdentifier)).
			Where("external_account_id = ?", strings.TrimSpace(in.ExternalAccountID)).
			Limit(1).
			Scan(ctx)
		if findErr != nil && !errors.Is(findErr, sql.ErrNoRows) {
			return findErr
		}

		if errors.Is(findErr, sql.ErrNoRows) {
			record := newChannelRecord(in, now)
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			result = record.toDomain()
			return nil
		}

		applyChannelInput(existing, in, now)
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			WherePK().
			WhereAllWithDeleted().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		result = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.ChannelRecord{}, err
	}
	return result, nil
}

func (s *ChannelStore) Get(ctx context.Context, orgID, channelID string) (core.ChannelRecord, error) {
	if s == nil || s.db == nil {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: channel store is not configured")
	}
	record := &channelRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("id = ?", strings.TrimSpace(channelID)).
		Where("organization_id = ?", strings.TrimSpace(orgID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ChannelRecord{}, fmt.Errorf("%w: id %q", core.ErrUnknownChannel, channelID)
		}
		return core.ChannelRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *ChannelStore) GetByExternalID(ctx context.Context, orgID, provider, externalID string) (core.ChannelRecord, error) {
	if s == nil || s.db == nil {
		return core.ChannelRecord{}, fmt.Errorf("sqlstore: channel store is not configured")
	}
	record := &channelRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("organization_id = ?", strings.TrimSpace(orgID)).
		Where("provider_identifier = ?", strings.TrimSpace(provider)).
		Where("external_account_id = ?", strings.TrimSpace(externalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ChannelRecord{}, fmt.Errorf("%w: external id %q", core.ErrUnknownChannel, externalID)
		}
		return core.ChannelRecord{}, err
	}
	return record.toDomain(), nil
}

// HadPriorConnection counts soft deleted rows, so deleting a channel does
// not reset the organization's trial guard.
func (s *ChannelStore) HadPriorConnection(ctx context.Context, orgID, externalID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: channel store is not configured")
	}
	count, err := s.db.NewSelect().
		Model((*channelRecord)(nil)).
		WhereAllWithDeleted().
		Where("organization_id = ?", strings.TrimSpace(orgID)).
		Where("external_account_id = ?", strings.TrimSpace(externalID)).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *ChannelStore) Disable(ctx context.Context, orgID, channelID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: channel store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*channelRecord)(nil)).
		Set("disabled = ?", true).
		Set("refresh_needed = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(channelID))
	if strings.TrimSpace(orgID) != "" {
		query = query.Where("organization_id = ?", strings.TrimSpace(orgID))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, channelID)
}

// Enable turns a channel back on when the organization has quota headroom.
// maxEnabled <= 0 means unlimited.
func (s *ChannelStore) Enable(ctx context.Context, orgID, channelID string, maxEnabled int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: channel store is not configured")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if maxEnabled > 0 {
			enabled, countErr := tx.NewSelect().
				Model((*channelRecord)(nil)).
				Where("organization_id = ?", strings.TrimSpace(orgID)).
				Where("disabled = ?", false).
				Count(ctx)
			if countErr != nil {
				return countErr
			}
			if enabled >= maxEnabled {
				return fmt.Errorf("sqlstore: organization %q reached its enabled channel limit of %d", orgID, maxEnabled)
			}
		}
		result, err := tx.NewUpdate().
			Model((*channelRecord)(nil)).
			Set("disabled = ?", false).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", strings.TrimSpace(channelID)).
			Where("organization_id = ?", strings.TrimSpace(orgID)).
			Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(result, channelID)
	})
}

func (s *ChannelStore) Delete(ctx context.Context, orgID, channelID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: channel store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*channelRecord)(nil)).
		Where("id = ?", strings.TrimSpace(channelID)).
		Where("organization_id = ?", strings.TrimSpace(orgID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, channelID)
}

func (s *ChannelStore) List(ctx context.Context, orgID string) ([]core.ChannelRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: channel store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("organization_id", "=", strings.TrimSpace(orgID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ChannelRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ChannelStore) UpdateTokens(ctx context.Context, channelID string, details core.RefreshDetails) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: channel store is not configured")
	}
	now := time.Now().UTC()
	query := s.db.NewUpdate().
		Model((*channelRecord)(nil)).
		Set("access_token = ?", details.AccessToken).
		Set("refresh_needed = ?", false).
		Set("updated_at = ?", now).
		Where("id = ?", strings.TrimSpace(channelID))
	if strings.TrimSpace(details.RefreshToken) != "" {
		query = query.Set("refresh_token = ?", details.RefreshToken)
	}
	if details.ExpiresInSeconds > 0 {
		query = query.Set("token_expires_at = ?", now.Add(time.Duration(details.ExpiresInSeconds)*time.Second))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, channelID)
}

func (s *ChannelStore) UpdateProfile(ctx context.Context, orgID, channelID, name, picture string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: channel store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*channelRecord)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(channelID)).
		Where("organization_id = ?", strings.TrimSpace(orgID))
	if strings.TrimSpace(name) != "" {
		query = query.Set("name = ?", strings.TrimSpace(name))
	}
	if strings.TrimSpace(picture) != "" {
		query = query.Set("picture = ?", strings.TrimSpace(picture))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, channelID)
}

func newChannelRecord(in core.UpsertChannelInput, now time.Time) *channelRecord {
	record := &channelRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}
	applyChannelInput(record, in, now)
	return record
}

func applyChannelInput(record *channelRecord, in core.UpsertChannelInput, now time.Time) {
	record.OrganizationID = strings.TrimSpace(in.OrganizationID)
	record.ProviderIdentifier = strings.TrimSpace(in.ProviderIdentifier)
	record.ExternalAccountID = strings.TrimSpace(in.ExternalAccountID)
	record.Name = strings.TrimSpace(in.Name)
	record.Username = strings.TrimSpace(in.Username)
	record.Picture = strings.TrimSpace(in.Picture)
	record.AccessToken = in.AccessToken
	if strings.TrimSpace(in.RefreshToken) != "" {
		record.RefreshToken = in.RefreshToken
	}
	if in.ExpiresInSeconds > 0 {
		expires := now.Add(time.Duration(in.ExpiresInSeconds) * time.Second)
		record.TokenExpiresAt = &expires
	}
	if strings.TrimSpace(in.AdditionalSettings) != "" {
		record.AdditionalSettings = in.AdditionalSettings
	}
	record.Disabled = false
	record.InBetweenSteps = in.InBetweenSteps
	record.OneTimeToken = in.OneTimeToken
	record.RefreshNeeded = false
	if in.TimezoneOffset != 0 {
		record.TimezoneOffset = in.TimezoneOffset
	}
	record.UpdatedAt = now
	record.DeletedAt = nil
}

func requireAffected(result sql.Result, channelID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrUnknownChannel, channelID)
	}
	return nil
}
