package sqlstore

import (
	"time"

	"github.com/goliatone/go-channels/core"
	"github.com/uptrace/bun"
)

type channelRecord struct {
	bun.BaseModel `bun:"table:channels,alias:ch"`

	ID                 string     `bun:"id,pk"`
	OrganizationID     string     `bun:"organization_id,notnull"`
	ProviderIdentifier string     `bun:"provider_identifier,notnull"`
	ExternalAccountID  string     `bun:"external_account_id,notnull"`
	Name               string     `bun:"name,notnull"`
	Username           string     `bun:"username"`
	Picture            string     `bun:"picture"`
	AccessToken        string     `bun:"access_token,notnull"`
	RefreshToken       string     `bun:"refresh_token"`
	TokenExpiresAt     *time.Time `bun:"token_expires_at,nullzero"`
	AdditionalSettings string     `bun:"additional_settings"`
	Disabled           bool       `bun:"disabled,notnull"`
	InBetweenSteps     bool       `bun:"in_between_steps,notnull"`
	OneTimeToken       bool       `bun:"one_time_token,notnull"`
	RefreshNeeded      bool       `bun:"refresh_needed,notnull"`
	TimezoneOffset     int        `bun:"timezone_offset,notnull"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt          *time.Time `bun:"deleted_at,soft_delete"`
}

func (r *channelRecord) toDomain() core.ChannelRecord {
	if r == nil {
		return core.ChannelRecord{}
	}
	out := core.ChannelRecord{
		ID:                 r.ID,
		OrganizationID:     r.OrganizationID,
		ProviderIdentifier: r.ProviderIdentifier,
		ExternalAccountID:  r.ExternalAccountID,
		Name:               r.Name,
		Username:           r.Username,
		Picture:            r.Picture,
		AccessToken:        r.AccessToken,
		RefreshToken:       r.RefreshToken,
		AdditionalSettings: r.AdditionalSettings,
		Disabled:           r.Disabled,
		InBetweenSteps:     r.InBetweenSteps,
		OneTimeToken:       r.OneTimeToken,
		RefreshNeeded:      r.RefreshNeeded,
		TimezoneOffset:     r.TimezoneOffset,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.TokenExpiresAt != nil {
		out.TokenExpiresAt = *r.TokenExpiresAt
	}
	return out
}

type mentionRecord struct {
	bun.BaseModel `bun:"table:channel_mentions,alias:cm"`

	ID                 string    `bun:"id,pk"`
	ProviderIdentifier string    `bun:"provider_identifier,notnull"`
	Query              string    `bun:"query,notnull"`
	MentionID          string    `bun:"mention_id,notnull"`
	Label              string    `bun:"label,notnull"`
	Image              string    `bun:"image"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *mentionRecord) toDomain() core.Mention {
	if r == nil {
		return core.Mention{}
	}
	return core.Mention{
		ID:    r.MentionID,
		Label: r.Label,
		Image: r.Image,
	}
}
