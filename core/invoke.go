package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InvokeRequest names one provider operation on one channel.
type InvokeRequest struct {
	OrganizationID string
	ChannelID      string
	Operation      string
	Payload        map[string]any
}

// InvokeResult reports the operation outcome. Provider faults land here as
// OK=false instead of raised errors; only unknown channels and unknown
// operations are hard errors.
type InvokeResult struct {
	OK        bool
	Output    any
	Refreshed bool
}

// InvokeOperation runs a named provider operation with the channel's
// access token. When the operation signals ErrRefreshRequired the service
// refreshes the credential, persists it, and retries exactly once. A failed
// refresh disables the channel.
func (s *Service) InvokeOperation(ctx context.Context, req InvokeRequest) (result InvokeResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"organization_id": req.OrganizationID,
		"channel_id":      req.ChannelID,
		"operation_name":  req.Operation,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "invoke_operation", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return InvokeResult{}, err
	}
	channel, getErr := store.Get(ctx, req.OrganizationID, req.ChannelID)
	if getErr != nil {
		err = s.mapError(getErr)
		return InvokeResult{}, err
	}
	fields["provider_id"] = channel.ProviderIdentifier

	operation, ok := s.registry.Operation(channel.ProviderIdentifier, req.Operation)
	if !ok {
		err = s.mapError(fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation))
		return InvokeResult{}, err
	}

	return s.executeWithRefresh(ctx, store, channel, req.Operation, operation, req.Payload), nil
}

// executeWithRefresh runs one operation under the per-call timeout, honoring
// the single refresh-and-retry rule. Failures come back as OK=false.
func (s *Service) executeWithRefresh(ctx context.Context, store ChannelStore, channel ChannelRecord, operationName string, operation ProviderOperation, payload map[string]any) InvokeResult {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout())
	defer cancel()

	output, opErr := s.runOperation(opCtx, operation, channel, payload)
	if opErr == nil {
		return InvokeResult{OK: true, Output: output}
	}
	if !errors.Is(opErr, ErrRefreshRequired) {
		s.logError(ctx, "provider operation failed", map[string]any{
			"channel_id":     channel.ID,
			"operation_name": operationName,
			"error":          opErr.Error(),
		})
		return InvokeResult{OK: false}
	}

	refreshed, refreshErr := s.refreshChannel(ctx, store, &channel)
	if refreshErr != nil || !refreshed {
		return InvokeResult{OK: false}
	}

	retryCtx, retryCancel := context.WithTimeout(ctx, s.config.OperationTimeout())
	defer retryCancel()
	output, opErr = s.runOperation(retryCtx, operation, channel, payload)
	if opErr != nil {
		s.logError(ctx, "provider operation failed after refresh", map[string]any{
			"channel_id":     channel.ID,
			"operation_name": operationName,
			"error":          opErr.Error(),
		})
		return InvokeResult{OK: false, Refreshed: true}
	}
	return InvokeResult{OK: true, Output: output, Refreshed: true}
}

// runOperation shields the engine from panicking operations.
func (s *Service) runOperation(ctx context.Context, operation ProviderOperation, channel ChannelRecord, payload map[string]any) (output any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = nil
			err = fmt.Errorf("core: operation panicked: %v", recovered)
		}
	}()
	return operation(ctx, OperationCall{
		Channel:     channel,
		AccessToken: channel.AccessToken,
		Payload:     copyAnyMap(payload),
	})
}

// refreshChannel exchanges the stored refresh token, persists the new
// credentials on success, and disables the channel on failure. The updated
// tokens are written back into channel for the caller's retry.
func (s *Service) refreshChannel(ctx context.Context, store ChannelStore, channel *ChannelRecord) (bool, error) {
	if channel.OneTimeToken {
		s.logError(ctx, "one time token channel cannot refresh", map[string]any{
			"channel_id": channel.ID,
		})
		return false, nil
	}
	provider, ok := s.registry.Get(channel.ProviderIdentifier)
	if !ok {
		return false, nil
	}
	refreshable, ok := provider.(RefreshableProvider)
	if !ok || strings.TrimSpace(channel.RefreshToken) == "" {
		s.disableAfterRefreshFailure(ctx, store, channel.ID, "refresh not supported")
		return false, nil
	}

	details, refreshErr := refreshable.RefreshToken(ctx, channel.RefreshToken)
	if refreshErr != nil || strings.TrimSpace(details.AccessToken) == "" {
		reason := "refresh token rejected"
		if refreshErr != nil {
			reason = refreshErr.Error()
		}
		s.disableAfterRefreshFailure(ctx, store, channel.ID, reason)
		return false, refreshErr
	}
	if strings.TrimSpace(details.RefreshToken) == "" {
		details.RefreshToken = channel.RefreshToken
	}

	if updateErr := store.UpdateTokens(ctx, channel.ID, details); updateErr != nil {
		s.logError(ctx, "refreshed token persistence failed", map[string]any{
			"channel_id": channel.ID,
			"error":      updateErr.Error(),
		})
		return false, updateErr
	}

	channel.AccessToken = details.AccessToken
	channel.RefreshToken = details.RefreshToken
	if details.ExpiresInSeconds > 0 {
		channel.TokenExpiresAt = time.Now().UTC().Add(time.Duration(details.ExpiresInSeconds) * time.Second)
	}

	// One settle delay per refresh: the provider-declared wait when it has
	// one, otherwise the configured fallback.
	wait := s.config.SettleWait()
	if settler, ok := provider.(RefreshSettler); ok {
		wait = settler.RefreshSettleWait()
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	return true, nil
}

func (s *Service) disableAfterRefreshFailure(ctx context.Context, store ChannelStore, channelID, reason string) {
	s.logError(ctx, "token refresh failed, disabling channel", map[string]any{
		"channel_id": channelID,
		"reason":     reason,
	})
	if disableErr := store.Disable(ctx, "", channelID); disableErr != nil {
		s.logError(ctx, "channel disable after refresh failure", map[string]any{
			"channel_id": channelID,
			"error":      disableErr.Error(),
		})
	}
}

// UpdateProfileRequest changes a channel's display name, avatar, or both.
type UpdateProfileRequest struct {
	OrganizationID string
	ChannelID      string
	Name           string
	PictureURL     string
}

// UpdateProfile pushes profile changes to providers that support them and
// mirrors the accepted values on the stored channel. Provider rejections
// are swallowed per field; the store keeps whatever the provider accepted.
func (s *Service) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (channel ChannelRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"organization_id": req.OrganizationID,
		"channel_id":      req.ChannelID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_profile", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return ChannelRecord{}, err
	}
	channel, getErr := store.Get(ctx, req.OrganizationID, req.ChannelID)
	if getErr != nil {
		err = s.mapError(getErr)
		return ChannelRecord{}, err
	}

	provider, _ := s.registry.Get(channel.ProviderIdentifier)

	name := strings.TrimSpace(req.Name)
	if name != "" {
		if changer, ok := provider.(NicknameChanger); ok {
			accepted, changeErr := changer.ChangeNickname(ctx, channel.AccessToken, channel.ExternalAccountID, name)
			if changeErr != nil {
				s.logError(ctx, "nickname change rejected", map[string]any{
					"channel_id": channel.ID,
					"error":      changeErr.Error(),
				})
				name = ""
			} else if strings.TrimSpace(accepted) != "" {
				name = accepted
			}
		}
	}

	picture := strings.TrimSpace(req.PictureURL)
	if picture != "" {
		if changer, ok := provider.(ProfilePictureChanger); ok {
			accepted, changeErr := changer.ChangeProfilePicture(ctx, channel.AccessToken, channel.ExternalAccountID, picture)
			if changeErr != nil {
				s.logError(ctx, "profile picture change rejected", map[string]any{
					"channel_id": channel.ID,
					"error":      changeErr.Error(),
				})
				picture = ""
			} else if strings.TrimSpace(accepted) != "" {
				picture = accepted
			}
		}
	}

	if name == "" && picture == "" {
		channel.AccessToken = ""
		channel.RefreshToken = ""
		return channel, nil
	}

	if updateErr := store.UpdateProfile(ctx, req.OrganizationID, channel.ID, name, picture); updateErr != nil {
		err = s.mapError(updateErr)
		return ChannelRecord{}, err
	}
	if name != "" {
		channel.Name = name
	}
	if picture != "" {
		channel.Picture = picture
	}
	channel.AccessToken = ""
	channel.RefreshToken = ""
	return channel, nil
}
