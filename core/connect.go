package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnectRequest carries the provider callback payload plus the owning
// organization.
type ConnectRequest struct {
	OrganizationID string
	State          string
	Code           string
	RedirectURI    string
	TimezoneOffset int
}

// ConnectResponse reports the stored channel. Tokens never leave the
// service through this surface.
type ConnectResponse struct {
	Channel     ChannelRecord
	Reconnected bool
}

// CompleteConnection consumes the pending authorization state, exchanges
// the callback code through the provider, applies the trial and identity
// guards, and upserts the channel.
func (s *Service) CompleteConnection(ctx context.Context, req ConnectRequest) (response ConnectResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"organization_id": req.OrganizationID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_connection", err, fields)
	}()

	if strings.TrimSpace(req.OrganizationID) == "" {
		err = s.mapError(fmt.Errorf("core: organization id is required"))
		return ConnectResponse{}, err
	}

	state, found, consumeErr := s.stateStore.Consume(ctx, req.State)
	if consumeErr != nil {
		err = s.mapError(consumeErr)
		return ConnectResponse{}, err
	}
	if !found {
		err = s.mapError(ErrInvalidState)
		return ConnectResponse{}, err
	}
	fields["provider_id"] = state.ProviderID

	provider, resolveErr := s.resolveProvider(state.ProviderID)
	if resolveErr != nil {
		err = resolveErr
		return ConnectResponse{}, err
	}

	code := req.Code
	customInput := ""
	if _, ok := provider.(CustomFieldsProvider); ok {
		decoded, decodeErr := DecodeCustomFields(provider, code)
		if decodeErr != nil {
			err = s.mapError(decodeErr)
			return ConnectResponse{}, err
		}
		code = decoded
		customInput = decodedCustomInput(decoded)
	}

	isReconnect := strings.TrimSpace(state.ReconnectTarget) != ""
	details := s.authenticate(ctx, provider, AuthenticateRequest{
		Code:            code,
		CodeVerifier:    state.CodeVerifier,
		RedirectURI:     req.RedirectURI,
		ExternalContext: state.ExternalContext,
		Refresh:         state.ReconnectTarget,
	})
	if strings.TrimSpace(details.Err) == "" && isReconnect {
		if rc, ok := provider.(ReconnectProvider); ok && rc.SupportsReconnect() {
			details = s.reconnect(ctx, provider, rc, state.ReconnectTarget, details)
		}
	}
	if strings.TrimSpace(details.Err) != "" {
		err = s.mapError(&InsufficientAuthorizationError{Reason: details.Err})
		return ConnectResponse{}, err
	}
	if strings.TrimSpace(details.ExternalAccountID) == "" {
		err = s.mapError(&InsufficientAuthorizationError{Reason: "provider returned no account identity"})
		return ConnectResponse{}, err
	}
	fields["external_account_id"] = details.ExternalAccountID

	if isReconnect {
		if guardErr := s.guardReconnectIdentity(ctx, req.OrganizationID, state, details); guardErr != nil {
			err = guardErr
			return ConnectResponse{}, err
		}
	}

	if trialErr := s.guardTrialAbuse(ctx, req.OrganizationID, details.ExternalAccountID, isReconnect); trialErr != nil {
		err = trialErr
		return ConnectResponse{}, err
	}

	settings, settingsErr := s.encodeAdditionalSettings(details, state.ExternalContext, customInput)
	if settingsErr != nil {
		err = s.mapError(settingsErr)
		return ConnectResponse{}, err
	}

	oneTime := false
	if ott, ok := provider.(OneTimeTokenProvider); ok {
		oneTime = ott.IssuesOneTimeToken()
	}

	store, storeErr := s.requireChannelStore()
	if storeErr != nil {
		err = storeErr
		return ConnectResponse{}, err
	}
	channel, upsertErr := store.Upsert(ctx, UpsertChannelInput{
		OrganizationID:     req.OrganizationID,
		ProviderIdentifier: provider.ID(),
		ExternalAccountID:  details.ExternalAccountID,
		Name:               DeriveDisplayName(details.DisplayName, details.Username, details.ExternalAccountID),
		Username:           details.Username,
		Picture:            details.PictureURL,
		AccessToken:        details.AccessToken,
		RefreshToken:       details.RefreshToken,
		ExpiresInSeconds:   details.ExpiresInSeconds,
		AdditionalSettings: settings,
		InBetweenSteps:     !isReconnect && providerNeedsFollowUp(provider),
		OneTimeToken:       oneTime,
		IsReconnect:        isReconnect,
		TimezoneOffset:     req.TimezoneOffset,
	})
	if upsertErr != nil {
		err = s.mapError(upsertErr)
		return ConnectResponse{}, err
	}
	fields["channel_id"] = channel.ID

	channel.AccessToken = ""
	channel.RefreshToken = ""
	return ConnectResponse{Channel: channel, Reconnected: isReconnect}, nil
}

// authenticate normalizes provider exchange outcomes: a raised error or a
// panic becomes an AuthDetails value carrying Err.
func (s *Service) authenticate(ctx context.Context, provider Provider, req AuthenticateRequest) (details AuthDetails) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logError(ctx, "provider authenticate panicked", map[string]any{
				"provider_id": provider.ID(),
				"panic":       fmt.Sprint(recovered),
			})
			details = AuthDetails{Err: fmt.Sprint(recovered)}
		}
	}()

	result, err := provider.Authenticate(ctx, req)
	if err != nil {
		return AuthDetails{Err: err.Error()}
	}
	return result
}

// reconnect runs the provider's dedicated re-authorization exchange. Its
// outcome replaces the authenticate result; faults become rejections.
func (s *Service) reconnect(ctx context.Context, provider Provider, rc ReconnectProvider, target string, auth AuthDetails) (details AuthDetails) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logError(ctx, "provider reconnect panicked", map[string]any{
				"provider_id": provider.ID(),
				"panic":       fmt.Sprint(recovered),
			})
			details = AuthDetails{Err: fmt.Sprint(recovered)}
		}
	}()

	result, err := rc.Reconnect(ctx, auth.ExternalAccountID, target, auth.AccessToken)
	if err != nil {
		return AuthDetails{Err: err.Error()}
	}
	// The exchange refreshes identity and access; the refresh credential
	// still comes from the authenticate hop when the exchange omits one.
	if strings.TrimSpace(result.RefreshToken) == "" {
		result.RefreshToken = auth.RefreshToken
	}
	if result.ExpiresInSeconds == 0 {
		result.ExpiresInSeconds = auth.ExpiresInSeconds
	}
	return result
}

func (s *Service) guardReconnectIdentity(ctx context.Context, orgID string, state AuthorizationState, details AuthDetails) error {
	store, err := s.requireChannelStore()
	if err != nil {
		return err
	}
	existing, getErr := store.Get(ctx, orgID, state.ReconnectTarget)
	if getErr != nil {
		return s.mapError(getErr)
	}
	if existing.ProviderIdentifier != state.ProviderID {
		return s.mapError(&InsufficientAuthorizationError{
			Reason: "channel belongs to a different provider",
		})
	}
	if existing.ExternalAccountID != details.ExternalAccountID {
		return s.mapError(&InsufficientAuthorizationError{
			Reason: "authorized account does not match the connected channel",
		})
	}
	return nil
}

// guardTrialAbuse blocks trialing organizations from reclaiming an external
// account they connected before; deleting the channel does not reset the
// check. Reconnects are exempt.
func (s *Service) guardTrialAbuse(ctx context.Context, orgID, externalID string, isReconnect bool) error {
	if s.billingPolicy == nil || isReconnect {
		return nil
	}
	trialing, err := s.billingPolicy.IsTrialing(ctx, orgID)
	if err != nil {
		return s.mapError(err)
	}
	if !trialing {
		return nil
	}
	store, storeErr := s.requireChannelStore()
	if storeErr != nil {
		return storeErr
	}
	prior, priorErr := store.HadPriorConnection(ctx, orgID, externalID)
	if priorErr != nil {
		return s.mapError(priorErr)
	}
	if prior {
		return s.mapError(ErrTrialAbuseBlocked)
	}
	return nil
}

// encodeAdditionalSettings assembles the persisted settings blob. Provider
// returned settings stay plain; user-supplied custom-field input and the
// external context are sealed when a secret provider is configured.
func (s *Service) encodeAdditionalSettings(details AuthDetails, externalContext *ExternalContext, customInput string) (string, error) {
	payload := copyAnyMap(details.AdditionalSettings)
	if externalContext != nil {
		raw, err := json.Marshal(externalContext)
		if err != nil {
			return "", fmt.Errorf("core: external context marshal: %w", err)
		}
		sealed, sealErr := s.seal(string(raw))
		if sealErr != nil {
			return "", fmt.Errorf("core: external context seal: %w", sealErr)
		}
		payload["external_context"] = sealed
	}
	if customInput != "" {
		sealed, sealErr := s.seal(customInput)
		if sealErr != nil {
			return "", fmt.Errorf("core: custom fields seal: %w", sealErr)
		}
		payload["custom_fields"] = sealed
	}
	if len(payload) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("core: additional settings marshal: %w", err)
	}
	return string(raw), nil
}

func (s *Service) seal(plaintext string) (string, error) {
	if s.secretProvider == nil {
		return plaintext, nil
	}
	return s.secretProvider.Seal(plaintext)
}

// decodedCustomInput recovers the plain JSON document behind a validated
// custom-fields code so it can be sealed at rest.
func decodedCustomInput(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return ""
	}
	return string(raw)
}

func providerNeedsFollowUp(provider Provider) bool {
	if fu, ok := provider.(FollowUpStepProvider); ok {
		return fu.NeedsFollowUpStep()
	}
	return false
}
