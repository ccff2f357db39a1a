package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ChannelsErrorBadInput           = "CHANNELS_BAD_INPUT"
	ChannelsErrorProviderNotAllowed = "CHANNELS_PROVIDER_NOT_ALLOWED"
	ChannelsErrorMissingExternalURL = "CHANNELS_MISSING_EXTERNAL_URL"
	ChannelsErrorInvalidState       = "CHANNELS_INVALID_STATE"
	ChannelsErrorInsufficientAuth   = "CHANNELS_INSUFFICIENT_AUTHORIZATION"
	ChannelsErrorTrialAbuseBlocked  = "CHANNELS_TRIAL_ABUSE_BLOCKED"
	ChannelsErrorUnknownChannel     = "CHANNELS_UNKNOWN_CHANNEL"
	ChannelsErrorUnknownOperation   = "CHANNELS_UNKNOWN_OPERATION"
	ChannelsErrorOperationFailed    = "CHANNELS_OPERATION_FAILED"
	ChannelsErrorRefreshFailed      = "CHANNELS_REFRESH_FAILED"
	ChannelsErrorInternal           = "CHANNELS_INTERNAL_ERROR"
)

// InsufficientAuthorizationError rejects a completed handshake whose scopes
// or identity did not meet requirements. Reason travels back to the caller.
type InsufficientAuthorizationError struct {
	Reason string
}

func (e *InsufficientAuthorizationError) Error() string {
	if strings.TrimSpace(e.Reason) == "" {
		return "authorization rejected"
	}
	return "authorization rejected: " + e.Reason
}

func channelsErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureChannelsErrorEnvelope(richErr)
	}

	var insufficient *InsufficientAuthorizationError
	if errors.As(err, &insufficient) {
		return ensureChannelsErrorEnvelope(
			goerrors.New(insufficient.Error(), goerrors.CategoryAuth).
				WithTextCode(ChannelsErrorInsufficientAuth).
				WithMetadata(map[string]any{"reason": insufficient.Reason}),
		)
	}

	switch {
	case errors.Is(err, ErrProviderNotAllowed):
		e := newChannelsError(err.Error(), goerrors.CategoryAuthz, ChannelsErrorProviderNotAllowed)
		e.Code = http.StatusForbidden
		return e
	case errors.Is(err, ErrMissingExternalURL):
		return newChannelsError(err.Error(), goerrors.CategoryBadInput, ChannelsErrorMissingExternalURL)
	case errors.Is(err, ErrInvalidState):
		return newChannelsError(err.Error(), goerrors.CategoryAuth, ChannelsErrorInvalidState)
	case errors.Is(err, ErrTrialAbuseBlocked):
		e := newChannelsError(err.Error(), goerrors.CategoryConflict, ChannelsErrorTrialAbuseBlocked)
		e.Code = http.StatusPreconditionFailed
		return e
	case errors.Is(err, ErrUnknownChannel):
		return newChannelsError(err.Error(), goerrors.CategoryNotFound, ChannelsErrorUnknownChannel)
	case errors.Is(err, ErrUnknownOperation):
		e := newChannelsError(err.Error(), goerrors.CategoryOperation, ChannelsErrorUnknownOperation)
		e.Code = http.StatusUnprocessableEntity
		return e
	case errors.Is(err, ErrRefreshRequired):
		return newChannelsError(err.Error(), goerrors.CategoryAuth, ChannelsErrorRefreshFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newChannelsError(err.Error(), goerrors.CategoryBadInput, ChannelsErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureChannelsErrorEnvelope(mapped)
}

func newChannelsError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureChannelsErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureChannelsErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = channelsHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultChannelsTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultChannelsTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ChannelsErrorBadInput
	case goerrors.CategoryNotFound:
		return ChannelsErrorUnknownChannel
	case goerrors.CategoryAuth:
		return ChannelsErrorInsufficientAuth
	case goerrors.CategoryAuthz:
		return ChannelsErrorProviderNotAllowed
	case goerrors.CategoryConflict:
		return ChannelsErrorTrialAbuseBlocked
	case goerrors.CategoryOperation:
		return ChannelsErrorOperationFailed
	default:
		return ChannelsErrorInternal
	}
}

func channelsHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
