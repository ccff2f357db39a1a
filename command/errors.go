package command

import (
	"net/http"

	"github.com/goliatone/go-channels/core"
	goerrors "github.com/goliatone/go-errors"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ChannelsErrorInternal)
}
