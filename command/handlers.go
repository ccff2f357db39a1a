package command

import (
	"context"

	"github.com/goliatone/go-channels/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	IssueAuthorizationURL(ctx context.Context, req core.IssueRequest) (core.IssueResponse, error)
	CompleteConnection(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	InvokeOperation(ctx context.Context, req core.InvokeRequest) (core.InvokeResult, error)
	SearchMentions(ctx context.Context, req core.MentionRequest) (core.MentionList, error)
	DisableChannel(ctx context.Context, orgID, channelID string) error
	EnableChannel(ctx context.Context, orgID, channelID string, maxEnabled int) error
	DeleteChannel(ctx context.Context, orgID, channelID string) error
	UpdateProfile(ctx context.Context, req core.UpdateProfileRequest) (core.ChannelRecord, error)
}

type IssueAuthorizationCommand struct {
	service MutatingService
}

func NewIssueAuthorizationCommand(service MutatingService) *IssueAuthorizationCommand {
	return &IssueAuthorizationCommand{service: service}
}

func (c *IssueAuthorizationCommand) Execute(ctx context.Context, msg IssueAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: issue authorization service is required")
	}
	out, err := c.service.IssueAuthorizationURL(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteConnectionCommand struct {
	service MutatingService
}

func NewCompleteConnectionCommand(service MutatingService) *CompleteConnectionCommand {
	return &CompleteConnectionCommand{service: service}
}

func (c *CompleteConnectionCommand) Execute(ctx context.Context, msg CompleteConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete connection service is required")
	}
	out, err := c.service.CompleteConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InvokeOperationCommand struct {
	service MutatingService
}

func NewInvokeOperationCommand(service MutatingService) *InvokeOperationCommand {
	return &InvokeOperationCommand{service: service}
}

func (c *InvokeOperationCommand) Execute(ctx context.Context, msg InvokeOperationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: invoke operation service is required")
	}
	out, err := c.service.InvokeOperation(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SearchMentionsCommand struct {
	service MutatingService
}

func NewSearchMentionsCommand(service MutatingService) *SearchMentionsCommand {
	return &SearchMentionsCommand{service: service}
}

func (c *SearchMentionsCommand) Execute(ctx context.Context, msg SearchMentionsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mention search service is required")
	}
	out, err := c.service.SearchMentions(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisableChannelCommand struct {
	service MutatingService
}

func NewDisableChannelCommand(service MutatingService) *DisableChannelCommand {
	return &DisableChannelCommand{service: service}
}

func (c *DisableChannelCommand) Execute(ctx context.Context, msg DisableChannelMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disable channel service is required")
	}
	return c.service.DisableChannel(ctx, msg.OrganizationID, msg.ChannelID)
}

type EnableChannelCommand struct {
	service MutatingService
}

func NewEnableChannelCommand(service MutatingService) *EnableChannelCommand {
	return &EnableChannelCommand{service: service}
}

func (c *EnableChannelCommand) Execute(ctx context.Context, msg EnableChannelMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: enable channel service is required")
	}
	return c.service.EnableChannel(ctx, msg.OrganizationID, msg.ChannelID, msg.MaxEnabled)
}

type DeleteChannelCommand struct {
	service MutatingService
}

func NewDeleteChannelCommand(service MutatingService) *DeleteChannelCommand {
	return &DeleteChannelCommand{service: service}
}

func (c *DeleteChannelCommand) Execute(ctx context.Context, msg DeleteChannelMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delete channel service is required")
	}
	return c.service.DeleteChannel(ctx, msg.OrganizationID, msg.ChannelID)
}

type UpdateProfileCommand struct {
	service MutatingService
}

func NewUpdateProfileCommand(service MutatingService) *UpdateProfileCommand {
	return &UpdateProfileCommand{service: service}
}

func (c *UpdateProfileCommand) Execute(ctx context.Context, msg UpdateProfileMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: update profile service is required")
	}
	out, err := c.service.UpdateProfile(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
