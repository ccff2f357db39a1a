package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-channels/core"
)

const (
	TypeIssueAuthorization = "channels.command.authorization.issue"
	TypeCompleteConnection = "channels.command.connection.complete"
	TypeInvokeOperation    = "channels.command.operation.invoke"
	TypeSearchMentions     = "channels.command.mentions.search"
	TypeDisableChannel     = "channels.command.channel.disable"
	TypeEnableChannel      = "channels.command.channel.enable"
	TypeDeleteChannel      = "channels.command.channel.delete"
	TypeUpdateProfile      = "channels.command.channel.update_profile"
)

type IssueAuthorizationMessage struct {
	Request core.IssueRequest
}

func (IssueAuthorizationMessage) Type() string { return TypeIssueAuthorization }

func (m IssueAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return fmt.Errorf("command: provider id is required")
	}
	return nil
}

type CompleteConnectionMessage struct {
	Request core.ConnectRequest
}

func (CompleteConnectionMessage) Type() string { return TypeCompleteConnection }

func (m CompleteConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrganizationID) == "" {
		return fmt.Errorf("command: organization id is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return fmt.Errorf("command: state token is required")
	}
	return nil
}

type InvokeOperationMessage struct {
	Request core.InvokeRequest
}

func (InvokeOperationMessage) Type() string { return TypeInvokeOperation }

func (m InvokeOperationMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrganizationID) == "" {
		return fmt.Errorf("command: organization id is required")
	}
	if strings.TrimSpace(m.Request.ChannelID) == "" {
		return fmt.Errorf("command: channel id is required")
	}
	if strings.TrimSpace(m.Request.Operation) == "" {
		return fmt.Errorf("command: operation is required")
	}
	return nil
}

type SearchMentionsMessage struct {
	Request core.MentionRequest
}

func (SearchMentionsMessage) Type() string { return TypeSearchMentions }

func (m SearchMentionsMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrganizationID) == "" {
		return fmt.Errorf("command: organization id is required")
	}
	if strings.TrimSpace(m.Request.ChannelID) == "" {
		return fmt.Errorf("command: channel id is required")
	}
	return nil
}

type DisableChannelMessage struct {
	OrganizationID string
	ChannelID      string
}

func (DisableChannelMessage) Type() string { return TypeDisableChannel }

func (m DisableChannelMessage) Validate() error {
	return validateChannelTarget(m.OrganizationID, m.ChannelID)
}

type EnableChannelMessage struct {
	OrganizationID string
	ChannelID      string
	MaxEnabled     int
}

func (EnableChannelMessage) Type() string { return TypeEnableChannel }

func (m EnableChannelMessage) Validate() error {
	return validateChannelTarget(m.OrganizationID, m.ChannelID)
}

type DeleteChannelMessage struct {
	OrganizationID string
	ChannelID      string
}

func (DeleteChannelMessage) Type() string { return TypeDeleteChannel }

func (m DeleteChannelMessage) Validate() error {
	return validateChannelTarget(m.OrganizationID, m.ChannelID)
}

type UpdateProfileMessage struct {
	Request core.UpdateProfileRequest
}

func (UpdateProfileMessage) Type() string { return TypeUpdateProfile }

func (m UpdateProfileMessage) Validate() error {
	return validateChannelTarget(m.Request.OrganizationID, m.Request.ChannelID)
}

func validateChannelTarget(orgID, channelID string) error {
	if strings.TrimSpace(orgID) == "" {
		return fmt.Errorf("command: organization id is required")
	}
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("command: channel id is required")
	}
	return nil
}
