package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IssueAuthorizationMessage] = (*IssueAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteConnectionMessage] = (*CompleteConnectionCommand)(nil)
	_ gocmd.Commander[InvokeOperationMessage]    = (*InvokeOperationCommand)(nil)
	_ gocmd.Commander[SearchMentionsMessage]     = (*SearchMentionsCommand)(nil)
	_ gocmd.Commander[DisableChannelMessage]     = (*DisableChannelCommand)(nil)
	_ gocmd.Commander[EnableChannelMessage]      = (*EnableChannelCommand)(nil)
	_ gocmd.Commander[DeleteChannelMessage]      = (*DeleteChannelCommand)(nil)
	_ gocmd.Commander[UpdateProfileMessage]      = (*UpdateProfileCommand)(nil)
)
