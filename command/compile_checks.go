package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]        = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[DispatchBatchMessage]        = (*DispatchBatchCommand)(nil)
	_ gocmd.Commander[RegisterSubscriberMessage]   = (*RegisterSubscriberCommand)(nil)
	_ gocmd.Commander[DeactivateSubscriberMessage] = (*DeactivateSubscriberCommand)(nil)
	_ gocmd.Commander[ReleaseStaleJobsMessage]     = (*ReleaseStaleJobsCommand)(nil)
)
