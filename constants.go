package hci

import "github.com/hcigo/hci/internal/constants"

// Re-exported for the public API.
const (
	CommandPendingTimeout = constants.CommandPendingTimeout
	EpilogWaitTimeout     = constants.EpilogWaitTimeout
	InitialCommandCredits = constants.InitialCommandCredits
)
