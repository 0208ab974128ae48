package kernel

import "github.com/marimo-team/kernelclient/internal/status"

// Close reasons carried in the server's WebSocket close frame.
const (
	CloseReasonAlreadyConnected   = "MARIMO_ALREADY_CONNECTED"
	CloseReasonShutdown           = "MARIMO_SHUTDOWN"
	CloseReasonMalformedQuery     = "MARIMO_MALFORMED_QUERY"
	CloseReasonKernelStartupError = "MARIMO_KERNEL_STARTUP_ERROR"
	CloseReasonWrongKernelID      = "MARIMO_WRONG_KERNEL_ID"
	CloseReasonNoFileKey          = "MARIMO_NO_FILE_KEY"
	CloseReasonNoSessionID        = "MARIMO_NO_SESSION_ID"
	CloseReasonNoSession          = "MARIMO_NO_SESSION"
)

// closePolicy is the manager's verdict on one close frame.
type closePolicy struct {
	status status.ConnectionStatus
	// retry asks for one bounded reconnect attempt instead of settling
	// on a terminal status.
	retry          bool
	closeTransport bool
}

// classifyClose maps a close reason onto the recovery policy. Reasons the
// server never sent at the time this client was written fall through to the
// retry branch: an unknown close is treated as an unexpected disconnect.
func classifyClose(reason string) closePolicy {
	switch reason {
	case CloseReasonAlreadyConnected:
		return closePolicy{
			status: status.Closed(status.ReasonAlreadyRunning,
				"another client is connected to this kernel", true),
			closeTransport: true,
		}
	case CloseReasonShutdown:
		return closePolicy{
			status: status.Closed(status.ReasonKernelDisconnected,
				"kernel was shut down", false),
		}
	case CloseReasonWrongKernelID:
		return closePolicy{
			status: status.Closed(status.ReasonKernelDisconnected,
				"session refers to a different kernel", false),
		}
	case CloseReasonNoFileKey:
		return closePolicy{
			status: status.Closed(status.ReasonKernelDisconnected,
				"no notebook file was provided", false),
		}
	case CloseReasonNoSessionID:
		return closePolicy{
			status: status.Closed(status.ReasonKernelDisconnected,
				"no session id was provided", false),
		}
	case CloseReasonNoSession:
		return closePolicy{
			status: status.Closed(status.ReasonKernelDisconnected,
				"session no longer exists", false),
		}
	case CloseReasonMalformedQuery:
		return closePolicy{
			status: status.Closed(status.ReasonMalformedQuery,
				"connection request was malformed", false),
		}
	case CloseReasonKernelStartupError:
		return closePolicy{
			status: status.Closed(status.ReasonKernelStartupError,
				"kernel failed to start", false),
		}
	default:
		return closePolicy{
			status: status.Connecting(),
			retry:  true,
		}
	}
}
