package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Default per-recipient mailbox capacity.
	defaultMailboxMax = 1000

	// Upper bound for a single mailbox operation started on behalf of a router.
	storeOpTimeout = 5 * time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound limits (messages per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
