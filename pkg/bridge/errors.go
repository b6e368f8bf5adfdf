package bridge

import "errors"

// errOutboundRetriesExhausted ends a session when the host never
// acknowledges an outbound DATA frame after txMaxRetries transmissions.
var errOutboundRetriesExhausted = errors.New("bridge: outbound DATA exhausted retransmissions")
