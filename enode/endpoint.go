package enode

import "fmt"

// Endpoint identifies where a peer is reachable: a host plus a UDP
// discovery port and an optional TCP application port.
type Endpoint struct {
	Host    string
	UDPPort uint16
	TCPPort uint16 // 0 means "not advertised"
}

// String renders the endpoint for logging.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.UDPPort)
}

// Equal reports whether e and other identify the same endpoint. Two
// endpoints are equal iff all three fields match.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Host == other.Host && e.UDPPort == other.UDPPort && e.TCPPort == other.TCPPort
}

// IsZero reports whether e is the unset endpoint.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}
