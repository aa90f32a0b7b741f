package icmp

// Family selects which address family a Pinger resolves and speaks on.
type Family int

const (
	// FamilyAny accepts either an IPv4 or IPv6 result, preferring IPv4
	// when both are available (mirrors the historic resolver behavior
	// of most system getaddrinfo implementations).
	FamilyAny Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ip4"
	case FamilyV6:
		return "ip6"
	default:
		return "any"
	}
}

// State is a Pinger's position in its lifecycle state machine.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
