package vectorguard

import (
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Category names the attack class a verdict or detector refers to.
type Category string

const (
	CategoryNormal        Category = "normal"
	CategoryDoS           Category = "dos"
	CategoryProbe         Category = "probe"
	CategoryR2L           Category = "r2l"
	CategoryU2R           Category = "u2r"
	CategoryBruteForce    Category = "brute_force"
	CategoryUnknownAttack Category = "unknown_attack"
)

// AttackCategories lists the named attack categories in tie-break order.
var AttackCategories = []Category{
	CategoryProbe,
	CategoryDoS,
	CategoryR2L,
	CategoryU2R,
	CategoryBruteForce,
}

// DistributionCategories lists every category that carries probability mass in a verdict.
var DistributionCategories = []Category{
	CategoryNormal,
	CategoryDoS,
	CategoryProbe,
	CategoryR2L,
	CategoryU2R,
	CategoryBruteForce,
}

// IsAttack reports whether c is one of the five named attack categories.
func (c Category) IsAttack() bool {
	switch c {
	case CategoryDoS, CategoryProbe, CategoryR2L, CategoryU2R, CategoryBruteForce:
		return true
	}
	return false
}

type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolICMP  Protocol = "ICMP"
	ProtocolOther Protocol = "OTHER"
)

// ParseProtocol maps free-form protocol names onto the known set, defaulting to TCP for
// empty input and OTHER for anything unrecognised.
func ParseProtocol(value string) Protocol {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "TCP":
		return ProtocolTCP
	case "UDP":
		return ProtocolUDP
	case "ICMP", "ICMPV6":
		return ProtocolICMP
	default:
		return ProtocolOther
	}
}

const (
	maxPayloadSize = 65535
	minPort        = 1
	maxPort        = 65535
)

// Event is one observed network interaction attributed to a source address.
type Event struct {
	Source          string    `json:"source" yaml:"source"`
	Destination     string    `json:"destination" yaml:"destination"`
	DestinationPort int       `json:"destination_port,omitempty" yaml:"destination_port,omitempty"`
	Protocol        Protocol  `json:"protocol" yaml:"protocol"`
	PayloadSize     int       `json:"payload_size" yaml:"payload_size"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Frequency       float64   `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	ObservedAt      time.Time `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`

	LoginAttempt         bool `json:"login_attempt,omitempty" yaml:"login_attempt,omitempty"`
	LoginFailed          bool `json:"login_failed,omitempty" yaml:"login_failed,omitempty"`
	SuccessAfterFailures bool `json:"success_after_failures,omitempty" yaml:"success_after_failures,omitempty"`
	PrivilegeAttempt     bool `json:"privilege_attempt,omitempty" yaml:"privilege_attempt,omitempty"`
	SuspiciousCommand    bool `json:"suspicious_command,omitempty" yaml:"suspicious_command,omitempty"`
	RootCommand          bool `json:"root_command,omitempty" yaml:"root_command,omitempty"`
	SetuidAttempt        bool `json:"setuid_attempt,omitempty" yaml:"setuid_attempt,omitempty"`
	BufferOverflow       bool `json:"buffer_overflow,omitempty" yaml:"buffer_overflow,omitempty"`
	SuspiciousFileAccess bool `json:"suspicious_file_access,omitempty" yaml:"suspicious_file_access,omitempty"`
	SYN                  bool `json:"syn,omitempty" yaml:"syn,omitempty"`
}

// HasPort reports whether the event carries a valid destination port.
func (e Event) HasPort() bool {
	return e.DestinationPort >= minPort && e.DestinationPort <= maxPort
}

var authPorts = map[int]struct{}{
	22: {}, 23: {}, 80: {}, 443: {}, 3306: {}, 5432: {}, 3389: {}, 5900: {},
}

var failureKeywords = []string{"failed", "denied", "refused"}

// normalizeEvent coerces malformed fields to safe defaults. ok is false when the source
// cannot be attributed, in which case the event must not touch detector state.
func normalizeEvent(ev Event, inferIndicators bool) (Event, bool) {
	ev.Source = strings.TrimSpace(ev.Source)
	ev.Destination = strings.TrimSpace(ev.Destination)
	if !validAddress(ev.Source) {
		return ev, false
	}
	if !validAddress(ev.Destination) {
		ev.Destination = ""
	}

	ev.Protocol = ParseProtocol(string(ev.Protocol))
	ev.Description = strings.TrimSpace(ev.Description)

	if ev.PayloadSize < 0 {
		ev.PayloadSize = 0
	} else if ev.PayloadSize > maxPayloadSize {
		ev.PayloadSize = maxPayloadSize
	}
	if ev.Frequency < 0 || ev.Frequency != ev.Frequency {
		ev.Frequency = 0
	}

	if !ev.HasPort() {
		ev.DestinationPort = 0
		if port, ok := portFromDescription(ev.Description); ok {
			ev.DestinationPort = port
		}
	}

	if inferIndicators {
		if ev.HasPort() {
			if _, ok := authPorts[ev.DestinationPort]; ok {
				ev.LoginAttempt = true
			}
		}
		if ev.LoginAttempt && !ev.LoginFailed {
			lower := strings.ToLower(ev.Description)
			for _, kw := range failureKeywords {
				if strings.Contains(lower, kw) {
					ev.LoginFailed = true
					break
				}
			}
		}
	}
	return ev, true
}

// validAddress rejects empty, unparsable and unspecified (all-zero) addresses.
func validAddress(value string) bool {
	if value == "" {
		return false
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return false
	}
	return !addr.IsUnspecified()
}

// portFromDescription extracts the destination port from descriptions such as
// "49152 -> 443 [SYN]". Out-of-range ports are clamped into 1-65535.
func portFromDescription(desc string) (int, bool) {
	_, after, found := strings.Cut(desc, "->")
	if !found {
		return 0, false
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return 0, false
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	if port < minPort {
		port = minPort
	} else if port > maxPort {
		port = maxPort
	}
	return port, true
}
