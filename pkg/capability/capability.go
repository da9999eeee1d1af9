// Package capability defines the permission taxonomy for sandboxed components.
// A Capability is an atomic system-resource permission; a Set is the policy
// value bound to a node through a Grant. All checks are pure functions over
// the data model and perform no I/O.
package capability

// Capability represents an atomic permission a component may request.
type Capability string

const (
	// CapFileRead permits reading files under granted paths.
	CapFileRead Capability = "file-read"

	// CapFileWrite permits writing files under granted paths.
	CapFileWrite Capability = "file-write"

	// CapSpawnProcess permits spawning host processes.
	CapSpawnProcess Capability = "spawn-process"

	// CapNetworkHTTP permits outbound HTTP requests.
	CapNetworkHTTP Capability = "network-http"

	// CapRawSockets permits raw socket access.
	CapRawSockets Capability = "raw-sockets"

	// CapEnvAccess permits reading host environment variables.
	CapEnvAccess Capability = "env-access"

	// CapClockAccess permits reading the host wall clock.
	CapClockAccess Capability = "clock-access"

	// CapSecureRandom permits reading cryptographically secure randomness.
	CapSecureRandom Capability = "secure-random"
)

// All returns every defined capability in a stable order.
func All() []Capability {
	return []Capability{
		CapFileRead,
		CapFileWrite,
		CapSpawnProcess,
		CapNetworkHTTP,
		CapRawSockets,
		CapEnvAccess,
		CapClockAccess,
		CapSecureRandom,
	}
}

// RiskLevel classifies how dangerous a capability is when granted.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// String returns the human-readable name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Risk returns the fixed risk tier for a capability.
func (c Capability) Risk() RiskLevel {
	switch c {
	case CapClockAccess, CapSecureRandom:
		return RiskLow
	case CapFileRead, CapEnvAccess, CapNetworkHTTP:
		return RiskMedium
	case CapFileWrite, CapSpawnProcess, CapRawSockets:
		return RiskHigh
	default:
		return RiskHigh
	}
}

// Description returns a short human-readable description for display.
func (c Capability) Description() string {
	switch c {
	case CapFileRead:
		return "Read files from disk"
	case CapFileWrite:
		return "Write files to disk"
	case CapSpawnProcess:
		return "Spawn host processes"
	case CapNetworkHTTP:
		return "Make outbound HTTP requests"
	case CapRawSockets:
		return "Open raw network sockets"
	case CapEnvAccess:
		return "Read environment variables"
	case CapClockAccess:
		return "Read the system clock"
	case CapSecureRandom:
		return "Read secure random bytes"
	default:
		return string(c)
	}
}
