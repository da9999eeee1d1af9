package capability

import (
	"fmt"
	"sort"
	"strings"
)

// SetKind identifies which variant of a Set is active.
// Sets are a closed family of predefined policy shapes, not freely
// composable capability unions.
type SetKind string

const (
	// SetNone grants nothing; the component is pure computation.
	SetNone SetKind = "none"

	// SetFileRead grants read access to a list of absolute paths.
	SetFileRead SetKind = "file-read"

	// SetFileWrite grants write access to a list of absolute paths.
	SetFileWrite SetKind = "file-write"

	// SetFileReadWrite grants read and write access to a list of absolute paths.
	SetFileReadWrite SetKind = "file-read-write"

	// SetNetwork grants outbound network access to a list of hosts.
	SetNetwork SetKind = "network"

	// SetFull grants everything, unrestricted.
	SetFull SetKind = "full"
)

// Set is a policy value binding a capability variant to its scope.
// Exactly one variant is active at a time; Paths is meaningful only for the
// file variants and Hosts only for the network variant.
type Set struct {
	Kind  SetKind  `json:"kind" yaml:"kind"`
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Hosts []string `json:"hosts,omitempty" yaml:"hosts,omitempty"`
}

// None returns the empty capability set.
func None() Set {
	return Set{Kind: SetNone}
}

// Full returns the unrestricted capability set.
func Full() Set {
	return Set{Kind: SetFull}
}

// FileRead returns a read-only file set scoped to the given absolute paths.
func FileRead(paths ...string) Set {
	return Set{Kind: SetFileRead, Paths: paths}
}

// FileWrite returns a write-only file set scoped to the given absolute paths.
func FileWrite(paths ...string) Set {
	return Set{Kind: SetFileWrite, Paths: paths}
}

// FileReadWrite returns a read-write file set scoped to the given absolute paths.
func FileReadWrite(paths ...string) Set {
	return Set{Kind: SetFileReadWrite, Paths: paths}
}

// Network returns a network set scoped to the given hosts.
func Network(hosts ...string) Set {
	return Set{Kind: SetNetwork, Hosts: hosts}
}

// Has reports whether the set grants the given capability. The answer is
// derived purely from the active variant in O(1).
func (s Set) Has(c Capability) bool {
	switch s.Kind {
	case SetFull:
		return true
	case SetNone:
		return false
	case SetFileRead:
		return c == CapFileRead
	case SetFileWrite:
		return c == CapFileWrite
	case SetFileReadWrite:
		return c == CapFileRead || c == CapFileWrite
	case SetNetwork:
		return c == CapNetworkHTTP
	default:
		return false
	}
}

// MaxRisk returns the highest risk tier implied by the set.
func (s Set) MaxRisk() RiskLevel {
	switch s.Kind {
	case SetFull:
		return RiskHigh
	case SetNone:
		return RiskLow
	case SetFileRead:
		return CapFileRead.Risk()
	case SetFileWrite, SetFileReadWrite:
		return CapFileWrite.Risk()
	case SetNetwork:
		return CapNetworkHTTP.Risk()
	default:
		return RiskHigh
	}
}

// Capabilities returns the atomic capabilities implied by the set.
func (s Set) Capabilities() []Capability {
	switch s.Kind {
	case SetFull:
		return All()
	case SetFileRead:
		return []Capability{CapFileRead}
	case SetFileWrite:
		return []Capability{CapFileWrite}
	case SetFileReadWrite:
		return []Capability{CapFileRead, CapFileWrite}
	case SetNetwork:
		return []Capability{CapNetworkHTTP}
	default:
		return nil
	}
}

// Validate checks structural invariants: file variants require at least one
// absolute path, the network variant requires at least one host.
func (s Set) Validate() error {
	switch s.Kind {
	case SetNone, SetFull:
		return nil
	case SetFileRead, SetFileWrite, SetFileReadWrite:
		if len(s.Paths) == 0 {
			return fmt.Errorf("capability set %s requires at least one path", s.Kind)
		}
		for _, p := range s.Paths {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("capability set %s requires absolute paths, got %q", s.Kind, p)
			}
		}
		return nil
	case SetNetwork:
		if len(s.Hosts) == 0 {
			return fmt.Errorf("capability set %s requires at least one host", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown capability set kind %q", s.Kind)
	}
}

// String returns a compact human-readable rendering for logs and display.
func (s Set) String() string {
	switch s.Kind {
	case SetNone:
		return "none"
	case SetFull:
		return "full"
	case SetNetwork:
		hosts := append([]string(nil), s.Hosts...)
		sort.Strings(hosts)
		return fmt.Sprintf("network[%s]", strings.Join(hosts, ","))
	default:
		paths := append([]string(nil), s.Paths...)
		sort.Strings(paths)
		return fmt.Sprintf("%s[%s]", s.Kind, strings.Join(paths, ","))
	}
}
