package component

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/nodeweave/nodeweave/pkg/capability"
)

// Sandbox holds the per-invocation module configuration derived from a
// capability set, plus the captured output streams. Every execution gets a
// fresh sandbox; nothing leaks between invocations.
type Sandbox struct {
	// Config is the module configuration to instantiate with.
	Config wazero.ModuleConfig

	// Stdout and Stderr capture everything the guest writes. Always
	// captured regardless of granted capabilities, so failures can be
	// diagnosed from the guest's own output.
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// newSandbox builds a sandbox scoped exactly to the given capability set.
//
// The mapping is deny-by-default: SetNone mounts no filesystem at all, the
// file variants pre-open only the granted absolute paths (read-only for
// SetFileRead), SetNetwork enables the outbound HTTP host function for the
// listed hosts, and SetFull mounts the host root read-write.
func newSandbox(instanceName string, caps capability.Set) (*Sandbox, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cfg := wazero.NewModuleConfig().
		WithName(instanceName).
		WithStdout(stdout).
		WithStderr(stderr).
		WithStartFunctions() // reactor-style modules, no _start

	fsCfg, err := fsConfigFor(caps)
	if err != nil {
		return nil, err
	}
	if fsCfg != nil {
		cfg = cfg.WithFSConfig(fsCfg)
	}

	return &Sandbox{Config: cfg, Stdout: stdout, Stderr: stderr}, nil
}

// fsConfigFor maps the file-grant portion of a capability set onto wazero
// pre-opened directories. Returns nil when no filesystem is granted.
func fsConfigFor(caps capability.Set) (wazero.FSConfig, error) {
	switch caps.Kind {
	case capability.SetNone, capability.SetNetwork:
		return nil, nil

	case capability.SetFileRead:
		fsCfg := wazero.NewFSConfig()
		for _, p := range caps.Paths {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("capability path %q is not absolute", p)
			}
			fsCfg = fsCfg.WithReadOnlyDirMount(p, p)
		}
		return fsCfg, nil

	case capability.SetFileWrite, capability.SetFileReadWrite:
		fsCfg := wazero.NewFSConfig()
		for _, p := range caps.Paths {
			if !strings.HasPrefix(p, "/") {
				return nil, fmt.Errorf("capability path %q is not absolute", p)
			}
			fsCfg = fsCfg.WithDirMount(p, p)
		}
		return fsCfg, nil

	case capability.SetFull:
		return wazero.NewFSConfig().WithDirMount("/", "/"), nil

	default:
		return nil, fmt.Errorf("unknown capability set kind %q", caps.Kind)
	}
}

// capsContextKey carries the invocation's capability set through the wazero
// call so host functions can enforce it.
type capsContextKey struct{}

// withCapabilities attaches the capability set to the context for the
// duration of one guest invocation.
func withCapabilities(ctx context.Context, caps capability.Set) context.Context {
	return context.WithValue(ctx, capsContextKey{}, caps)
}

// capabilitiesFrom returns the invocation's capability set, defaulting to
// None when absent.
func capabilitiesFrom(ctx context.Context) capability.Set {
	if caps, ok := ctx.Value(capsContextKey{}).(capability.Set); ok {
		return caps
	}
	return capability.None()
}

// hostAllowed reports whether an outbound HTTP request to the given host is
// permitted by the invocation's capability set.
func hostAllowed(ctx context.Context, host string) bool {
	caps := capabilitiesFrom(ctx)
	switch caps.Kind {
	case capability.SetFull:
		return true
	case capability.SetNetwork:
		for _, h := range caps.Hosts {
			if strings.EqualFold(h, host) {
				return true
			}
		}
	}
	return false
}

// doHostHTTP performs an outbound HTTP request on behalf of the guest after
// checking the host allow-list.
func doHostHTTP(ctx context.Context, client *http.Client, method, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid request: %w", err)
	}

	if !hostAllowed(ctx, req.URL.Hostname()) {
		return 0, nil, fmt.Errorf("permission denied: host %q not in network grant", req.URL.Hostname())
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
