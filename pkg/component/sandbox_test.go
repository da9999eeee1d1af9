package component

import (
	"context"
	"errors"
	"testing"

	"github.com/nodeweave/nodeweave/pkg/capability"
)

func TestFSConfigForNoneGrantsNothing(t *testing.T) {
	fsCfg, err := fsConfigFor(capability.None())
	if err != nil {
		t.Fatalf("fsConfigFor: %v", err)
	}
	if fsCfg != nil {
		t.Fatal("expected no filesystem for an empty capability set")
	}
}

func TestFSConfigForNetworkGrantsNoFilesystem(t *testing.T) {
	fsCfg, err := fsConfigFor(capability.Network("api.example.com"))
	if err != nil {
		t.Fatalf("fsConfigFor: %v", err)
	}
	if fsCfg != nil {
		t.Fatal("network grant must not expose a filesystem")
	}
}

func TestFSConfigForFileVariants(t *testing.T) {
	for _, caps := range []capability.Set{
		capability.FileRead("/data"),
		capability.FileWrite("/out"),
		capability.FileReadWrite("/scratch"),
		capability.Full(),
	} {
		fsCfg, err := fsConfigFor(caps)
		if err != nil {
			t.Fatalf("fsConfigFor(%s): %v", caps.Kind, err)
		}
		if fsCfg == nil {
			t.Fatalf("fsConfigFor(%s) returned no filesystem", caps.Kind)
		}
	}
}

func TestFSConfigForRejectsRelativePaths(t *testing.T) {
	if _, err := fsConfigFor(capability.FileRead("data")); err == nil {
		t.Fatal("expected error for relative capability path")
	}
}

func TestHostAllowed(t *testing.T) {
	base := context.Background()

	tests := []struct {
		name string
		ctx  context.Context
		host string
		want bool
	}{
		{
			name: "no capability set on context",
			ctx:  base,
			host: "api.example.com",
			want: false,
		},
		{
			name: "granted host",
			ctx:  withCapabilities(base, capability.Network("api.example.com")),
			host: "api.example.com",
			want: true,
		},
		{
			name: "granted host case-insensitive",
			ctx:  withCapabilities(base, capability.Network("API.Example.Com")),
			host: "api.example.com",
			want: true,
		},
		{
			name: "host outside allow-list",
			ctx:  withCapabilities(base, capability.Network("api.example.com")),
			host: "evil.example.com",
			want: false,
		},
		{
			name: "file grant carries no network",
			ctx:  withCapabilities(base, capability.FileRead("/data")),
			host: "api.example.com",
			want: false,
		},
		{
			name: "full grants any host",
			ctx:  withCapabilities(base, capability.Full()),
			host: "anything.example.com",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hostAllowed(tt.ctx, tt.host); got != tt.want {
				t.Fatalf("hostAllowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPermissionSignature(t *testing.T) {
	for _, err := range []error{
		errors.New("open /etc/passwd: permission denied"),
		errors.New("mkdir: Operation not permitted"),
		errors.New("wasi error: ENOTCAPABLE"),
		errors.New("write /data/out: read-only file system"),
		errors.New(`permission denied: host "evil.example.com" not in network grant`),
	} {
		if !isPermissionSignature(err) {
			t.Errorf("expected %q to read as a permission violation", err)
		}
	}

	for _, err := range []error{
		nil,
		errors.New("division by zero"),
		errors.New("unexpected end of JSON input"),
	} {
		if isPermissionSignature(err) {
			t.Errorf("did not expect %v to read as a permission violation", err)
		}
	}
}

func TestNewSandboxCapturesOutput(t *testing.T) {
	sandbox, err := newSandbox("test-instance", capability.None())
	if err != nil {
		t.Fatalf("newSandbox: %v", err)
	}
	if sandbox.Stdout == nil || sandbox.Stderr == nil {
		t.Fatal("sandbox must always capture stdout and stderr")
	}
}
