package component

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/nodeweave/nodeweave/pkg/graph"
)

// Guest export names making up the component ABI.
const (
	guestExportAllocate   = "allocate"
	guestExportRun        = "run"
	guestExportMetadata   = "metadata"
	guestExportResultView = "result_view"
)

// maxGuestPayload bounds the size of a single response read from guest
// memory.
const maxGuestPayload = 16 << 20 // 16MB

// bridge wraps one live module instance with the packed-pointer calling
// convention: requests and responses are JSON payloads passed as
// (ptr << 32) | len in a single u64.
type bridge struct {
	module api.Module
	memory api.Memory

	allocate   api.Function
	run        api.Function
	metadata   api.Function
	resultView api.Function
}

// newBridge resolves the ABI exports on a freshly instantiated module.
func newBridge(module api.Module) (*bridge, error) {
	b := &bridge{module: module, memory: module.Memory()}
	if b.memory == nil {
		return nil, fmt.Errorf("module does not export memory")
	}

	b.allocate = module.ExportedFunction(guestExportAllocate)
	if b.allocate == nil {
		return nil, fmt.Errorf("module does not export %s", guestExportAllocate)
	}
	b.run = module.ExportedFunction(guestExportRun)
	if b.run == nil {
		return nil, fmt.Errorf("module does not export %s", guestExportRun)
	}
	b.metadata = module.ExportedFunction(guestExportMetadata)
	if b.metadata == nil {
		return nil, fmt.Errorf("module does not export %s", guestExportMetadata)
	}

	// result_view is optional.
	b.resultView = module.ExportedFunction(guestExportResultView)

	return b, nil
}

// runRequest is the JSON request payload for the run export.
type runRequest struct {
	Inputs []graph.NamedValue `json:"inputs"`
}

// runResponse is the JSON response payload from the run export.
type runResponse struct {
	Outputs []graph.NamedValue `json:"outputs,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Run invokes the guest's run export with the node's input values and
// returns its output values.
func (b *bridge) Run(ctx context.Context, inputs []graph.NamedValue) ([]graph.NamedValue, error) {
	reqJSON, err := json.Marshal(runRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	respJSON, err := b.callPacked(ctx, b.run, reqJSON)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", guestExportRun, err)
	}

	var resp runResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Outputs, nil
}

// Metadata invokes the guest's metadata export.
func (b *bridge) Metadata(ctx context.Context) (*Metadata, error) {
	respJSON, err := b.callPacked(ctx, b.metadata, nil)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", guestExportMetadata, err)
	}
	return parseMetadata(respJSON)
}

// ResultView invokes the guest's optional result_view export with the run
// outputs and returns the decoded display tree. Returns nil when the module
// does not export result_view.
func (b *bridge) ResultView(ctx context.Context, outputs []graph.NamedValue) (*ViewNode, error) {
	if b.resultView == nil {
		return nil, nil
	}

	reqJSON, err := json.Marshal(runResponse{Outputs: outputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result view request: %w", err)
	}

	respJSON, err := b.callPacked(ctx, b.resultView, reqJSON)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", guestExportResultView, err)
	}
	return parseResultView(respJSON)
}

// callPacked calls a guest function with the packed u64 calling convention.
// The request is written to guest memory allocated via the allocate export;
// the response pointer and length are unpacked from the single u64 result.
func (b *bridge) callPacked(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var packed uint64
	if len(input) > 0 {
		ptr, err := b.allocateGuest(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("failed to write request to guest memory")
		}
		packed = packPtrLen(ptr, uint32(len(input)))
	}

	results, err := fn.Call(ctx, packed)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("guest function returned no results")
	}

	outPtr, outLen := unpackPtrLen(results[0])
	if outLen == 0 {
		return []byte("{}"), nil
	}
	if outLen > maxGuestPayload {
		return nil, fmt.Errorf("guest response of %d bytes exceeds limit", outLen)
	}

	output, ok := b.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("failed to read response from guest memory")
	}

	// Guest memory may be reused by the next allocate call; copy out.
	out := make([]byte, len(output))
	copy(out, output)
	return out, nil
}

// allocateGuest asks the guest for a buffer of the given size.
func (b *bridge) allocateGuest(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.allocate.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("guest allocate failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("guest allocate returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest allocate returned null pointer")
	}
	return ptr, nil
}

// packPtrLen packs a guest pointer and length into a single u64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen is the inverse of packPtrLen.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}
