package gateway

import (
	"context"
	"fmt"
)

// PatchSource applies incremental JLAP-format patches to a cached repodata
// document instead of refetching the whole index. No channel this gateway
// talks to publishes JLAP yet, so the only implementation reports
// unsupported; wiring a real varint-patch decoder against it is the
// concrete follow-up, not a speculative abstraction.
type PatchSource interface {
	Supported(channel string) bool
	FetchPatch(ctx context.Context, channel, since string) ([]byte, error)
}

type noopPatchSource struct{}

func (noopPatchSource) Supported(string) bool { return false }

func (noopPatchSource) FetchPatch(_ context.Context, channel, _ string) ([]byte, error) {
	return nil, fmt.Errorf("JLAP patching not supported for channel %s", channel)
}
