package resilience

import (
	"context"

	"github.com/tanklabs/tankd/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple recognition backends. Failover covers stream creation only: once a
// stream handle is handed out, the session keeps feeding that handle, and
// Feed errors are the perception worker's concern.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional ASR provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a recognition stream on the first healthy provider.
func (f *ASRFallback) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.StreamHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
