package engine

import (
	"time"

	"github.com/marmos91/agentfs/internal/clock"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/metrics"
)

// Limits bound the engine's registries. Zero means unlimited.
type Limits struct {
	MaxOpenHandles int
	MaxBranches    int
	MaxSnapshots   int
}

// CachePolicy is stored by the engine for adapters to apply to their
// native caching layer. The engine itself does not cache across calls.
type CachePolicy struct {
	AttrTTL           time.Duration
	EntryTTL          time.Duration
	NegativeTTL       time.Duration
	EnableReaddirPlus bool
	AutoCache         bool
	WritebackCache    bool
}

// Validate rejects negative TTLs.
func (p CachePolicy) Validate() error {
	if p.AttrTTL < 0 || p.EntryTTL < 0 || p.NegativeTTL < 0 {
		return metadata.NewError(metadata.ErrInvalidArgument, "", "cache TTLs must not be negative")
	}
	return nil
}

// DefaultCachePolicy returns one-second TTLs with readdir-plus and auto
// cache enabled.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		AttrTTL:           time.Second,
		EntryTTL:          time.Second,
		NegativeTTL:       time.Second,
		EnableReaddirPlus: true,
		AutoCache:         true,
	}
}

// Options configures an Engine.
type Options struct {
	CaseSensitivity metadata.CaseSensitivity

	EnableXattrs bool
	EnableADS    bool
	TrackEvents  bool

	Limits   Limits
	Security metadata.SecurityPolicy
	Cache    CachePolicy

	// RootMode holds the permission bits of every new tree root.
	RootMode uint32

	// Clock stamps nodes, snapshots and branches. Defaults to the wall clock.
	Clock clock.Clock

	// Metrics records operations. Defaults to a no-op implementation.
	Metrics metrics.EngineMetrics
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		CaseSensitivity: metadata.CaseInsensitivePreserving,
		EnableXattrs:    true,
		EnableADS:       true,
		TrackEvents:     true,
		Limits: Limits{
			MaxOpenHandles: 10000,
			MaxBranches:    1000,
			MaxSnapshots:   10000,
		},
		Security: metadata.SecurityPolicy{
			RootBypassPermissions: true,
		},
		Cache:    DefaultCachePolicy(),
		RootMode: 0o755,
	}
}

func (o *Options) normalize() error {
	mode, err := metadata.ParseCaseSensitivity(string(o.CaseSensitivity))
	if err != nil {
		return metadata.WrapError(metadata.ErrInvalidArgument, "", err, "invalid options")
	}
	o.CaseSensitivity = mode

	if o.Limits.MaxOpenHandles < 0 || o.Limits.MaxBranches < 0 || o.Limits.MaxSnapshots < 0 {
		return metadata.NewError(metadata.ErrInvalidArgument, "", "limits must not be negative")
	}
	if err := o.Cache.Validate(); err != nil {
		return err
	}
	if o.RootMode == 0 {
		o.RootMode = 0o755
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopEngineMetrics()
	}
	return nil
}
