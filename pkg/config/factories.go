package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/control"
	"github.com/marmos91/agentfs/pkg/engine"
	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/store/content"
	"github.com/marmos91/agentfs/pkg/store/content/badger"
	"github.com/marmos91/agentfs/pkg/store/content/cow"
	"github.com/marmos91/agentfs/pkg/store/content/fs"
	"github.com/marmos91/agentfs/pkg/store/content/memory"
)

// FSSpillOptions are the options of the single-file spill tier.
type FSSpillOptions struct {
	Compression     string `mapstructure:"compression" validate:"omitempty,oneof=none lz4 zstd"`
	VerifyChecksums bool   `mapstructure:"verify_checksums"`
}

// BadgerSpillOptions are the options of the BadgerDB spill tier.
type BadgerSpillOptions struct {
	Compression      string `mapstructure:"compression" validate:"omitempty,oneof=none snappy zstd"`
	ValueLogFileSize int64  `mapstructure:"value_log_file_size" validate:"gte=0"`
	MemTableSize     int64  `mapstructure:"mem_table_size" validate:"gte=0"`
	BlockCacheSizeMB int64  `mapstructure:"block_cache_size_mb" validate:"gte=0"`
}

// decodeOptions decodes a spill option map into out, rejecting unknown
// keys, then validates out's struct tags.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func decodeFSSpillOptions(cfg SpillConfig) (FSSpillOptions, error) {
	var opts FSSpillOptions
	if err := decodeOptions(cfg.FS, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode fs spill options: %w", err)
	}
	return opts, nil
}

func decodeBadgerSpillOptions(cfg SpillConfig) (BadgerSpillOptions, error) {
	var opts BadgerSpillOptions
	if err := decodeOptions(cfg.Badger, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode badger spill options: %w", err)
	}
	return opts, nil
}

// CreateContentStore creates the copy-on-write content store described by
// cfg: an in-memory hot tier plus the selected spill tier.
//
// Supported spill types:
//   - "none": no spill tier; exceeding the memory budget fails writes
//   - "fs": a single temporary file, optionally compressed and checksummed
//   - "badger": a temporary BadgerDB database
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (*cow.Store, error) {
	hot, err := memory.NewMemoryBlockStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}

	cold, err := createSpillStore(ctx, cfg.Spill)
	if err != nil {
		_ = hot.Close()
		return nil, err
	}

	store, err := cow.New(ctx, cow.Config{
		BlockSize:        cfg.BlockSize,
		MaxBytesInMemory: cfg.MaxBytesInMemory,
	}, hot, cold)
	if err != nil {
		_ = hot.Close()
		if cold != nil {
			_ = cold.Close()
		}
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	logger.Debug("Content store created (block_size=%d, max_bytes_in_memory=%d, spill=%s)",
		cfg.BlockSize, cfg.MaxBytesInMemory, cfg.Spill.Type)
	return store, nil
}

// createSpillStore returns nil for the "none" type.
func createSpillStore(ctx context.Context, cfg SpillConfig) (content.BlockStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil

	case "fs":
		opts, err := decodeFSSpillOptions(cfg)
		if err != nil {
			return nil, err
		}
		compression, err := fs.ParseCompression(opts.Compression)
		if err != nil {
			return nil, err
		}
		store, err := fs.NewFSBlockStore(ctx, fs.Config{
			Directory:       cfg.Directory,
			Compression:     compression,
			VerifyChecksums: opts.VerifyChecksums,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create fs spill tier: %w", err)
		}
		return store, nil

	case "badger":
		opts, err := decodeBadgerSpillOptions(cfg)
		if err != nil {
			return nil, err
		}
		store, err := badger.NewBadgerBlockStore(ctx, badger.Config{
			Directory:        cfg.Directory,
			Compression:      opts.Compression,
			ValueLogFileSize: opts.ValueLogFileSize,
			MemTableSize:     opts.MemTableSize,
			BlockCacheSizeMB: opts.BlockCacheSizeMB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger spill tier: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown spill type: %q", cfg.Type)
	}
}

// EngineOptions translates the core section into engine options.
func EngineOptions(cfg *CoreConfig) engine.Options {
	return engine.Options{
		CaseSensitivity: metadata.CaseSensitivity(cfg.CaseSensitivity),
		EnableXattrs:    cfg.EnableXattrs,
		EnableADS:       cfg.EnableADS,
		TrackEvents:     cfg.TrackEvents,
		Limits: engine.Limits{
			MaxOpenHandles: cfg.Limits.MaxOpenHandles,
			MaxBranches:    cfg.Limits.MaxBranches,
			MaxSnapshots:   cfg.Limits.MaxSnapshots,
		},
		Security: metadata.SecurityPolicy{
			EnforcePOSIXPermissions: cfg.Security.EnforcePOSIXPermissions,
			DefaultUID:              cfg.Security.DefaultUID,
			DefaultGID:              cfg.Security.DefaultGID,
			RootBypassPermissions:   cfg.Security.RootBypassPermissions,
		},
		Cache: engine.CachePolicy{
			AttrTTL:           cfg.Cache.AttrTTL,
			EntryTTL:          cfg.Cache.EntryTTL,
			NegativeTTL:       cfg.Cache.NegativeTTL,
			EnableReaddirPlus: cfg.Cache.EnableReaddirPlus,
			AutoCache:         cfg.Cache.AutoCache,
			WritebackCache:    cfg.Cache.WritebackCache,
		},
	}
}

// CreateEngine builds the content store and the engine on top of it. m may
// be nil for no-op metrics. The store is closed if the engine fails to
// start.
func CreateEngine(ctx context.Context, cfg *Config, m metrics.EngineMetrics) (*engine.Engine, error) {
	store, err := CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, err
	}

	opts := EngineOptions(&cfg.Core)
	opts.Metrics = m

	e, err := engine.New(ctx, store, opts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, nil
}

// CreateDispatcher creates the control plane dispatcher for e.
func CreateDispatcher(e control.Engine, cfg *ControlConfig) *control.Dispatcher {
	var opts []control.Option
	if cfg.RateLimit.Enabled {
		opts = append(opts, control.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}
	return control.NewDispatcher(e, opts...)
}
