// Package engine drives the simulation: it owns a world with its transform hierarchy and scene,
// runs the transform update and the registered systems once per frame, and checkpoints the scene to
// snapshot storage.
package engine

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/argus-labs/vertex/pkg/scene"
	"github.com/argus-labs/vertex/pkg/snapshot"
	"github.com/argus-labs/vertex/pkg/telemetry"
	"github.com/argus-labs/vertex/pkg/transform"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// SystemFunc is a per-frame system. Returning an error aborts the frame.
type SystemFunc func(e *Engine) error

type system struct {
	name string
	fn   SystemFunc
}

// Engine is the frame driver. Like the world it owns, it is not safe for concurrent use.
type Engine struct {
	world     *ecs.World
	hierarchy *transform.Hierarchy
	scene     *scene.Scene

	systems []system
	frame   uint64 // Number of completed frames
	storage snapshot.Storage

	options Options
	tel     telemetry.Telemetry
	log     zerolog.Logger
}

// New creates an engine with an empty world.
func New(opts Options) (*Engine, error) {
	// Load and validate options.
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load engine config")
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	// Setup telemetry.
	tel, err := telemetry.New(telemetry.Options{ServiceName: "vertex", Output: options.LogOutput})
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize telemetry")
	}

	// Setup world, transform hierarchy and scene.
	world := ecs.NewWorld()
	hierarchy, err := transform.NewHierarchy(world)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create transform hierarchy")
	}

	e := &Engine{
		world:     world,
		hierarchy: hierarchy,
		scene:     scene.New(world, hierarchy, scene.WithLogger(tel.GetLogger("scene"))),
		systems:   make([]system, 0),
		options:   options,
		tel:       tel,
		log:       tel.GetLogger("engine"),
	}

	// Setup snapshot storage.
	storage, err := newStorage(options)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s snapshot storage", options.SnapshotStorageType)
	}
	e.storage = storage

	e.log.Info().
		Float64("tick_rate", options.TickRate).
		Str("snapshot_storage", options.SnapshotStorageType.String()).
		Msg("engine initialized")
	return e, nil
}

func newStorage(opts Options) (snapshot.Storage, error) {
	if opts.SnapshotStorage != nil {
		return opts.SnapshotStorage, nil
	}
	switch opts.SnapshotStorageType {
	case snapshot.StorageTypeNop:
		return snapshot.NewNopStorage(), nil
	case snapshot.StorageTypeMemory:
		return snapshot.NewMemoryStorage(), nil
	case snapshot.StorageTypeRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return snapshot.NewRedisStorage(ctx, opts.Redis)
	case snapshot.StorageTypeUndefined:
	}
	return nil, eris.New("invalid snapshot storage type")
}

// World returns the engine's world.
func (e *Engine) World() *ecs.World { return e.world }

// Hierarchy returns the engine's transform hierarchy.
func (e *Engine) Hierarchy() *transform.Hierarchy { return e.hierarchy }

// Scene returns the engine's scene.
func (e *Engine) Scene() *scene.Scene { return e.scene }

// Frame returns the number of frames completed so far.
func (e *Engine) Frame() uint64 { return e.frame }

// Logger returns a logger tagged with the given component name.
func (e *Engine) Logger(component string) zerolog.Logger { return e.tel.GetLogger(component) }

// RegisterSystem adds a system that runs every frame after the transform update. Systems run in
// registration order.
func (e *Engine) RegisterSystem(name string, fn SystemFunc) error {
	if name == "" {
		return eris.New("system name cannot be empty")
	}
	if fn == nil {
		return eris.Errorf("system %s has no function", name)
	}
	if slices.ContainsFunc(e.systems, func(s system) bool { return s.name == name }) {
		return eris.Errorf("system %s is already registered", name)
	}
	e.systems = append(e.systems, system{name: name, fn: fn})
	return nil
}

// Tick runs one frame: the transform update, then every system. A failing system aborts the frame
// and the frame counter is not advanced.
func (e *Engine) Tick() error {
	e.hierarchy.Update()

	for _, s := range e.systems {
		if err := s.fn(e); err != nil {
			e.log.Error().Err(err).Str("system", s.name).Uint64("frame", e.frame).Msg("system failed")
			return eris.Wrapf(err, "system %s failed", s.name)
		}
	}

	e.frame++
	return nil
}

// Run ticks at the configured tick rate until ctx is cancelled or a frame fails.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / e.options.TickRate))
	defer ticker.Stop()

	e.log.Info().Uint64("frame", e.frame).Msg("starting frame loop")
	for {
		select {
		case <-ticker.C:
			if err := e.Tick(); err != nil {
				return eris.Wrap(err, "failed to run frame")
			}
		case <-ctx.Done():
			e.log.Info().Uint64("frame", e.frame).Msg("frame loop stopped")
			return ctx.Err()
		}
	}
}

// Checkpoint saves the scene to snapshot storage.
func (e *Engine) Checkpoint(ctx context.Context) error {
	data, err := e.scene.Marshal()
	if err != nil {
		return eris.Wrap(err, "failed to encode scene")
	}
	snap := &snapshot.Snapshot{
		Frame:     e.frame,
		Timestamp: time.Now(),
		Data:      data,
		Version:   snapshot.CurrentVersion,
	}
	if err := e.storage.Store(ctx, snap); err != nil {
		return eris.Wrap(err, "failed to store snapshot")
	}

	e.log.Info().Uint64("frame", snap.Frame).Int("bytes", len(data)).Msg("checkpoint saved")
	return nil
}

// Restore replaces the current scene with the stored one and resets the frame counter to the
// snapshot's frame. If the snapshot cannot be decoded, the current scene and frame are kept.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.storage.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "failed to load snapshot")
	}
	if snap.Version != snapshot.CurrentVersion {
		return eris.Errorf("unsupported snapshot version %d", snap.Version)
	}

	if err := e.scene.Replace(snap.Data); err != nil {
		return eris.Wrap(err, "failed to restore scene")
	}
	e.frame = snap.Frame

	e.log.Info().Uint64("frame", snap.Frame).Int("entities", e.scene.Len()).Msg("checkpoint restored")
	return nil
}

// Close releases the snapshot storage.
func (e *Engine) Close() error {
	if closer, ok := e.storage.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return eris.Wrap(err, "failed to close snapshot storage")
		}
	}
	e.log.Info().Msg("engine shutdown complete")
	return nil
}
