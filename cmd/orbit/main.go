// Command orbit runs a sun, planet and moon hierarchy for a fixed number of frames, logging the
// moon's world position, then checkpoints the scene and restores it.
package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/argus-labs/vertex/pkg/engine"
	"github.com/argus-labs/vertex/pkg/snapshot"
	"github.com/argus-labs/vertex/pkg/transform"
	"github.com/caarlos0/env/v11"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type config struct {
	// Number of frames to simulate before checkpointing.
	Frames uint64 `env:"ORBIT_FRAMES" envDefault:"180"`

	// Frames between position reports.
	ReportEvery uint64 `env:"ORBIT_REPORT_EVERY" envDefault:"30"`
}

// Spin rotates an entity's transform about the Y axis every frame.
type Spin struct {
	RadiansPerFrame float32 `json:"radians_per_frame"`
}

func (Spin) Name() string { return "Spin" }

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("failed to load orbit config")
	}
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the orbit command. Flags default to the environment configuration.
func newRootCmd() (*cobra.Command, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return nil, eris.Wrap(err, "failed to parse orbit config")
	}

	cmd := &cobra.Command{
		Use:          "orbit",
		Short:        "Spin a sun, planet and moon hierarchy, then checkpoint and restore it",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.ReportEvery == 0 {
				return eris.New("report interval cannot be 0")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.New(engine.Options{})
			if err != nil {
				return eris.Wrap(err, "failed to create engine")
			}
			log := e.Logger("orbit")

			err = run(ctx, e, cfg, log)
			if cerr := e.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("failed to close engine")
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&cfg.Frames, "frames", cfg.Frames, "frames to simulate before checkpointing")
	cmd.Flags().Uint64Var(&cfg.ReportEvery, "report-every", cfg.ReportEvery, "frames between position reports")
	return cmd, nil
}

func run(ctx context.Context, e *engine.Engine, cfg config, log zerolog.Logger) error {
	spins, err := ecs.Register[Spin](e.World())
	if err != nil {
		return eris.Wrap(err, "failed to register spin component")
	}
	moon, err := buildSystem(e, spins)
	if err != nil {
		return err
	}

	moves := 0
	if _, err := e.Hierarchy().Subscribe(moon, func(transform.Changed) { moves++ }); err != nil {
		return eris.Wrap(err, "failed to subscribe to moon")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.RegisterSystem("spin", spinSystem); err != nil {
		return err
	}
	if err := e.RegisterSystem("report", func(e *engine.Engine) error {
		if e.Frame()%cfg.ReportEvery != 0 {
			return nil
		}
		tr, err := e.Hierarchy().Get(moon)
		if err != nil {
			return err
		}
		p := tr.WorldPosition()
		log.Info().
			Uint64("frame", e.Frame()).
			Float32("x", p.X()).Float32("y", p.Y()).Float32("z", p.Z()).
			Int("moves", moves).
			Msg("moon position")
		return nil
	}); err != nil {
		return err
	}
	if err := e.RegisterSystem("stop", func(e *engine.Engine) error {
		if e.Frame()+1 >= cfg.Frames {
			cancel()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := e.Run(runCtx); err != nil && !eris.Is(err, context.Canceled) {
		return err
	}

	if err := e.Checkpoint(ctx); err != nil {
		return err
	}
	if err := e.Restore(ctx); err != nil {
		if eris.Is(err, snapshot.ErrSnapshotNotFound) {
			log.Warn().Msg("snapshot storage is disabled, skipping restore")
			return nil
		}
		return err
	}
	log.Info().Uint64("frame", e.Frame()).Int("entities", e.Scene().Len()).Msg("orbit restored")
	return nil
}

// buildSystem creates sun -> planet -> moon and returns the moon.
func buildSystem(e *engine.Engine, spins *ecs.Store[Spin]) (ecs.Entity, error) {
	bodies := []struct {
		name   string
		offset mgl32.Vec3
		spin   float32
	}{
		{name: "sun", offset: mgl32.Vec3{0, 0, 0}, spin: math.Pi / 90},
		{name: "planet", offset: mgl32.Vec3{10, 0, 0}, spin: math.Pi / 30},
		{name: "moon", offset: mgl32.Vec3{2, 0, 0}},
	}

	parent := ecs.Null
	for _, body := range bodies {
		ent, err := e.Scene().CreateEntity(body.name)
		if err != nil {
			return ecs.Null, err
		}
		if _, err := e.Hierarchy().Add(ent, transform.At(body.offset)); err != nil {
			return ecs.Null, eris.Wrapf(err, "failed to add transform to %s", body.name)
		}
		if body.spin != 0 {
			if _, err := spins.Add(ent, Spin{RadiansPerFrame: body.spin}); err != nil {
				return ecs.Null, eris.Wrapf(err, "failed to add spin to %s", body.name)
			}
		}
		if !parent.IsNull() {
			if err := e.Hierarchy().AddChild(parent, ent); err != nil {
				return ecs.Null, err
			}
		}
		parent = ent
	}
	return parent, nil
}

func spinSystem(e *engine.Engine) error {
	h := e.Hierarchy()
	return ecs.Each(e.World(), func(ent ecs.Entity, s *Spin) error {
		tr, err := h.Get(ent)
		if err != nil {
			return err
		}
		tr.Rotation = mgl32.QuatRotate(s.RadiansPerFrame, mgl32.Vec3{0, 1, 0}).Mul(tr.Rotation).Normalize()
		return nil
	})
}
