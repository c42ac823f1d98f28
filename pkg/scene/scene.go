// Package scene tracks which entities belong to the active scene, notifies systems as entities join
// and leave it, and saves and loads the scene as a compact binary document.
package scene

import (
	"slices"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/argus-labs/vertex/pkg/transform"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Scene is a flat membership list over a world. Membership is independent of the transform
// hierarchy: a child may or may not be a member on its own. Entities destroyed outside the scene
// leave it and fire OnEntityRemoved.
type Scene struct {
	world     *ecs.World
	hierarchy *transform.Hierarchy
	log       zerolog.Logger

	members   []ecs.Entity            // In registration order
	index     map[ecs.Entity]struct{} // Membership lookup
	onAdded   ecs.Signal[ecs.Entity]
	onRemoved ecs.Signal[ecs.Entity]
}

// New creates an empty scene over the world and its transform hierarchy.
func New(w *ecs.World, h *transform.Hierarchy, opts ...Option) *Scene {
	s := &Scene{
		world:     w,
		hierarchy: h,
		log:       zerolog.Nop(),
		members:   make([]ecs.Entity, 0),
		index:     make(map[ecs.Entity]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	w.OnDestroy().Subscribe(s.evict)
	return s
}

// OnEntityAdded returns the signal emitted when an entity joins the scene.
func (s *Scene) OnEntityAdded() *ecs.Signal[ecs.Entity] { return &s.onAdded }

// OnEntityRemoved returns the signal emitted when an entity leaves the scene.
func (s *Scene) OnEntityRemoved() *ecs.Signal[ecs.Entity] { return &s.onRemoved }

// World returns the world the scene is built on.
func (s *Scene) World() *ecs.World { return s.world }

// Hierarchy returns the transform hierarchy the scene walks.
func (s *Scene) Hierarchy() *transform.Hierarchy { return s.hierarchy }

// CreateEntity creates an entity and adds it to the scene.
func (s *Scene) CreateEntity(name ...string) (ecs.Entity, error) {
	e, err := s.world.Create(name...)
	if err != nil {
		return ecs.Null, eris.Wrap(err, "failed to create scene entity")
	}
	s.register(e)
	return e, nil
}

// AddEntity adds the entity to the scene. With recurse, every transform descendant is added too.
// Adding a member again is a no-op.
func (s *Scene) AddEntity(e ecs.Entity, recurse bool) error {
	if !s.world.Alive(e) {
		return eris.Wrapf(ecs.ErrInvalidEntity, "entity %s", e)
	}
	s.register(e)
	if !recurse {
		return nil
	}

	children, err := s.children(e)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.AddEntity(child, true); err != nil {
			return eris.Wrapf(err, "failed to add child %s of %s", child, e)
		}
	}
	return nil
}

// RemoveEntity takes the entity out of the scene and destroys it. With recurse, its transform
// descendants are removed first; otherwise they are detached and become roots.
func (s *Scene) RemoveEntity(e ecs.Entity, recurse bool) error {
	if !s.world.Alive(e) {
		return eris.Wrapf(ecs.ErrInvalidEntity, "entity %s", e)
	}
	s.unregister(e)

	if recurse {
		children, err := s.children(e)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.RemoveEntity(child, true); err != nil {
				return eris.Wrapf(err, "failed to remove child %s of %s", child, e)
			}
		}
	}

	if err := s.world.Destroy(e); err != nil {
		return eris.Wrapf(err, "failed to destroy entity %s", e)
	}
	return nil
}

// DestroyScene destroys every member. The scene is empty afterwards and no removal events fire.
func (s *Scene) DestroyScene() error {
	members := s.members
	s.members = make([]ecs.Entity, 0)
	clear(s.index)

	if err := s.destroyAll(members); err != nil {
		return err
	}
	s.log.Debug().Int("entities", len(members)).Msg("scene destroyed")
	return nil
}

// Replace loads a document as Unmarshal does and then destroys the entities that were members
// before the call, without removal events. If the load fails the scene is left as it was.
func (s *Scene) Replace(data []byte) error {
	previous := slices.Clone(s.members)
	if err := s.Unmarshal(data); err != nil {
		return err
	}

	for _, e := range previous {
		delete(s.index, e)
	}
	s.members = slices.DeleteFunc(s.members, func(e ecs.Entity) bool {
		_, ok := s.index[e]
		return !ok
	})

	if err := s.destroyAll(previous); err != nil {
		return err
	}
	s.log.Debug().Int("replaced", len(previous)).Int("entities", len(s.members)).Msg("scene replaced")
	return nil
}

// destroyAll destroys the entities that are still alive. They must already be out of the scene.
func (s *Scene) destroyAll(entities []ecs.Entity) error {
	for _, e := range entities {
		// An entity may already be gone, e.g. destroyed by another entity's handler.
		if !s.world.Alive(e) {
			continue
		}
		if err := s.world.Destroy(e); err != nil {
			return eris.Wrapf(err, "failed to destroy entity %s", e)
		}
	}
	return nil
}

// Contains reports whether the entity is a member.
func (s *Scene) Contains(e ecs.Entity) bool {
	_, ok := s.index[e]
	return ok
}

// Entities returns a copy of the members in registration order.
func (s *Scene) Entities() []ecs.Entity {
	return slices.Clone(s.members)
}

// Len returns the number of members.
func (s *Scene) Len() int { return len(s.members) }

func (s *Scene) register(e ecs.Entity) {
	if _, ok := s.index[e]; ok {
		return
	}
	s.index[e] = struct{}{}
	s.members = append(s.members, e)
	s.onAdded.Emit(e)
}

func (s *Scene) unregister(e ecs.Entity) {
	if _, ok := s.index[e]; !ok {
		return
	}
	delete(s.index, e)
	if i := slices.Index(s.members, e); i >= 0 {
		s.members = slices.Delete(s.members, i, i+1)
	}
	s.onRemoved.Emit(e)
}

// evict drops entities destroyed without going through the scene.
func (s *Scene) evict(e ecs.Entity) {
	s.unregister(e)
}

// children returns the entity's transform children, or nothing if it has no transform.
func (s *Scene) children(e ecs.Entity) ([]ecs.Entity, error) {
	if !s.hierarchy.Store().Has(e) {
		return nil, nil
	}
	return s.hierarchy.Children(e)
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

// Option defines a function that can modify a Scene.
type Option func(*Scene)

// WithLogger returns an Option that sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scene) {
		s.log = log
	}
}
