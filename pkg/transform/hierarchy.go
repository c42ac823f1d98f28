package transform

import (
	"slices"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/rotisserie/eris"
)

// Hierarchy owns the Transform store of a world and the forest of transforms in it. Every
// transform is either a root, tracked in the root list, or attached to a parent; children are
// never tracked as roots and are updated by walking down from their root.
//
// Removing a Transform, including by destroying its entity, detaches it: its children become
// roots and keep their local values. Children are never destroyed with their parent.
type Hierarchy struct {
	world     *ecs.World
	store     *ecs.Store[Transform]
	roots     []ecs.Entity
	onChanged ecs.Signal[Changed]
}

// NewHierarchy registers the Transform component with the world and starts tracking it.
func NewHierarchy(w *ecs.World) (*Hierarchy, error) {
	store, err := ecs.Register[Transform](w)
	if err != nil {
		return nil, eris.Wrap(err, "failed to register transform component")
	}
	if store.Len() > 0 {
		return nil, eris.New("transform store already populated; create the hierarchy before adding transforms")
	}

	h := &Hierarchy{
		world: w,
		store: store,
		roots: make([]ecs.Entity, 0),
	}
	store.OnAdd().Subscribe(h.attach)
	store.OnRemove().Subscribe(h.detach)
	store.OnSet().Subscribe(h.relink)
	return h, nil
}

// Store returns the Transform component store.
func (h *Hierarchy) Store() *ecs.Store[Transform] { return h.store }

// OnChanged returns the signal emitted for every transform whose world state changed during an
// update, after the transform's own subscribers.
func (h *Hierarchy) OnChanged() *ecs.Signal[Changed] { return &h.onChanged }

// Add attaches a transform to the entity as a new root. A zero rotation or scale is replaced by
// the identity.
func (h *Hierarchy) Add(e ecs.Entity, t Transform) (*Transform, error) {
	return h.store.Add(e, t.withDefaults())
}

// Get returns the entity's transform.
func (h *Hierarchy) Get(e ecs.Entity) (*Transform, error) {
	return h.store.Get(e)
}

// SetLocal overwrites the entity's local values, keeping its hierarchy links and subscriptions.
// Store().Set does the same with a whole Transform value.
func (h *Hierarchy) SetLocal(e ecs.Entity, position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) error {
	t, err := h.store.Get(e)
	if err != nil {
		return err
	}
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	return nil
}

// Roots returns a copy of the root list.
func (h *Hierarchy) Roots() []ecs.Entity {
	return slices.Clone(h.roots)
}

// IsRoot reports whether the entity's transform is tracked as a root.
func (h *Hierarchy) IsRoot(e ecs.Entity) bool {
	return slices.Contains(h.roots, e)
}

// Children returns a copy of the entity's ordered child list.
func (h *Hierarchy) Children(e ecs.Entity) ([]ecs.Entity, error) {
	t, err := h.store.Get(e)
	if err != nil {
		return nil, err
	}
	return t.Children(), nil
}

// Parent returns the entity's parent, or ecs.Null for a root.
func (h *Hierarchy) Parent(e ecs.Entity) (ecs.Entity, error) {
	t, err := h.store.Get(e)
	if err != nil {
		return ecs.Null, err
	}
	return t.parent, nil
}

// AddChild attaches child under parent, appending it to the parent's child list. A child that
// already has a parent is moved. The child's world state is recomputed on the next update.
func (h *Hierarchy) AddChild(parent, child ecs.Entity) error {
	p, err := h.store.Get(parent)
	if err != nil {
		return eris.Wrap(err, "parent transform")
	}
	c, err := h.store.Get(child)
	if err != nil {
		return eris.Wrap(err, "child transform")
	}
	if c.parent == parent {
		return nil
	}
	if err := h.checkCycle(parent, child); err != nil {
		return err
	}

	if c.parent.IsNull() {
		h.removeRoot(child)
	} else {
		old, err := h.store.Get(c.parent)
		if err != nil {
			return eris.Wrapf(err, "stale parent %s of %s", c.parent, child)
		}
		old.removeChild(child)
	}

	c.parent = parent
	c.dirty = true
	p.children = append(p.children, child)
	return nil
}

// RemoveChild detaches child from parent. The child becomes a root and its world state is
// recomputed on the next update.
func (h *Hierarchy) RemoveChild(parent, child ecs.Entity) error {
	p, err := h.store.Get(parent)
	if err != nil {
		return eris.Wrap(err, "parent transform")
	}
	c, err := h.store.Get(child)
	if err != nil {
		return eris.Wrap(err, "child transform")
	}
	if c.parent != parent || !p.removeChild(child) {
		return eris.Wrapf(ErrNotChild, "%s under %s", child, parent)
	}

	c.parent = ecs.Null
	c.dirty = true
	h.roots = append(h.roots, child)
	return nil
}

// Subscribe registers fn to be called whenever the entity's transform changes during an update.
func (h *Hierarchy) Subscribe(e ecs.Entity, fn func(Changed)) (ecs.Token, error) {
	t, err := h.store.Get(e)
	if err != nil {
		return 0, err
	}
	if t.onChanged == nil {
		t.onChanged = &ecs.Signal[Changed]{}
	}
	return t.onChanged.Subscribe(fn), nil
}

// Unsubscribe removes a subscription made with Subscribe.
func (h *Hierarchy) Unsubscribe(e ecs.Entity, token ecs.Token) (bool, error) {
	t, err := h.store.Get(e)
	if err != nil {
		return false, err
	}
	if t.onChanged == nil {
		return false, nil
	}
	return t.onChanged.Unsubscribe(token), nil
}

// checkCycle fails if child is parent or one of its ancestors.
func (h *Hierarchy) checkCycle(parent, child ecs.Entity) error {
	for ancestor := parent; !ancestor.IsNull(); {
		if ancestor == child {
			return eris.Wrapf(ErrHierarchyCycle, "%s under %s", child, parent)
		}
		t, err := h.store.Get(ancestor)
		if err != nil {
			return eris.Wrapf(err, "broken ancestor chain at %s", ancestor)
		}
		ancestor = t.parent
	}
	return nil
}

// attach handles a transform being added to the store.
func (h *Hierarchy) attach(ev ecs.ComponentEvent[Transform]) {
	ev.Component.reset()
	h.roots = append(h.roots, ev.Entity)
}

// detach handles a transform being removed from the store. The component is still in place.
func (h *Hierarchy) detach(ev ecs.ComponentEvent[Transform]) {
	t := ev.Component

	if t.parent.IsNull() {
		h.removeRoot(ev.Entity)
	} else if p, err := h.store.Get(t.parent); err == nil {
		p.removeChild(ev.Entity)
	}

	for _, child := range t.children {
		c, err := h.store.Get(child)
		if err != nil {
			continue
		}
		c.parent = ecs.Null
		c.dirty = true
		h.roots = append(h.roots, child)
	}

	t.parent = ecs.Null
	t.children = nil
	if t.onChanged != nil {
		t.onChanged.Clear()
	}
}

// relink handles a transform being overwritten with Store.Set. Only the local values are taken from
// the new value; the links, subscriptions and world state stay with the entity.
func (h *Hierarchy) relink(ev ecs.ComponentUpdate[Transform]) {
	ev.Component.inherit(&ev.Previous)
}

func (h *Hierarchy) removeRoot(e ecs.Entity) {
	if i := slices.Index(h.roots, e); i >= 0 {
		h.roots = slices.Delete(h.roots, i, i+1)
	}
}

// frame is the parent state handed down the hierarchy during an update.
type frame struct {
	matrix          mgl32.Mat4
	rotation        mgl32.Quat
	scale           mgl32.Vec3
	positionChanged bool
	rotationChanged bool
	scaleChanged    bool
}

var rootFrame = frame{
	matrix:   mgl32.Ident4(),
	rotation: mgl32.QuatIdent(),
	scale:    mgl32.Vec3{1, 1, 1},
}

// Update walks every root top-down and recomputes the world state of each transform whose local
// values, or whose ancestors' world state, changed since the previous update. A parent change in
// position, rotation or scale moves the child; rotation and scale only propagate from the same
// kind of parent change. Each recomputed transform notifies its own subscribers and then the
// hierarchy-wide OnChanged signal. Children are always visited since a descendant may have moved
// on its own.
//
// Handlers may mutate the hierarchy. A subtree that is reparented or removed during the walk is
// skipped for the rest of this update and picked up on the next one.
func (h *Hierarchy) Update() {
	for _, root := range slices.Clone(h.roots) {
		t, err := h.store.Get(root)
		if err != nil || !t.IsRoot() {
			continue
		}
		h.visit(root, rootFrame)
	}
}

func (h *Hierarchy) visit(e ecs.Entity, parent frame) {
	t, err := h.store.Get(e)
	if err != nil {
		return
	}

	positionChanged := t.dirty || t.Position != t.lastPosition ||
		parent.positionChanged || parent.rotationChanged || parent.scaleChanged
	rotationChanged := t.dirty || t.Rotation != t.lastRotation || parent.rotationChanged
	scaleChanged := t.dirty || t.Scale != t.lastScale || parent.scaleChanged

	if positionChanged || rotationChanged || scaleChanged {
		t.worldMatrix = parent.matrix.Mul4(t.LocalMatrix())
		if positionChanged {
			t.worldPosition = parent.matrix.Mul4x1(t.Position.Vec4(1)).Vec3()
		}
		if rotationChanged {
			t.worldRotation = parent.rotation.Mul(t.Rotation)
		}
		if scaleChanged {
			t.worldScale = mgl32.Vec3{
				parent.scale.X() * t.Scale.X(),
				parent.scale.Y() * t.Scale.Y(),
				parent.scale.Z() * t.Scale.Z(),
			}
		}
		t.lastPosition = t.Position
		t.lastRotation = t.Rotation
		t.lastScale = t.Scale
		t.dirty = false

		h.notify(e, t)

		// Handlers may have moved the component within the store.
		if t, err = h.store.Get(e); err != nil {
			return
		}
	}

	next := frame{
		matrix:          t.worldMatrix,
		rotation:        t.worldRotation,
		scale:           t.worldScale,
		positionChanged: positionChanged,
		rotationChanged: rotationChanged,
		scaleChanged:    scaleChanged,
	}
	for _, child := range t.Children() {
		c, err := h.store.Get(child)
		if err != nil || c.parent != e {
			continue
		}
		h.visit(child, next)
	}
}

func (h *Hierarchy) notify(e ecs.Entity, t *Transform) {
	if t.onChanged != nil {
		t.onChanged.Emit(Changed{Entity: e, Transform: t})
	}
	if t, err := h.store.Get(e); err == nil {
		h.onChanged.Emit(Changed{Entity: e, Transform: t})
	}
}
