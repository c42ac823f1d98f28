// Package transform implements the transform hierarchy: per-entity local and world transforms,
// the parent/child graph, and the once-per-frame pass that propagates changes down the graph.
package transform

import (
	"slices"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is the spatial component of an entity. Position, Rotation and Scale are local to the
// parent and are the only serialized fields. The world state, the hierarchy links and the change
// subscriptions are owned by the Hierarchy and refreshed by Hierarchy.Update.
//
// Hierarchy.Add treats a zero Rotation as the identity quaternion and a zero Scale as (1, 1, 1), so
// Transform{Position: p} is a valid argument. Transforms added straight to the store, as scene loads
// do, keep their values as they are.
type Transform struct {
	Position mgl32.Vec3 `json:"position"`
	Rotation mgl32.Quat `json:"rotation"`
	Scale    mgl32.Vec3 `json:"scale"`

	worldMatrix   mgl32.Mat4
	worldPosition mgl32.Vec3
	worldRotation mgl32.Quat
	worldScale    mgl32.Vec3

	// Local values as of the last update that recomputed this transform.
	lastPosition mgl32.Vec3
	lastRotation mgl32.Quat
	lastScale    mgl32.Vec3
	dirty        bool // Forces a recompute on the next update

	parent    ecs.Entity
	children  []ecs.Entity
	onChanged *ecs.Signal[Changed] // Shared across the copies made by store swap-removes
}

// Changed is the payload of transform change events. Transform points into the component store and
// is only valid for the duration of the handler call.
type Changed struct {
	Entity    ecs.Entity
	Transform *Transform
}

// Name implements ecs.Component.
func (Transform) Name() string { return "Transform" }

// New creates a transform from local position, rotation and scale.
func New(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) Transform {
	return Transform{Position: position, Rotation: rotation, Scale: scale}
}

// Identity creates a transform at the origin with no rotation and unit scale.
func Identity() Transform {
	return New(mgl32.Vec3{}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

// At creates an identity transform translated to position.
func At(position mgl32.Vec3) Transform {
	return New(position, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

// LocalMatrix returns translate(Position) · rotate(Rotation) · scale(Scale).
func (t *Transform) LocalMatrix() mgl32.Mat4 {
	return mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z()).
		Mul4(t.Rotation.Mat4()).
		Mul4(mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z()))
}

// WorldMatrix returns the world matrix computed by the last update.
func (t *Transform) WorldMatrix() mgl32.Mat4 { return t.worldMatrix }

// WorldPosition returns the world position computed by the last update.
func (t *Transform) WorldPosition() mgl32.Vec3 { return t.worldPosition }

// WorldRotation returns the world rotation computed by the last update.
func (t *Transform) WorldRotation() mgl32.Quat { return t.worldRotation }

// WorldScale returns the world scale computed by the last update.
func (t *Transform) WorldScale() mgl32.Vec3 { return t.worldScale }

// Parent returns the parent entity, or ecs.Null for a root.
func (t *Transform) Parent() ecs.Entity { return t.parent }

// IsRoot reports whether the transform has no parent.
func (t *Transform) IsRoot() bool { return t.parent.IsNull() }

// Children returns a copy of the ordered child list.
func (t *Transform) Children() []ecs.Entity { return slices.Clone(t.children) }

// withDefaults fills in a zero rotation and scale.
func (t Transform) withDefaults() Transform {
	if t.Rotation == (mgl32.Quat{}) {
		t.Rotation = mgl32.QuatIdent()
	}
	if t.Scale == (mgl32.Vec3{}) {
		t.Scale = mgl32.Vec3{1, 1, 1}
	}
	return t
}

// reset clears hierarchy state so an added transform starts as an unattached root whose world
// state equals its local state.
func (t *Transform) reset() {
	t.worldMatrix = t.LocalMatrix()
	t.worldPosition = t.Position
	t.worldRotation = t.Rotation
	t.worldScale = t.Scale
	t.lastPosition = t.Position
	t.lastRotation = t.Rotation
	t.lastScale = t.Scale
	t.dirty = true
	t.parent = ecs.Null
	t.children = nil
	t.onChanged = nil
}

// inherit carries the hierarchy state of prev over to t, whose local values were just replaced.
func (t *Transform) inherit(prev *Transform) {
	t.worldMatrix = prev.worldMatrix
	t.worldPosition = prev.worldPosition
	t.worldRotation = prev.worldRotation
	t.worldScale = prev.worldScale
	t.lastPosition = prev.lastPosition
	t.lastRotation = prev.lastRotation
	t.lastScale = prev.lastScale
	t.dirty = prev.dirty
	t.parent = prev.parent
	t.children = prev.children
	t.onChanged = prev.onChanged
}

func (t *Transform) removeChild(child ecs.Entity) bool {
	i := slices.Index(t.children, child)
	if i < 0 {
		return false
	}
	t.children = slices.Delete(t.children, i, i+1)
	return true
}
