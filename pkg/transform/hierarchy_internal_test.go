package transform

import (
	"math"
	"testing"

	"github.com/argus-labs/vertex/pkg/ecs"
	. "github.com/argus-labs/vertex/pkg/testutils"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-4

func newTestHierarchy(t *testing.T) (*ecs.World, *Hierarchy) {
	t.Helper()
	w := ecs.NewWorld()
	h, err := NewHierarchy(w)
	require.NoError(t, err)
	return w, h
}

func spawn(t *testing.T, w *ecs.World, h *Hierarchy, tr Transform) ecs.Entity {
	t.Helper()
	e, err := w.Create()
	require.NoError(t, err)
	_, err = h.Add(e, tr)
	require.NoError(t, err)
	return e
}

func countChanges(t *testing.T, h *Hierarchy, e ecs.Entity) *int {
	t.Helper()
	n := new(int)
	_, err := h.Subscribe(e, func(Changed) { *n++ })
	require.NoError(t, err)
	return n
}

func worldPosition(t *testing.T, h *Hierarchy, e ecs.Entity) mgl32.Vec3 {
	t.Helper()
	tr, err := h.Get(e)
	require.NoError(t, err)
	return tr.WorldPosition()
}

func assertVec3(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	assert.InDeltaSlice(t, want[:], got[:], epsilon, "want %v, got %v", want, got)
}

func TestHierarchy_EndToEnd(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	a := spawn(t, w, h, At(mgl32.Vec3{0, 0, 0}))
	b := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	require.NoError(t, h.AddChild(a, b))

	ta, err := h.Get(a)
	require.NoError(t, err)
	ta.Position = mgl32.Vec3{5, 0, 0}

	aChanges := countChanges(t, h, a)
	bChanges := countChanges(t, h, b)

	h.Update()

	assertVec3(t, mgl32.Vec3{6, 0, 0}, worldPosition(t, h, b))
	assert.Equal(t, 1, *aChanges)
	assert.Equal(t, 1, *bChanges)
	assert.Equal(t, []ecs.Entity{a}, h.Roots())
}

func TestHierarchy_Propagation(t *testing.T) {
	t.Parallel()

	t.Run("grandchild", func(t *testing.T) {
		t.Parallel()
		w, h := newTestHierarchy(t)
		r := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
		c := spawn(t, w, h, At(mgl32.Vec3{0, 2, 0}))
		g := spawn(t, w, h, At(mgl32.Vec3{0, 0, 3}))
		require.NoError(t, h.AddChild(r, c))
		require.NoError(t, h.AddChild(c, g))

		h.Update()
		assertVec3(t, mgl32.Vec3{1, 2, 3}, worldPosition(t, h, g))

		require.NoError(t, h.SetLocal(r, mgl32.Vec3{10, 0, 0}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}))
		h.Update()
		assertVec3(t, mgl32.Vec3{10, 2, 3}, worldPosition(t, h, g))
	})

	t.Run("rotation", func(t *testing.T) {
		t.Parallel()
		w, h := newTestHierarchy(t)
		p := spawn(t, w, h, Identity())
		c := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
		require.NoError(t, h.AddChild(p, c))
		h.Update()

		tp, err := h.Get(p)
		require.NoError(t, err)
		tp.Rotation = mgl32.QuatRotate(math.Pi/2, mgl32.Vec3{0, 0, 1})
		changes := countChanges(t, h, c)

		h.Update()

		assert.Equal(t, 1, *changes, "rotating the parent moves the child")
		assertVec3(t, mgl32.Vec3{0, 1, 0}, worldPosition(t, h, c))
		tc, err := h.Get(c)
		require.NoError(t, err)
		assert.True(t, tc.WorldRotation().ApproxEqual(tp.Rotation))
	})

	t.Run("scale", func(t *testing.T) {
		t.Parallel()
		w, h := newTestHierarchy(t)
		p := spawn(t, w, h, New(mgl32.Vec3{}, mgl32.QuatIdent(), mgl32.Vec3{2, 2, 2}))
		c := spawn(t, w, h, New(mgl32.Vec3{1, 0, 0}, mgl32.QuatIdent(), mgl32.Vec3{1, 3, 1}))
		require.NoError(t, h.AddChild(p, c))

		h.Update()

		assertVec3(t, mgl32.Vec3{2, 0, 0}, worldPosition(t, h, c))
		tc, err := h.Get(c)
		require.NoError(t, err)
		assertVec3(t, mgl32.Vec3{2, 6, 2}, tc.WorldScale())
	})

	t.Run("child moves on its own", func(t *testing.T) {
		t.Parallel()
		w, h := newTestHierarchy(t)
		p := spawn(t, w, h, At(mgl32.Vec3{1, 1, 1}))
		c := spawn(t, w, h, At(mgl32.Vec3{0, 0, 0}))
		require.NoError(t, h.AddChild(p, c))
		h.Update()

		pChanges := countChanges(t, h, p)
		cChanges := countChanges(t, h, c)
		tc, err := h.Get(c)
		require.NoError(t, err)
		tc.Position = mgl32.Vec3{0, 4, 0}

		h.Update()

		assert.Equal(t, 0, *pChanges)
		assert.Equal(t, 1, *cChanges)
		assertVec3(t, mgl32.Vec3{1, 5, 1}, worldPosition(t, h, c))
	})
}

func TestHierarchy_ChangeEvents(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	r := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	c := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	require.NoError(t, h.AddChild(r, c))

	var global []ecs.Entity
	h.OnChanged().Subscribe(func(ev Changed) { global = append(global, ev.Entity) })
	rChanges := countChanges(t, h, r)
	cChanges := countChanges(t, h, c)

	h.Update()
	assert.Equal(t, []ecs.Entity{r, c}, global, "parents are notified before children")
	assert.Equal(t, 1, *rChanges)
	assert.Equal(t, 1, *cChanges)

	// Nothing moved, so nothing fires.
	h.Update()
	assert.Len(t, global, 2)
	assert.Equal(t, 1, *rChanges)
	assert.Equal(t, 1, *cChanges)

	// Moving only the root moves the child exactly once per update.
	for i := range 3 {
		tr, err := h.Get(r)
		require.NoError(t, err)
		tr.Position = tr.Position.Add(mgl32.Vec3{1, 0, 0})
		h.Update()
		assert.Equal(t, 2+i, *rChanges)
		assert.Equal(t, 2+i, *cChanges)
	}
	assertVec3(t, mgl32.Vec3{5, 0, 0}, worldPosition(t, h, c))

	// Setting a value back to what it already was is not a change.
	tr, err := h.Get(r)
	require.NoError(t, err)
	tr.Position = mgl32.Vec3{4, 0, 0}
	h.Update()
	assert.Equal(t, 4, *rChanges)
}

func TestHierarchy_Unsubscribe(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)
	e := spawn(t, w, h, Identity())

	calls := 0
	token, err := h.Subscribe(e, func(Changed) { calls++ })
	require.NoError(t, err)
	h.Update()
	require.Equal(t, 1, calls)

	ok, err := h.Unsubscribe(e, token)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.Unsubscribe(e, token)
	require.NoError(t, err)
	assert.False(t, ok)

	tr, err := h.Get(e)
	require.NoError(t, err)
	tr.Position = mgl32.Vec3{1, 2, 3}
	h.Update()
	assert.Equal(t, 1, calls)

	_, err = h.Subscribe(ecs.Null, func(Changed) {})
	require.ErrorIs(t, err, ecs.ErrInvalidEntity)
}

func TestHierarchy_Graph(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		run     func(t *testing.T, h *Hierarchy, a, b, c ecs.Entity) error
		wantErr error
	}{
		{
			name: "self parent",
			run: func(_ *testing.T, h *Hierarchy, a, _, _ ecs.Entity) error {
				return h.AddChild(a, a)
			},
			wantErr: ErrHierarchyCycle,
		},
		{
			name: "direct cycle",
			run: func(t *testing.T, h *Hierarchy, a, b, _ ecs.Entity) error {
				require.NoError(t, h.AddChild(a, b))
				return h.AddChild(b, a)
			},
			wantErr: ErrHierarchyCycle,
		},
		{
			name: "indirect cycle",
			run: func(t *testing.T, h *Hierarchy, a, b, c ecs.Entity) error {
				require.NoError(t, h.AddChild(a, b))
				require.NoError(t, h.AddChild(b, c))
				return h.AddChild(c, a)
			},
			wantErr: ErrHierarchyCycle,
		},
		{
			name: "remove non child",
			run: func(_ *testing.T, h *Hierarchy, a, b, _ ecs.Entity) error {
				return h.RemoveChild(a, b)
			},
			wantErr: ErrNotChild,
		},
		{
			name: "add child twice",
			run: func(t *testing.T, h *Hierarchy, a, b, _ ecs.Entity) error {
				require.NoError(t, h.AddChild(a, b))
				require.NoError(t, h.AddChild(a, b))
				children, err := h.Children(a)
				require.NoError(t, err)
				assert.Equal(t, []ecs.Entity{b}, children)
				return nil
			},
		},
		{
			name: "reparent",
			run: func(t *testing.T, h *Hierarchy, a, b, c ecs.Entity) error {
				require.NoError(t, h.AddChild(a, c))
				require.NoError(t, h.AddChild(b, c))

				children, err := h.Children(a)
				require.NoError(t, err)
				assert.Empty(t, children)
				children, err = h.Children(b)
				require.NoError(t, err)
				assert.Equal(t, []ecs.Entity{c}, children)
				parent, err := h.Parent(c)
				require.NoError(t, err)
				assert.Equal(t, b, parent)
				assert.ElementsMatch(t, []ecs.Entity{a, b}, h.Roots())
				return nil
			},
		},
		{
			name: "remove child becomes root",
			run: func(t *testing.T, h *Hierarchy, a, b, _ ecs.Entity) error {
				require.NoError(t, h.AddChild(a, b))
				assert.False(t, h.IsRoot(b))
				require.NoError(t, h.RemoveChild(a, b))
				assert.True(t, h.IsRoot(b))
				parent, err := h.Parent(b)
				require.NoError(t, err)
				assert.True(t, parent.IsNull())

				h.Update()
				assertVec3(t, mgl32.Vec3{0, 2, 0}, worldPosition(t, h, b))
				return nil
			},
		},
		{
			name: "child order",
			run: func(t *testing.T, h *Hierarchy, a, b, c ecs.Entity) error {
				require.NoError(t, h.AddChild(a, c))
				require.NoError(t, h.AddChild(a, b))
				children, err := h.Children(a)
				require.NoError(t, err)
				assert.Equal(t, []ecs.Entity{c, b}, children)
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, h := newTestHierarchy(t)
			a := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
			b := spawn(t, w, h, At(mgl32.Vec3{0, 2, 0}))
			c := spawn(t, w, h, At(mgl32.Vec3{0, 0, 3}))

			err := tt.run(t, h, a, b, c)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHierarchy_DestroyDetachesChildren(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	g := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	p := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	c1 := spawn(t, w, h, At(mgl32.Vec3{0, 1, 0}))
	c2 := spawn(t, w, h, At(mgl32.Vec3{0, 0, 1}))
	require.NoError(t, h.AddChild(g, p))
	require.NoError(t, h.AddChild(p, c1))
	require.NoError(t, h.AddChild(p, c2))
	h.Update()
	assertVec3(t, mgl32.Vec3{2, 1, 0}, worldPosition(t, h, c1))

	require.NoError(t, w.Destroy(p))

	assert.ElementsMatch(t, []ecs.Entity{g, c1, c2}, h.Roots())
	children, err := h.Children(g)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.True(t, w.Alive(c1), "children are detached, not destroyed")

	changes := countChanges(t, h, c1)
	h.Update()
	assert.Equal(t, 1, *changes)
	assertVec3(t, mgl32.Vec3{0, 1, 0}, worldPosition(t, h, c1))
	assertVec3(t, mgl32.Vec3{0, 0, 1}, worldPosition(t, h, c2))
}

func TestHierarchy_MutationDuringUpdate(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	r := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	c := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	other := spawn(t, w, h, At(mgl32.Vec3{0, 0, 0}))
	require.NoError(t, h.AddChild(r, c))

	// The root's handler moves the child under another root and destroys an unrelated entity.
	victim := spawn(t, w, h, Identity())
	_, err := h.Subscribe(r, func(Changed) {
		require.NoError(t, h.AddChild(other, c))
		require.NoError(t, w.Destroy(victim))
	})
	require.NoError(t, err)

	assert.NotPanics(t, h.Update)

	parent, err := h.Parent(c)
	require.NoError(t, err)
	assert.Equal(t, other, parent)
	assert.NotContains(t, h.Roots(), victim)

	h.Update()
	assertVec3(t, mgl32.Vec3{1, 0, 0}, worldPosition(t, h, c))
}

func TestHierarchy_ZeroValues(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	e := spawn(t, w, h, Transform{Position: mgl32.Vec3{1, 2, 3}})
	tr, err := h.Get(e)
	require.NoError(t, err)
	assert.Equal(t, mgl32.QuatIdent(), tr.Rotation)
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, tr.Scale)
	assert.True(t, tr.IsRoot())
	assertVec3(t, mgl32.Vec3{1, 2, 3}, tr.WorldPosition())

	// Values added straight to the store, as scene loads do, are kept as they are.
	collapsed, err := w.Create()
	require.NoError(t, err)
	_, err = h.Store().Add(collapsed, New(mgl32.Vec3{}, mgl32.QuatIdent(), mgl32.Vec3{}))
	require.NoError(t, err)
	tr, err = h.Get(collapsed)
	require.NoError(t, err)
	assert.Equal(t, mgl32.Vec3{}, tr.Scale)
	assert.True(t, h.IsRoot(collapsed))
}

func TestHierarchy_StoreSetKeepsLinks(t *testing.T) {
	t.Parallel()
	w, h := newTestHierarchy(t)

	a := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	b := spawn(t, w, h, At(mgl32.Vec3{1, 0, 0}))
	require.NoError(t, h.AddChild(a, b))
	h.Update()
	bChanges := countChanges(t, h, b)

	require.NoError(t, h.Store().Set(b, At(mgl32.Vec3{5, 0, 0})))

	parent, err := h.Parent(b)
	require.NoError(t, err)
	assert.Equal(t, a, parent)
	children, err := h.Children(a)
	require.NoError(t, err)
	assert.Equal(t, []ecs.Entity{b}, children)
	assert.Equal(t, []ecs.Entity{a}, h.Roots())
	assertVec3(t, mgl32.Vec3{2, 0, 0}, worldPosition(t, h, b))

	h.Update()
	assertVec3(t, mgl32.Vec3{6, 0, 0}, worldPosition(t, h, b))
	assert.Equal(t, 1, *bChanges)

	// Setting the same local values again is not a change.
	require.NoError(t, h.Store().Set(b, At(mgl32.Vec3{5, 0, 0})))
	h.Update()
	assert.Equal(t, 1, *bChanges)

	// Moving the parent still reaches the child.
	ta, err := h.Get(a)
	require.NoError(t, err)
	ta.Position = mgl32.Vec3{2, 0, 0}
	h.Update()
	assertVec3(t, mgl32.Vec3{7, 0, 0}, worldPosition(t, h, b))
	assert.Equal(t, 2, *bChanges)
}

type hierarchyOp uint8

const (
	opSpawn   hierarchyOp = 25
	opAttach  hierarchyOp = 30
	opDetach  hierarchyOp = 10
	opMove    hierarchyOp = 24
	opDestroy hierarchyOp = 6
	opUpdate  hierarchyOp = 5
)

// TestHierarchy_ModelBasedFuzz applies random graph edits and moves, and checks after every update
// that each world matrix equals the product of the local matrices along its ancestor chain.
func TestHierarchy_ModelBasedFuzz(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)
	w, h := newTestHierarchy(t)

	const opsMax = 2_000
	var live []ecs.Entity

	randTransform := func() Transform {
		axis := mgl32.Vec3{prng.Float32(), prng.Float32(), prng.Float32() + 0.1}.Normalize()
		s := 0.8 + prng.Float32()*0.2
		return New(
			mgl32.Vec3{prng.Float32()*4 - 2, prng.Float32()*4 - 2, prng.Float32()*4 - 2},
			mgl32.QuatRotate(prng.Float32()*math.Pi, axis),
			mgl32.Vec3{s, s, s},
		)
	}
	pick := func() ecs.Entity { return live[prng.IntN(len(live))] }

	for range opsMax {
		op := RandWeightedOp(prng, []hierarchyOp{opSpawn, opAttach, opDetach, opMove, opDestroy, opUpdate})
		switch {
		case len(live) < 2:
			op = opSpawn
		case len(live) > 40 && op == opSpawn:
			op = opDestroy
		}

		switch op {
		case opSpawn:
			live = append(live, spawn(t, w, h, randTransform()))
		case opAttach:
			parent, child := pick(), pick()
			err := h.AddChild(parent, child)
			if err != nil {
				require.ErrorIs(t, err, ErrHierarchyCycle)
			}
		case opDetach:
			child := pick()
			parent, err := h.Parent(child)
			require.NoError(t, err)
			if parent.IsNull() {
				require.ErrorIs(t, h.RemoveChild(pick(), child), ErrNotChild)
				continue
			}
			require.NoError(t, h.RemoveChild(parent, child))
		case opMove:
			tr, err := h.Get(pick())
			require.NoError(t, err)
			next := randTransform()
			tr.Position, tr.Rotation, tr.Scale = next.Position, next.Rotation, next.Scale
		case opDestroy:
			i := prng.IntN(len(live))
			require.NoError(t, w.Destroy(live[i]))
			live = append(live[:i], live[i+1:]...)
		case opUpdate:
			h.Update()
			assertWorldState(t, h, live)
		default:
			panic("unreachable")
		}
	}

	h.Update()
	assertWorldState(t, h, live)

	fired := 0
	h.OnChanged().Subscribe(func(Changed) { fired++ })
	h.Update()
	assert.Zero(t, fired, "an update with no edits fires nothing")
}

func assertWorldState(t *testing.T, h *Hierarchy, live []ecs.Entity) {
	t.Helper()

	roots := 0
	for _, e := range live {
		tr, err := h.Get(e)
		require.NoError(t, err)

		want := tr.LocalMatrix()
		for p := tr.parent; !p.IsNull(); {
			pt, err := h.Get(p)
			require.NoError(t, err)
			require.Contains(t, pt.children, e, "parent %s must list its child", p)
			want = pt.LocalMatrix().Mul4(want)
			p = pt.parent
		}
		got := tr.WorldMatrix()
		require.InDeltaSlice(t, want[:], got[:], 1e-2, "world matrix of %s", e)

		origin := want.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
		pos := tr.WorldPosition()
		require.InDeltaSlice(t, origin[:], pos[:], 1e-2, "world position of %s", e)

		require.False(t, tr.dirty)
		if tr.IsRoot() {
			roots++
			require.True(t, h.IsRoot(e))
		}
	}
	require.Len(t, h.Roots(), roots)
}
