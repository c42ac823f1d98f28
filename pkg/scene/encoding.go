package scene

import (
	"io"

	"github.com/argus-labs/vertex/pkg/ecs"
	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/encoding/protowire"
)

// Scene documents are a sequence of protobuf varints and length-prefixed byte strings:
//
//	document  = magic version table count record*
//	table     = count (componentID name)*
//	record    = bytes(name componentCount (componentID bytes(data))* childCount record*)
//
// Component IDs are only meaningful within a document; the table maps them to component names,
// which are matched against the loading world's registered components.
const (
	magic         = 0x58545256 // "VRTX"
	formatVersion = 1
)

var (
	ErrUnknownComponent = eris.New("unknown component")
	ErrMalformedScene   = eris.New("malformed scene document")
)

// Save writes every top-level member and its transform subtree to w. A member is top-level when none
// of its transform ancestors is a member.
func (s *Scene) Save(w io.Writer) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "failed to write scene")
	}
	return nil
}

// Load reads a document written by Save, recreates its entities, components and transform links,
// and adds each top-level entity to the scene recursively. On error, every entity created by the
// load is destroyed again.
func (s *Scene) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrap(err, "failed to read scene")
	}
	return s.Unmarshal(data)
}

// Marshal encodes the scene as Save does.
func (s *Scene) Marshal() ([]byte, error) {
	stores := s.world.Stores()

	buf := protowire.AppendVarint(nil, magic)
	buf = protowire.AppendVarint(buf, formatVersion)
	buf = protowire.AppendVarint(buf, uint64(len(stores)))
	for _, store := range stores {
		buf = protowire.AppendVarint(buf, uint64(store.Bit()))
		buf = protowire.AppendString(buf, store.Name())
	}

	top := s.topLevel()
	buf = protowire.AppendVarint(buf, uint64(len(top)))
	total := 0
	for _, e := range top {
		record, n, err := s.encodeEntity(e)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendBytes(buf, record)
		total += n
	}

	s.log.Debug().Int("top_level", len(top)).Int("entities", total).Int("bytes", len(buf)).Msg("scene saved")
	return buf, nil
}

// Unmarshal decodes a document as Load does.
func (s *Scene) Unmarshal(data []byte) error {
	d := decoder{scene: s, buf: data}
	top, err := d.document()
	if err != nil {
		d.rollback()
		return err
	}
	for _, e := range top {
		if err := s.AddEntity(e, true); err != nil {
			d.rollback()
			return eris.Wrapf(err, "failed to add loaded entity %s", e)
		}
	}
	s.log.Debug().Int("top_level", len(top)).Int("entities", len(d.created)).Msg("scene loaded")
	return nil
}

// topLevel returns the members without a member among their transform ancestors.
func (s *Scene) topLevel() []ecs.Entity {
	top := make([]ecs.Entity, 0, len(s.members))
	for _, e := range s.members {
		if !s.hasMemberAncestor(e) {
			top = append(top, e)
		}
	}
	return top
}

func (s *Scene) hasMemberAncestor(e ecs.Entity) bool {
	store := s.hierarchy.Store()
	for store.Has(e) {
		parent, err := s.hierarchy.Parent(e)
		if err != nil || parent.IsNull() {
			return false
		}
		if s.Contains(parent) {
			return true
		}
		e = parent
	}
	return false
}

// encodeEntity encodes the entity and its transform subtree. It returns the record and the number
// of entities in it.
func (s *Scene) encodeEntity(e ecs.Entity) ([]byte, int, error) {
	name, err := s.world.NameOf(e)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "failed to encode entity %s", e)
	}
	composition, err := s.world.CompositionOf(e)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "failed to encode entity %s", e)
	}

	buf := protowire.AppendString(nil, name)
	buf = protowire.AppendVarint(buf, uint64(composition.Count()))
	stores := s.world.Stores()
	for bit := range composition.Bits() {
		data, err := stores[bit].Encode(e)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "failed to encode component %s of %s", stores[bit].Name(), e)
		}
		buf = protowire.AppendVarint(buf, uint64(bit))
		buf = protowire.AppendBytes(buf, data)
	}

	children, err := s.children(e)
	if err != nil {
		return nil, 0, err
	}
	buf = protowire.AppendVarint(buf, uint64(len(children)))
	count := 1
	for _, child := range children {
		record, n, err := s.encodeEntity(child)
		if err != nil {
			return nil, 0, err
		}
		buf = protowire.AppendBytes(buf, record)
		count += n
	}
	return buf, count, nil
}

// decoder holds the state of one Unmarshal call.
type decoder struct {
	scene   *Scene
	buf     []byte
	table   map[uint64]ecs.ComponentStore // Document component ID -> local store
	names   map[uint64]string             // Document component ID -> name
	created []ecs.Entity
}

func (d *decoder) document() ([]ecs.Entity, error) {
	b := d.buf

	v, b, err := consumeVarint(b, "magic")
	if err != nil {
		return nil, err
	}
	if v != magic {
		return nil, eris.Wrapf(ErrMalformedScene, "bad magic 0x%x", v)
	}
	v, b, err = consumeVarint(b, "version")
	if err != nil {
		return nil, err
	}
	if v != formatVersion {
		return nil, eris.Wrapf(ErrMalformedScene, "unsupported version %d", v)
	}

	if b, err = d.componentTable(b); err != nil {
		return nil, err
	}

	count, b, err := consumeVarint(b, "entity count")
	if err != nil {
		return nil, err
	}
	if count > uint64(len(b)) {
		return nil, eris.Wrapf(ErrMalformedScene, "entity count %d exceeds document size", count)
	}

	top := make([]ecs.Entity, 0, count)
	for range count {
		var record []byte
		if record, b, err = consumeBytes(b, "entity record"); err != nil {
			return nil, err
		}
		e, err := d.entity(record)
		if err != nil {
			return nil, err
		}
		top = append(top, e)
	}
	if len(b) != 0 {
		return nil, eris.Wrapf(ErrMalformedScene, "%d trailing bytes", len(b))
	}
	return top, nil
}

func (d *decoder) componentTable(b []byte) ([]byte, error) {
	count, b, err := consumeVarint(b, "component count")
	if err != nil {
		return nil, err
	}
	if count > ecs.MaxComponents {
		return nil, eris.Wrapf(ErrMalformedScene, "%d component types", count)
	}

	d.table = make(map[uint64]ecs.ComponentStore, count)
	d.names = make(map[uint64]string, count)
	for range count {
		var id uint64
		var name []byte
		if id, b, err = consumeVarint(b, "component id"); err != nil {
			return nil, err
		}
		if name, b, err = consumeBytes(b, "component name"); err != nil {
			return nil, err
		}
		if _, dup := d.names[id]; dup {
			return nil, eris.Wrapf(ErrMalformedScene, "component id %d listed twice", id)
		}
		d.names[id] = string(name)
		if store, err := d.scene.world.StoreByName(string(name)); err == nil {
			d.table[id] = store
		}
	}
	return b, nil
}

// entity decodes one record and its children into new entities.
func (d *decoder) entity(record []byte) (ecs.Entity, error) {
	name, b, err := consumeBytes(record, "entity name")
	if err != nil {
		return ecs.Null, err
	}
	e, err := d.scene.world.Create(string(name))
	if err != nil {
		return ecs.Null, eris.Wrap(err, "failed to create loaded entity")
	}
	d.created = append(d.created, e)

	components, b, err := consumeVarint(b, "component count")
	if err != nil {
		return ecs.Null, err
	}
	if components > ecs.MaxComponents {
		return ecs.Null, eris.Wrapf(ErrMalformedScene, "%d components on one entity", components)
	}
	for range components {
		var id uint64
		var data []byte
		if id, b, err = consumeVarint(b, "component id"); err != nil {
			return ecs.Null, err
		}
		if data, b, err = consumeBytes(b, "component data"); err != nil {
			return ecs.Null, err
		}
		store, ok := d.table[id]
		if !ok {
			if name, listed := d.names[id]; listed {
				return ecs.Null, eris.Wrapf(ErrUnknownComponent, "component %q is not registered", name)
			}
			return ecs.Null, eris.Wrapf(ErrMalformedScene, "component id %d missing from table", id)
		}
		if err := store.DecodeInto(e, data); err != nil {
			return ecs.Null, eris.Wrapf(err, "failed to decode component %s", store.Name())
		}
	}

	children, b, err := consumeVarint(b, "child count")
	if err != nil {
		return ecs.Null, err
	}
	if children > uint64(len(b)) {
		return ecs.Null, eris.Wrapf(ErrMalformedScene, "child count %d exceeds record size", children)
	}
	if children > 0 && !d.scene.hierarchy.Store().Has(e) {
		return ecs.Null, eris.Wrapf(ErrMalformedScene, "entity %q has children but no transform", name)
	}
	for range children {
		var child []byte
		if child, b, err = consumeBytes(b, "child record"); err != nil {
			return ecs.Null, err
		}
		c, err := d.entity(child)
		if err != nil {
			return ecs.Null, err
		}
		if err := d.scene.hierarchy.AddChild(e, c); err != nil {
			return ecs.Null, eris.Wrap(ErrMalformedScene, err.Error())
		}
	}
	if len(b) != 0 {
		return ecs.Null, eris.Wrapf(ErrMalformedScene, "%d trailing bytes in entity %q", len(b), name)
	}
	return e, nil
}

// rollback destroys the entities created so far, children first.
func (d *decoder) rollback() {
	for i := len(d.created) - 1; i >= 0; i-- {
		e := d.created[i]
		if d.scene.world.Alive(e) {
			_ = d.scene.RemoveEntity(e, false)
		}
	}
	d.created = nil
}

func consumeVarint(b []byte, field string) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, eris.Wrapf(ErrMalformedScene, "%s: %v", field, protowire.ParseError(n))
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte, field string) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, eris.Wrapf(ErrMalformedScene, "%s: %v", field, protowire.ParseError(n))
	}
	return v, b[n:], nil
}
