// Package metadata maps Go struct types to tables.
//
// A managed type is a struct whose exported fields (FIELD access) or
// accessor pairs (PROPERTY access) make up its persistent state. Mapping
// details come from `persist` struct tags and from persist.Annotated:
//
//	type User struct {
//	    ID      int64     `persist:",id"`
//	    Email   string    `persist:",unique"`
//	    Team    *Team     `persist:",constraint=none"`
//	    Version int64     `persist:",version"`
//	    Scratch string    `persist:"-"`
//	}
package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/persist"
)

var uuidType = reflect.TypeFor[uuid.UUID]()

// Tabler is implemented by types that name their own table.
type Tabler interface {
	TableName() string
}

// ManagedType is the mapping of one struct type.
type ManagedType struct {
	// Name is the entity name, the Go type name.
	Name   string
	Type   reflect.Type
	Table  string
	Access persist.AccessType

	ID      *Attribute
	Version *Attribute
	// Attributes lists the persistent attributes in declaration order.
	Attributes []*Attribute

	NamedNativeQueries []persist.NamedNativeQuery

	transient []string
	byName    map[string]*Attribute
}

// Attribute returns the persistent attribute with the given Go name.
func (mt *ManagedType) Attribute(name string) (*Attribute, bool) {
	a, ok := mt.byName[name]
	return a, ok
}

// AttributeByColumn returns the attribute mapped to the column, compared
// case-insensitively.
func (mt *ManagedType) AttributeByColumn(column string) (*Attribute, int, bool) {
	for i, a := range mt.Attributes {
		if strings.EqualFold(a.Column, column) {
			return a, i, true
		}
	}
	return nil, -1, false
}

// Relations returns the relation attributes.
func (mt *ManagedType) Relations() []*Attribute {
	var rels []*Attribute
	for _, a := range mt.Attributes {
		if a.IsRelation() {
			rels = append(rels, a)
		}
	}
	return rels
}

// Columns returns the column names in attribute order.
func (mt *ManagedType) Columns() []string {
	cols := make([]string, len(mt.Attributes))
	for i, a := range mt.Attributes {
		cols[i] = a.Column
	}
	return cols
}

// IsTransient reports whether the named field is excluded from the
// persistent state.
func (mt *ManagedType) IsTransient(name string) bool {
	return slices.Contains(mt.transient, name)
}

// New returns a pointer to a new zero entity.
func (mt *ManagedType) New() reflect.Value {
	return reflect.New(mt.Type)
}

// Pointer returns the reflect value of entity, which must be a non-nil
// pointer to the managed type.
func (mt *ManagedType) Pointer(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != mt.Type {
		return reflect.Value{}, fmt.Errorf("persist: expected non-nil *%s, got %T", mt.Name, entity)
	}
	return v, nil
}

// IDOf returns the id value of the entity behind ptr.
func (mt *ManagedType) IDOf(ptr reflect.Value) any {
	return mt.ID.Get(ptr).Interface()
}

// HasID reports whether the id of the entity behind ptr is set.
func (mt *ManagedType) HasID(ptr reflect.Value) bool {
	return !mt.ID.Get(ptr).IsZero()
}

// VersionOf returns the version of the entity behind ptr, or 0 for types
// without a version attribute.
func (mt *ManagedType) VersionOf(ptr reflect.Value) int64 {
	if mt.Version == nil {
		return 0
	}
	v := mt.Version.Get(ptr)
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

// SetVersion stores n in the version attribute, if any.
func (mt *ManagedType) SetVersion(ptr reflect.Value, n int64) {
	if mt.Version == nil {
		return
	}
	v := reflect.New(mt.Version.Type).Elem()
	if v.CanInt() {
		v.SetInt(n)
	} else {
		v.SetUint(uint64(n))
	}
	mt.Version.Set(ptr, v)
}

// CopyState copies the persistent state of src to dst. Transient fields
// of dst are left untouched.
func (mt *ManagedType) CopyState(dst, src reflect.Value) {
	for _, a := range mt.Attributes {
		a.Set(dst, a.Get(src))
	}
}

func (mt *ManagedType) String() string { return mt.Name }

// Metamodel holds the managed types of a persistence unit. It is safe for
// concurrent use.
type Metamodel struct {
	mu     sync.RWMutex
	types  map[reflect.Type]*ManagedType
	access persist.AccessType
}

// Option configures a Metamodel.
type Option func(*Metamodel)

// WithDefaultAccess sets the access type of types that do not declare one.
func WithDefaultAccess(a persist.AccessType) Option {
	return func(m *Metamodel) {
		if a.IsValid() {
			m.access = a
		}
	}
}

// New returns an empty metamodel.
func New(opts ...Option) *Metamodel {
	m := &Metamodel{
		types:  make(map[reflect.Type]*ManagedType),
		access: persist.AccessField,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register maps the given entities. Each may be a struct value, a pointer
// to one, or a reflect.Type.
func (m *Metamodel) Register(entities ...any) error {
	for _, e := range entities {
		t, ok := e.(reflect.Type)
		if !ok {
			t = reflect.TypeOf(e)
		}
		if _, err := m.TypeOf(t); err != nil {
			return err
		}
	}
	return nil
}

// TypeOf returns the managed type of t, mapping it on first use.
func (m *Metamodel) TypeOf(t reflect.Type) (*ManagedType, error) {
	if t == nil {
		return nil, errors.New("persist: nil entity type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	m.mu.RLock()
	mt, ok := m.types[t]
	m.mu.RUnlock()
	if ok {
		return mt, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []reflect.Type
	mt, err := m.build(t, &added)
	if err != nil {
		for _, t := range added {
			delete(m.types, t)
		}
		return nil, err
	}
	return mt, nil
}

// Entity returns the managed type of entity, a struct value or pointer.
func (m *Metamodel) Entity(entity any) (*ManagedType, error) {
	return m.TypeOf(reflect.TypeOf(entity))
}

// ManagedTypes returns the mapped types ordered by name.
func (m *Metamodel) ManagedTypes() []*ManagedType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]*ManagedType, 0, len(m.types))
	for _, mt := range m.types {
		types = append(types, mt)
	}
	slices.SortFunc(types, func(a, b *ManagedType) int { return strings.Compare(a.Name, b.Name) })
	return types
}

// NamedNativeQueries returns the native queries declared by all managed
// types.
func (m *Metamodel) NamedNativeQueries() []persist.NamedNativeQuery {
	var queries []persist.NamedNativeQuery
	for _, mt := range m.ManagedTypes() {
		queries = append(queries, mt.NamedNativeQueries...)
	}
	return queries
}

// build maps t. It runs with m.mu held. The type is registered before its
// relations are resolved, so cyclic references terminate.
func (m *Metamodel) build(t reflect.Type, added *[]reflect.Type) (*ManagedType, error) {
	if mt, ok := m.types[t]; ok {
		return mt, nil
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, &persist.MappingError{Type: t.String(), Err: errors.New("not a named struct type")}
	}
	ant := annotationOf(t)
	mt := &ManagedType{
		Name:               t.Name(),
		Type:               t,
		Table:              ant.Table,
		Access:             ant.Access,
		NamedNativeQueries: ant.NamedNativeQueries,
		transient:          slices.Clone(ant.Transient),
		byName:             make(map[string]*Attribute),
	}
	if mt.Table == "" {
		mt.Table = tableOf(t)
	}
	if !mt.Access.IsValid() {
		mt.Access = m.access
	}
	for i := range mt.NamedNativeQueries {
		if mt.NamedNativeQueries[i].ResultType == nil {
			mt.NamedNativeQueries[i].ResultType = t
		}
	}
	m.types[t] = mt
	*added = append(*added, t)

	var relations []*Attribute
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous {
			continue
		}
		a, err := m.attribute(mt, ant, f)
		if err != nil {
			return nil, &persist.MappingError{Type: mt.Name, Attribute: f.Name, Err: err}
		}
		if a == nil {
			continue
		}
		if isEntityRef(a.Type) {
			relations = append(relations, a)
		}
		mt.Attributes = append(mt.Attributes, a)
		mt.byName[a.Name] = a
	}
	if err := m.identify(mt); err != nil {
		return nil, err
	}
	for _, a := range relations {
		target, err := m.build(a.Type.Elem(), added)
		if err != nil {
			return nil, err
		}
		if target.ID == nil {
			return nil, &persist.MappingError{Type: mt.Name, Attribute: a.Name, Err: fmt.Errorf("target %s has no id", target.Name)}
		}
		a.Target = target
	}
	cols := make(map[string]string, len(mt.Attributes))
	for _, a := range mt.Attributes {
		if prev, ok := cols[a.Column]; ok {
			return nil, &persist.MappingError{Type: mt.Name, Attribute: a.Name, Err: fmt.Errorf("column %q already mapped by %s", a.Column, prev)}
		}
		cols[a.Column] = a.Name
	}
	return mt, nil
}

// attribute maps field f. It returns nil for fields that are not part of
// the persistent state.
func (m *Metamodel) attribute(mt *ManagedType, ant persist.EntityAnnotation, f reflect.StructField) (*Attribute, error) {
	raw, tagged := f.Tag.Lookup(TagName)
	tg, err := parseTag(raw)
	if err != nil {
		return nil, err
	}
	if tg.skip || tg.transient || ant.IsTransient(f.Name) {
		if !mt.IsTransient(f.Name) {
			mt.transient = append(mt.transient, f.Name)
		}
		return nil, nil
	}
	if len(f.Index) > 1 && throughPointer(mt.Type, f.Index) {
		return nil, errors.New("fields promoted through embedded pointers cannot be mapped")
	}
	a := &Attribute{
		Name:       f.Name,
		Type:       f.Type,
		Access:     mt.Access,
		ID:         tg.id,
		Version:    tg.version,
		Nullable:   tg.nullable || f.Type.Kind() == reflect.Pointer,
		Unique:     tg.unique,
		Generated:  tg.generated,
		Constraint: tg.constraint,
	}
	if tg.access.IsValid() {
		a.Access = tg.access
	}
	switch a.Access {
	case persist.AccessProperty:
		getter, setter, ok := accessors(reflect.PointerTo(mt.Type), f)
		if !ok {
			if tagged {
				return nil, fmt.Errorf("property access needs %s() or Get%[1]s() and Set%[1]s", exportName(f.Name))
			}
			return nil, nil
		}
		a.getter, a.setter = getter, setter
	default:
		if !f.IsExported() {
			if tagged {
				return nil, errors.New("field access needs an exported field")
			}
			return nil, nil
		}
		a.index = f.Index
	}
	switch {
	case tg.ref || isEntityRef(f.Type):
		if !isEntityRef(f.Type) {
			return nil, fmt.Errorf("relation must be a pointer to a struct, got %s", f.Type)
		}
		a.Nullable = true
		if !a.Constraint.IsValid() {
			if c, ok := ant.ForeignKeys[f.Name]; ok && c.IsValid() {
				a.Constraint = c
			} else {
				a.Constraint = persist.ProviderDefault
			}
		}
		a.Column = tg.column
		if a.Column == "" {
			a.Column = ColumnName(f.Name) + "_id"
		}
	case isScalar(f.Type):
		a.Column = tg.column
		if a.Column == "" {
			a.Column = ColumnName(f.Name)
		}
	default:
		return nil, fmt.Errorf("unsupported type %s, tag the field with `persist:\"-\"` to skip it", f.Type)
	}
	if a.Version && (f.Type.Kind() == reflect.Pointer || !isInteger(f.Type)) {
		return nil, fmt.Errorf("version must be an integer, got %s", f.Type)
	}
	if a.ID && !tg.genSet {
		a.Generated = defaultGeneration(f.Type)
	}
	return a, nil
}

// identify resolves the id and version attributes. Without an explicit id
// tag, a basic attribute named ID, in any case, is the id.
func (m *Metamodel) identify(mt *ManagedType) error {
	var ids, versions []*Attribute
	for _, a := range mt.Attributes {
		if a.ID {
			ids = append(ids, a)
		}
		if a.Version {
			versions = append(versions, a)
		}
	}
	if len(ids) == 0 {
		for _, a := range mt.Attributes {
			if strings.EqualFold(a.Name, "id") && !a.IsRelation() && !isEntityRef(a.Type) {
				a.ID = true
				a.Generated = defaultGeneration(a.Type)
				ids = append(ids, a)
				break
			}
		}
	}
	switch {
	case len(ids) == 0:
		return &persist.MappingError{Type: mt.Name, Err: errors.New("no id attribute")}
	case len(ids) > 1:
		return &persist.MappingError{Type: mt.Name, Err: errors.New("composite ids are not supported")}
	case len(versions) > 1:
		return &persist.MappingError{Type: mt.Name, Err: errors.New("more than one version attribute")}
	}
	id := ids[0]
	if isEntityRef(id.Type) || id.Type.Kind() == reflect.Pointer {
		return &persist.MappingError{Type: mt.Name, Attribute: id.Name, Err: errors.New("id must be a non-pointer basic type")}
	}
	if id.Generated == GenerateUUID && id.Type != uuidType && id.Type.Kind() != reflect.String {
		return &persist.MappingError{Type: mt.Name, Attribute: id.Name, Err: fmt.Errorf("uuid generation needs a uuid.UUID or string id, got %s", id.Type)}
	}
	if id.Generated == GenerateIdentity && !isInteger(id.Type) {
		return &persist.MappingError{Type: mt.Name, Attribute: id.Name, Err: fmt.Errorf("identity generation needs an integer id, got %s", id.Type)}
	}
	id.Nullable = false
	mt.ID = id
	if len(versions) == 1 {
		mt.Version = versions[0]
	}
	return nil
}

func defaultGeneration(t reflect.Type) Generation {
	switch {
	case t == uuidType:
		return GenerateUUID
	case isInteger(t):
		return GenerateIdentity
	default:
		return GenerateNone
	}
}

// annotationOf merges the annotations declared on t or *t.
func annotationOf(t reflect.Type) persist.EntityAnnotation {
	for _, v := range []reflect.Value{reflect.Zero(t), reflect.New(t)} {
		if a, ok := v.Interface().(persist.Annotated); ok {
			return persist.MergeAnnotations(a.Annotations()...)
		}
	}
	return persist.EntityAnnotation{}
}

func tableOf(t reflect.Type) string {
	for _, v := range []reflect.Value{reflect.Zero(t), reflect.New(t)} {
		if tb, ok := v.Interface().(Tabler); ok {
			if name := tb.TableName(); name != "" {
				return name
			}
		}
	}
	return TableName(t.Name())
}

func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}
