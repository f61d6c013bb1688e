package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeIDKind tags the variant held by a NodeID
type NodeIDKind uint8

const (
	NodeIDInvalid NodeIDKind = iota
	NodeIDRegular            // Dense integer assigned when the node is created
	NodeIDForeign            // Opaque string assigned by an external producer
)

// NodeID identifies a node within one model. The kind is part of the value,
// so a regular id and a foreign id never compare equal.
type NodeID struct {
	kind    NodeIDKind
	regular int64
	foreign string
}

// RegularNodeID returns a regular node identity
func RegularNodeID(id int64) NodeID {
	return NodeID{kind: NodeIDRegular, regular: id}
}

// ForeignNodeID returns a foreign node identity
func ForeignNodeID(id string) NodeID {
	return NodeID{kind: NodeIDForeign, foreign: id}
}

// Kind returns the variant tag
func (id NodeID) Kind() NodeIDKind { return id.kind }

// Regular returns the integer value and whether id is regular
func (id NodeID) Regular() (int64, bool) {
	return id.regular, id.kind == NodeIDRegular
}

// Foreign returns the string value and whether id is foreign
func (id NodeID) Foreign() (string, bool) {
	return id.foreign, id.kind == NodeIDForeign
}

// IsZero reports whether id carries no identity at all
func (id NodeID) IsZero() bool { return id.kind == NodeIDInvalid }

// String renders regular ids in decimal and foreign ids with a leading '~'
func (id NodeID) String() string {
	switch id.kind {
	case NodeIDRegular:
		return strconv.FormatInt(id.regular, 10)
	case NodeIDForeign:
		return "~" + id.foreign
	default:
		return "<invalid>"
	}
}

// ParseNodeID is the inverse of NodeID.String
func ParseNodeID(s string) (NodeID, error) {
	if v, ok := strings.CutPrefix(s, "~"); ok {
		if v == "" {
			return NodeID{}, fmt.Errorf("empty foreign node id: %w", ErrUnsupportedIdentityKind)
		}
		return ForeignNodeID(v), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return NodeID{}, fmt.Errorf("node id %q: %w", s, ErrUnsupportedIdentityKind)
	}
	return RegularNodeID(n), nil
}

// IDKind tags the variant held by a ModuleID or ModelID
type IDKind uint8

const (
	IDNone    IDKind = iota
	IDRegular        // UUID
	IDForeign        // Opaque string from another persistence
	IDOpaque         // Any other producer's id, kept by its string form
)

// ModuleID identifies the module a model belongs to
type ModuleID struct {
	kind    IDKind
	regular uuid.UUID
	value   string
}

// RegularModuleID returns a UUID based module id
func RegularModuleID(u uuid.UUID) ModuleID {
	return ModuleID{kind: IDRegular, regular: u}
}

// ForeignModuleID returns a foreign module id
func ForeignModuleID(v string) ModuleID {
	return ModuleID{kind: IDForeign, value: v}
}

func (id ModuleID) Kind() IDKind { return id.kind }

// UUID returns the regular value and whether id is regular
func (id ModuleID) UUID() (uuid.UUID, bool) {
	return id.regular, id.kind == IDRegular
}

// Value returns the string value of foreign ids
func (id ModuleID) Value() string { return id.value }

func (id ModuleID) String() string {
	switch id.kind {
	case IDRegular:
		return id.regular.String()
	case IDForeign, IDOpaque:
		return id.value
	default:
		return ""
	}
}

// ModelID is the unique part of a model identity
type ModelID struct {
	kind    IDKind
	regular uuid.UUID
	value   string
}

// RegularModelID returns a UUID based model id
func RegularModelID(u uuid.UUID) ModelID {
	return ModelID{kind: IDRegular, regular: u}
}

// NewModelID generates a fresh regular model id
func NewModelID() ModelID {
	return RegularModelID(uuid.New())
}

// ForeignModelID returns a foreign model id
func ForeignModelID(v string) ModelID {
	return ModelID{kind: IDForeign, value: v}
}

// OpaqueModelID wraps an id whose producer is unknown to this format
func OpaqueModelID(v string) ModelID {
	return ModelID{kind: IDOpaque, value: v}
}

func (id ModelID) Kind() IDKind { return id.kind }

// UUID returns the regular value and whether id is regular
func (id ModelID) UUID() (uuid.UUID, bool) {
	return id.regular, id.kind == IDRegular
}

// Value returns the string value of foreign and opaque ids
func (id ModelID) Value() string { return id.value }

func (id ModelID) String() string {
	switch id.kind {
	case IDRegular:
		return "r:" + id.regular.String()
	case IDForeign:
		return "f:" + id.value
	case IDOpaque:
		return id.value
	default:
		return ""
	}
}

// ModelIdentity names a model. Two identities are the same model when
// module and model ids match; the name is metadata only.
type ModelIdentity struct {
	Module ModuleID
	Model  ModelID
	Name   string
}

// SameModel compares identities by module and model id
func (m ModelIdentity) SameModel(other ModelIdentity) bool {
	return m.Module == other.Module && m.Model == other.Model
}

// Key returns a comparable value that ignores the name
func (m ModelIdentity) Key() ModelKey {
	return ModelKey{Module: m.Module, Model: m.Model}
}

func (m ModelIdentity) String() string {
	if m.Module.Kind() == IDNone {
		return m.Model.String() + "(" + m.Name + ")"
	}
	return m.Model.String() + "(" + m.Name + ")@" + m.Module.String()
}

// ModelKey is the equality part of a ModelIdentity
type ModelKey struct {
	Module ModuleID
	Model  ModelID
}
