// Package identity converts node and model identities to the primitive
// values stored as graph attributes, and back.
//
// The asymmetry is deliberate: node identities written as node attributes
// must be regular, while model identities of any kind get a string form.
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/systemshift/modelgraph/internal/model"
)

const (
	foreignPrefix = "Foreign_"
	opaquePrefix  = "String_"
)

// NodeValue returns the value used for edge endpoints. Regular ids map to
// int64 and foreign ids to their string.
func NodeValue(id model.NodeID) any {
	switch id.Kind() {
	case model.NodeIDRegular:
		v, _ := id.Regular()
		return v
	case model.NodeIDForeign:
		v, _ := id.Foreign()
		return v
	default:
		return nil
	}
}

// NodeAttribute returns the integer stored on a created node. Only regular
// ids can be stored.
func NodeAttribute(id model.NodeID) (int64, error) {
	switch id.Kind() {
	case model.NodeIDRegular:
		v, _ := id.Regular()
		return v, nil
	case model.NodeIDForeign:
		return 0, fmt.Errorf("%w: foreign node id %s", model.ErrUnsupportedOperation, id)
	default:
		return 0, fmt.Errorf("%w: empty node id", model.ErrUnsupportedOperation)
	}
}

// DecodeNodeValue is the inverse of NodeValue
func DecodeNodeValue(v any) (model.NodeID, error) {
	switch val := v.(type) {
	case int64:
		return model.RegularNodeID(val), nil
	case int:
		return model.RegularNodeID(int64(val)), nil
	case string:
		return model.ForeignNodeID(val), nil
	default:
		return model.NodeID{}, fmt.Errorf("%w: node value of type %T", model.ErrUnsupportedIdentityKind, v)
	}
}

// ModelValue renders a model id as stored on graph records
func ModelValue(id model.ModelID) string {
	switch id.Kind() {
	case model.IDRegular:
		u, _ := id.UUID()
		return u.String()
	case model.IDForeign:
		return foreignPrefix + id.Value()
	default:
		return opaquePrefix + id.String()
	}
}

// DecodeModelValue is the inverse of ModelValue
func DecodeModelValue(s string) (model.ModelID, error) {
	switch {
	case strings.HasPrefix(s, foreignPrefix):
		return model.ForeignModelID(strings.TrimPrefix(s, foreignPrefix)), nil
	case strings.HasPrefix(s, opaquePrefix):
		return model.OpaqueModelID(strings.TrimPrefix(s, opaquePrefix)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return model.ModelID{}, fmt.Errorf("%w: model value %q", model.ErrUnsupportedIdentityKind, s)
	}
	return model.RegularModelID(u), nil
}

// ModuleValue renders a module id as stored on the model record
func ModuleValue(id model.ModuleID) (string, error) {
	switch id.Kind() {
	case model.IDRegular:
		u, _ := id.UUID()
		return u.String(), nil
	case model.IDNone:
		return "", nil
	default:
		return "", fmt.Errorf("%w: can't save module id %q", model.ErrUnsupportedOperation, id.String())
	}
}
