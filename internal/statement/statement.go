// Package statement defines graph write operations and renders them as
// parametrised Cypher.
package statement

import (
	"fmt"
	"strings"
)

// Node labels
const (
	LabelNode  = "SNode"
	LabelModel = "SModel"
	LabelProxy = "SReferenceProxy"
)

// Reserved attribute keys
const (
	KeyNodeID      = "NodeId"
	KeyConcept     = "concept"
	KeyLinkID      = "Id"
	PropertyPrefix = "Property_"
)

// EdgeKind is the relationship type created by an edge statement
type EdgeKind string

const (
	EdgeContainment EdgeKind = "CONTAINMENT"
	EdgeReference   EdgeKind = "REFERENCE"
	EdgeRoot        EdgeKind = "ROOT"
)

// Cypher is a query with its parameters
type Cypher struct {
	Query  string
	Params map[string]any
}

// Attribute is one key/value stored on a node or relationship
type Attribute struct {
	Key   string
	Value any
}

// Statement is a single graph mutation. The set of implementations is closed.
type Statement interface {
	// Cypher renders the statement
	Cypher() Cypher
	// NeedsNodes reports whether the statement may refer to nodes created
	// by other statements of the same batch and must run after them.
	NeedsNodes() bool

	sealed()
}

// CreateNode creates one node
type CreateNode struct {
	Kind       string // Base label, LabelNode or LabelModel
	Label      string // Additional label, the concept for SNode records
	Attributes []Attribute
}

func (s *CreateNode) sealed() {}

func (s *CreateNode) NeedsNodes() bool { return false }

// Add appends an attribute
func (s *CreateNode) Add(key string, value any) {
	s.Attributes = append(s.Attributes, Attribute{Key: key, Value: value})
}

// Attribute returns the value stored under key
func (s *CreateNode) Attribute(key string) (any, bool) {
	for _, a := range s.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

func (s *CreateNode) Cypher() Cypher {
	var b strings.Builder
	b.WriteString("CREATE (e")
	if s.Kind != "" {
		b.WriteString(":" + quote(s.Kind))
	}
	if s.Label != "" {
		b.WriteString(":" + quote(s.Label))
	}
	b.WriteString(" {")
	params := make(map[string]any, len(s.Attributes))
	for i, a := range s.Attributes {
		if i > 0 {
			b.WriteString(", ")
		}
		p := fmt.Sprintf("p%d", i)
		fmt.Fprintf(&b, "%s: $%s", quote(a.Key), p)
		params[p] = a.Value
	}
	b.WriteString("})")
	return Cypher{Query: b.String(), Params: params}
}

// CreateEdge links two existing nodes. For ROOT edges A is the model id,
// otherwise both endpoints are node id values.
type CreateEdge struct {
	Kind       EdgeKind
	A          any
	B          any
	Attributes []Attribute
	needsNodes bool
}

// NewEdge returns an edge statement. needsNodes marks edges whose
// endpoints may be created later in the same batch.
func NewEdge(kind EdgeKind, a, b any, needsNodes bool, attrs ...Attribute) *CreateEdge {
	return &CreateEdge{Kind: kind, A: a, B: b, Attributes: attrs, needsNodes: needsNodes}
}

func (s *CreateEdge) sealed() {}

func (s *CreateEdge) NeedsNodes() bool { return s.needsNodes }

// Link returns the link tag carried by the edge, if any
func (s *CreateEdge) Link() string {
	for _, a := range s.Attributes {
		if a.Key == KeyLinkID {
			if v, ok := a.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}

func (s *CreateEdge) Cypher() Cypher {
	params := map[string]any{"ida": s.A, "idb": s.B}

	var match string
	if s.Kind == EdgeRoot {
		match = fmt.Sprintf("MATCH (a:%s),(b:%s) WHERE a.Id = $ida AND b.%s = $idb", LabelModel, LabelNode, KeyNodeID)
	} else {
		match = fmt.Sprintf("MATCH (a:%s),(b:%s) WHERE a.%s = $ida AND b.%s = $idb", LabelNode, LabelNode, KeyNodeID, KeyNodeID)
	}

	var b strings.Builder
	b.WriteString(match)
	fmt.Fprintf(&b, " CREATE (a)-[r:%s", quote(string(s.Kind)))
	writeAttributes(&b, s.Attributes, params)
	b.WriteString("]->(b)")
	return Cypher{Query: b.String(), Params: params}
}

// CreateProxyEdge points a reference at a placeholder for a node that lives
// in a store this database cannot reach. The proxy is created by the same
// statement; no other node is created for the target.
type CreateProxyEdge struct {
	Kind        EdgeKind
	Source      any
	TargetModel string
	Target      any
	Link        string
}

func (s *CreateProxyEdge) sealed() {}

func (s *CreateProxyEdge) NeedsNodes() bool { return true }

func (s *CreateProxyEdge) Cypher() Cypher {
	kind := s.Kind
	if kind == "" {
		kind = EdgeReference
	}
	q := fmt.Sprintf("MATCH (source:%s) WHERE source.%s = $idSource "+
		"CREATE (source)-[r:%s {%s: $idLink}]->(proxy:%s {ModelId: $modelId, %s: $idTarget})",
		LabelNode, KeyNodeID, quote(string(kind)), KeyLinkID, LabelProxy, KeyNodeID)
	return Cypher{Query: q, Params: map[string]any{
		"idSource": s.Source,
		"idTarget": s.Target,
		"modelId":  s.TargetModel,
		"idLink":   s.Link,
	}}
}

func writeAttributes(b *strings.Builder, attrs []Attribute, params map[string]any) {
	if len(attrs) == 0 {
		return
	}
	b.WriteString(" {")
	for i, a := range attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		p := fmt.Sprintf("a%d", i)
		fmt.Fprintf(b, "%s: $%s", quote(a.Key), p)
		params[p] = a.Value
	}
	b.WriteString("}")
}

// quote escapes a label, type or key as a Cypher identifier
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Describe returns a short human readable form for CLI output
func Describe(s Statement) string {
	switch st := s.(type) {
	case *CreateNode:
		if st.Label != "" {
			return fmt.Sprintf("CreateNode(%s:%s)", st.Kind, st.Label)
		}
		return fmt.Sprintf("CreateNode(%s)", st.Kind)
	case *CreateEdge:
		return fmt.Sprintf("CreateEdge(%s, %v->%v)", st.Kind, st.A, st.B)
	case *CreateProxyEdge:
		return fmt.Sprintf("CreateProxyEdge(%v->%s/%v)", st.Source, st.TargetModel, st.Target)
	default:
		return fmt.Sprintf("%T", s)
	}
}
