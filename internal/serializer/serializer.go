// Package serializer turns a model tree into an ordered list of graph
// write statements.
package serializer

import (
	"fmt"

	"github.com/systemshift/modelgraph/internal/identity"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/statement"
)

// RefClass is the outcome of classifying a reference
type RefClass int

const (
	RefLocal        RefClass = iota // Target in the same model
	RefCrossModel                   // Target in another model of the same store
	RefForeignProxy                 // Target in a store this database cannot reach
)

func (c RefClass) String() string {
	switch c {
	case RefLocal:
		return "local"
	case RefCrossModel:
		return "same-store-cross-model"
	case RefForeignProxy:
		return "foreign-proxy"
	default:
		return fmt.Sprintf("RefClass(%d)", int(c))
	}
}

// Serializer emits statements for the nodes of one model
type Serializer struct {
	model   model.ModelIdentity
	store   string
	locator model.StoreLocator
}

// New returns a serializer for the model id living in store. locator
// resolves the store of reference targets and may be nil.
func New(id model.ModelIdentity, store string, locator model.StoreLocator) *Serializer {
	return &Serializer{model: id, store: store, locator: locator}
}

// ForModel returns a serializer for m
func ForModel(m *model.Model, locator model.StoreLocator) *Serializer {
	return New(m.Identity(), m.Store, locator)
}

// Classify decides how a reference to target model is stored. Without an
// explicit store the source model's store comes from the locator.
func (s *Serializer) Classify(target model.ModelIdentity) RefClass {
	if target.SameModel(s.model) {
		return RefLocal
	}
	if s.locator == nil {
		return RefForeignProxy
	}
	source := s.store
	if source == "" {
		source, _ = s.locator.StoreOf(s.model)
	}
	if source != "" {
		if store, ok := s.locator.StoreOf(target); ok && store == source {
			return RefCrossModel
		}
	}
	return RefForeignProxy
}

// step is one unit of work on the explicit walk stack
type step struct {
	node   *model.Node
	parent *model.Node // set when an edge to node must be emitted
	edge   bool        // emit the containment edge instead of visiting
	refs   bool        // emit node's references
	root   bool        // emit the ROOT edge for node
}

// SerializeRoots walks every root depth-first and returns its statements.
// Each node's CreateNode comes first, then its children (each followed by
// its containment edge), then its references; each root's subtree is
// followed by the ROOT edge from the model.
func (s *Serializer) SerializeRoots(roots []*model.Node) ([]statement.Statement, error) {
	var out []statement.Statement
	for _, root := range roots {
		stmts, err := s.serializeTree(root)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func (s *Serializer) serializeTree(root *model.Node) ([]statement.Statement, error) {
	var out []statement.Statement
	stack := []step{{node: root, root: true}, {node: root}}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case st.root:
			id, err := identity.NodeAttribute(st.node.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, statement.NewEdge(statement.EdgeRoot, identity.ModelValue(s.model.Model), id, false))

		case st.edge:
			out = append(out, statement.NewEdge(statement.EdgeContainment,
				identity.NodeValue(st.parent.ID), identity.NodeValue(st.node.ID), false,
				statement.Attribute{Key: statement.KeyLinkID, Value: st.node.Link}))

		case st.refs:
			for _, ref := range st.node.References {
				stmt, err := s.reference(st.node, ref)
				if err != nil {
					return nil, err
				}
				out = append(out, stmt)
			}

		default:
			create, err := s.createNode(st.node)
			if err != nil {
				return nil, err
			}
			out = append(out, create)

			// pushed in reverse: children in order, each then its edge, then refs
			stack = append(stack, step{node: st.node, refs: true})
			for i := len(st.node.Children) - 1; i >= 0; i-- {
				child := st.node.Children[i]
				stack = append(stack, step{node: child, parent: st.node, edge: true}, step{node: child})
			}
		}
	}
	return out, nil
}

func (s *Serializer) createNode(n *model.Node) (*statement.CreateNode, error) {
	id, err := identity.NodeAttribute(n.ID)
	if err != nil {
		return nil, err
	}
	create := &statement.CreateNode{Kind: statement.LabelNode, Label: n.Concept}
	create.Add(statement.KeyConcept, n.Concept)
	create.Add(statement.KeyNodeID, id)
	for _, p := range n.Properties {
		create.Add(statement.PropertyPrefix+p.Key, p.Value)
	}
	return create, nil
}

func (s *Serializer) reference(source *model.Node, ref *model.Reference) (statement.Statement, error) {
	switch s.Classify(ref.TargetModel) {
	case RefLocal:
		return statement.NewEdge(statement.EdgeReference,
			identity.NodeValue(source.ID), identity.NodeValue(ref.Target), true,
			statement.Attribute{Key: statement.KeyLinkID, Value: ref.Link}), nil
	case RefCrossModel:
		return nil, &model.CrossModelError{Source: source.ID, TargetModel: ref.TargetModel, Target: ref.Target}
	default:
		return &statement.CreateProxyEdge{
			Kind:        statement.EdgeReference,
			Source:      identity.NodeValue(source.ID),
			TargetModel: identity.ModelValue(ref.TargetModel.Model),
			Target:      identity.NodeValue(ref.Target),
			Link:        ref.Link,
		}, nil
	}
}

// ModelStatement returns the record for the model itself. ROOT edges match
// on its Id, so it must run before them.
func ModelStatement(h *model.Header) (*statement.CreateNode, error) {
	module, err := identity.ModuleValue(h.Identity.Module)
	if err != nil {
		return nil, err
	}
	create := &statement.CreateNode{Kind: statement.LabelModel}
	create.Add("Id", identity.ModelValue(h.Identity.Model))
	create.Add("Name", h.Identity.Name)
	create.Add("ModuleId", module)
	create.Add("DoNotGenerate", h.DoNotGenerate)
	for _, k := range h.PropertyKeys() {
		create.Add("Prop_"+k, h.OptionalProperties[k])
	}
	return create, nil
}

// SerializeModel returns the model record followed by all root statements
func SerializeModel(m *model.Model, locator model.StoreLocator) ([]statement.Statement, error) {
	record, err := ModelStatement(m.Header)
	if err != nil {
		return nil, fmt.Errorf("model record: %w", err)
	}
	roots, err := ForModel(m, locator).SerializeRoots(m.Roots)
	if err != nil {
		return nil, fmt.Errorf("serializing roots of %s: %w", m.Identity(), err)
	}
	return append([]statement.Statement{record}, roots...), nil
}
