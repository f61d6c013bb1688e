package model

import (
	"sort"
	"sync"
)

// Property is a single key/value pair on a node
type Property struct {
	Key   string
	Value string
}

// Reference is an outgoing reference edge
type Reference struct {
	Link        string        // Reference link tag
	TargetModel ModelIdentity // Model the target lives in
	Target      NodeID        // Target node identity
	ResolveInfo string        // Textual hint used when the target cannot be resolved
}

// Node is one element of a model tree
type Node struct {
	ID         NodeID
	Concept    string     // Opaque concept tag
	Link       string     // Containment link tag, empty for roots
	Properties []Property // Unique keys, order preserved
	Children   []*Node
	References []*Reference
}

// NewNode creates a node with the given identity and concept
func NewNode(id NodeID, concept string) *Node {
	return &Node{ID: id, Concept: concept}
}

// SetProperty sets a property, replacing an existing value in place
func (n *Node) SetProperty(key, value string) {
	for i := range n.Properties {
		if n.Properties[i].Key == key {
			n.Properties[i].Value = value
			return
		}
	}
	n.Properties = append(n.Properties, Property{Key: key, Value: value})
}

// Property returns the value for key
func (n *Node) Property(key string) (string, bool) {
	for _, p := range n.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// AddChild attaches child under the given containment link
func (n *Node) AddChild(link string, child *Node) *Node {
	child.Link = link
	n.Children = append(n.Children, child)
	return child
}

// AddReference adds an outgoing reference
func (n *Node) AddReference(link string, targetModel ModelIdentity, target NodeID) *Reference {
	ref := &Reference{Link: link, TargetModel: targetModel, Target: target}
	n.References = append(n.References, ref)
	return ref
}

// Header is persisted at the start of every binary stream
type Header struct {
	Identity           ModelIdentity
	DoNotGenerate      bool
	OptionalProperties map[string]string
}

// NewHeader returns a header for the given model
func NewHeader(id ModelIdentity) *Header {
	return &Header{Identity: id, OptionalProperties: make(map[string]string)}
}

// SetOptionalProperty records a header attribute
func (h *Header) SetOptionalProperty(key, value string) {
	if h.OptionalProperties == nil {
		h.OptionalProperties = make(map[string]string)
	}
	h.OptionalProperties[key] = value
}

// PropertyKeys returns the optional property keys in sorted order
func (h *Header) PropertyKeys() []string {
	keys := make([]string, 0, len(h.OptionalProperties))
	for k := range h.OptionalProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Model is the top-level container of a root node set
type Model struct {
	Header *Header
	Roots  []*Node
	Store  string // Logical store root the model was loaded from
}

// NewModel creates an empty model
func NewModel(id ModelIdentity) *Model {
	return &Model{Header: NewHeader(id)}
}

// Identity returns the model identity
func (m *Model) Identity() ModelIdentity {
	return m.Header.Identity
}

// AddRoot appends a root node
func (m *Model) AddRoot(n *Node) *Node {
	n.Link = ""
	m.Roots = append(m.Roots, n)
	return n
}

// Walk visits every node depth-first, pre-order
func (m *Model) Walk(fn func(*Node)) {
	stack := make([]*Node, 0, len(m.Roots))
	for i := len(m.Roots) - 1; i >= 0; i-- {
		stack = append(stack, m.Roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// StoreLocator resolves the logical store root of a model
type StoreLocator interface {
	StoreOf(id ModelIdentity) (string, bool)
}

// Registry tracks which store root each known model belongs to
type Registry struct {
	mu     sync.RWMutex
	stores map[ModelKey]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{stores: make(map[ModelKey]string)}
}

// Register records the store root of a model
func (r *Registry) Register(id ModelIdentity, store string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[id.Key()] = store
}

// StoreOf implements StoreLocator
func (r *Registry) StoreOf(id ModelIdentity) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[id.Key()]
	return store, ok
}
