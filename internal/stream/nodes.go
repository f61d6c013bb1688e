package stream

import (
	"fmt"
	"io"

	"github.com/systemshift/modelgraph/internal/model"
)

// Reference target tags
const (
	RefThisModel  byte = 17
	RefOtherModel byte = 18
)

// nodeRecord is one node as laid out on the wire, without its children
type nodeRecord struct {
	Concept    string
	ID         model.NodeID
	Link       string
	Properties []model.Property
	References []recordRef
}

type recordRef struct {
	Link        string
	Local       bool
	TargetModel model.ModelIdentity
	Target      model.NodeID
	ResolveInfo string
}

// nodeVisitor receives records in pre-order. depth is 0 for roots.
type nodeVisitor interface {
	enter(rec *nodeRecord, depth int, parent *model.NodeID) error
}

// nodesReader walks node records after the header
type nodesReader struct {
	r         *Reader
	modelID   model.ModelIdentity
	keepProps bool
}

func (nr *nodesReader) readCount(what string) (int, error) {
	at := nr.r.Offset()
	n, err := nr.r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &model.StreamError{Offset: at, Msg: fmt.Sprintf("negative %s count %d", what, n)}
	}
	return int(n), nil
}

func (nr *nodesReader) readRecord() (*nodeRecord, error) {
	var (
		rec nodeRecord
		err error
	)
	if rec.Concept, err = nr.r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading concept: %w", err)
	}
	if rec.ID, err = nr.r.ReadNodeID(); err != nil {
		return nil, fmt.Errorf("reading node id: %w", err)
	}
	if rec.Link, err = nr.r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading containment link of %s: %w", rec.ID, err)
	}

	props, err := nr.r.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(props); i++ {
		key, err := nr.r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("reading property of %s: %w", rec.ID, err)
		}
		value, err := nr.r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("reading property %q of %s: %w", key, rec.ID, err)
		}
		if nr.keepProps {
			rec.Properties = append(rec.Properties, model.Property{Key: key, Value: value})
		}
	}

	refs, err := nr.r.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(refs); i++ {
		ref, err := nr.readReference()
		if err != nil {
			return nil, fmt.Errorf("reading reference of %s: %w", rec.ID, err)
		}
		rec.References = append(rec.References, ref)
	}
	return &rec, nil
}

func (nr *nodesReader) readReference() (recordRef, error) {
	var (
		ref recordRef
		err error
	)
	if ref.Link, err = nr.r.ReadString(); err != nil {
		return ref, err
	}
	at := nr.r.Offset()
	kind, err := nr.r.ReadByte()
	if err != nil {
		return ref, err
	}
	switch kind {
	case RefThisModel:
		ref.Local = true
		ref.TargetModel = nr.modelID
	case RefOtherModel:
		if ref.TargetModel, err = nr.r.ReadModelIdentity(); err != nil {
			return ref, err
		}
	default:
		return ref, &model.StreamError{Offset: at, Msg: fmt.Sprintf("unknown reference kind %d", kind)}
	}
	if ref.Target, err = nr.r.ReadNodeID(); err != nil {
		return ref, err
	}
	if ref.ResolveInfo, err = nr.r.ReadString(); err != nil {
		return ref, err
	}
	return ref, nil
}

type frame struct {
	remaining int
	parent    *model.NodeID
}

// readChildren reads one children block and everything nested in it.
// Nesting is tracked on an explicit stack.
func (nr *nodesReader) readChildren(parent *model.NodeID, v nodeVisitor) error {
	count, err := nr.readCount("children")
	if err != nil {
		return err
	}
	stack := []frame{{remaining: count, parent: parent}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.remaining == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.remaining--
		depth := len(stack) - 1

		rec, err := nr.readRecord()
		if err != nil {
			return err
		}
		if err := v.enter(rec, depth, top.parent); err != nil {
			return err
		}
		children, err := nr.readCount("children")
		if err != nil {
			return err
		}
		id := rec.ID
		stack = append(stack, frame{remaining: children, parent: &id})
	}
	return nil
}

// treeBuilder materialises records into model nodes
type treeBuilder struct {
	roots []*model.Node
	path  []*model.Node
}

func (b *treeBuilder) enter(rec *nodeRecord, depth int, _ *model.NodeID) error {
	n := &model.Node{
		ID:         rec.ID,
		Concept:    rec.Concept,
		Link:       rec.Link,
		Properties: rec.Properties,
	}
	for _, r := range rec.References {
		n.References = append(n.References, &model.Reference{
			Link:        r.Link,
			TargetModel: r.TargetModel,
			Target:      r.Target,
			ResolveInfo: r.ResolveInfo,
		})
	}
	b.path = b.path[:depth]
	if depth == 0 {
		b.roots = append(b.roots, n)
	} else {
		p := b.path[depth-1]
		p.Children = append(p.Children, n)
	}
	b.path = append(b.path, n)
	return nil
}

// ReadModel decodes a complete stream into a model
func ReadModel(src io.Reader) (*model.Model, error) {
	r := NewReader(src)
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	roots, err := ReadRoots(r, header.Identity)
	if err != nil {
		return nil, err
	}
	return &model.Model{Header: header, Roots: roots}, nil
}

// ReadRoots decodes the node section of a stream positioned after the header
func ReadRoots(r *Reader, id model.ModelIdentity) ([]*model.Node, error) {
	if err := r.ExpectToken(ModelStart, "model start"); err != nil {
		return nil, err
	}
	nr := &nodesReader{r: r, modelID: id, keepProps: true}
	b := &treeBuilder{}
	if err := nr.readChildren(nil, b); err != nil {
		return nil, err
	}
	return b.roots, nil
}

// WriteModel encodes the header followed by all roots
func WriteModel(w *Writer, m *model.Model) error {
	if err := WriteHeader(w, m.Header); err != nil {
		return err
	}
	w.WriteUint32(ModelStart)
	return writeChildren(w, m.Identity(), m.Roots)
}

// EncodeModel writes m to dst
func EncodeModel(dst io.Writer, m *model.Model) error {
	return WriteModel(NewWriter(dst), m)
}

// writeChildren writes a children block in pre-order using an explicit stack
func writeChildren(w *Writer, self model.ModelIdentity, nodes []*model.Node) error {
	w.WriteInt32(int32(len(nodes)))
	stack := make([]*model.Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 && w.Err() == nil {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		writeRecord(w, self, n)
		w.WriteInt32(int32(len(n.Children)))
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return w.Err()
}

func writeRecord(w *Writer, self model.ModelIdentity, n *model.Node) {
	w.WriteString(n.Concept)
	w.WriteNodeID(n.ID)
	w.WriteString(n.Link)

	w.WriteCount(len(n.Properties), "properties")
	for _, p := range n.Properties {
		w.WriteString(p.Key)
		w.WriteString(p.Value)
	}

	w.WriteCount(len(n.References), "references")
	for _, ref := range n.References {
		w.WriteString(ref.Link)
		if ref.TargetModel.SameModel(self) {
			w.WriteByte(RefThisModel)
		} else {
			w.WriteByte(RefOtherModel)
			w.WriteModelIdentity(ref.TargetModel)
		}
		w.WriteNodeID(ref.Target)
		w.WriteString(ref.ResolveInfo)
	}
}
