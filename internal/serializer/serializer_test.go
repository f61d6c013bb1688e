package serializer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/modelgraph/internal/identity"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/statement"
)

var module = model.RegularModuleID(uuid.MustParse("3f2a1b0c-9d8e-4f7a-b6c5-d4e3f2a1b0c9"))

func modelID(name string) model.ModelIdentity {
	return model.ModelIdentity{
		Module: module,
		Model:  model.RegularModelID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))),
		Name:   name,
	}
}

// endpoints returns the node id values an edge statement names
func endpoints(s statement.Statement) []any {
	switch st := s.(type) {
	case *statement.CreateEdge:
		if st.Kind == statement.EdgeRoot {
			return []any{st.B}
		}
		return []any{st.A, st.B}
	case *statement.CreateProxyEdge:
		return []any{st.Source}
	}
	return nil
}

func TestSerializeExample(t *testing.T) {
	m1 := modelID("M1")
	unrelated := modelID("Other")

	foo := model.NewNode(model.RegularNodeID(1), "Foo")
	foo.SetProperty("name", "x")
	foo.AddChild("children", model.NewNode(model.RegularNodeID(2), "Bar"))
	foo.AddReference("target", unrelated, model.RegularNodeID(9))

	stmts, err := New(m1, "store-a", nil).SerializeRoots([]*model.Node{foo})
	require.NoError(t, err)
	require.Len(t, stmts, 5)

	fooNode := stmts[0].(*statement.CreateNode)
	assert.Equal(t, "Foo", fooNode.Label)
	v, ok := fooNode.Attribute("Property_name")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	v, _ = fooNode.Attribute(statement.KeyNodeID)
	assert.Equal(t, int64(1), v)

	assert.Equal(t, "Bar", stmts[1].(*statement.CreateNode).Label)

	containment := stmts[2].(*statement.CreateEdge)
	assert.Equal(t, statement.EdgeContainment, containment.Kind)
	assert.Equal(t, int64(1), containment.A)
	assert.Equal(t, int64(2), containment.B)
	assert.Equal(t, "children", containment.Link())
	assert.False(t, containment.NeedsNodes())

	proxy := stmts[3].(*statement.CreateProxyEdge)
	assert.Equal(t, int64(1), proxy.Source)
	assert.Equal(t, identity.ModelValue(unrelated.Model), proxy.TargetModel)
	assert.Equal(t, int64(9), proxy.Target)
	assert.True(t, proxy.NeedsNodes())

	root := stmts[4].(*statement.CreateEdge)
	assert.Equal(t, statement.EdgeRoot, root.Kind)
	assert.Equal(t, identity.ModelValue(m1.Model), root.A)
	assert.Equal(t, int64(1), root.B)
	assert.False(t, root.NeedsNodes())
}

func TestSerializeCountsAndOrdering(t *testing.T) {
	m := model.NewModel(modelID("tree"))
	var next int64
	newNode := func() *model.Node {
		next++
		return model.NewNode(model.RegularNodeID(next), "N")
	}

	// two roots, three levels, uneven fan-out
	for r := 0; r < 2; r++ {
		root := m.AddRoot(newNode())
		for i := 0; i < 3; i++ {
			child := root.AddChild("c", newNode())
			for j := 0; j < i; j++ {
				leaf := child.AddChild("l", newNode())
				leaf.AddReference("up", m.Identity(), root.ID)
			}
		}
	}

	nodes, containment := 0, 0
	m.Walk(func(n *model.Node) {
		nodes++
		containment += len(n.Children)
	})

	stmts, err := ForModel(m, nil).SerializeRoots(m.Roots)
	require.NoError(t, err)

	created := map[any]int{}
	var gotNodes, gotContainment, gotRoots int
	for i, s := range stmts {
		switch st := s.(type) {
		case *statement.CreateNode:
			gotNodes++
			id, _ := st.Attribute(statement.KeyNodeID)
			created[id] = i
		case *statement.CreateEdge:
			switch st.Kind {
			case statement.EdgeContainment:
				gotContainment++
			case statement.EdgeRoot:
				gotRoots++
			}
		}
	}
	assert.Equal(t, nodes, gotNodes)
	assert.Equal(t, containment, gotContainment)
	assert.Equal(t, 2, gotRoots)

	for i, s := range stmts {
		for _, id := range endpoints(s) {
			pos, ok := created[id]
			require.True(t, ok, "edge names uncreated node %v", id)
			assert.Less(t, pos, i, "node %v created after edge %d", id, i)
		}
	}
}

func TestLocalReference(t *testing.T) {
	id := modelID("local")
	a := model.NewNode(model.RegularNodeID(1), "A")
	b := a.AddChild("c", model.NewNode(model.RegularNodeID(2), "B"))
	b.AddReference("ref", id, a.ID)

	stmts, err := New(id, "", nil).SerializeRoots([]*model.Node{a})
	require.NoError(t, err)

	var refs, proxies int
	for _, s := range stmts {
		switch st := s.(type) {
		case *statement.CreateEdge:
			if st.Kind == statement.EdgeReference {
				refs++
				assert.Equal(t, int64(2), st.A)
				assert.Equal(t, int64(1), st.B)
				assert.Equal(t, "ref", st.Link())
				assert.True(t, st.NeedsNodes())
			}
		case *statement.CreateProxyEdge:
			proxies++
		}
	}
	assert.Equal(t, 1, refs)
	assert.Zero(t, proxies)
}

func TestCrossModelReferenceFails(t *testing.T) {
	self := modelID("self")
	sibling := modelID("sibling")
	registry := model.NewRegistry()
	registry.Register(self, "db")
	registry.Register(sibling, "db")

	a := model.NewNode(model.RegularNodeID(1), "A")
	a.AddReference("ref", sibling, model.RegularNodeID(5))

	s := New(self, "db", registry)
	assert.Equal(t, RefCrossModel, s.Classify(sibling))

	_, err := s.SerializeRoots([]*model.Node{a})
	require.ErrorIs(t, err, model.ErrUnsupportedCrossModelReference)

	var cme *model.CrossModelError
	require.ErrorAs(t, err, &cme)
	assert.Equal(t, model.RegularNodeID(5), cme.Target)
}

func TestClassifyOtherStore(t *testing.T) {
	self := modelID("self")
	remote := modelID("remote")
	registry := model.NewRegistry()
	registry.Register(remote, "elsewhere")

	s := New(self, "db", registry)
	assert.Equal(t, RefLocal, s.Classify(self))
	assert.Equal(t, RefForeignProxy, s.Classify(remote))
	assert.Equal(t, RefForeignProxy, s.Classify(modelID("unknown")))
}

func TestClassifyUsesLocatorForSourceStore(t *testing.T) {
	self := modelID("self")
	sibling := modelID("sibling")
	registry := model.NewRegistry()
	registry.Register(self, "db")
	registry.Register(sibling, "db")
	registry.Register(modelID("remote"), "elsewhere")

	s := New(self, "", registry)
	assert.Equal(t, RefCrossModel, s.Classify(sibling))
	assert.Equal(t, RefForeignProxy, s.Classify(modelID("remote")))

	// unregistered source has no store to share
	assert.Equal(t, RefForeignProxy, New(modelID("loose"), "", registry).Classify(sibling))
}

func TestForeignNodeIDRejected(t *testing.T) {
	a := model.NewNode(model.ForeignNodeID("ext"), "A")
	_, err := New(modelID("f"), "", nil).SerializeRoots([]*model.Node{a})
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)
}

func TestDeepTreeDoesNotRecurse(t *testing.T) {
	const depth = 50000
	root := model.NewNode(model.RegularNodeID(0), "L")
	n := root
	for i := 1; i < depth; i++ {
		n = n.AddChild("next", model.NewNode(model.RegularNodeID(int64(i)), "L"))
	}

	stmts, err := New(modelID("deep"), "", nil).SerializeRoots([]*model.Node{root})
	require.NoError(t, err)
	// nodes + containment edges + root edge
	assert.Len(t, stmts, depth+(depth-1)+1)
}

func TestModelStatement(t *testing.T) {
	h := model.NewHeader(modelID("M1"))
	h.DoNotGenerate = true
	h.SetOptionalProperty("b", "2")
	h.SetOptionalProperty("a", "1")

	s, err := ModelStatement(h)
	require.NoError(t, err)
	assert.Equal(t, statement.LabelModel, s.Kind)

	v, _ := s.Attribute("Id")
	assert.Equal(t, identity.ModelValue(h.Identity.Model), v)
	v, _ = s.Attribute("DoNotGenerate")
	assert.Equal(t, true, v)
	assert.Equal(t, "Prop_a", s.Attributes[4].Key)
	assert.Equal(t, "Prop_b", s.Attributes[5].Key)
	require.Len(t, s.Attributes, 6)
	_, ok := s.Attribute("ModuleName")
	assert.False(t, ok)
}

func TestSerializeModelPrependsRecord(t *testing.T) {
	m := model.NewModel(modelID("M"))
	m.AddRoot(model.NewNode(model.RegularNodeID(1), "R"))

	stmts, err := SerializeModel(m, nil)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, statement.LabelModel, stmts[0].(*statement.CreateNode).Kind)
}
