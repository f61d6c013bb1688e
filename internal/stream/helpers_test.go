package stream

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/modelgraph/internal/model"
)

var (
	testModule = model.RegularModuleID(uuid.MustParse("6a1b3c5e-0d2f-4e6a-8b1c-2d3e4f5a6b7c"))
	otherModel = model.ModelIdentity{
		Module: model.RegularModuleID(uuid.MustParse("11111111-2222-4333-8444-555555555555")),
		Model:  model.RegularModelID(uuid.MustParse("99999999-8888-4777-8666-555555555555")),
		Name:   "lib.types",
	}
)

func testIdentity(name string) model.ModelIdentity {
	return model.ModelIdentity{
		Module: testModule,
		Model:  model.RegularModelID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))),
		Name:   name,
	}
}

// sampleModel builds M1: Foo(name=x) -children-> Bar, Foo -type-> other:N9,
// Bar -owner-> Foo.
func sampleModel() *model.Model {
	m := model.NewModel(testIdentity("M1"))
	m.Header.DoNotGenerate = true
	m.Header.SetOptionalProperty("lang", "demo")

	foo := model.NewNode(model.RegularNodeID(1), "Foo")
	foo.SetProperty("name", "x")
	bar := foo.AddChild("children", model.NewNode(model.RegularNodeID(2), "Bar"))
	foo.AddReference("type", otherModel, model.RegularNodeID(9))
	bar.AddReference("owner", m.Identity(), foo.ID).ResolveInfo = "Foo"
	m.AddRoot(foo)
	return m
}

func encode(t *testing.T, m *model.Model) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeModel(&buf, m))
	return buf.Bytes()
}
