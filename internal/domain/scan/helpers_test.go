package scan_test

import (
	"github.com/openkraft/categoryassert/internal/domain"
)

const (
	fixtureMarker  = "NUnit.Framework.TestFixtureAttribute"
	testMarker     = "NUnit.Framework.TestAttribute"
	testCaseMarker = "NUnit.Framework.TestCaseAttribute"
	categoryMarker = "NUnit.Framework.CategoryAttribute"
)

func category(name string) domain.Attribute {
	return domain.Attribute{Name: categoryMarker, Fields: []domain.AttributeField{{Value: name}}}
}

func fixture(categories string) domain.Attribute {
	a := domain.Attribute{Name: fixtureMarker}
	if categories != "" {
		a.Fields = []domain.AttributeField{{Name: "Category", Value: categories}}
	}
	return a
}

func marker(name string) domain.Attribute { return domain.Attribute{Name: name} }

type fakeMethod struct {
	name  string
	attrs []domain.Attribute
}

type fakeType struct {
	name    string
	attrs   []domain.Attribute
	methods []fakeMethod
	err     error
}

// fakeBinary is an in-memory domain.Binary. Method IDs are
// typeIndex*1000 + methodIndex.
type fakeBinary struct {
	name  string
	attrs []domain.Attribute
	types []fakeType
	refs  []domain.AssemblyReference
}

var _ domain.Binary = (*fakeBinary)(nil)

func (b *fakeBinary) Name() string                                  { return b.name }
func (b *fakeBinary) Path() string                                  { return "/bin/" + b.name + ".dll" }
func (b *fakeBinary) References() []domain.AssemblyReference        { return b.refs }
func (b *fakeBinary) Close() error                                  { return nil }
func (b *fakeBinary) BinaryAttributes() ([]domain.Attribute, error) { return b.attrs, nil }

func (b *fakeBinary) Types() ([]domain.TypeHandle, error) {
	out := make([]domain.TypeHandle, len(b.types))
	for i, t := range b.types {
		out[i] = domain.TypeHandle{ID: i, Name: t.name}
	}
	return out, nil
}

func (b *fakeBinary) TypeAttributes(t domain.TypeHandle) ([]domain.Attribute, error) {
	ft := b.types[t.ID]
	if ft.err != nil {
		return nil, ft.err
	}
	return ft.attrs, nil
}

func (b *fakeBinary) Methods(t domain.TypeHandle) ([]domain.MethodHandle, error) {
	ft := b.types[t.ID]
	out := make([]domain.MethodHandle, len(ft.methods))
	for i, m := range ft.methods {
		out[i] = domain.MethodHandle{ID: t.ID*1000 + i, Name: m.name}
	}
	return out, nil
}

func (b *fakeBinary) MethodAttributes(m domain.MethodHandle) ([]domain.Attribute, error) {
	return b.types[m.ID/1000].methods[m.ID%1000].attrs, nil
}
