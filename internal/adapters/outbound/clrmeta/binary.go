package clrmeta

import (
	"fmt"

	"github.com/openkraft/categoryassert/internal/domain"
)

// Method attribute flags (ECMA-335 II.23.1.10).
const (
	methodAccessMask = 0x0007
	methodPrivate    = 0x0001
	methodStatic     = 0x0010
	methodVirtual    = 0x0040
)

const moduleTypeName = "<Module>"

// Binary exposes an Image as a domain.Binary. Type attributes include those
// of every base type, and methods include inherited non-private instance
// methods, mirroring what reflection-based test discovery sees.
type Binary struct {
	img     *Image
	methods []methodEntry
}

type methodEntry struct {
	name  string
	key   string
	chain []methodAt
	// virtual is false once a non-virtual declaration ends the override chain
	virtual bool
}

type methodAt struct {
	img *Image
	row uint32
}

var _ domain.Binary = (*Binary)(nil)

// NewBinary wraps img.
func NewBinary(img *Image) *Binary {
	return &Binary{img: img}
}

func (b *Binary) Name() string { return b.img.AssemblyName() }

func (b *Binary) Path() string { return b.img.Path() }

func (b *Binary) References() []domain.AssemblyReference { return b.img.References() }

// Close drops the method handles issued so far.
func (b *Binary) Close() error {
	b.methods = nil
	return nil
}

// BinaryAttributes returns the assembly-level attributes.
func (b *Binary) BinaryAttributes() ([]domain.Attribute, error) {
	if b.img.tables.count(tAssembly) == 0 {
		return nil, nil
	}
	return b.img.customAttributes(encodeCoded(cHasCustomAttribute, tAssembly, 1)), nil
}

// Types returns every type definition except the module pseudo-type.
func (b *Binary) Types() ([]domain.TypeHandle, error) {
	handles := make([]domain.TypeHandle, 0, len(b.img.typeDefs))
	for i, td := range b.img.typeDefs {
		if i == 0 && td.name == moduleTypeName && td.namespace == "" {
			continue
		}
		handles = append(handles, domain.TypeHandle{ID: i + 1, Name: b.img.displayName(uint32(i + 1))})
	}
	return handles, nil
}

func (b *Binary) typeRow(t domain.TypeHandle) (uint32, error) {
	if t.ID < 1 || t.ID > len(b.img.typeDefs) {
		return 0, fmt.Errorf("unknown type handle %d", t.ID)
	}
	return uint32(t.ID), nil
}

// bases returns the inheritance chain of row, nearest first. The walk stops
// quietly at a base defined in an assembly that is not available.
func (b *Binary) bases(t domain.TypeHandle, row uint32) ([]typeAt, error) {
	var chain []typeAt
	cur := typeAt{img: b.img, row: row}
	for {
		if len(chain) >= maxNesting {
			return nil, &domain.TypeLoadError{Type: t.Name, Err: fmt.Errorf("inheritance chain deeper than %d", maxNesting)}
		}
		base, err := cur.img.baseType(cur.row, 0)
		if err != nil {
			return nil, &domain.TypeLoadError{Type: t.Name, Err: err}
		}
		if base.img == nil {
			return chain, nil
		}
		chain = append(chain, base)
		cur = base
	}
}

// TypeAttributes returns the attributes of t followed by those inherited
// from its base types.
func (b *Binary) TypeAttributes(t domain.TypeHandle) ([]domain.Attribute, error) {
	row, err := b.typeRow(t)
	if err != nil {
		return nil, err
	}
	attrs := b.img.customAttributes(encodeCoded(cHasCustomAttribute, tTypeDef, row))
	chain, err := b.bases(t, row)
	if err != nil {
		return nil, err
	}
	for _, base := range chain {
		attrs = append(attrs, base.img.customAttributes(encodeCoded(cHasCustomAttribute, tTypeDef, base.row))...)
	}
	return attrs, nil
}

// Methods lists the declared methods of t, then inherited ones. Overloads
// are disambiguated by their parameter list.
func (b *Binary) Methods(t domain.TypeHandle) ([]domain.MethodHandle, error) {
	row, err := b.typeRow(t)
	if err != nil {
		return nil, err
	}
	chain, err := b.bases(t, row)
	if err != nil {
		return nil, err
	}

	var entries []methodEntry
	seen := make(map[string]int)
	collect := func(owner typeAt, inherited bool) error {
		img := owner.img
		td := img.typeDefs[owner.row-1]
		for l := td.methodStart; l < td.methodEnd; l++ {
			mrow := img.methodRow(l)
			flags := img.tables.cell(tMethodDef, mrow, 2)
			name, err := img.str(img.tables.cell(tMethodDef, mrow, 3))
			if err != nil {
				return err
			}
			if name == ".ctor" || name == ".cctor" {
				continue
			}
			if inherited && (flags&methodStatic != 0 || flags&methodAccessMask <= methodPrivate) {
				continue
			}
			params, err := img.paramDisplay(mrow)
			if err != nil {
				return fmt.Errorf("method %s: %w", name, err)
			}
			key := name + params
			virtual := flags&methodVirtual != 0
			if i, ok := seen[key]; ok {
				if entries[i].virtual && virtual {
					entries[i].chain = append(entries[i].chain, methodAt{img: img, row: mrow})
				}
				entries[i].virtual = entries[i].virtual && virtual
				continue
			}
			seen[key] = len(entries)
			entries = append(entries, methodEntry{
				name:    name,
				key:     key,
				chain:   []methodAt{{img: img, row: mrow}},
				virtual: virtual,
			})
		}
		return nil
	}
	if err := collect(typeAt{img: b.img, row: row}, false); err != nil {
		return nil, &domain.TypeLoadError{Type: t.Name, Err: err}
	}
	for _, base := range chain {
		if err := collect(base, true); err != nil {
			return nil, &domain.TypeLoadError{Type: t.Name, Err: err}
		}
	}

	overloads := make(map[string]int, len(entries))
	for _, e := range entries {
		overloads[e.name]++
	}
	handles := make([]domain.MethodHandle, 0, len(entries))
	for _, e := range entries {
		display := e.name
		if overloads[e.name] > 1 {
			display = e.key
		}
		handles = append(handles, domain.MethodHandle{ID: len(b.methods), Name: display})
		b.methods = append(b.methods, e)
	}
	return handles, nil
}

// MethodAttributes returns the attributes of a method and of the base
// declarations it overrides.
func (b *Binary) MethodAttributes(h domain.MethodHandle) ([]domain.Attribute, error) {
	if h.ID < 0 || h.ID >= len(b.methods) {
		return nil, fmt.Errorf("unknown method handle %d", h.ID)
	}
	var attrs []domain.Attribute
	for _, m := range b.methods[h.ID].chain {
		attrs = append(attrs, m.img.customAttributes(encodeCoded(cHasCustomAttribute, tMethodDef, m.row))...)
	}
	return attrs, nil
}
