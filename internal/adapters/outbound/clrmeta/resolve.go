package clrmeta

import (
	"fmt"
	"strings"
)

// typeAt identifies a TypeDef row in some image.
type typeAt struct {
	img *Image
	row uint32
}

// errMissingType marks a reference into an available image that does not
// define the referenced type.
type errMissingType struct {
	name     string
	assembly string
}

func (e *errMissingType) Error() string {
	return fmt.Sprintf("could not load type %s from assembly %s", e.name, e.assembly)
}

// resolveType follows a TypeDefOrRef coded index to its definition. It
// returns a zero typeAt without error when the definition lives in an
// assembly the resolver cannot provide.
func (m *Image) resolveType(codedToken uint32, depth int) (typeAt, error) {
	if depth > maxNesting {
		return typeAt{}, fmt.Errorf("type reference chain too deep")
	}
	table, row, err := decodeCoded(cTypeDefOrRef, codedToken)
	if err != nil {
		return typeAt{}, err
	}
	if row == 0 {
		return typeAt{}, nil
	}
	switch table {
	case tTypeDef:
		if !m.tables.validRow(tTypeDef, row) {
			return typeAt{}, fmt.Errorf("type definition %d out of range", row)
		}
		return typeAt{img: m, row: row}, nil
	case tTypeRef:
		return m.resolveTypeRef(row, depth+1)
	case tTypeSpec:
		tok, ok := m.genericDefinition(row)
		if !ok {
			return typeAt{}, nil
		}
		return m.resolveType(tok, depth+1)
	}
	return typeAt{}, nil
}

func (m *Image) resolveTypeRef(row uint32, depth int) (typeAt, error) {
	if depth > maxNesting {
		return typeAt{}, fmt.Errorf("type reference chain too deep")
	}
	if !m.tables.validRow(tTypeRef, row) {
		return typeAt{}, fmt.Errorf("type reference %d out of range", row)
	}
	name, err := m.str(m.tables.cell(tTypeRef, row, 1))
	if err != nil {
		return typeAt{}, err
	}
	ns, err := m.str(m.tables.cell(tTypeRef, row, 2))
	if err != nil {
		return typeAt{}, err
	}
	table, scope, err := decodeCoded(cResolutionScope, m.tables.cell(tTypeRef, row, 0))
	if err != nil {
		return typeAt{}, err
	}
	if scope == 0 {
		return m.findTopLevel(ns, name, depth+1)
	}
	switch table {
	case tModule:
		return m.findTopLevel(ns, name, depth+1)
	case tTypeRef:
		outer, err := m.resolveTypeRef(scope, depth+1)
		if err != nil || outer.img == nil {
			return outer, err
		}
		nested, ok := outer.img.nestedByName[nestedKey{enclosing: outer.row, name: name}]
		if !ok {
			return typeAt{}, &errMissingType{name: m.typeRefName(row), assembly: outer.img.AssemblyName()}
		}
		return typeAt{img: outer.img, row: nested}, nil
	case tAssemblyRef:
		if !m.tables.validRow(tAssemblyRef, scope) {
			return typeAt{}, fmt.Errorf("assembly reference %d out of range", scope)
		}
		asm, err := m.str(m.tables.cell(tAssemblyRef, scope, 6))
		if err != nil {
			return typeAt{}, err
		}
		return m.findInAssembly(asm, ns, name, depth+1)
	}
	// module references name other modules of a multi-module assembly,
	// which are not loaded
	return typeAt{}, nil
}

func (m *Image) findInAssembly(asm, ns, name string, depth int) (typeAt, error) {
	if m.resolver == nil {
		return typeAt{}, nil
	}
	img, err := m.resolver.Resolve(asm)
	if err != nil {
		return typeAt{}, fmt.Errorf("loading %s: %w", asm, err)
	}
	if img == nil {
		return typeAt{}, nil
	}
	return img.findTopLevel(ns, name, depth)
}

// findTopLevel looks up a non-nested type defined or forwarded by m.
func (m *Image) findTopLevel(ns, name string, depth int) (typeAt, error) {
	if depth > maxNesting {
		return typeAt{}, fmt.Errorf("type forwarding chain too deep")
	}
	key := qualifiedKey(ns, name)
	if row, ok := m.topLevel[key]; ok {
		return typeAt{img: m, row: row}, nil
	}
	if row, ok := m.exported[key]; ok {
		table, impl, err := decodeCoded(cImplementation, m.tables.cell(tExportedType, row, 4))
		if err == nil && table == tAssemblyRef && m.tables.validRow(tAssemblyRef, impl) {
			asm, err := m.str(m.tables.cell(tAssemblyRef, impl, 6))
			if err != nil {
				return typeAt{}, err
			}
			return m.findInAssembly(asm, ns, name, depth+1)
		}
	}
	return typeAt{}, &errMissingType{name: joinNamespace(ns, name), assembly: m.AssemblyName()}
}

// baseType returns the direct base of a type definition.
func (m *Image) baseType(row uint32, depth int) (typeAt, error) {
	return m.resolveType(m.typeDefs[row-1].extends, depth)
}

// findByReflectionName resolves "Ns.Outer+Inner" against m's definitions.
func (m *Image) findByReflectionName(full string) (typeAt, bool) {
	parts := strings.Split(full, "+")
	ns, name := "", parts[0]
	if i := strings.LastIndexByte(parts[0], '.'); i >= 0 {
		ns, name = parts[0][:i], parts[0][i+1:]
	}
	row, ok := m.topLevel[qualifiedKey(ns, name)]
	if !ok {
		return typeAt{}, false
	}
	for _, nested := range parts[1:] {
		if row, ok = m.nestedByName[nestedKey{enclosing: row, name: nested}]; !ok {
			return typeAt{}, false
		}
	}
	return typeAt{img: m, row: row}, true
}
