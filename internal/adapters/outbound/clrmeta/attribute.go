package clrmeta

import (
	"fmt"
	"strings"

	"github.com/openkraft/categoryassert/internal/domain"
)

const attributeProlog = 0x0001

// argType is the wire type of one custom attribute argument.
type argType struct {
	kind     byte
	elem     *argType
	enumSize int
}

// customAttributes decodes every attribute attached to a HasCustomAttribute
// parent. Undecodable values keep their name and carry the error.
func (m *Image) customAttributes(parent uint32) []domain.Attribute {
	rows := m.attrs[parent]
	out := make([]domain.Attribute, 0, len(rows))
	for _, row := range rows {
		out = append(out, m.decodeAttribute(row))
	}
	return out
}

func (m *Image) decodeAttribute(row uint32) domain.Attribute {
	ctor, err := m.attributeConstructor(m.tables.cell(tCustomAttribute, row, 1))
	attr := domain.Attribute{Name: ctor.name}
	if err != nil {
		attr.Err = err
		return attr
	}
	attr.Bases = m.attributeBases(ctor.owner)
	value, err := m.blob(m.tables.cell(tCustomAttribute, row, 2))
	if err != nil {
		attr.Err = err
		return attr
	}
	attr.Fields, attr.Err = m.decodeArguments(ctor.sig, value)
	if attr.Err != nil {
		attr.Err = fmt.Errorf("decoding %s: %w", ctor.name, attr.Err)
	}
	return attr
}

// attributeCtor is the constructor of one custom attribute.
type attributeCtor struct {
	name string
	// owner is the attribute type as a TypeDefOrRef coded index
	owner uint32
	sig   []byte
}

// attributeConstructor resolves a CustomAttributeType coded index to the
// attribute type and the constructor signature blob.
func (m *Image) attributeConstructor(codedCtor uint32) (attributeCtor, error) {
	table, row, err := decodeCoded(cCustomAttributeType, codedCtor)
	if err != nil {
		return attributeCtor{}, err
	}
	switch table {
	case tMethodDef:
		if !m.tables.validRow(tMethodDef, row) {
			return attributeCtor{}, fmt.Errorf("attribute constructor %d out of range", row)
		}
		owner := m.methodOwner[row-1]
		if owner == 0 {
			return attributeCtor{}, fmt.Errorf("attribute constructor %d has no declaring type", row)
		}
		sig, err := m.blob(m.tables.cell(tMethodDef, row, 4))
		return attributeCtor{
			name:  m.typeName(owner),
			owner: encodeCoded(cTypeDefOrRef, tTypeDef, owner),
			sig:   sig,
		}, err
	case tMemberRef:
		if !m.tables.validRow(tMemberRef, row) {
			return attributeCtor{}, fmt.Errorf("attribute constructor reference %d out of range", row)
		}
		sig, err := m.blob(m.tables.cell(tMemberRef, row, 2))
		parent, prow, perr := decodeCoded(cMemberRefParent, m.tables.cell(tMemberRef, row, 0))
		if perr != nil {
			return attributeCtor{}, perr
		}
		ctor := attributeCtor{sig: sig}
		switch parent {
		case tTypeDef, tTypeRef, tTypeSpec:
			ctor.owner = encodeCoded(cTypeDefOrRef, parent, prow)
			ctor.name = m.codedTypeName(ctor.owner)
		}
		return ctor, err
	}
	return attributeCtor{}, fmt.Errorf("unsupported attribute constructor table 0x%02x", table)
}

// attributeBases names the base types of an attribute type, nearest first.
// A base that cannot be resolved is still named from its reference; the
// walk ends there.
func (m *Image) attributeBases(owner uint32) []string {
	var bases []string
	cur, err := m.resolveType(owner, 0)
	for err == nil && cur.img != nil && len(bases) < maxNesting {
		extends := cur.img.typeDefs[cur.row-1].extends
		name := cur.img.codedTypeName(extends)
		if name == "" {
			break
		}
		bases = append(bases, name)
		cur, err = cur.img.resolveType(extends, 0)
	}
	return bases
}

// decodeArguments decodes a custom attribute value blob (ECMA-335 II.23.3)
// into positional arguments followed by named ones. On error the fields
// decoded so far are returned with it.
func (m *Image) decodeArguments(sigBlob, value []byte) ([]domain.AttributeField, error) {
	sig, err := parseMethodSig(sigBlob)
	if err != nil {
		return nil, fmt.Errorf("constructor signature: %w", err)
	}
	if len(value) == 0 {
		if len(sig.params) > 0 {
			return nil, fmt.Errorf("missing value for %d arguments", len(sig.params))
		}
		return nil, nil
	}
	r := newBlobReader(value)
	prolog, err := r.u16()
	if err != nil {
		return nil, err
	}
	if prolog != attributeProlog {
		return nil, fmt.Errorf("bad prolog 0x%04x", prolog)
	}

	fields := make([]domain.AttributeField, 0, len(sig.params))
	for i, p := range sig.params {
		t, err := m.fixedArgType(p)
		if err != nil {
			return fields, fmt.Errorf("argument %d: %w", i, err)
		}
		v, err := m.readValue(r, t, 0)
		if err != nil {
			return fields, fmt.Errorf("argument %d: %w", i, err)
		}
		fields = append(fields, domain.AttributeField{Value: v})
	}

	named, err := r.u16()
	if err != nil {
		return fields, fmt.Errorf("named argument count: %w", err)
	}
	for i := 0; i < int(named); i++ {
		kind, err := r.u8()
		if err != nil {
			return fields, err
		}
		if kind != etField && kind != etProperty {
			return fields, fmt.Errorf("named argument %d has kind 0x%02x", i, kind)
		}
		t, err := m.readFieldOrPropType(r, 0)
		if err != nil {
			return fields, fmt.Errorf("named argument %d: %w", i, err)
		}
		name, ok, err := r.serString()
		if err != nil {
			return fields, fmt.Errorf("named argument %d: %w", i, err)
		}
		if !ok {
			return fields, fmt.Errorf("named argument %d has no name", i)
		}
		v, err := m.readValue(r, t, 0)
		if err != nil {
			return fields, fmt.Errorf("named argument %s: %w", name, err)
		}
		fields = append(fields, domain.AttributeField{Name: name, Value: v})
	}
	return fields, nil
}

// fixedArgType maps a constructor parameter type to its wire type.
func (m *Image) fixedArgType(p *sigType) (*argType, error) {
	switch {
	case p.elem >= etBoolean && p.elem <= etString:
		return &argType{kind: p.elem}, nil
	case p.elem == etObject:
		return &argType{kind: etBoxed}, nil
	case p.elem == etClass:
		if m.codedTypeName(p.token) == "System.Type" {
			return &argType{kind: etType}, nil
		}
		return nil, fmt.Errorf("unsupported class parameter %s", m.codedTypeName(p.token))
	case p.elem == etValueType:
		return &argType{kind: etEnum, enumSize: m.enumSize(p.token)}, nil
	case p.elem == etSZArray:
		elem, err := m.fixedArgType(p.inner)
		if err != nil {
			return nil, err
		}
		return &argType{kind: etSZArray, elem: elem}, nil
	}
	return nil, fmt.Errorf("unsupported parameter type 0x%02x", p.elem)
}

// readFieldOrPropType reads the self-describing type of a named or boxed
// argument.
func (m *Image) readFieldOrPropType(r *blobReader, depth int) (*argType, error) {
	if depth > maxSigDepth {
		return nil, fmt.Errorf("argument type nested too deeply")
	}
	b, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch {
	case b >= etBoolean && b <= etString, b == etType, b == etBoxed:
		return &argType{kind: b}, nil
	case b == etSZArray:
		elem, err := m.readFieldOrPropType(r, depth+1)
		if err != nil {
			return nil, err
		}
		return &argType{kind: etSZArray, elem: elem}, nil
	case b == etEnum:
		name, ok, err := r.serString()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("enum argument without a type name")
		}
		return &argType{kind: etEnum, enumSize: m.enumSizeByName(name)}, nil
	}
	return nil, fmt.Errorf("unsupported argument type 0x%02x", b)
}

func (m *Image) readValue(r *blobReader, t *argType, depth int) (any, error) {
	switch t.kind {
	case etBoolean:
		v, err := r.u8()
		return v != 0, err
	case etChar:
		v, err := r.u16()
		return string(rune(v)), err
	case etI1:
		v, err := r.u8()
		return int8(v), err
	case etU1:
		return r.u8()
	case etI2:
		v, err := r.u16()
		return int16(v), err
	case etU2:
		return r.u16()
	case etI4:
		v, err := r.u32()
		return int32(v), err
	case etU4:
		return r.u32()
	case etI8:
		v, err := r.u64()
		return int64(v), err
	case etU8:
		return r.u64()
	case etR4:
		return r.f32()
	case etR8:
		return r.f64()
	case etString, etType:
		s, ok, err := r.serString()
		if err != nil || !ok {
			return nil, err
		}
		return s, nil
	case etEnum:
		return readEnum(r, t.enumSize)
	case etBoxed:
		if depth > maxSigDepth {
			return nil, fmt.Errorf("boxed argument nested too deeply")
		}
		inner, err := m.readFieldOrPropType(r, depth+1)
		if err != nil {
			return nil, err
		}
		return m.readValue(r, inner, depth+1)
	case etSZArray:
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFFFFFF {
			return nil, nil
		}
		if int(n) > r.remaining() {
			return nil, fmt.Errorf("array of %d elements exceeds the blob", n)
		}
		items := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := m.readValue(r, t.elem, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported argument kind 0x%02x", t.kind)
}

func readEnum(r *blobReader, size int) (any, error) {
	switch size {
	case 1:
		v, err := r.u8()
		return int64(v), err
	case 2:
		v, err := r.u16()
		return int64(v), err
	case 8:
		v, err := r.u64()
		return int64(v), err
	}
	v, err := r.u32()
	return int64(int32(v)), err
}

// enumSize returns the underlying size of an enum referenced from a
// signature, assuming int32 when its definition is unavailable.
func (m *Image) enumSize(codedToken uint32) int {
	t, err := m.resolveType(codedToken, 0)
	if err != nil || t.img == nil {
		return 4
	}
	return t.img.underlyingSize(t.row)
}

// enumSizeByName resolves a serialized type name such as
// "Ns.Kind, Assembly, Version=1.0.0.0".
func (m *Image) enumSizeByName(qualified string) int {
	typeName, asm, _ := strings.Cut(qualified, ",")
	typeName = strings.TrimSpace(typeName)
	if t, ok := m.findByReflectionName(typeName); ok {
		return t.img.underlyingSize(t.row)
	}
	asm = strings.TrimSpace(asm)
	if asm == "" || m.resolver == nil {
		return 4
	}
	asm, _, _ = strings.Cut(asm, ",")
	img, err := m.resolver.Resolve(strings.TrimSpace(asm))
	if err != nil || img == nil {
		return 4
	}
	if t, ok := img.findByReflectionName(typeName); ok {
		return t.img.underlyingSize(t.row)
	}
	return 4
}

// underlyingSize reads the type of an enum's instance field.
func (m *Image) underlyingSize(row uint32) int {
	const fieldStatic = 0x0010
	td := m.typeDefs[row-1]
	for l := td.fieldStart; l < td.fieldEnd; l++ {
		f := m.fieldRow(l)
		if m.tables.cell(tField, f, 0)&fieldStatic != 0 {
			continue
		}
		sig, err := m.blob(m.tables.cell(tField, f, 2))
		if err != nil {
			return 4
		}
		r := newBlobReader(sig)
		if b, err := r.u8(); err != nil || b != sigFieldSig {
			return 4
		}
		t, err := readType(r, 0)
		if err != nil {
			return 4
		}
		switch t.elem {
		case etBoolean, etI1, etU1:
			return 1
		case etChar, etI2, etU2:
			return 2
		case etI8, etU8, etR8, etI, etU:
			return 8
		}
		return 4
	}
	return 4
}
