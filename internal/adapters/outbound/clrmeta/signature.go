package clrmeta

import (
	"fmt"
	"strconv"
	"strings"
)

// Element types (ECMA-335 II.23.1.16) plus the custom attribute encodings
// of II.23.3.
const (
	etVoid        = 0x01
	etBoolean     = 0x02
	etChar        = 0x03
	etI1          = 0x04
	etU1          = 0x05
	etI2          = 0x06
	etU2          = 0x07
	etI4          = 0x08
	etU4          = 0x09
	etI8          = 0x0A
	etU8          = 0x0B
	etR4          = 0x0C
	etR8          = 0x0D
	etString      = 0x0E
	etPtr         = 0x0F
	etByRef       = 0x10
	etValueType   = 0x11
	etClass       = 0x12
	etVar         = 0x13
	etArray       = 0x14
	etGenericInst = 0x15
	etTypedByRef  = 0x16
	etI           = 0x18
	etU           = 0x19
	etFnPtr       = 0x1B
	etObject      = 0x1C
	etSZArray     = 0x1D
	etMVar        = 0x1E
	etCModReqd    = 0x1F
	etCModOpt     = 0x20
	etSentinel    = 0x41
	etPinned      = 0x45

	etType     = 0x50
	etBoxed    = 0x51
	etField    = 0x53
	etProperty = 0x54
	etEnum     = 0x55
)

const (
	sigGeneric  = 0x10
	sigHasThis  = 0x20
	sigFieldSig = 0x06
	maxSigDepth = 32
)

var keywords = map[byte]string{
	etVoid:       "void",
	etBoolean:    "bool",
	etChar:       "char",
	etI1:         "sbyte",
	etU1:         "byte",
	etI2:         "short",
	etU2:         "ushort",
	etI4:         "int",
	etU4:         "uint",
	etI8:         "long",
	etU8:         "ulong",
	etR4:         "float",
	etR8:         "double",
	etString:     "string",
	etTypedByRef: "TypedReference",
	etI:          "nint",
	etU:          "nuint",
	etObject:     "object",
}

// sigType is one decoded type in a signature.
type sigType struct {
	elem  byte
	token uint32 // TypeDefOrRef coded index for CLASS, VALUETYPE and GENERICINST
	inner *sigType
	args  []*sigType
	index uint32 // VAR/MVAR ordinal or ARRAY rank
}

type methodSig struct {
	hasThis      bool
	genericCount uint32
	ret          *sigType
	params       []*sigType
}

func parseMethodSig(b []byte) (*methodSig, error) {
	return readMethodSig(newBlobReader(b), 0)
}

func readMethodSig(r *blobReader, depth int) (*methodSig, error) {
	conv, err := r.u8()
	if err != nil {
		return nil, err
	}
	sig := &methodSig{hasThis: conv&sigHasThis != 0}
	if conv&sigGeneric != 0 {
		if sig.genericCount, err = r.compressed(); err != nil {
			return nil, err
		}
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	if int(count) > r.remaining() {
		return nil, fmt.Errorf("signature declares %d parameters in %d bytes", count, r.remaining())
	}
	if sig.ret, err = readType(r, depth); err != nil {
		return nil, err
	}
	sig.params = make([]*sigType, 0, count)
	for i := uint32(0); i < count; i++ {
		if b, err := r.peek(); err == nil && b == etSentinel {
			r.pos++
		}
		p, err := readType(r, depth)
		if err != nil {
			return nil, err
		}
		sig.params = append(sig.params, p)
	}
	return sig, nil
}

func readType(r *blobReader, depth int) (*sigType, error) {
	if depth > maxSigDepth {
		return nil, fmt.Errorf("signature nested too deeply")
	}
	b, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch b {
	case etCModReqd, etCModOpt:
		if _, err := r.compressed(); err != nil {
			return nil, err
		}
		return readType(r, depth+1)
	case etPinned:
		return readType(r, depth+1)
	case etPtr, etByRef, etSZArray:
		inner, err := readType(r, depth+1)
		if err != nil {
			return nil, err
		}
		return &sigType{elem: b, inner: inner}, nil
	case etValueType, etClass:
		tok, err := r.compressed()
		if err != nil {
			return nil, err
		}
		return &sigType{elem: b, token: tok}, nil
	case etVar, etMVar:
		n, err := r.compressed()
		if err != nil {
			return nil, err
		}
		return &sigType{elem: b, index: n}, nil
	case etArray:
		inner, err := readType(r, depth+1)
		if err != nil {
			return nil, err
		}
		rank, err := r.compressed()
		if err != nil {
			return nil, err
		}
		// sizes and lower bounds are two counted lists of compressed ints
		for list := 0; list < 2; list++ {
			n, err := r.compressed()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				if _, err := r.compressed(); err != nil {
					return nil, err
				}
			}
		}
		return &sigType{elem: b, inner: inner, index: rank}, nil
	case etGenericInst:
		if _, err := r.u8(); err != nil {
			return nil, err
		}
		tok, err := r.compressed()
		if err != nil {
			return nil, err
		}
		n, err := r.compressed()
		if err != nil {
			return nil, err
		}
		if int(n) > r.remaining() {
			return nil, fmt.Errorf("generic instance declares %d arguments", n)
		}
		t := &sigType{elem: b, token: tok}
		for i := uint32(0); i < n; i++ {
			arg, err := readType(r, depth+1)
			if err != nil {
				return nil, err
			}
			t.args = append(t.args, arg)
		}
		return t, nil
	case etFnPtr:
		if _, err := readMethodSig(r, depth+1); err != nil {
			return nil, err
		}
		return &sigType{elem: b}, nil
	}
	if _, ok := keywords[b]; ok {
		return &sigType{elem: b}, nil
	}
	return nil, fmt.Errorf("unsupported element type 0x%02x", b)
}

// genericScope names the VAR and MVAR slots of a signature.
type genericScope struct {
	typeParams   []string
	methodParams []string
}

func (m *Image) typeScope(typeRow uint32) genericScope {
	return genericScope{typeParams: m.genericParams[encodeCoded(cTypeOrMethodDef, tTypeDef, typeRow)]}
}

func (m *Image) methodScope(typeRow, methodRow uint32) genericScope {
	s := m.typeScope(typeRow)
	s.methodParams = m.genericParams[encodeCoded(cTypeOrMethodDef, tMethodDef, methodRow)]
	return s
}

func slotName(names []string, i uint32, prefix string) string {
	if int(i) < len(names) {
		return names[i]
	}
	return prefix + strconv.Itoa(int(i))
}

// display renders a signature type the way test runners show parameters.
func (m *Image) display(t *sigType, scope genericScope) string {
	switch t.elem {
	case etSZArray:
		return m.display(t.inner, scope) + "[]"
	case etArray:
		return m.display(t.inner, scope) + "[" + strings.Repeat(",", max(int(t.index)-1, 0)) + "]"
	case etByRef:
		return "ref " + m.display(t.inner, scope)
	case etPtr:
		return m.display(t.inner, scope) + "*"
	case etClass, etValueType:
		return m.shortName(t.token)
	case etGenericInst:
		args := make([]string, len(t.args))
		for i, a := range t.args {
			args[i] = m.display(a, scope)
		}
		return m.shortName(t.token) + "<" + strings.Join(args, ",") + ">"
	case etVar:
		return slotName(scope.typeParams, t.index, "T")
	case etMVar:
		return slotName(scope.methodParams, t.index, "M")
	case etFnPtr:
		return "fnptr"
	}
	return keywords[t.elem]
}

// shortName is the unqualified name of a TypeDefOrRef without its arity
// suffix.
func (m *Image) shortName(codedToken uint32) string {
	table, row, err := decodeCoded(cTypeDefOrRef, codedToken)
	if err != nil || row == 0 {
		return "?"
	}
	var name string
	switch table {
	case tTypeDef:
		if !m.tables.validRow(tTypeDef, row) {
			return "?"
		}
		name = m.typeDefs[row-1].name
	case tTypeRef:
		if !m.tables.validRow(tTypeRef, row) {
			return "?"
		}
		name, _ = m.str(m.tables.cell(tTypeRef, row, 1))
	default:
		return "?"
	}
	return stripArity(name)
}

func stripArity(name string) string {
	if i := strings.IndexByte(name, '`'); i >= 0 {
		return name[:i]
	}
	return name
}

// paramDisplay renders the parameter list of a method definition.
func (m *Image) paramDisplay(methodRow uint32) (string, error) {
	sigBlob, err := m.blob(m.tables.cell(tMethodDef, methodRow, 4))
	if err != nil {
		return "", err
	}
	sig, err := parseMethodSig(sigBlob)
	if err != nil {
		return "", err
	}
	scope := m.methodScope(m.methodOwner[methodRow-1], methodRow)
	parts := make([]string, len(sig.params))
	for i, p := range sig.params {
		parts[i] = m.display(p, scope)
	}
	suffix := ""
	if sig.genericCount > 0 {
		suffix = "`" + strconv.Itoa(int(sig.genericCount))
	}
	return suffix + "(" + strings.Join(parts, ", ") + ")", nil
}

// typeName returns the reflection-style full name: Ns.Outer+Inner`1.
func (m *Image) typeName(row uint32) string {
	return m.typeNameDepth(row, 0)
}

func (m *Image) typeNameDepth(row uint32, depth int) string {
	td := m.typeDefs[row-1]
	if enclosing, ok := m.nestedIn[row]; ok && depth < maxNesting {
		return m.typeNameDepth(enclosing, depth+1) + "+" + td.name
	}
	return joinNamespace(td.namespace, td.name)
}

// displayName returns the name shown in reports: Ns.Outer.Inner<T>.
func (m *Image) displayName(row uint32) string {
	return m.displayNameDepth(row, 0)
}

func (m *Image) displayNameDepth(row uint32, depth int) string {
	td := m.typeDefs[row-1]
	name := m.genericDisplay(row)
	if enclosing, ok := m.nestedIn[row]; ok && depth < maxNesting {
		return m.displayNameDepth(enclosing, depth+1) + "." + name
	}
	return joinNamespace(td.namespace, name)
}

func (m *Image) genericDisplay(row uint32) string {
	name := m.typeDefs[row-1].name
	i := strings.IndexByte(name, '`')
	if i < 0 {
		return name
	}
	arity, err := strconv.Atoi(name[i+1:])
	if err != nil || arity <= 0 {
		return name
	}
	params := m.typeScope(row).typeParams
	// nested generic types repeat their enclosing type's parameters first
	offset := max(len(params)-arity, 0)
	names := make([]string, arity)
	for k := range names {
		names[k] = slotName(params, uint32(offset+k), "T")
	}
	return name[:i] + "<" + strings.Join(names, ",") + ">"
}

// typeRefName returns the reflection-style name of a TypeRef row.
func (m *Image) typeRefName(row uint32) string {
	return m.typeRefNameDepth(row, 0)
}

func (m *Image) typeRefNameDepth(row uint32, depth int) string {
	if !m.tables.validRow(tTypeRef, row) {
		return ""
	}
	name, _ := m.str(m.tables.cell(tTypeRef, row, 1))
	ns, _ := m.str(m.tables.cell(tTypeRef, row, 2))
	table, scope, err := decodeCoded(cResolutionScope, m.tables.cell(tTypeRef, row, 0))
	if err == nil && table == tTypeRef && depth < maxNesting {
		return m.typeRefNameDepth(scope, depth+1) + "+" + name
	}
	return joinNamespace(ns, name)
}

// codedTypeName names a TypeDefOrRef, looking through generic instances.
func (m *Image) codedTypeName(codedToken uint32) string {
	table, row, err := decodeCoded(cTypeDefOrRef, codedToken)
	if err != nil || row == 0 {
		return ""
	}
	switch table {
	case tTypeDef:
		if m.tables.validRow(tTypeDef, row) {
			return m.typeName(row)
		}
	case tTypeRef:
		return m.typeRefName(row)
	case tTypeSpec:
		if tok, ok := m.genericDefinition(row); ok {
			return m.codedTypeName(tok)
		}
	}
	return ""
}

// genericDefinition returns the definition token of a GENERICINST TypeSpec.
func (m *Image) genericDefinition(specRow uint32) (uint32, bool) {
	if !m.tables.validRow(tTypeSpec, specRow) {
		return 0, false
	}
	b, err := m.blob(m.tables.cell(tTypeSpec, specRow, 0))
	if err != nil {
		return 0, false
	}
	t, err := readType(newBlobReader(b), 0)
	if err != nil || t.elem != etGenericInst {
		return 0, false
	}
	if tbl, _, err := decodeCoded(cTypeDefOrRef, t.token); err != nil || tbl == tTypeSpec {
		return 0, false
	}
	return t.token, true
}

func joinNamespace(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}
