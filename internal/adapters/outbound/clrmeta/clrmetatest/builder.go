// Package clrmetatest builds small managed PE images for tests. The images
// carry metadata only; method bodies are never emitted.
package clrmetatest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TypeToken is anything usable where metadata expects a TypeDefOrRef.
type TypeToken interface {
	typeDefOrRef() uint32
	serializedName() string
}

// ParamType describes a parameter of a method or attribute constructor.
type ParamType struct {
	elem  byte
	inner *ParamType
	tok   TypeToken
	size  int
}

const (
	elemBool    = 0x02
	elemU1      = 0x05
	elemI4      = 0x08
	elemI8      = 0x0A
	elemString  = 0x0E
	elemClass   = 0x12
	elemValue   = 0x11
	elemObject  = 0x1C
	elemSZArray = 0x1D
	elemType    = 0x50
	elemBoxed   = 0x51
	elemEnum    = 0x55
)

// Parameter types.
var (
	Bool       = ParamType{elem: elemBool}
	Byte       = ParamType{elem: elemU1}
	Int32      = ParamType{elem: elemI4}
	Int64      = ParamType{elem: elemI8}
	String     = ParamType{elem: elemString}
	Object     = ParamType{elem: elemObject}
	SystemType = ParamType{elem: elemType}
)

// ArrayOf is a single-dimension array of p.
func ArrayOf(p ParamType) ParamType { return ParamType{elem: elemSZArray, inner: &p} }

// EnumOf is an enum parameter whose underlying type has size bytes.
func EnumOf(t TypeToken, size int) ParamType { return ParamType{elem: elemEnum, tok: t, size: size} }

// ClassOf is a reference-type parameter.
func ClassOf(t TypeToken) ParamType { return ParamType{elem: elemClass, tok: t} }

// AssemblyRef is a referenced assembly.
type AssemblyRef struct {
	row     int
	name    string
	version [4]uint16
}

// TypeRef is a type referenced from another assembly.
type TypeRef struct {
	asm      *Assembly
	row      int
	ns, name string
	scope    uint32
	owner    string
}

func (r *TypeRef) typeDefOrRef() uint32 { return uint32(r.row)<<2 | 1 }

func (r *TypeRef) serializedName() string {
	return joinNamespace(r.ns, r.name) + ", " + r.owner
}

// Nested references a type nested in r.
func (r *TypeRef) Nested(name string) *TypeRef {
	a := r.asm
	n := &TypeRef{asm: a, row: len(a.typeRefs) + 1, name: name, scope: uint32(r.row)<<2 | 3, owner: r.owner}
	a.typeRefs = append(a.typeRefs, n)
	return n
}

// TypeSpec is a generic instantiation.
type TypeSpec struct {
	row  int
	def  TypeToken
	args []ParamType
}

func (s *TypeSpec) typeDefOrRef() uint32   { return uint32(s.row)<<2 | 2 }
func (s *TypeSpec) serializedName() string { return s.def.serializedName() }

// Ctor is an attribute constructor.
type Ctor struct {
	params []ParamType
	local  *Method
	row    int
	owner  TypeToken
}

// Attr is an attribute instance under construction.
type Attr struct {
	ctor  *Ctor
	args  []any
	named []namedArg
	raw   []byte
	isRaw bool
}

type namedArg struct {
	kind  byte
	name  string
	typ   ParamType
	value any
}

// Property adds a named property argument.
func (at *Attr) Property(name string, p ParamType, v any) *Attr {
	at.named = append(at.named, namedArg{kind: 0x54, name: name, typ: p, value: v})
	return at
}

// Field adds a named field argument.
func (at *Attr) Field(name string, p ParamType, v any) *Attr {
	at.named = append(at.named, namedArg{kind: 0x53, name: name, typ: p, value: v})
	return at
}

// Raw replaces the encoded value blob.
func (at *Attr) Raw(blob []byte) *Attr {
	at.raw, at.isRaw = blob, true
	return at
}

// Type is a type definition.
type Type struct {
	asm       *Assembly
	row       int
	ns, name  string
	flags     uint32
	extends   TypeToken
	enclosing *Type
	generic   []string
	methods   []*Method
	fields    []field
	attrs     []*Attr

	methodList, fieldList int
}

type field struct {
	flags uint16
	name  string
	elem  byte
}

func (t *Type) typeDefOrRef() uint32 { return uint32(t.row) << 2 }

func (t *Type) serializedName() string {
	if t.enclosing != nil {
		return t.enclosing.serializedName() + "+" + t.name
	}
	return joinNamespace(t.ns, t.name)
}

// Extends sets the base type.
func (t *Type) Extends(base TypeToken) *Type {
	t.extends = base
	return t
}

// Generic declares generic parameters. The type name should carry the
// matching arity suffix.
func (t *Type) Generic(params ...string) *Type {
	t.generic = params
	return t
}

// Nested adds a public type nested in t.
func (t *Type) Nested(name string) *Type {
	n := t.asm.Type("", name)
	n.enclosing = t
	n.flags = 0x00100002
	return n
}

// Attribute attaches an attribute with constructor arguments.
func (t *Type) Attribute(c *Ctor, args ...any) *Attr {
	at := &Attr{ctor: c, args: args}
	t.attrs = append(t.attrs, at)
	return at
}

// Method declares a public instance method.
func (t *Type) Method(name string, opts ...MethodOption) *Method {
	m := &Method{owner: t, name: name, flags: methodPublic | methodHideBySig}
	for _, opt := range opts {
		opt(m)
	}
	t.methods = append(t.methods, m)
	return m
}

// Method is a method definition.
type Method struct {
	owner   *Type
	name    string
	flags   uint16
	params  []ParamType
	generic []string
	attrs   []*Attr
	row     int
}

// Attribute attaches an attribute with constructor arguments.
func (m *Method) Attribute(c *Ctor, args ...any) *Attr {
	at := &Attr{ctor: c, args: args}
	m.attrs = append(m.attrs, at)
	return at
}

const (
	methodAccessMask = 0x0007
	methodPrivate    = 0x0001
	methodFamily     = 0x0004
	methodPublic     = 0x0006
	methodStatic     = 0x0010
	methodVirtual    = 0x0040
	methodHideBySig  = 0x0080
	methodNewSlot    = 0x0100
	methodSpecial    = 0x1800
)

// MethodOption configures a method.
type MethodOption func(*Method)

// Static makes the method static.
func Static() MethodOption { return func(m *Method) { m.flags |= methodStatic } }

// Private makes the method private.
func Private() MethodOption {
	return func(m *Method) { m.flags = m.flags&^methodAccessMask | methodPrivate }
}

// Protected makes the method family-visible.
func Protected() MethodOption {
	return func(m *Method) { m.flags = m.flags&^methodAccessMask | methodFamily }
}

// Virtual makes the method virtual.
func Virtual() MethodOption { return func(m *Method) { m.flags |= methodVirtual } }

// NewSlot marks a virtual method as introducing a new slot.
func NewSlot() MethodOption { return func(m *Method) { m.flags |= methodNewSlot } }

// Params sets the parameter types.
func Params(p ...ParamType) MethodOption { return func(m *Method) { m.params = p } }

// GenericMethod declares method generic parameters.
func GenericMethod(names ...string) MethodOption { return func(m *Method) { m.generic = names } }

type forward struct {
	ref      *AssemblyRef
	ns, name string
}

// Assembly is an image under construction.
type Assembly struct {
	name     string
	version  [4]uint16
	refs     []*AssemblyRef
	typeRefs []*TypeRef
	types    []*Type
	specs    []*TypeSpec
	ctors    []*Ctor
	attrs    []*Attr
	forwards []forward

	mscorlib   *AssemblyRef
	object     *TypeRef
	enumBase   *TypeRef
	systemType *TypeRef
}

// New starts an assembly named name, version 1.0.0.0, that references
// mscorlib.
func New(name string) *Assembly {
	a := &Assembly{name: name, version: [4]uint16{1, 0, 0, 0}}
	a.types = append(a.types, &Type{asm: a, row: 1, name: "<Module>"})
	a.mscorlib = a.Reference("mscorlib", 4, 0, 0, 0)
	a.object = a.TypeRef(a.mscorlib, "System", "Object")
	return a
}

// Version sets the assembly version.
func (a *Assembly) Version(major, minor, build, revision uint16) *Assembly {
	a.version = [4]uint16{major, minor, build, revision}
	return a
}

// Reference adds an assembly reference.
func (a *Assembly) Reference(name string, major, minor, build, revision uint16) *AssemblyRef {
	r := &AssemblyRef{row: len(a.refs) + 1, name: name, version: [4]uint16{major, minor, build, revision}}
	a.refs = append(a.refs, r)
	return r
}

// TypeRef references a top-level type of another assembly.
func (a *Assembly) TypeRef(ref *AssemblyRef, ns, name string) *TypeRef {
	r := &TypeRef{asm: a, row: len(a.typeRefs) + 1, ns: ns, name: name, scope: uint32(ref.row)<<2 | 2, owner: ref.name}
	a.typeRefs = append(a.typeRefs, r)
	return r
}

// LocalRef references a type through the current module scope, as a
// compiler does for types it has not defined yet.
func (a *Assembly) LocalRef(ns, name string) *TypeRef {
	r := &TypeRef{asm: a, row: len(a.typeRefs) + 1, ns: ns, name: name, scope: 0, owner: a.name}
	a.typeRefs = append(a.typeRefs, r)
	return r
}

// Instantiate builds a generic instance such as Base<int>.
func (a *Assembly) Instantiate(def TypeToken, args ...ParamType) *TypeSpec {
	s := &TypeSpec{row: len(a.specs) + 1, def: def, args: args}
	a.specs = append(a.specs, s)
	return s
}

// Type defines a public class deriving from System.Object.
func (a *Assembly) Type(ns, name string) *Type {
	t := &Type{asm: a, row: len(a.types) + 1, ns: ns, name: name, flags: 0x00100001, extends: a.object}
	a.types = append(a.types, t)
	return t
}

// Enum defines an enum whose underlying type is given by elem size: 1, 2,
// 4 or 8 bytes.
func (a *Assembly) Enum(ns, name string, size int) *Type {
	if a.enumBase == nil {
		a.enumBase = a.TypeRef(a.mscorlib, "System", "Enum")
	}
	t := a.Type(ns, name)
	t.flags = 0x00000101
	t.extends = a.enumBase
	elem := map[int]byte{1: elemU1, 2: 0x06, 4: elemI4, 8: elemI8}[size]
	if elem == 0 {
		panic(fmt.Sprintf("clrmetatest: unsupported enum size %d", size))
	}
	t.fields = append(t.fields, field{flags: 0x0606, name: "value__", elem: elem})
	return t
}

// Forward declares a type forwarded to another assembly.
func (a *Assembly) Forward(ref *AssemblyRef, ns, name string) {
	a.forwards = append(a.forwards, forward{ref: ref, ns: ns, name: name})
}

// Ctor declares an attribute constructor on owner. Local owners get a
// .ctor method definition, external ones a member reference.
func (a *Assembly) Ctor(owner TypeToken, params ...ParamType) *Ctor {
	c := &Ctor{params: params, owner: owner}
	if t, ok := owner.(*Type); ok {
		c.local = t.Method(".ctor", Params(params...))
		c.local.flags |= methodSpecial
		return c
	}
	c.row = len(a.ctors) + 1
	a.ctors = append(a.ctors, c)
	return c
}

// Attribute attaches an assembly-level attribute.
func (a *Assembly) Attribute(c *Ctor, args ...any) *Attr {
	at := &Attr{ctor: c, args: args}
	a.attrs = append(a.attrs, at)
	return at
}

func (a *Assembly) systemTypeRef() *TypeRef {
	if a.systemType == nil {
		a.systemType = a.TypeRef(a.mscorlib, "System", "Type")
	}
	return a.systemType
}

// NUnit is a reference to nunit.framework with its common attributes.
type NUnit struct {
	Ref         *AssemblyRef
	TestFixture *Ctor
	Test        *Ctor
	TestCase    *Ctor
	Category    *Ctor
}

// NUnit references nunit.framework at the given version.
func (a *Assembly) NUnit(major, minor, build, revision uint16) *NUnit {
	ref := a.Reference("nunit.framework", major, minor, build, revision)
	attr := func(name string) *TypeRef { return a.TypeRef(ref, "NUnit.Framework", name) }
	return &NUnit{
		Ref:         ref,
		TestFixture: a.Ctor(attr("TestFixtureAttribute")),
		Test:        a.Ctor(attr("TestAttribute")),
		TestCase:    a.Ctor(attr("TestCaseAttribute"), ArrayOf(Object)),
		Category:    a.Ctor(attr("CategoryAttribute"), String),
	}
}

// Write writes the image to dir/file and returns its path.
func (a *Assembly) Write(tb testing.TB, dir, file string) string {
	tb.Helper()
	path, err := a.WriteFile(dir, file)
	if err != nil {
		tb.Fatalf("writing %s: %v", file, err)
	}
	return path
}

// WriteFile writes the image to dir/file and returns its path.
func (a *Assembly) WriteFile(dir, file string) (string, error) {
	data, err := a.Bytes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, file)
	return path, os.WriteFile(path, data, 0o644)
}

// Bytes serializes the image.
func (a *Assembly) Bytes() ([]byte, error) {
	md, err := a.metadata()
	if err != nil {
		return nil, err
	}
	return peImage(md), nil
}

func joinNamespace(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// peImage wraps metadata in a one-section PE32 image with a CLI header.
func peImage(md []byte) []byte {
	const (
		lfanew     = 0x80
		fileAlign  = 0x200
		textRVA    = 0x2000
		cliSize    = 72
		metaOffset = cliSize
	)
	text := make([]byte, 0, cliSize+len(md))
	cli := make([]byte, cliSize)
	binary.LittleEndian.PutUint32(cli[0:], cliSize)
	binary.LittleEndian.PutUint16(cli[4:], 2)
	binary.LittleEndian.PutUint16(cli[6:], 5)
	binary.LittleEndian.PutUint32(cli[8:], textRVA+metaOffset)
	binary.LittleEndian.PutUint32(cli[12:], uint32(len(md)))
	binary.LittleEndian.PutUint32(cli[16:], 1)
	text = append(text, cli...)
	text = append(text, md...)
	raw := alignUp(len(text), fileAlign)

	var buf bytes.Buffer
	dos := make([]byte, lfanew)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3C:], lfanew)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	oh := pe.OptionalHeader32{
		Magic:                 0x10B,
		SizeOfCode:            uint32(raw),
		BaseOfCode:            textRVA,
		ImageBase:             0x400000,
		SectionAlignment:      0x2000,
		FileAlignment:         fileAlign,
		MajorSubsystemVersion: 4,
		SizeOfImage:           uint32(textRVA + alignUp(len(text), 0x2000)),
		SizeOfHeaders:         fileAlign,
		Subsystem:             3,
		DllCharacteristics:    0x8540,
		SizeOfStackReserve:    0x100000,
		SizeOfStackCommit:     0x1000,
		SizeOfHeapReserve:     0x100000,
		SizeOfHeapCommit:      0x1000,
		NumberOfRvaAndSizes:   16,
	}
	oh.DataDirectory[14] = pe.DataDirectory{VirtualAddress: textRVA, Size: cliSize}
	fh := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x2102,
	}
	var name [8]uint8
	copy(name[:], ".text")
	sh := pe.SectionHeader32{
		Name:             name,
		VirtualSize:      uint32(len(text)),
		VirtualAddress:   textRVA,
		SizeOfRawData:    uint32(raw),
		PointerToRawData: fileAlign,
		Characteristics:  0x60000020,
	}
	for _, v := range []any{fh, oh, sh} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(make([]byte, fileAlign-buf.Len()))
	buf.Write(text)
	buf.Write(make([]byte, raw-len(text)))
	return buf.Bytes()
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }
