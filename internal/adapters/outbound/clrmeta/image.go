// Package clrmeta reads ECMA-335 (CLI) metadata from managed PE images and
// exposes it as a domain.MetadataProvider.
package clrmeta

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openkraft/categoryassert/internal/domain"
)

// ErrNotManaged is returned for PE images without a CLI header.
var ErrNotManaged = errors.New("image has no CLI header")

const (
	metadataSignature = 0x424A5342 // "BSJB"
	cliHeaderDir      = 14
	maxNesting        = 64
)

// Resolver locates referenced assemblies so base types declared outside an
// image can be followed. Resolve returns nil, nil for unknown assemblies.
type Resolver interface {
	Resolve(assemblyName string) (*Image, error)
}

// Option configures an Image.
type Option func(*Image)

// WithResolver sets the resolver used to follow cross-assembly references.
func WithResolver(r Resolver) Option {
	return func(m *Image) { m.resolver = r }
}

// Image is the parsed metadata of one managed PE file.
type Image struct {
	path     string
	runtime  string
	tables   *tablesStream
	strings  []byte
	blobs    []byte
	resolver Resolver

	typeDefs      []typeDef
	methodOwner   []uint32
	attrs         map[uint32][]uint32
	nestedIn      map[uint32]uint32
	nestedByName  map[nestedKey]uint32
	topLevel      map[string]uint32
	exported      map[string]uint32
	genericParams map[uint32][]string
}

type typeDef struct {
	flags       uint32
	name        string
	namespace   string
	extends     uint32
	fieldStart  uint32
	fieldEnd    uint32
	methodStart uint32
	methodEnd   uint32
}

type nestedKey struct {
	enclosing uint32
	name      string
}

// Open reads and parses the image at path.
func Open(path string, opts ...Option) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Parse(data, opts...)
	if err != nil {
		return nil, err
	}
	img.path = path
	return img, nil
}

// Parse parses an in-memory image. Every table and index is validated so
// that a malformed image fails here rather than during a scan.
func Parse(data []byte, opts ...Option) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a PE image: %w", err)
	}
	defer f.Close()

	md, err := readMetadata(f)
	if err != nil {
		return nil, err
	}

	m := &Image{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.parseRoot(md); err != nil {
		return nil, err
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

func readMetadata(f *pe.File) ([]byte, error) {
	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return nil, ErrNotManaged
	}
	if len(dirs) <= cliHeaderDir || dirs[cliHeaderDir].VirtualAddress == 0 {
		return nil, ErrNotManaged
	}

	hdr, err := readRVA(f, dirs[cliHeaderDir].VirtualAddress, 16)
	if err != nil {
		return nil, fmt.Errorf("reading CLI header: %w", err)
	}
	mdRVA := binary.LittleEndian.Uint32(hdr[8:])
	mdSize := binary.LittleEndian.Uint32(hdr[12:])
	if mdRVA == 0 || mdSize == 0 {
		return nil, fmt.Errorf("CLI header has no metadata directory")
	}
	md, err := readRVA(f, mdRVA, mdSize)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return md, nil
}

// readRVA reads size bytes at a relative virtual address.
func readRVA(f *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		span := s.VirtualSize
		if span == 0 {
			span = s.Size
		}
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+span {
			continue
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(size) > uint64(s.Size) {
			return nil, fmt.Errorf("rva 0x%x+%d exceeds section %s", rva, size, s.Name)
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(off)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("rva 0x%x is not mapped by any section", rva)
}

func (m *Image) parseRoot(md []byte) error {
	if len(md) < 16 || binary.LittleEndian.Uint32(md) != metadataSignature {
		return fmt.Errorf("missing metadata signature")
	}
	verLen := int(binary.LittleEndian.Uint32(md[12:]))
	pos := 16 + verLen
	if verLen < 0 || pos+4 > len(md) {
		return fmt.Errorf("metadata root truncated")
	}
	m.runtime = strings.TrimRight(string(md[16:pos]), "\x00")
	nstreams := int(binary.LittleEndian.Uint16(md[pos+2:]))
	pos += 4

	var tables []byte
	for i := 0; i < nstreams; i++ {
		if pos+8 > len(md) {
			return fmt.Errorf("stream header %d truncated", i)
		}
		off := binary.LittleEndian.Uint32(md[pos:])
		size := binary.LittleEndian.Uint32(md[pos+4:])
		pos += 8
		end := bytes.IndexByte(md[pos:], 0)
		if end < 0 {
			return fmt.Errorf("stream name %d not terminated", i)
		}
		name := string(md[pos : pos+end])
		pos += (end + 4) &^ 3
		if uint64(off)+uint64(size) > uint64(len(md)) {
			return fmt.Errorf("stream %s exceeds metadata", name)
		}
		data := md[off : off+size]
		switch name {
		case "#~", "#-":
			tables = data
		case "#Strings":
			m.strings = data
		case "#Blob":
			m.blobs = data
		}
	}
	if tables == nil {
		return fmt.Errorf("metadata has no tables stream")
	}
	ts, err := parseTablesStream(tables)
	if err != nil {
		return err
	}
	m.tables = ts
	return nil
}

func (m *Image) str(index uint32) (string, error) { return stringAt(m.strings, index) }

func (m *Image) blob(index uint32) ([]byte, error) { return blobAt(m.blobs, index) }

// methodCount and fieldCount return the logical list lengths, honoring the
// pointer tables of unoptimized metadata.
func (m *Image) methodCount() uint32 {
	if n := m.tables.count(tMethodPtr); n > 0 {
		return n
	}
	return m.tables.count(tMethodDef)
}

func (m *Image) fieldCount() uint32 {
	if n := m.tables.count(tFieldPtr); n > 0 {
		return n
	}
	return m.tables.count(tField)
}

func (m *Image) methodRow(logical uint32) uint32 {
	if m.tables.count(tMethodPtr) > 0 {
		return m.tables.cell(tMethodPtr, logical, 0)
	}
	return logical
}

func (m *Image) fieldRow(logical uint32) uint32 {
	if m.tables.count(tFieldPtr) > 0 {
		return m.tables.cell(tFieldPtr, logical, 0)
	}
	return logical
}

// index builds the lookup structures used by the provider.
func (m *Image) index() error {
	ts := m.tables
	n := ts.count(tTypeDef)
	m.typeDefs = make([]typeDef, n)
	for row := uint32(1); row <= n; row++ {
		name, err := m.str(ts.cell(tTypeDef, row, 1))
		if err != nil {
			return fmt.Errorf("type %d name: %w", row, err)
		}
		ns, err := m.str(ts.cell(tTypeDef, row, 2))
		if err != nil {
			return fmt.Errorf("type %d namespace: %w", row, err)
		}
		m.typeDefs[row-1] = typeDef{
			flags:       ts.cell(tTypeDef, row, 0),
			name:        name,
			namespace:   ns,
			extends:     ts.cell(tTypeDef, row, 3),
			fieldStart:  ts.cell(tTypeDef, row, 4),
			methodStart: ts.cell(tTypeDef, row, 5),
		}
	}
	methods, fields := m.methodCount(), m.fieldCount()
	for i := range m.typeDefs {
		td := &m.typeDefs[i]
		td.methodEnd, td.fieldEnd = methods+1, fields+1
		if i+1 < len(m.typeDefs) {
			td.methodEnd = m.typeDefs[i+1].methodStart
			td.fieldEnd = m.typeDefs[i+1].fieldStart
		}
		if td.methodStart == 0 || td.methodStart > td.methodEnd || td.methodEnd > methods+1 {
			return fmt.Errorf("type %s has an invalid method list", td.name)
		}
		if td.fieldStart == 0 || td.fieldStart > td.fieldEnd || td.fieldEnd > fields+1 {
			return fmt.Errorf("type %s has an invalid field list", td.name)
		}
		if _, _, err := decodeCoded(cTypeDefOrRef, td.extends); err != nil {
			return fmt.Errorf("type %s base: %w", td.name, err)
		}
	}

	m.methodOwner = make([]uint32, ts.count(tMethodDef))
	for i, td := range m.typeDefs {
		for l := td.methodStart; l < td.methodEnd; l++ {
			row := m.methodRow(l)
			if !ts.validRow(tMethodDef, row) {
				return fmt.Errorf("type %s references method %d out of range", td.name, row)
			}
			m.methodOwner[row-1] = uint32(i + 1)
		}
		for l := td.fieldStart; l < td.fieldEnd; l++ {
			if !ts.validRow(tField, m.fieldRow(l)) {
				return fmt.Errorf("type %s references field out of range", td.name)
			}
		}
	}

	m.attrs = make(map[uint32][]uint32)
	for row := uint32(1); row <= ts.count(tCustomAttribute); row++ {
		parent := ts.cell(tCustomAttribute, row, 0)
		if _, _, err := decodeCoded(cCustomAttributeType, ts.cell(tCustomAttribute, row, 1)); err != nil {
			return fmt.Errorf("custom attribute %d: %w", row, err)
		}
		m.attrs[parent] = append(m.attrs[parent], row)
	}

	m.nestedIn = make(map[uint32]uint32)
	m.nestedByName = make(map[nestedKey]uint32)
	for row := uint32(1); row <= ts.count(tNestedClass); row++ {
		nested := ts.cell(tNestedClass, row, 0)
		enclosing := ts.cell(tNestedClass, row, 1)
		if !ts.validRow(tTypeDef, nested) || !ts.validRow(tTypeDef, enclosing) {
			return fmt.Errorf("nested class row %d out of range", row)
		}
		m.nestedIn[nested] = enclosing
		key := nestedKey{enclosing: enclosing, name: m.typeDefs[nested-1].name}
		if _, dup := m.nestedByName[key]; !dup {
			m.nestedByName[key] = nested
		}
	}

	m.topLevel = make(map[string]uint32)
	for i, td := range m.typeDefs {
		row := uint32(i + 1)
		if _, nested := m.nestedIn[row]; nested {
			continue
		}
		key := qualifiedKey(td.namespace, td.name)
		if _, dup := m.topLevel[key]; !dup {
			m.topLevel[key] = row
		}
	}

	m.exported = make(map[string]uint32)
	for row := uint32(1); row <= ts.count(tExportedType); row++ {
		name, err := m.str(ts.cell(tExportedType, row, 2))
		if err != nil {
			return err
		}
		ns, err := m.str(ts.cell(tExportedType, row, 3))
		if err != nil {
			return err
		}
		m.exported[qualifiedKey(ns, name)] = row
	}

	type param struct {
		number uint32
		name   string
	}
	byOwner := make(map[uint32][]param)
	for row := uint32(1); row <= ts.count(tGenericParam); row++ {
		name, err := m.str(ts.cell(tGenericParam, row, 3))
		if err != nil {
			return fmt.Errorf("generic parameter %d: %w", row, err)
		}
		owner := ts.cell(tGenericParam, row, 2)
		byOwner[owner] = append(byOwner[owner], param{number: ts.cell(tGenericParam, row, 0), name: name})
	}
	m.genericParams = make(map[uint32][]string, len(byOwner))
	for owner, params := range byOwner {
		sort.SliceStable(params, func(i, j int) bool { return params[i].number < params[j].number })
		names := make([]string, len(params))
		for i, p := range params {
			names[i] = p.name
		}
		m.genericParams[owner] = names
	}

	for row := uint32(1); row <= ts.count(tAssemblyRef); row++ {
		if _, err := m.str(ts.cell(tAssemblyRef, row, 6)); err != nil {
			return fmt.Errorf("assembly reference %d: %w", row, err)
		}
	}
	return nil
}

func qualifiedKey(ns, name string) string { return ns + "\x00" + name }

// Path returns the file the image was opened from, if any.
func (m *Image) Path() string { return m.path }

// RuntimeVersion returns the metadata version string, e.g. "v4.0.30319".
func (m *Image) RuntimeVersion() string { return m.runtime }

// AssemblyName returns the name from the Assembly table, falling back to the
// module name and then the file stem.
func (m *Image) AssemblyName() string {
	if m.tables.count(tAssembly) > 0 {
		if name, err := m.str(m.tables.cell(tAssembly, 1, 7)); err == nil && name != "" {
			return name
		}
	}
	if m.tables.count(tModule) > 0 {
		if name, err := m.str(m.tables.cell(tModule, 1, 1)); err == nil && name != "" {
			return strings.TrimSuffix(name, filepath.Ext(name))
		}
	}
	base := filepath.Base(m.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Version returns the assembly version, or the zero version for modules
// without an Assembly row.
func (m *Image) Version() domain.Version {
	if m.tables.count(tAssembly) == 0 {
		return domain.Version{}
	}
	return domain.Version{
		Major:    int(m.tables.cell(tAssembly, 1, 1)),
		Minor:    int(m.tables.cell(tAssembly, 1, 2)),
		Build:    int(m.tables.cell(tAssembly, 1, 3)),
		Revision: int(m.tables.cell(tAssembly, 1, 4)),
	}
}

// References returns the AssemblyRef rows in table order.
func (m *Image) References() []domain.AssemblyReference {
	ts := m.tables
	refs := make([]domain.AssemblyReference, 0, ts.count(tAssemblyRef))
	for row := uint32(1); row <= ts.count(tAssemblyRef); row++ {
		name, _ := m.str(ts.cell(tAssemblyRef, row, 6))
		refs = append(refs, domain.AssemblyReference{
			Name: name,
			Version: domain.Version{
				Major:    int(ts.cell(tAssemblyRef, row, 0)),
				Minor:    int(ts.cell(tAssemblyRef, row, 1)),
				Build:    int(ts.cell(tAssemblyRef, row, 2)),
				Revision: int(ts.cell(tAssemblyRef, row, 3)),
			},
		})
	}
	return refs
}
