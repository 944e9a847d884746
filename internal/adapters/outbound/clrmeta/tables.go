package clrmeta

import (
	"encoding/binary"
	"fmt"
)

// Metadata table identifiers (ECMA-335 II.22).
const (
	tModule                 = 0x00
	tTypeRef                = 0x01
	tTypeDef                = 0x02
	tFieldPtr               = 0x03
	tField                  = 0x04
	tMethodPtr              = 0x05
	tMethodDef              = 0x06
	tParamPtr               = 0x07
	tParam                  = 0x08
	tInterfaceImpl          = 0x09
	tMemberRef              = 0x0A
	tConstant               = 0x0B
	tCustomAttribute        = 0x0C
	tFieldMarshal           = 0x0D
	tDeclSecurity           = 0x0E
	tClassLayout            = 0x0F
	tFieldLayout            = 0x10
	tStandAloneSig          = 0x11
	tEventMap               = 0x12
	tEventPtr               = 0x13
	tEvent                  = 0x14
	tPropertyMap            = 0x15
	tPropertyPtr            = 0x16
	tProperty               = 0x17
	tMethodSemantics        = 0x18
	tMethodImpl             = 0x19
	tModuleRef              = 0x1A
	tTypeSpec               = 0x1B
	tImplMap                = 0x1C
	tFieldRVA               = 0x1D
	tEncLog                 = 0x1E
	tEncMap                 = 0x1F
	tAssembly               = 0x20
	tAssemblyProcessor      = 0x21
	tAssemblyOS             = 0x22
	tAssemblyRef            = 0x23
	tAssemblyRefProcessor   = 0x24
	tAssemblyRefOS          = 0x25
	tFile                   = 0x26
	tExportedType           = 0x27
	tManifestResource       = 0x28
	tNestedClass            = 0x29
	tGenericParam           = 0x2A
	tMethodSpec             = 0x2B
	tGenericParamConstraint = 0x2C

	numKnownTables = 0x2D
	unusedTable    = -1
)

// Coded index kinds (ECMA-335 II.24.2.6).
const (
	cTypeDefOrRef = iota
	cHasConstant
	cHasCustomAttribute
	cHasFieldMarshal
	cHasDeclSecurity
	cMemberRefParent
	cHasSemantics
	cMethodDefOrRef
	cMemberForwarded
	cImplementation
	cCustomAttributeType
	cResolutionScope
	cTypeOrMethodDef
)

type codedIndex struct {
	tagBits int
	tables  []int
}

var codedIndexes = [...]codedIndex{
	cTypeDefOrRef: {2, []int{tTypeDef, tTypeRef, tTypeSpec}},
	cHasConstant:  {2, []int{tField, tParam, tProperty}},
	cHasCustomAttribute: {5, []int{
		tMethodDef, tField, tTypeRef, tTypeDef, tParam, tInterfaceImpl, tMemberRef,
		tModule, tDeclSecurity, tProperty, tEvent, tStandAloneSig, tModuleRef,
		tTypeSpec, tAssembly, tAssemblyRef, tFile, tExportedType, tManifestResource,
		tGenericParam, tGenericParamConstraint, tMethodSpec,
	}},
	cHasFieldMarshal:     {1, []int{tField, tParam}},
	cHasDeclSecurity:     {2, []int{tTypeDef, tMethodDef, tAssembly}},
	cMemberRefParent:     {3, []int{tTypeDef, tTypeRef, tModuleRef, tMethodDef, tTypeSpec}},
	cHasSemantics:        {1, []int{tEvent, tProperty}},
	cMethodDefOrRef:      {1, []int{tMethodDef, tMemberRef}},
	cMemberForwarded:     {1, []int{tField, tMethodDef}},
	cImplementation:      {2, []int{tFile, tAssemblyRef, tExportedType}},
	cCustomAttributeType: {3, []int{unusedTable, unusedTable, tMethodDef, tMemberRef, unusedTable}},
	cResolutionScope:     {2, []int{tModule, tModuleRef, tAssemblyRef, tTypeRef}},
	cTypeOrMethodDef:     {1, []int{tTypeDef, tMethodDef}},
}

type colKind int

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type column struct {
	kind colKind
	ref  int
}

func u16() column           { return column{kind: colU16} }
func u32() column           { return column{kind: colU32} }
func str() column           { return column{kind: colString} }
func guid() column          { return column{kind: colGUID} }
func blob() column          { return column{kind: colBlob} }
func idx(table int) column  { return column{kind: colTable, ref: table} }
func coded(kind int) column { return column{kind: colCoded, ref: kind} }

// schemas lists the columns of every table defined by ECMA-335. The one-byte
// Constant.Type column is followed by a padding byte and read as a u16.
var schemas = [numKnownTables][]column{
	tModule:                 {u16(), str(), guid(), guid(), guid()},
	tTypeRef:                {coded(cResolutionScope), str(), str()},
	tTypeDef:                {u32(), str(), str(), coded(cTypeDefOrRef), idx(tField), idx(tMethodDef)},
	tFieldPtr:               {idx(tField)},
	tField:                  {u16(), str(), blob()},
	tMethodPtr:              {idx(tMethodDef)},
	tMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(tParam)},
	tParamPtr:               {idx(tParam)},
	tParam:                  {u16(), u16(), str()},
	tInterfaceImpl:          {idx(tTypeDef), coded(cTypeDefOrRef)},
	tMemberRef:              {coded(cMemberRefParent), str(), blob()},
	tConstant:               {u16(), coded(cHasConstant), blob()},
	tCustomAttribute:        {coded(cHasCustomAttribute), coded(cCustomAttributeType), blob()},
	tFieldMarshal:           {coded(cHasFieldMarshal), blob()},
	tDeclSecurity:           {u16(), coded(cHasDeclSecurity), blob()},
	tClassLayout:            {u16(), u32(), idx(tTypeDef)},
	tFieldLayout:            {u32(), idx(tField)},
	tStandAloneSig:          {blob()},
	tEventMap:               {idx(tTypeDef), idx(tEvent)},
	tEventPtr:               {idx(tEvent)},
	tEvent:                  {u16(), str(), coded(cTypeDefOrRef)},
	tPropertyMap:            {idx(tTypeDef), idx(tProperty)},
	tPropertyPtr:            {idx(tProperty)},
	tProperty:               {u16(), str(), blob()},
	tMethodSemantics:        {u16(), idx(tMethodDef), coded(cHasSemantics)},
	tMethodImpl:             {idx(tTypeDef), coded(cMethodDefOrRef), coded(cMethodDefOrRef)},
	tModuleRef:              {str()},
	tTypeSpec:               {blob()},
	tImplMap:                {u16(), coded(cMemberForwarded), str(), idx(tModuleRef)},
	tFieldRVA:               {u32(), idx(tField)},
	tEncLog:                 {u32(), u32()},
	tEncMap:                 {u32()},
	tAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	tAssemblyProcessor:      {u32()},
	tAssemblyOS:             {u32(), u32(), u32()},
	tAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	tAssemblyRefProcessor:   {u32(), idx(tAssemblyRef)},
	tAssemblyRefOS:          {u32(), u32(), u32(), idx(tAssemblyRef)},
	tFile:                   {u32(), str(), blob()},
	tExportedType:           {u32(), u32(), str(), str(), coded(cImplementation)},
	tManifestResource:       {u32(), u32(), str(), coded(cImplementation)},
	tNestedClass:            {idx(tTypeDef), idx(tTypeDef)},
	tGenericParam:           {u16(), u16(), coded(cTypeOrMethodDef), str()},
	tMethodSpec:             {coded(cMethodDefOrRef), blob()},
	tGenericParamConstraint: {idx(tGenericParam), coded(cTypeDefOrRef)},
}

// Heap size flags of the tables stream header.
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

type tableLayout struct {
	offset  int
	rowSize int
	colOff  []int
	colSize []int
}

// tablesStream is the parsed "#~" stream.
type tablesStream struct {
	data   []byte
	rows   [64]uint32
	layout [numKnownTables]tableLayout
}

func parseTablesStream(data []byte) (*tablesStream, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("tables stream too short (%d bytes)", len(data))
	}
	ts := &tablesStream{data: data}
	heapSizes := data[6]
	valid := binary.LittleEndian.Uint64(data[8:])
	pos := 24

	for i := 0; i < 64; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		if pos+4 > len(data) {
			return nil, fmt.Errorf("tables stream row counts truncated")
		}
		ts.rows[i] = binary.LittleEndian.Uint32(data[pos:])
		pos += 4
	}
	if heapSizes&heapExtraData != 0 {
		pos += 4
	}

	strSize, guidSize, blobSize := 2, 2, 2
	if heapSizes&heapStringsWide != 0 {
		strSize = 4
	}
	if heapSizes&heapGUIDWide != 0 {
		guidSize = 4
	}
	if heapSizes&heapBlobWide != 0 {
		blobSize = 4
	}

	for t := 0; t < numKnownTables; t++ {
		schema := schemas[t]
		l := tableLayout{offset: pos, colOff: make([]int, len(schema)), colSize: make([]int, len(schema))}
		for c, col := range schema {
			var size int
			switch col.kind {
			case colU16:
				size = 2
			case colU32:
				size = 4
			case colString:
				size = strSize
			case colGUID:
				size = guidSize
			case colBlob:
				size = blobSize
			case colTable:
				size = ts.indexSize(col.ref)
			case colCoded:
				size = ts.codedSize(col.ref)
			}
			l.colOff[c] = l.rowSize
			l.colSize[c] = size
			l.rowSize += size
		}
		n := int(ts.rows[t])
		if n > 0 && pos+n*l.rowSize > len(data) {
			return nil, fmt.Errorf("metadata table 0x%02x truncated", t)
		}
		ts.layout[t] = l
		pos += n * l.rowSize
	}

	// Tables past the ones defined by ECMA-335 follow every known table, so
	// their unknown layout does not affect the offsets computed above.
	return ts, nil
}

func (ts *tablesStream) indexSize(table int) int {
	if ts.rows[table] > 0xFFFF {
		return 4
	}
	return 2
}

func (ts *tablesStream) codedSize(kind int) int {
	ci := codedIndexes[kind]
	var max uint32
	for _, t := range ci.tables {
		if t != unusedTable && ts.rows[t] > max {
			max = ts.rows[t]
		}
	}
	if max < 1<<uint(16-ci.tagBits) {
		return 2
	}
	return 4
}

// count returns the number of rows in table t.
func (ts *tablesStream) count(t int) uint32 { return ts.rows[t] }

// cell reads column col of the 1-based row in table t.
func (ts *tablesStream) cell(t int, row uint32, col int) uint32 {
	l := &ts.layout[t]
	off := l.offset + int(row-1)*l.rowSize + l.colOff[col]
	if l.colSize[col] == 2 {
		return uint32(binary.LittleEndian.Uint16(ts.data[off:]))
	}
	return binary.LittleEndian.Uint32(ts.data[off:])
}

// validRow reports whether row is a 1-based index into table t.
func (ts *tablesStream) validRow(t int, row uint32) bool {
	return row >= 1 && row <= ts.rows[t]
}

// decodeCoded splits a coded index into its table and 1-based row. Row 0
// denotes a null reference.
func decodeCoded(kind int, value uint32) (table int, row uint32, err error) {
	ci := codedIndexes[kind]
	tag := value & (1<<uint(ci.tagBits) - 1)
	if int(tag) >= len(ci.tables) || ci.tables[tag] == unusedTable {
		return 0, 0, fmt.Errorf("invalid coded index tag %d", tag)
	}
	return ci.tables[tag], value >> uint(ci.tagBits), nil
}

// encodeCoded builds the coded index value of row in table.
func encodeCoded(kind, table int, row uint32) uint32 {
	ci := codedIndexes[kind]
	for tag, t := range ci.tables {
		if t == table {
			return row<<uint(ci.tagBits) | uint32(tag)
		}
	}
	return 0
}
