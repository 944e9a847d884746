package clrmetatest

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	maxNarrowRows = 2047
	maxNarrowHeap = 0xFFFF
)

type stringHeap struct {
	buf   []byte
	index map[string]uint32
}

func newStringHeap() *stringHeap {
	return &stringHeap{buf: []byte{0}, index: map[string]uint32{"": 0}}
}

func (h *stringHeap) add(s string) uint32 {
	if i, ok := h.index[s]; ok {
		return i
	}
	i := uint32(len(h.buf))
	h.buf = append(append(h.buf, s...), 0)
	h.index[s] = i
	return i
}

type blobHeap struct {
	buf   []byte
	index map[string]uint32
}

func newBlobHeap() *blobHeap {
	return &blobHeap{buf: []byte{0}, index: map[string]uint32{}}
}

func (h *blobHeap) add(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	if i, ok := h.index[string(b)]; ok {
		return i
	}
	i := uint32(len(h.buf))
	h.buf = append(append(h.buf, compress(uint32(len(b)))...), b...)
	h.index[string(b)] = i
	return i
}

func compress(n uint32) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n < 0x4000:
		return []byte{byte(n>>8) | 0x80, byte(n)}
	default:
		return []byte{byte(n>>24) | 0xC0, byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

func serString(s string) []byte {
	return append(compress(uint32(len(s))), s...)
}

type table struct {
	id     int
	widths []int
	rows   [][]uint32
}

func (t *table) add(values ...uint32) {
	if len(values) != len(t.widths) {
		panic(fmt.Sprintf("clrmetatest: table 0x%02x expects %d columns, got %d", t.id, len(t.widths), len(values)))
	}
	t.rows = append(t.rows, values)
}

func (a *Assembly) metadata() ([]byte, error) {
	methodRow, fieldRow := 1, 1
	for _, t := range a.types {
		t.methodList, t.fieldList = methodRow, fieldRow
		for _, m := range t.methods {
			m.row = methodRow
			methodRow++
		}
		fieldRow += len(t.fields)
	}

	strs, blobs := newStringHeap(), newBlobHeap()

	module := &table{id: 0x00, widths: []int{2, 2, 2, 2, 2}}
	module.add(0, strs.add(a.name+".dll"), 1, 0, 0)

	typeDef := &table{id: 0x02, widths: []int{4, 2, 2, 2, 2, 2}}
	fields := &table{id: 0x04, widths: []int{2, 2, 2}}
	methods := &table{id: 0x06, widths: []int{4, 2, 2, 2, 2, 2}}
	nested := &table{id: 0x29, widths: []int{2, 2}}
	generics := &table{id: 0x2A, widths: []int{2, 2, 2, 2}}
	attrs := &table{id: 0x0C, widths: []int{2, 2, 2}}

	addAttrs := func(parent uint32, list []*Attr) {
		for _, at := range list {
			attrs.add(parent, at.ctor.coded(), blobs.add(a.attrValue(at)))
		}
	}

	for _, t := range a.types {
		var ext uint32
		if t.extends != nil {
			ext = t.extends.typeDefOrRef()
		}
		typeDef.add(t.flags, strs.add(t.name), strs.add(t.ns), ext, uint32(t.fieldList), uint32(t.methodList))
		for _, f := range t.fields {
			fields.add(uint32(f.flags), strs.add(f.name), blobs.add([]byte{0x06, f.elem}))
		}
		for _, m := range t.methods {
			methods.add(0, 0, uint32(m.flags), strs.add(m.name), blobs.add(a.methodSig(m)), 1)
		}
		if t.enclosing != nil {
			nested.add(uint32(t.row), uint32(t.enclosing.row))
		}
		for i, g := range t.generic {
			generics.add(uint32(i), 0, uint32(t.row)<<1, strs.add(g))
		}
	}
	for _, t := range a.types {
		for _, m := range t.methods {
			for i, g := range m.generic {
				generics.add(uint32(i), 0, uint32(m.row)<<1|1, strs.add(g))
			}
		}
	}

	memberRef := &table{id: 0x0A, widths: []int{2, 2, 2}}
	for _, c := range a.ctors {
		sig := append([]byte{0x20}, compress(uint32(len(c.params)))...)
		sig = append(sig, 0x01)
		for _, p := range c.params {
			sig = append(sig, a.sigBytes(p)...)
		}
		memberRef.add(memberRefParent(c.owner), strs.add(".ctor"), blobs.add(sig))
	}

	if len(a.attrs) > 0 {
		addAttrs(1<<5|14, a.attrs)
	}
	for _, t := range a.types {
		addAttrs(uint32(t.row)<<5|3, t.attrs)
		for _, m := range t.methods {
			addAttrs(uint32(m.row)<<5, m.attrs)
		}
	}

	typeSpec := &table{id: 0x1B, widths: []int{2}}
	for _, s := range a.specs {
		b := append([]byte{0x15, elemClass}, compress(s.def.typeDefOrRef())...)
		b = append(b, compress(uint32(len(s.args)))...)
		for _, p := range s.args {
			b = append(b, a.sigBytes(p)...)
		}
		typeSpec.add(blobs.add(b))
	}

	assembly := &table{id: 0x20, widths: []int{4, 2, 2, 2, 2, 4, 2, 2, 2}}
	v := a.version
	assembly.add(0x8004, uint32(v[0]), uint32(v[1]), uint32(v[2]), uint32(v[3]), 0, 0, strs.add(a.name), 0)

	assemblyRef := &table{id: 0x23, widths: []int{2, 2, 2, 2, 4, 2, 2, 2, 2}}
	for _, r := range a.refs {
		rv := r.version
		assemblyRef.add(uint32(rv[0]), uint32(rv[1]), uint32(rv[2]), uint32(rv[3]), 0, 0, strs.add(r.name), 0, 0)
	}

	exported := &table{id: 0x27, widths: []int{4, 4, 2, 2, 2}}
	for _, f := range a.forwards {
		exported.add(0x00200000, 0, strs.add(f.name), strs.add(f.ns), uint32(f.ref.row)<<2|1)
	}

	// signatures may add the System.Type reference, so type references go last
	typeRef := &table{id: 0x01, widths: []int{2, 2, 2}}
	for _, r := range a.typeRefs {
		typeRef.add(r.scope, strs.add(r.name), strs.add(r.ns))
	}

	tables := []*table{module, typeRef, typeDef, fields, methods, memberRef, attrs, typeSpec, assembly, assemblyRef, exported, nested, generics}
	for _, t := range tables {
		if len(t.rows) > maxNarrowRows {
			return nil, fmt.Errorf("table 0x%02x has %d rows; only narrow indexes are supported", t.id, len(t.rows))
		}
	}
	if len(strs.buf) > maxNarrowHeap || len(blobs.buf) > maxNarrowHeap {
		return nil, fmt.Errorf("heaps exceed %d bytes", maxNarrowHeap)
	}

	guid := make([]byte, 16)
	guid[0] = 1
	return metadataRoot([]stream{
		{name: "#~", data: tablesStream(tables)},
		{name: "#Strings", data: strs.buf},
		{name: "#GUID", data: guid},
		{name: "#Blob", data: blobs.buf},
	}), nil
}

func (c *Ctor) coded() uint32 {
	if c.local != nil {
		return uint32(c.local.row)<<3 | 2
	}
	return uint32(c.row)<<3 | 3
}

func memberRefParent(tok TypeToken) uint32 {
	switch t := tok.(type) {
	case *Type:
		return uint32(t.row) << 3
	case *TypeRef:
		return uint32(t.row)<<3 | 1
	case *TypeSpec:
		return uint32(t.row)<<3 | 4
	}
	panic(fmt.Sprintf("clrmetatest: unsupported member parent %T", tok))
}

func tablesStream(tables []*table) []byte {
	var valid uint64
	for _, t := range tables {
		if len(t.rows) > 0 {
			valid |= 1 << uint(t.id)
		}
	}
	out := make([]byte, 24)
	out[4], out[5], out[7] = 2, 0, 1
	binary.LittleEndian.PutUint64(out[8:], valid)

	// rows follow the counts in ascending table order
	ordered := make([]*table, 0, len(tables))
	for id := 0; id < 64; id++ {
		for _, t := range tables {
			if t.id == id && len(t.rows) > 0 {
				ordered = append(ordered, t)
			}
		}
	}
	for _, t := range ordered {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(t.rows)))
	}
	for _, t := range ordered {
		for _, row := range t.rows {
			for i, v := range row {
				if t.widths[i] == 4 {
					out = binary.LittleEndian.AppendUint32(out, v)
				} else {
					out = binary.LittleEndian.AppendUint16(out, uint16(v))
				}
			}
		}
	}
	return pad4(out)
}

type stream struct {
	name string
	data []byte
}

func metadataRoot(streams []stream) []byte {
	const version = "v4.0.30319\x00\x00"
	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + align4(len(s.name)+1)
	}

	out := binary.LittleEndian.AppendUint32(nil, 0x424A5342)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(version)))
	out = append(out, version...)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(streams)))

	offset := headerSize
	for _, s := range streams {
		size := align4(len(s.data))
		out = binary.LittleEndian.AppendUint32(out, uint32(offset))
		out = binary.LittleEndian.AppendUint32(out, uint32(size))
		name := make([]byte, align4(len(s.name)+1))
		copy(name, s.name)
		out = append(out, name...)
		offset += size
	}
	for _, s := range streams {
		out = append(out, pad4(append([]byte(nil), s.data...))...)
	}
	return out
}

func align4(n int) int { return (n + 3) &^ 3 }

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func (a *Assembly) methodSig(m *Method) []byte {
	var conv byte = 0x20
	if m.flags&methodStatic != 0 {
		conv = 0
	}
	var sig []byte
	if len(m.generic) > 0 {
		sig = append([]byte{conv | 0x10}, compress(uint32(len(m.generic)))...)
	} else {
		sig = []byte{conv}
	}
	sig = append(sig, compress(uint32(len(m.params)))...)
	sig = append(sig, 0x01)
	for _, p := range m.params {
		sig = append(sig, a.sigBytes(p)...)
	}
	return sig
}

// sigBytes encodes p as it appears in a method signature.
func (a *Assembly) sigBytes(p ParamType) []byte {
	switch p.elem {
	case elemType:
		return append([]byte{elemClass}, compress(a.systemTypeRef().typeDefOrRef())...)
	case elemSZArray:
		return append([]byte{elemSZArray}, a.sigBytes(*p.inner)...)
	case elemEnum:
		return append([]byte{elemValue}, compress(p.tok.typeDefOrRef())...)
	case elemClass:
		return append([]byte{elemClass}, compress(p.tok.typeDefOrRef())...)
	}
	return []byte{p.elem}
}

// fieldOrPropType encodes p as it appears before named and boxed values.
func fieldOrPropType(p ParamType) []byte {
	switch p.elem {
	case elemObject:
		return []byte{elemBoxed}
	case elemSZArray:
		return append([]byte{elemSZArray}, fieldOrPropType(*p.inner)...)
	case elemEnum:
		return append([]byte{elemEnum}, serString(p.tok.serializedName())...)
	}
	return []byte{p.elem}
}

func (a *Assembly) attrValue(at *Attr) []byte {
	if at.isRaw {
		return at.raw
	}
	if len(at.args) != len(at.ctor.params) {
		panic(fmt.Sprintf("clrmetatest: constructor takes %d arguments, got %d", len(at.ctor.params), len(at.args)))
	}
	out := []byte{0x01, 0x00}
	for i, p := range at.ctor.params {
		out = encodeValue(out, p, at.args[i])
	}
	out = binary.LittleEndian.AppendUint16(out, uint16(len(at.named)))
	for _, n := range at.named {
		out = append(out, n.kind)
		out = append(out, fieldOrPropType(n.typ)...)
		out = append(out, serString(n.name)...)
		out = encodeValue(out, n.typ, n.value)
	}
	return out
}

func encodeValue(out []byte, p ParamType, v any) []byte {
	switch p.elem {
	case elemBool:
		if v.(bool) {
			return append(out, 1)
		}
		return append(out, 0)
	case elemU1:
		return append(out, byte(toInt64(v)))
	case elemI4:
		return binary.LittleEndian.AppendUint32(out, uint32(int32(toInt64(v))))
	case elemI8:
		return binary.LittleEndian.AppendUint64(out, uint64(toInt64(v)))
	case elemString, elemType:
		if v == nil {
			return append(out, 0xFF)
		}
		return append(out, serString(v.(string))...)
	case elemEnum:
		n := toInt64(v)
		switch p.size {
		case 1:
			return append(out, byte(n))
		case 2:
			return binary.LittleEndian.AppendUint16(out, uint16(n))
		case 8:
			return binary.LittleEndian.AppendUint64(out, uint64(n))
		}
		return binary.LittleEndian.AppendUint32(out, uint32(n))
	case elemObject:
		return encodeBoxed(out, v)
	case elemSZArray:
		items, ok := toSlice(v)
		if !ok {
			return binary.LittleEndian.AppendUint32(out, math.MaxUint32)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(items)))
		for _, item := range items {
			out = encodeValue(out, *p.inner, item)
		}
		return out
	}
	panic(fmt.Sprintf("clrmetatest: cannot encode element type 0x%02x", p.elem))
}

func encodeBoxed(out []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(out, elemString, 0xFF)
	case string:
		return append(append(out, elemString), serString(x)...)
	case bool:
		return encodeValue(append(out, elemBool), Bool, x)
	case int, int32:
		return encodeValue(append(out, elemI4), Int32, x)
	case int64:
		return encodeValue(append(out, elemI8), Int64, x)
	case []any:
		out = append(out, elemSZArray, elemBoxed)
		return encodeValue(out, ArrayOf(Object), x)
	}
	panic(fmt.Sprintf("clrmetatest: cannot box %T", v))
}

func toSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return items, true
	}
	return nil, false
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	}
	panic(fmt.Sprintf("clrmetatest: %T is not an integer", v))
}
