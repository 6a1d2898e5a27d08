package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	dtbHeaderSize  = 0x28
	dtbVersion     = 17
	dtbLastCompVer = 16
	dtbMagic       = 0xd00dfeed

	dtbBeginNodeToken = 0x1
	dtbEndNodeToken   = 0x2
	dtbPropToken      = 0x3
	dtbNopToken       = 0x4
	dtbEndToken       = 0x9
)

// Build serializes the node tree into a flattened device tree blob.
func Build(root Node) ([]byte, error) {
	b := &dtbWriter{stringsOff: make(map[string]uint32)}
	if err := b.emitNode(root); err != nil {
		return nil, err
	}
	return b.finish(), nil
}

type dtbWriter struct {
	structBuf  bytes.Buffer
	strings    bytes.Buffer
	stringsOff map[string]uint32
}

func (b *dtbWriter) emitNode(n Node) error {
	b.writeToken(dtbBeginNodeToken)
	b.structBuf.WriteString(n.Name)
	b.structBuf.WriteByte(0)
	b.pad()

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := encodeProperty(name, n.Properties[name])
		if err != nil {
			return err
		}
		b.writeToken(dtbPropToken)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(data)))
		b.structBuf.Write(tmp[:])
		binary.BigEndian.PutUint32(tmp[:], b.stringOffset(name))
		b.structBuf.Write(tmp[:])
		b.structBuf.Write(data)
		b.pad()
	}

	for _, child := range n.Children {
		if err := b.emitNode(child); err != nil {
			return err
		}
	}

	b.writeToken(dtbEndNodeToken)
	return nil
}

func encodeProperty(name string, prop Property) ([]byte, error) {
	if prop.DefinedCount() > 1 {
		return nil, fmt.Errorf("fdt: property %q has multiple value kinds", name)
	}
	switch prop.Kind() {
	case "strings":
		var buf bytes.Buffer
		for _, v := range prop.Strings {
			buf.WriteString(v)
			buf.WriteByte(0)
		}
		return buf.Bytes(), nil
	case "u32":
		data := make([]byte, len(prop.U32)*4)
		for i, v := range prop.U32 {
			binary.BigEndian.PutUint32(data[i*4:], v)
		}
		return data, nil
	case "u64":
		data := make([]byte, len(prop.U64)*8)
		for i, v := range prop.U64 {
			binary.BigEndian.PutUint64(data[i*8:], v)
		}
		return data, nil
	case "bytes":
		return prop.Bytes, nil
	case "flag", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("fdt: property %q has unsupported kind %q", name, prop.Kind())
	}
}

func (b *dtbWriter) finish() []byte {
	b.writeToken(dtbEndToken)
	b.pad()

	structBytes := b.structBuf.Bytes()
	stringsBytes := b.strings.Bytes()

	memReserve := make([]byte, 16)

	offMemReserve := dtbHeaderSize
	offStruct := offMemReserve + len(memReserve)
	offStrings := offStruct + len(structBytes)
	totalSize := offStrings + len(stringsBytes)

	blob := make([]byte, totalSize)
	header := blob[:dtbHeaderSize]
	binary.BigEndian.PutUint32(header[0:4], dtbMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(totalSize))
	binary.BigEndian.PutUint32(header[8:12], uint32(offStruct))
	binary.BigEndian.PutUint32(header[12:16], uint32(offStrings))
	binary.BigEndian.PutUint32(header[16:20], uint32(offMemReserve))
	binary.BigEndian.PutUint32(header[20:24], dtbVersion)
	binary.BigEndian.PutUint32(header[24:28], dtbLastCompVer)
	binary.BigEndian.PutUint32(header[28:32], 0)
	binary.BigEndian.PutUint32(header[32:36], uint32(len(stringsBytes)))
	binary.BigEndian.PutUint32(header[36:40], uint32(len(structBytes)))

	copy(blob[offMemReserve:], memReserve)
	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob
}

func (b *dtbWriter) stringOffset(name string) uint32 {
	if off, ok := b.stringsOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringsOff[name] = off
	return off
}

func (b *dtbWriter) writeToken(token uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], token)
	b.structBuf.Write(tmp[:])
}

func (b *dtbWriter) pad() {
	for b.structBuf.Len()%4 != 0 {
		b.structBuf.WriteByte(0)
	}
}

// Parse decodes a flattened device tree blob into a node tree. Property
// values come back as raw bytes; the typed accessors on Node decode cells
// and strings on demand.
func Parse(blob []byte) (Node, error) {
	if len(blob) < dtbHeaderSize {
		return Node{}, fmt.Errorf("fdt: blob of %d bytes is too short", len(blob))
	}
	if magic := binary.BigEndian.Uint32(blob[0:4]); magic != dtbMagic {
		return Node{}, fmt.Errorf("fdt: bad magic %#x", magic)
	}
	total := binary.BigEndian.Uint32(blob[4:8])
	if int(total) > len(blob) {
		return Node{}, fmt.Errorf("fdt: header claims %d bytes, have %d", total, len(blob))
	}
	offStruct := binary.BigEndian.Uint32(blob[8:12])
	offStrings := binary.BigEndian.Uint32(blob[12:16])
	sizeStrings := binary.BigEndian.Uint32(blob[32:36])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])

	if int(offStruct)+int(sizeStruct) > len(blob) || int(offStrings)+int(sizeStrings) > len(blob) {
		return Node{}, fmt.Errorf("fdt: block offsets exceed blob size")
	}

	p := &dtbParser{
		structBuf: blob[offStruct : offStruct+sizeStruct],
		strings:   blob[offStrings : offStrings+sizeStrings],
	}

	if tok, err := p.token(); err != nil {
		return Node{}, err
	} else if tok != dtbBeginNodeToken {
		return Node{}, fmt.Errorf("fdt: structure does not start with a node")
	}
	root, err := p.parseNode()
	if err != nil {
		return Node{}, err
	}
	if tok, err := p.token(); err != nil || tok != dtbEndToken {
		return Node{}, fmt.Errorf("fdt: missing end token")
	}
	return root, nil
}

type dtbParser struct {
	structBuf []byte
	strings   []byte
	off       int
}

// parseNode is entered after the begin-node token has been consumed.
func (p *dtbParser) parseNode() (Node, error) {
	name, err := p.cstring()
	if err != nil {
		return Node{}, err
	}
	p.align()

	node := Node{Name: name}
	for {
		tok, err := p.token()
		if err != nil {
			return Node{}, err
		}
		switch tok {
		case dtbPropToken:
			if p.off+8 > len(p.structBuf) {
				return Node{}, fmt.Errorf("fdt: truncated property in %q", name)
			}
			length := binary.BigEndian.Uint32(p.structBuf[p.off:])
			nameOff := binary.BigEndian.Uint32(p.structBuf[p.off+4:])
			p.off += 8
			if p.off+int(length) > len(p.structBuf) {
				return Node{}, fmt.Errorf("fdt: truncated property value in %q", name)
			}
			value := append([]byte(nil), p.structBuf[p.off:p.off+int(length)]...)
			p.off += int(length)
			p.align()

			propName, err := p.stringAt(nameOff)
			if err != nil {
				return Node{}, err
			}
			if length == 0 {
				node.SetProp(propName, Property{Flag: true})
			} else {
				node.SetProp(propName, Property{Bytes: value})
			}
		case dtbBeginNodeToken:
			child, err := p.parseNode()
			if err != nil {
				return Node{}, err
			}
			node.Children = append(node.Children, child)
		case dtbEndNodeToken:
			return node, nil
		case dtbNopToken:
			// skip
		default:
			return Node{}, fmt.Errorf("fdt: unexpected token %#x in %q", tok, name)
		}
	}
}

func (p *dtbParser) token() (uint32, error) {
	if p.off+4 > len(p.structBuf) {
		return 0, fmt.Errorf("fdt: truncated structure block")
	}
	tok := binary.BigEndian.Uint32(p.structBuf[p.off:])
	p.off += 4
	return tok, nil
}

func (p *dtbParser) cstring() (string, error) {
	end := bytes.IndexByte(p.structBuf[p.off:], 0)
	if end < 0 {
		return "", fmt.Errorf("fdt: unterminated name")
	}
	s := string(p.structBuf[p.off : p.off+end])
	p.off += end + 1
	return s, nil
}

func (p *dtbParser) stringAt(off uint32) (string, error) {
	if int(off) >= len(p.strings) {
		return "", fmt.Errorf("fdt: string offset %d out of range", off)
	}
	end := bytes.IndexByte(p.strings[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("fdt: unterminated string at %d", off)
	}
	return string(p.strings[off : int(off)+end]), nil
}

func (p *dtbParser) align() {
	for p.off%4 != 0 {
		p.off++
	}
}
