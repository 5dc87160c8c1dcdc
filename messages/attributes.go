package messages

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

type BGPAttribute_NEXTHOP struct {
	NextHop net.IP
}

type BGPAttribute_ORIGIN struct {
	Origin byte
}

type ASPath_Segment struct {
	SType  byte
	ASPath []uint32
}

type BGPAttribute_ASPATH struct {
	Segments []ASPath_Segment
}

type BGPAttributeIf SerializableInterface

// Attributes not decoded are kept as-is.
type BGPAttribute struct {
	Flags byte
	Code  byte
	Data  []byte
}

// ASPathFromRoute builds a single AS_SEQUENCE out of a route's path.
func ASPathFromRoute(path []uint32) BGPAttribute_ASPATH {
	if len(path) == 0 {
		return BGPAttribute_ASPATH{}
	}
	aspath := make([]uint32, len(path))
	copy(aspath, path)
	return BGPAttribute_ASPATH{
		Segments: []ASPath_Segment{{SType: ASPATH_SEQUENCE, ASPath: aspath}},
	}
}

// Flatten concatenates every segment, in order.
func (m BGPAttribute_ASPATH) Flatten() []uint32 {
	path := make([]uint32, 0)
	for i := range m.Segments {
		path = append(path, m.Segments[i].ASPath...)
	}
	return path
}

func (m BGPAttribute_ORIGIN) String() string {
	return fmt.Sprintf("Origin: %v", OriginToStr[m.Origin])
}

func (m BGPAttribute_NEXTHOP) String() string {
	return fmt.Sprintf("NextHop: %v", m.NextHop)
}

func (m BGPAttribute_ASPATH) String() string {
	return fmt.Sprintf("ASPath: %v", m.Segments)
}

func (m ASPath_Segment) String() string {
	return fmt.Sprintf("Segment (type: %v | len: %v): %v", m.SType, len(m.ASPath), m.ASPath)
}

func (m BGPAttribute) String() string {
	name, ok := BgpAttributes[int(m.Code)]
	if !ok {
		name = fmt.Sprintf("%v", m.Code)
	}
	return fmt.Sprintf("Attribute %v (flags: %x): %v", name, m.Flags, m.Data)
}

func AttributeHeaderLen(size int) int {
	if size > 0xff {
		return 4
	}
	return 3
}

func WriteAttributeHeader(bw io.Writer, size int, attrflag byte, attrcode byte) {
	var extended byte
	if size > 0xff {
		extended = ATTRIBUTE_EXTENDED
	}
	binary.Write(bw, binary.BigEndian, byte(attrflag|extended))
	binary.Write(bw, binary.BigEndian, attrcode)
	if extended != 0 {
		binary.Write(bw, binary.BigEndian, uint16(size))
	} else {
		binary.Write(bw, binary.BigEndian, byte(size))
	}
}

func (m BGPAttribute_ORIGIN) Len() int {
	return AttributeHeaderLen(1) + 1
}

func (m BGPAttribute_ORIGIN) Write(bw io.Writer) {
	WriteAttributeHeader(bw, 1, ATTRIBUTE_TRANSITIVE, ATTRIBUTE_ORIGIN)
	binary.Write(bw, binary.BigEndian, m.Origin)
}

func (m BGPAttribute_NEXTHOP) Len() int {
	return AttributeHeaderLen(4) + 4
}

func (m BGPAttribute_NEXTHOP) Write(bw io.Writer) {
	WriteAttributeHeader(bw, 4, ATTRIBUTE_TRANSITIVE, ATTRIBUTE_NEXTHOP)
	nh := m.NextHop.To4()
	if nh == nil {
		nh = net.IPv4zero.To4()
	}
	bw.Write(nh)
}

func (m BGPAttribute) Len() int {
	return AttributeHeaderLen(len(m.Data)) + len(m.Data)
}

func (m BGPAttribute) Write(bw io.Writer) {
	WriteAttributeHeader(bw, len(m.Data), m.Flags&^ATTRIBUTE_EXTENDED, m.Code)
	bw.Write(m.Data)
}

func (m BGPAttribute_ASPATH) Len() int {
	size := m.LenContent()
	return AttributeHeaderLen(size) + size
}

func (m BGPAttribute_ASPATH) LenContent() int {
	var size int
	for i := range m.Segments {
		size += m.Segments[i].LenContent()
	}
	return size
}

func (m BGPAttribute_ASPATH) Write(bw io.Writer) {
	WriteAttributeHeader(bw, m.LenContent(), ATTRIBUTE_TRANSITIVE, ATTRIBUTE_ASPATH)
	for i := range m.Segments {
		m.Segments[i].Write(bw)
	}
}

// A segment holds at most 255 ASNs; longer paths are split.
func (m ASPath_Segment) LenSets() int {
	aspathlen := len(m.ASPath)
	itera := aspathlen / 0xff
	if aspathlen%0xff != 0 {
		itera += 1
	}
	return itera
}

func (m ASPath_Segment) LenContent() int {
	if len(m.ASPath) == 0 {
		return 0
	}
	return 2*m.LenSets() + 4*len(m.ASPath)
}

func (m ASPath_Segment) Write(bw io.Writer) {
	if len(m.ASPath) == 0 {
		return
	}

	for i := 0; i < m.LenSets(); i++ {
		start := 0xff * i
		end := start + 0xff
		if end > len(m.ASPath) {
			end = len(m.ASPath)
		}
		binary.Write(bw, binary.BigEndian, m.SType)
		binary.Write(bw, binary.BigEndian, byte(end-start))
		binary.Write(bw, binary.BigEndian, m.ASPath[start:end])
	}
}

func parseASPath(data []byte) (BGPAttribute_ASPATH, error) {
	a := BGPAttribute_ASPATH{Segments: make([]ASPath_Segment, 0)}
	buf := bytes.NewBuffer(data)
	for buf.Len() > 0 {
		if buf.Len() < 2 {
			return a, errors.New("ParsePathAttributes: truncated AS_PATH segment header")
		}
		stype, _ := buf.ReadByte()
		aslen, _ := buf.ReadByte()
		if buf.Len() < 4*int(aslen) {
			return a, fmt.Errorf("ParsePathAttributes: truncated AS_PATH segment: %v < %v", buf.Len(), 4*int(aslen))
		}
		s := ASPath_Segment{SType: stype, ASPath: make([]uint32, aslen)}
		binary.Read(buf, binary.BigEndian, s.ASPath)
		a.Segments = append(a.Segments, s)
	}
	return a, nil
}

// ParsePathAttributes decodes a sequence of path attributes with 4-byte ASNs.
func ParsePathAttributes(b []byte) ([]BGPAttributeIf, error) {
	attributes := make([]BGPAttributeIf, 0)
	i := 0
	for i < len(b) {
		if i+3 > len(b) {
			return attributes, fmt.Errorf("ParsePathAttributes: truncated header at %v", i)
		}
		attrflag := b[i]
		attrcode := b[i+1]
		length := int(b[i+2])
		offset := 3
		if attrflag&ATTRIBUTE_EXTENDED != 0 {
			if i+4 > len(b) {
				return attributes, fmt.Errorf("ParsePathAttributes: wrong extended size at %v", i)
			}
			length = int(binary.BigEndian.Uint16(b[i+2 : i+4]))
			offset = 4
		}
		if i+offset+length > len(b) {
			return attributes, fmt.Errorf("ParsePathAttributes: wrong size: %v > %v", i+offset+length, len(b))
		}
		data := b[i+offset : i+offset+length]
		i += offset + length

		switch attrcode {
		case ATTRIBUTE_ORIGIN:
			if len(data) != 1 {
				return attributes, errors.New("ParsePathAttributes: wrong ORIGIN length")
			}
			attributes = append(attributes, BGPAttribute_ORIGIN{Origin: data[0]})
		case ATTRIBUTE_ASPATH:
			a, err := parseASPath(data)
			if err != nil {
				return attributes, err
			}
			attributes = append(attributes, a)
		case ATTRIBUTE_NEXTHOP:
			if len(data) != 4 {
				return attributes, errors.New("ParsePathAttributes: wrong NEXT_HOP length")
			}
			nh := make(net.IP, 4)
			copy(nh, data)
			attributes = append(attributes, BGPAttribute_NEXTHOP{NextHop: nh})
		default:
			raw := make([]byte, len(data))
			copy(raw, data)
			attributes = append(attributes, BGPAttribute{Flags: attrflag, Code: attrcode, Data: raw})
		}
	}
	return attributes, nil
}
