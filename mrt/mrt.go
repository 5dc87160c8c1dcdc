package mrt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cloudflare/fgrib/messages"
)

const (
	TYPE_TABLE_DUMPV2 = 13

	SUBT_TABLE_DUMPV2_PEER_INDEX_TABLE = 1
	SUBT_TABLE_DUMPV2_RIB_IPV4_UNICAST = 2

	HEADER_LEN = 12
)

type Mrt interface {
	Write(io.Writer)
	Len() int
}

func WriteCommonHeader(buf io.Writer, timestamp time.Time, mrttype uint16, subtype uint16, length uint32) {
	binary.Write(buf, binary.BigEndian, uint32(timestamp.Unix()))
	binary.Write(buf, binary.BigEndian, mrttype)
	binary.Write(buf, binary.BigEndian, subtype)
	binary.Write(buf, binary.BigEndian, length)
}

type Peer struct {
	Id  net.IP
	IP  net.IP
	ASN uint32
}

func ipv4OrZero(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return net.IPv4zero.To4()
}

// Peers are always IPv4. The AS field is 4 bytes unless the ASN fits in 2.
func (p *Peer) Write(buf io.Writer) {
	longasn := 1
	if p.ASN <= 0xffff {
		longasn = 0
	}

	binary.Write(buf, binary.BigEndian, byte(longasn<<1))
	buf.Write(ipv4OrZero(p.Id))
	buf.Write(ipv4OrZero(p.IP))
	if longasn == 1 {
		binary.Write(buf, binary.BigEndian, p.ASN)
	} else {
		binary.Write(buf, binary.BigEndian, uint16(p.ASN))
	}
}

func (p *Peer) Len() int {
	longasn := 4
	if p.ASN <= 0xffff {
		longasn = 2
	}
	return 1 + 4 + 4 + longasn
}

type MrtTableDumpV2_PeerIndex struct {
	Timestamp   time.Time
	CollectorId net.IP
	ViewName    string
	Peers       []*Peer
}

func NewMrtTableDumpV2_PeerIndex(collectorid net.IP, viewname string, ts time.Time) *MrtTableDumpV2_PeerIndex {
	return &MrtTableDumpV2_PeerIndex{
		Timestamp:   ts,
		CollectorId: collectorid,
		ViewName:    viewname,
		Peers:       make([]*Peer, 0),
	}
}

func (mrt *MrtTableDumpV2_PeerIndex) AddPeer(id net.IP, asn uint32, ip net.IP) uint16 {
	peer := &Peer{
		Id:  id,
		IP:  ip,
		ASN: asn,
	}
	mrt.Peers = append(mrt.Peers, peer)
	return uint16(len(mrt.Peers) - 1)
}

func (mrt *MrtTableDumpV2_PeerIndex) Write(buf io.Writer) {
	WriteCommonHeader(buf, mrt.Timestamp, TYPE_TABLE_DUMPV2, SUBT_TABLE_DUMPV2_PEER_INDEX_TABLE, uint32(mrt.Len()))
	buf.Write(ipv4OrZero(mrt.CollectorId))
	binary.Write(buf, binary.BigEndian, uint16(len(mrt.ViewName)))
	buf.Write([]byte(mrt.ViewName))
	binary.Write(buf, binary.BigEndian, uint16(len(mrt.Peers)))
	for i := range mrt.Peers {
		mrt.Peers[i].Write(buf)
	}
}

func (mrt *MrtTableDumpV2_PeerIndex) Len() int {
	totallen := 4 + 2 + len(mrt.ViewName) + 2
	for i := range mrt.Peers {
		totallen += mrt.Peers[i].Len()
	}
	return totallen
}

type RibEntry struct {
	PeerIndex  uint16
	OrigTime   time.Time
	Attributes []messages.BGPAttributeIf
}

func (entry *RibEntry) attributesLen() uint16 {
	var size uint16
	for i := range entry.Attributes {
		size += uint16(entry.Attributes[i].Len())
	}
	return size
}

func (entry *RibEntry) Write(buf io.Writer) {
	binary.Write(buf, binary.BigEndian, entry.PeerIndex)
	binary.Write(buf, binary.BigEndian, uint32(entry.OrigTime.Unix()))
	binary.Write(buf, binary.BigEndian, entry.attributesLen())
	for i := range entry.Attributes {
		entry.Attributes[i].Write(buf)
	}
}

func (entry *RibEntry) Len() uint32 {
	return uint32(2+4+2) + uint32(entry.attributesLen())
}

// ASPath returns the flattened AS_PATH of the entry, or nil without one.
func (entry *RibEntry) ASPath() []uint32 {
	for i := range entry.Attributes {
		if a, ok := entry.Attributes[i].(messages.BGPAttribute_ASPATH); ok {
			return a.Flatten()
		}
	}
	return nil
}

type MrtTableDumpV2_Rib struct {
	Timestamp      time.Time
	SequenceNumber uint32
	NLRI           messages.NLRI_IPPrefix
	RibEntries     []*RibEntry
}

func NewMrtTableDumpV2_Rib(seqnum uint32, nlri messages.NLRI_IPPrefix, ts time.Time) *MrtTableDumpV2_Rib {
	return &MrtTableDumpV2_Rib{
		Timestamp:      ts,
		SequenceNumber: seqnum,
		NLRI:           nlri,
		RibEntries:     make([]*RibEntry, 0),
	}
}

func (mrt *MrtTableDumpV2_Rib) AddEntry(peerindex uint16, origtime time.Time, attributes []messages.BGPAttributeIf) {
	entry := &RibEntry{
		PeerIndex:  peerindex,
		OrigTime:   origtime,
		Attributes: attributes,
	}
	mrt.RibEntries = append(mrt.RibEntries, entry)
}

func (mrt *MrtTableDumpV2_Rib) Write(buf io.Writer) {
	WriteCommonHeader(buf, mrt.Timestamp, TYPE_TABLE_DUMPV2, SUBT_TABLE_DUMPV2_RIB_IPV4_UNICAST, uint32(mrt.Len()))
	binary.Write(buf, binary.BigEndian, mrt.SequenceNumber)
	buf.Write(mrt.NLRI.Bytes())
	binary.Write(buf, binary.BigEndian, uint16(len(mrt.RibEntries)))
	for i := range mrt.RibEntries {
		mrt.RibEntries[i].Write(buf)
	}
}

func (mrt *MrtTableDumpV2_Rib) Len() int {
	size := 4 + len(mrt.NLRI.Bytes()) + 2
	for i := range mrt.RibEntries {
		size += int(mrt.RibEntries[i].Len())
	}
	return size
}

func decodeRibEntry(buf *bytes.Buffer) (*RibEntry, error) {
	if buf.Len() < 8 {
		return nil, errors.New("decodeRibEntry: truncated entry header")
	}
	var peerindex uint16
	var origints uint32
	var attrlen uint16
	binary.Read(buf, binary.BigEndian, &peerindex)
	binary.Read(buf, binary.BigEndian, &origints)
	binary.Read(buf, binary.BigEndian, &attrlen)
	if buf.Len() < int(attrlen) {
		return nil, fmt.Errorf("decodeRibEntry: truncated attributes: %v < %v", buf.Len(), attrlen)
	}
	attrs, err := messages.ParsePathAttributes(buf.Next(int(attrlen)))
	re := &RibEntry{
		PeerIndex:  peerindex,
		OrigTime:   time.Unix(int64(origints), 0),
		Attributes: attrs,
	}
	return re, err
}

func decodePeerIndex(buf *bytes.Buffer, timestamp time.Time) (*MrtTableDumpV2_PeerIndex, error) {
	if buf.Len() < 6 {
		return nil, errors.New("decodePeerIndex: truncated header")
	}
	collid := make(net.IP, 4)
	var viewnamelen uint16
	var peercount uint16

	buf.Read(collid)
	binary.Read(buf, binary.BigEndian, &viewnamelen)
	if buf.Len() < int(viewnamelen)+2 {
		return nil, errors.New("decodePeerIndex: truncated view name")
	}
	viewname := string(buf.Next(int(viewnamelen)))
	binary.Read(buf, binary.BigEndian, &peercount)

	mrt := NewMrtTableDumpV2_PeerIndex(collid, viewname, timestamp)
	for i := 0; i < int(peercount); i++ {
		if buf.Len() < 1 {
			return mrt, fmt.Errorf("decodePeerIndex: truncated peer %v", i)
		}
		peertype, _ := buf.ReadByte()
		sizeip := 4
		sizeasn := 2
		if peertype&0x2 != 0 {
			sizeasn = 4
		}
		if peertype&0x1 != 0 {
			sizeip = 16
		}
		if buf.Len() < 4+sizeip+sizeasn {
			return mrt, fmt.Errorf("decodePeerIndex: truncated peer %v", i)
		}
		bgpid := make(net.IP, 4)
		peerip := make(net.IP, sizeip)
		buf.Read(bgpid)
		buf.Read(peerip)

		var asn uint32
		if sizeasn == 2 {
			asn = uint32(binary.BigEndian.Uint16(buf.Next(2)))
		} else {
			asn = binary.BigEndian.Uint32(buf.Next(4))
		}
		mrt.AddPeer(bgpid, asn, peerip)
	}
	return mrt, nil
}

func decodeRibIPv4Unicast(buf *bytes.Buffer, timestamp time.Time) (*MrtTableDumpV2_Rib, error) {
	if buf.Len() < 4 {
		return nil, errors.New("decodeRibIPv4Unicast: truncated header")
	}
	var seqnum uint32
	binary.Read(buf, binary.BigEndian, &seqnum)

	nlri, size, err := messages.ParseNLRI(buf.Bytes())
	if err != nil {
		return nil, err
	}
	buf.Next(size)

	mrt := NewMrtTableDumpV2_Rib(seqnum, nlri, timestamp)
	if buf.Len() < 2 {
		return mrt, errors.New("decodeRibIPv4Unicast: missing entry count")
	}
	var entrycount uint16
	binary.Read(buf, binary.BigEndian, &entrycount)
	for i := 0; i < int(entrycount); i++ {
		entry, err := decodeRibEntry(buf)
		if entry != nil {
			mrt.RibEntries = append(mrt.RibEntries, entry)
		}
		if err != nil {
			return mrt, err
		}
	}
	return mrt, nil
}

func DecodeBGP4TD2(buf *bytes.Buffer, timestamp time.Time, subtype uint16) (Mrt, error) {
	switch subtype {
	case SUBT_TABLE_DUMPV2_PEER_INDEX_TABLE:
		mrt, err := decodePeerIndex(buf, timestamp)
		if mrt == nil {
			return nil, err
		}
		return mrt, err
	case SUBT_TABLE_DUMPV2_RIB_IPV4_UNICAST:
		mrt, err := decodeRibIPv4Unicast(buf, timestamp)
		if mrt == nil {
			return nil, err
		}
		return mrt, err
	default:
		return nil, fmt.Errorf("Decoding of subtype %v of BGP4TableDumpV2 not implemented", subtype)
	}
}

// DecodeSingle reads one record. It returns io.EOF when buf is exhausted
// before a header.
func DecodeSingle(buf io.Reader) (Mrt, error) {
	header := make([]byte, HEADER_LEN)
	if _, err := io.ReadFull(buf, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.New("DecodeSingle: truncated header")
		}
		return nil, err
	}
	timestamp := time.Unix(int64(binary.BigEndian.Uint32(header[0:4])), 0)
	mrttype := binary.BigEndian.Uint16(header[4:6])
	mrtsubtype := binary.BigEndian.Uint16(header[6:8])
	mrtlength := binary.BigEndian.Uint32(header[8:12])

	// the buffer grows with the bytes actually read, not the claimed length
	tmpbuf := new(bytes.Buffer)
	n, err := io.CopyN(tmpbuf, buf, int64(mrtlength))
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("DecodeSingle: truncated record: %v of %v bytes: %w", n, mrtlength, err)
	}

	switch mrttype {
	case TYPE_TABLE_DUMPV2:
		return DecodeBGP4TD2(tmpbuf, timestamp, mrtsubtype)
	default:
		return nil, fmt.Errorf("Decoding of type %v not implemented", mrttype)
	}
}
