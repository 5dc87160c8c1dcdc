package mrt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cloudflare/fgrib/messages"
	"github.com/cloudflare/fgrib/prefix"
	"github.com/cloudflare/fgrib/rib"
)

type dumpWalkArgs struct {
	peers   *MrtTableDumpV2_PeerIndex
	index   map[string]uint16
	records []Mrt
	iter    uint32
	curtime time.Time
	err     error
}

func (args *dumpWalkArgs) peerIndex(rt rib.Route) uint16 {
	if i, ok := args.index[rt.Neighbor]; ok {
		return i
	}
	var asn uint32
	if len(rt.Path) > 0 {
		asn = rt.Path[0]
	}
	ip := net.ParseIP(rt.Neighbor)
	i := args.peers.AddPeer(ip, asn, ip)
	args.index[rt.Neighbor] = i
	return i
}

func (args *dumpWalkArgs) dumpWalk(key rib.Key, routes []rib.Route) bool {
	dump := NewMrtTableDumpV2_Rib(args.iter, messages.NewNLRI(key.Bits, key.Len), args.curtime)
	for i := range routes {
		attrs := []messages.BGPAttributeIf{
			messages.BGPAttribute_ORIGIN{Origin: messages.ORIGIN_IGP},
			messages.ASPathFromRoute(routes[i].Path),
			messages.BGPAttribute_NEXTHOP{NextHop: net.ParseIP(routes[i].Neighbor)},
		}
		var size int
		for j := range attrs {
			size += attrs[j].Len()
		}
		if size > 0xffff {
			args.err = fmt.Errorf("DumpRib: attributes of %v from %v are %v bytes, more than an MRT entry holds", key, routes[i].Neighbor, size)
			return true
		}
		dump.AddEntry(args.peerIndex(routes[i]), args.curtime, attrs)
	}
	args.records = append(args.records, dump)
	args.iter++
	return false
}

// DumpRib writes the RIB as an MRT TABLE_DUMP_V2 file: a peer index table
// followed by one RIB_IPV4_UNICAST record per stored prefix. Neighbors that are
// not IPv4 addresses are written as 0.0.0.0. Nothing is written when a route's
// attributes do not fit the 16-bit entry length.
func DumpRib(w io.Writer, r rib.Rib, collector net.IP, view string, ts time.Time) error {
	args := &dumpWalkArgs{
		peers:   NewMrtTableDumpV2_PeerIndex(collector, view, ts),
		index:   make(map[string]uint16),
		curtime: ts,
	}
	r.Walk(args.dumpWalk)
	if args.err != nil {
		return args.err
	}

	if len(args.peers.Peers) > 0xffff {
		return fmt.Errorf("DumpRib: too many peers: %v", len(args.peers.Peers))
	}

	var buf bytes.Buffer
	args.peers.Write(&buf)
	for i := range args.records {
		args.records[i].Write(&buf)
	}
	_, err := buf.WriteTo(w)
	return err
}

// DecodeRib reads a dump written by DumpRib back into routes. Prefixes come
// back masked to their length.
func DecodeRib(rd io.Reader) ([]rib.Route, error) {
	var peers *MrtTableDumpV2_PeerIndex
	routes := make([]rib.Route, 0)
	for {
		m, err := DecodeSingle(rd)
		if errors.Is(err, io.EOF) {
			return routes, nil
		}
		if err != nil {
			return routes, err
		}

		switch rec := m.(type) {
		case *MrtTableDumpV2_PeerIndex:
			peers = rec
		case *MrtTableDumpV2_Rib:
			if peers == nil {
				return routes, errors.New("DecodeRib: RIB record before peer index table")
			}
			for _, entry := range rec.RibEntries {
				if int(entry.PeerIndex) >= len(peers.Peers) {
					return routes, fmt.Errorf("DecodeRib: unknown peer index %v", entry.PeerIndex)
				}
				routes = append(routes, rib.Route{
					Neighbor:  peers.Peers[entry.PeerIndex].IP.String(),
					Prefix:    prefix.FromBits(rec.NLRI.Bits),
					PrefixLen: int(rec.NLRI.Len),
					Path:      entry.ASPath(),
				})
			}
		}
	}
}
