package messages

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/fgrib/prefix"
)

var (
	BgpAttributes = map[int]string{
		0:                 "Reserved",
		ATTRIBUTE_ORIGIN:  "ORIGIN",
		ATTRIBUTE_ASPATH:  "AS_PATH",
		ATTRIBUTE_NEXTHOP: "NEXT_HOP",
	}
	OriginToStr = map[byte]string{
		ORIGIN_IGP:        "IGP",
		ORIGIN_EGP:        "EGP",
		ORIGIN_INCOMPLETE: "INCOMPLETE",
	}
)

const (
	ATTRIBUTE_ORIGIN  = 1
	ATTRIBUTE_ASPATH  = 2
	ATTRIBUTE_NEXTHOP = 3

	ATTRIBUTE_TRANSITIVE    = 0x40
	ATTRIBUTE_TRANSITIVEOPT = 0xC0
	ATTRIBUTE_OPTIONAL      = 0x80
	ATTRIBUTE_EXTENDED      = 0x10

	ASPATH_SET      = 1
	ASPATH_SEQUENCE = 2

	ORIGIN_IGP        = 0
	ORIGIN_EGP        = 1
	ORIGIN_INCOMPLETE = 2

	AFI_IPV4 = 1

	SAFI_UNICAST = 1
)

type SerializableInterface interface {
	Write(io.Writer)
	Len() int
	String() string
}

// NLRI_IPPrefix is an IPv4 prefix in its wire form: a length octet followed by
// the significant bytes of the masked address.
type NLRI_IPPrefix struct {
	Bits uint32
	Len  byte
}

func NewNLRI(bits uint32, length int) NLRI_IPPrefix {
	return NLRI_IPPrefix{
		Bits: bits & prefix.Mask(length),
		Len:  byte(length),
	}
}

func (n NLRI_IPPrefix) String() string {
	return fmt.Sprintf("%v/%v", prefix.FromBits(n.Bits), n.Len)
}

func (n NLRI_IPPrefix) size() int {
	size := int(n.Len) / 8
	if n.Len%8 != 0 {
		size++
	}
	return size
}

func (n NLRI_IPPrefix) Bytes() []byte {
	b := make([]byte, 5)
	b[0] = n.Len
	binary.BigEndian.PutUint32(b[1:], n.Bits)
	return b[0 : 1+n.size()]
}

func (n NLRI_IPPrefix) Equals(o NLRI_IPPrefix) bool {
	return n.Len == o.Len && n.Bits == o.Bits
}

func ParseNLRI(b []byte) (NLRI_IPPrefix, int, error) {
	var n NLRI_IPPrefix
	if len(b) < 1 {
		return n, 0, errors.New("ParseNLRI: empty prefix")
	}
	n.Len = b[0]
	if n.Len > prefix.ADDR_BITS {
		return n, 0, fmt.Errorf("ParseNLRI: %w: %v", prefix.ErrInvalidPrefixLength, n.Len)
	}
	size := n.size()
	if len(b) < 1+size {
		return n, 0, fmt.Errorf("ParseNLRI: wrong size: %v < %v", len(b), 1+size)
	}
	tmp := make([]byte, 4)
	copy(tmp, b[1:1+size])
	n.Bits = binary.BigEndian.Uint32(tmp) & prefix.Mask(int(n.Len))
	return n, 1 + size, nil
}
