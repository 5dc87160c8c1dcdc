// Package prefix converts dotted-quad IPv4 addresses to their 32-bit form and
// tests prefix containment with bit masks.
package prefix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ADDR_BITS = 32
	OCTETS    = 4
)

var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidPrefixLength = errors.New("invalid prefix length")
)

// ToBits parses exactly four decimal octets separated by dots.
func ToBits(address string) (uint32, error) {
	octets := strings.Split(address, ".")
	if len(octets) != OCTETS {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	var bits uint32
	for i := range octets {
		if len(octets[i]) == 0 || len(octets[i]) > 3 || !isDigits(octets[i]) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		v, err := strconv.Atoi(octets[i])
		if err != nil || v > 0xff {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		bits = bits<<8 | uint32(v)
	}
	return bits, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func FromBits(bits uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", bits>>24, (bits>>16)&0xff, (bits>>8)&0xff, bits&0xff)
}

func CheckLen(length int) error {
	if length < 0 || length > ADDR_BITS {
		return fmt.Errorf("%w: %d", ErrInvalidPrefixLength, length)
	}
	return nil
}

// Mask returns the netmask of a prefix length. Lengths outside [0,32] are
// clamped; callers validate with CheckLen first.
func Mask(length int) uint32 {
	if length <= 0 {
		return 0
	}
	if length >= ADDR_BITS {
		return 0xffffffff
	}
	return ^uint32(0) << (ADDR_BITS - length)
}

// Matches reports whether the top candidateLen bits of candidate and target are
// equal. A zero length is the default route and matches every target.
func Matches(candidate uint32, candidateLen int, target uint32) bool {
	mask := Mask(candidateLen)
	return candidate&mask == target&mask
}

// Parse converts an address and a prefix length, validating both.
func Parse(address string, length int) (uint32, error) {
	if err := CheckLen(length); err != nil {
		return 0, err
	}
	return ToBits(address)
}

// ParseCIDR reads the a.b.c.d/len form.
func ParseCIDR(s string) (string, int, error) {
	i := strings.IndexByte(s, '/')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: missing length in %q", ErrInvalidPrefixLength, s)
	}
	addr := s[:i]
	if len(s) == i+1 || !isDigits(s[i+1:]) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPrefixLength, s[i+1:])
	}
	length, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPrefixLength, s[i+1:])
	}
	if _, err := Parse(addr, length); err != nil {
		return "", 0, err
	}
	return addr, length, nil
}
