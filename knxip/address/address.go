// Package address implements the immutable 16-bit KNX address values used
// throughout the connection core: individual addresses (area.line.device)
// and group addresses in their three textual presentations (3-level,
// 2-level, free).
package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Individual is a 16-bit individual (physical) address: 4 bits area, 4 bits
// line, 8 bits device. Immutable.
type Individual uint16

// NewIndividual packs an area.line.device triple into an Individual address.
// Only the low 4 bits of area and line are significant.
func NewIndividual(area, line, device byte) Individual {
	return Individual(uint16(area&0x0F)<<12 | uint16(line&0x0F)<<8 | uint16(device))
}

// Raw returns the 16-bit wire value.
func (a Individual) Raw() uint16 { return uint16(a) }

// Area returns the 4-bit area field.
func (a Individual) Area() byte { return byte(a >> 12 & 0x0F) }

// Line returns the 4-bit line field.
func (a Individual) Line() byte { return byte(a >> 8 & 0x0F) }

// Device returns the 8-bit device field.
func (a Individual) Device() byte { return byte(a & 0xFF) }

// String formats the address as "area.line.device".
func (a Individual) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// ParseIndividual parses "area.line.device" or "area/line/device".
func ParseIndividual(s string) (Individual, error) {
	parts := splitAny(s, ".", "/")
	if len(parts) != 3 {
		return 0, errors.Errorf("address: malformed individual address %q", s)
	}
	area, err := parseComponent(parts[0], 0x0F)
	if err != nil {
		return 0, errors.Wrapf(err, "address: area in %q", s)
	}
	line, err := parseComponent(parts[1], 0x0F)
	if err != nil {
		return 0, errors.Wrapf(err, "address: line in %q", s)
	}
	device, err := parseComponent(parts[2], 0xFF)
	if err != nil {
		return 0, errors.Wrapf(err, "address: device in %q", s)
	}
	return NewIndividual(byte(area), byte(line), byte(device)), nil
}

// Group is a 16-bit group address. The raw value is presentation-agnostic;
// String/Parse pick the 3-level presentation unless told otherwise.
//
// The high bit of the "main" field in the 3-level presentation is stored but
// never interpreted: only bits 0-3 of main are standard-assigned, bit 4 is
// carried through unchanged for forward compatibility.
type Group uint16

// NewGroup3 builds a group address from the 3-level presentation
// main/middle/sub (5/3/8 bits).
func NewGroup3(main, middle byte, sub byte) Group {
	return Group(uint16(main&0x1F)<<11 | uint16(middle&0x07)<<8 | uint16(sub))
}

// NewGroup2 builds a group address from the 2-level presentation main/sub
// (5/11 bits).
func NewGroup2(main byte, sub uint16) Group {
	return Group(uint16(main&0x1F)<<11 | sub&0x07FF)
}

// NewGroupFree builds a group address from a raw 16-bit value.
func NewGroupFree(raw uint16) Group { return Group(raw) }

// Raw returns the 16-bit wire value.
func (g Group) Raw() uint16 { return uint16(g) }

// Main3 returns the 5-bit main field of the 3-level presentation.
func (g Group) Main3() byte { return byte(g >> 11 & 0x1F) }

// Middle3 returns the 3-bit middle field of the 3-level presentation.
func (g Group) Middle3() byte { return byte(g >> 8 & 0x07) }

// Sub3 returns the 8-bit sub field of the 3-level presentation.
func (g Group) Sub3() byte { return byte(g & 0xFF) }

// Main2 returns the 5-bit main field of the 2-level presentation.
func (g Group) Main2() byte { return byte(g >> 11 & 0x1F) }

// Sub2 returns the 11-bit sub field of the 2-level presentation.
func (g Group) Sub2() uint16 { return uint16(g) & 0x07FF }

// String3 formats the address as "main/middle/sub".
func (g Group) String3() string {
	return fmt.Sprintf("%d/%d/%d", g.Main3(), g.Middle3(), g.Sub3())
}

// String2 formats the address as "main/sub".
func (g Group) String2() string {
	return fmt.Sprintf("%d/%d", g.Main2(), g.Sub2())
}

// StringFree formats the address as a plain decimal integer.
func (g Group) StringFree() string {
	return strconv.Itoa(int(g.Raw()))
}

// String formats the address using the 3-level presentation, which is the
// conventional default (group address 0 formats as "0/0/0").
func (g Group) String() string { return g.String3() }

// ParseGroup parses a group address in any of its three textual
// presentations. Two separators -> 3-level, one separator -> 2-level, no
// separator -> free (decimal integer). '/' and '.' are both accepted as
// separators but must not be mixed within one address.
func ParseGroup(s string) (Group, error) {
	sep := "/"
	if strings.Contains(s, ".") {
		if strings.Contains(s, "/") {
			return 0, errors.Errorf("address: mixed separators in %q", s)
		}
		sep = "."
	}
	parts := strings.Split(s, sep)
	switch len(parts) {
	case 1:
		raw, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return 0, errors.Wrapf(err, "address: free-form group address %q", s)
		}
		return NewGroupFree(uint16(raw)), nil
	case 2:
		main, err := parseComponent(parts[0], 0x1F)
		if err != nil {
			return 0, errors.Wrapf(err, "address: main in %q", s)
		}
		sub, err := parseComponent(parts[1], 0x07FF)
		if err != nil {
			return 0, errors.Wrapf(err, "address: sub in %q", s)
		}
		return NewGroup2(byte(main), uint16(sub)), nil
	case 3:
		main, err := parseComponent(parts[0], 0x1F)
		if err != nil {
			return 0, errors.Wrapf(err, "address: main in %q", s)
		}
		middle, err := parseComponent(parts[1], 0x07)
		if err != nil {
			return 0, errors.Wrapf(err, "address: middle in %q", s)
		}
		sub, err := parseComponent(parts[2], 0xFF)
		if err != nil {
			return 0, errors.Wrapf(err, "address: sub in %q", s)
		}
		return NewGroup3(byte(main), byte(middle), byte(sub)), nil
	default:
		return 0, errors.Errorf("address: malformed group address %q", s)
	}
}

func parseComponent(s string, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, errors.Errorf("component %q exceeds maximum %d", s, max)
	}
	return v, nil
}

// splitAny splits s on whichever of the candidate separators first appears,
// refusing to mix them.
func splitAny(s string, seps ...string) []string {
	var found string
	for _, sep := range seps {
		if strings.Contains(s, sep) {
			if found != "" && found != sep {
				return nil
			}
			found = sep
		}
	}
	if found == "" {
		return []string{s}
	}
	return strings.Split(s, found)
}
