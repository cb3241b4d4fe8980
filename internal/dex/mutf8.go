package dex

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// DecodeMUTF8 decodes a modified UTF-8 string body (without the NUL terminator).
func DecodeMUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) {
				return "", fmt.Errorf("truncated 2-byte sequence at %d", i)
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) {
				return "", fmt.Errorf("truncated 3-byte sequence at %d", i)
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", fmt.Errorf("invalid mutf-8 lead byte 0x%02x at %d", c, i)
		}
	}
	return string(utf16.Decode(units)), nil
}

// EncodeMUTF8 encodes s as modified UTF-8 and returns the bytes together with
// the UTF-16 length that prefixes string_data_item.
func EncodeMUTF8(s string) ([]byte, int) {
	out := make([]byte, 0, len(s))
	units := 0
	put := func(u uint16) {
		units++
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, byte(0xc0|u>>6), byte(0x80|u&0x3f))
		default:
			out = append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			put(uint16(hi))
			put(uint16(lo))
			continue
		}
		put(uint16(r))
	}
	return out, units
}

// CompareStrings orders strings by UTF-16 code units, the order of the dex string pool.
func CompareStrings(a, b string) int {
	for a != "" && b != "" {
		ra, na := utf8.DecodeRuneInString(a)
		rb, nb := utf8.DecodeRuneInString(b)
		if ra != rb {
			ha, la := utf16Units(ra)
			hb, lb := utf16Units(rb)
			if ha != hb {
				return cmpUnit(ha, hb)
			}
			return cmpUnit(la, lb)
		}
		a, b = a[na:], b[nb:]
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func utf16Units(r rune) (uint16, uint16) {
	if r >= 0x10000 {
		hi, lo := utf16.EncodeRune(r)
		return uint16(hi), uint16(lo)
	}
	return uint16(r), 0
}

func cmpUnit(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
