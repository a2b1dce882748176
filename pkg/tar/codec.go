package tar

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Parsing and formatting of the fixed-width fields making up a header record.
// Numeric fields are ASCII octal by default; fields that may overflow octal's
// range use base-256 binary, flagged by the top bit of the first byte.

// parseOctal decodes a fixed-width octal field. Leading ASCII spaces are
// skipped, a leading NUL yields zero (zero-filled fields are common in V7-era
// archives), and up to two trailing NUL/space terminator bytes are tolerated.
// Any other non-octal byte fails the parse.
func parseOctal(b []byte, field string) (int64, error) {
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	if len(b) == 0 || b[0] == 0 {
		return 0, nil
	}
	for n := 0; n < 2 && len(b) > 0; n++ {
		if last := b[len(b)-1]; last != 0 && last != ' ' {
			break
		}
		b = b[:len(b)-1]
	}
	var x int64
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, &FieldError{Field: field, Reason: fmt.Sprintf("invalid octal digit %q", c)}
		}
		x = x<<3 | int64(c-'0')
	}
	return x, nil
}

// parseOctalLenient behaves like parseOctal but additionally treats an
// embedded NUL as an early terminator instead of failing.
func parseOctalLenient(b []byte, field string) (int64, error) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return parseOctal(b, field)
}

// parseOctalOrBinary decodes a numeric field that may be either octal or
// base-256 binary. The binary form is big-endian two's complement with the
// top bit of the first byte reserved as the format flag rather than a value
// bit.
func parseOctalOrBinary(b []byte, field string) (int64, error) {
	if len(b) == 0 || b[0]&0x80 == 0 {
		return parseOctal(b, field)
	}
	return parseBinary(b, field)
}

func parseBinary(b []byte, field string) (int64, error) {
	// negative values are stored inverted, so accumulating through an
	// inversion mask handles both signs with one loop
	var inv byte
	if b[0]&0x40 != 0 {
		inv = 0xff
	}

	var x uint64
	for i, c := range b {
		c ^= inv
		if i == 0 {
			c &= 0x7f // strip the format flag; its low bits still carry value
		}
		if x>>56 > 0 {
			return 0, &OverflowError{Field: field}
		}
		x = x<<8 | uint64(c)
	}
	if x>>63 > 0 {
		return 0, &OverflowError{Field: field}
	}
	if inv == 0xff {
		return ^int64(x), nil
	}
	return int64(x), nil
}

// parseBoolean decodes a single-byte flag field.
func parseBoolean(b byte) bool {
	return b != 0
}

// formatUnsignedOctal writes the right-aligned, zero-padded octal digits of x
// into all of b.
func formatUnsignedOctal(x int64, b []byte, field string) error {
	if x < 0 {
		return &OverflowError{Field: field}
	}
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = '0' + byte(x&7)
		x >>= 3
	}
	if x != 0 {
		return &OverflowError{Field: field}
	}
	return nil
}

// The terminator conventions below differ per field; the irregularity is part
// of the on-disk format.

// formatOctal writes octal digits terminated by a space and a NUL (mode, uid,
// gid, devmajor, devminor).
func formatOctal(x int64, b []byte, field string) error {
	if err := formatUnsignedOctal(x, b[:len(b)-2], field); err != nil {
		return err
	}
	b[len(b)-2] = ' '
	b[len(b)-1] = 0
	return nil
}

// formatLongOctal writes octal digits terminated by a single space (size,
// mtime).
func formatLongOctal(x int64, b []byte, field string) error {
	if err := formatUnsignedOctal(x, b[:len(b)-1], field); err != nil {
		return err
	}
	b[len(b)-1] = ' '
	return nil
}

// formatChecksumOctal writes octal digits terminated by a NUL and a space
// (checksum only).
func formatChecksumOctal(x int64, b []byte) error {
	if err := formatUnsignedOctal(x, b[:len(b)-2], "chksum"); err != nil {
		return err
	}
	b[len(b)-2] = 0
	b[len(b)-1] = ' '
	return nil
}

// maxOctal returns the largest value representable in the given number of
// octal digit positions.
func maxOctal(digits int) int64 {
	return int64(1)<<(3*uint(digits)) - 1
}

// formatLongOctalOrBinary writes x as octal when it fits the field and as
// base-256 binary otherwise.
func formatLongOctalOrBinary(x int64, b []byte, field string) error {
	if x >= 0 && x <= maxOctal(len(b)-1) {
		return formatLongOctal(x, b, field)
	}
	return formatBinary(x, b, field)
}

func formatBinary(x int64, b []byte, field string) error {
	if len(b) <= 8 {
		// the field holds 8n-1 value bits in two's complement; the first
		// byte contributes its low bits alongside the format flag
		bits := uint(8*len(b) - 2)
		if x < -1<<bits || x >= 1<<bits {
			return &OverflowError{Field: field}
		}
		v := x
		for i := len(b) - 1; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
		b[0] |= 0x80
		return nil
	}

	// any int64 fits a field of nine or more bytes: sign-extend into the
	// leading bytes and flag the first one
	fill := byte(0x00)
	if x < 0 {
		fill = 0xff
	}
	for i := 1; i < len(b)-8; i++ {
		b[i] = fill
	}
	uval := uint64(x)
	for i := len(b) - 1; i >= len(b)-8; i-- {
		b[i] = byte(uval)
		uval >>= 8
	}
	b[0] = fill | 0x80
	return nil
}

// parseString decodes a name-bearing field, stopping at the first NUL.
func parseString(b []byte, enc NameEncoding) (string, error) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return enc.Decode(b)
}

// formatString encodes s into b, NUL-padding the remainder. Overlong names
// are truncated on a whole-character boundary, never splitting a multi-byte
// character.
func formatString(s string, b []byte, enc NameEncoding) error {
	out, err := enc.Encode(s)
	if err != nil {
		return err
	}
	for len(out) > len(b) && len(s) > 0 {
		_, n := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-n]
		if out, err = enc.Encode(s); err != nil {
			return err
		}
	}
	n := copy(b, out)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
	return nil
}

// computeChecksum sums every record byte as unsigned, with the checksum field
// itself counted as eight ASCII spaces.
func computeChecksum(r record) int64 {
	unsigned, _ := checksums(r)
	return unsigned
}

// verifyChecksum recomputes the checksum with both unsigned and signed byte
// sums and accepts the stored value if either matches. Historical writers
// disagreed on signedness, so this is a best-effort heuristic rather than a
// correctness proof.
func verifyChecksum(r record) bool {
	stored, err := parseOctalLenient(r.chksum(), "chksum")
	if err != nil {
		return false
	}
	unsigned, signed := checksums(r)
	return stored == unsigned || stored == signed
}

func checksums(r record) (unsigned int64, signed int64) {
	for i, c := range r {
		if i >= 148 && i < 156 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}
