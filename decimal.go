package binlog

import (
	"io"
	"strconv"
	"strings"
)

// decimal binary format packs each 9 decimal digits into 4 bytes.
// Leftover digits use the number of bytes given by compressedBytes.
//
// https://dev.mysql.com/doc/internals/en/date-and-time-data-type-representation.html
// https://github.com/mysql/mysql-server/blob/8.0/strings/decimal.cc  decimal2bin
const digitsPerInteger = 9

var compressedBytes = [...]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

func decimalSize(precision, scale int) int {
	intg := precision - scale
	return intg/digitsPerInteger*4 + compressedBytes[intg%digitsPerInteger] +
		scale/digitsPerInteger*4 + compressedBytes[scale%digitsPerInteger]
}

func decodeDecimal(data []byte, precision, scale int) (Decimal, error) {
	if precision == 0 || precision > 65 || scale > precision {
		return "", ErrMalformedPacket
	}
	size := decimalSize(precision, scale)
	if len(data) < size {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, size)
	copy(b, data)

	// sign is encoded in high bit of first byte; negative values
	// have all bits inverted.
	negative := b[0]&0x80 == 0
	b[0] ^= 0x80
	if negative {
		for i := range b {
			b[i] ^= 0xff
		}
	}

	intg := precision - scale
	intg0, intg0x := intg/digitsPerInteger, intg%digitsPerInteger
	frac0, frac0x := scale/digitsPerInteger, scale%digitsPerInteger

	be := func(p []byte) uint64 {
		var v uint64
		for _, c := range p {
			v = v<<8 | uint64(c)
		}
		return v
	}

	var buf strings.Builder
	if negative {
		buf.WriteByte('-')
	}

	off := 0
	var ipart strings.Builder
	if n := compressedBytes[intg0x]; n > 0 {
		ipart.WriteString(strconv.FormatUint(be(b[off:off+n]), 10))
		off += n
	}
	for i := 0; i < intg0; i++ {
		v := be(b[off : off+4])
		off += 4
		if ipart.Len() == 0 {
			ipart.WriteString(strconv.FormatUint(v, 10))
		} else {
			ipart.WriteString(pad(v, digitsPerInteger))
		}
	}
	s := strings.TrimLeft(ipart.String(), "0")
	if s == "" {
		s = "0"
	}
	buf.WriteString(s)

	if scale > 0 {
		buf.WriteByte('.')
		for i := 0; i < frac0; i++ {
			buf.WriteString(pad(be(b[off:off+4]), digitsPerInteger))
			off += 4
		}
		if n := compressedBytes[frac0x]; n > 0 {
			buf.WriteString(pad(be(b[off:off+n]), frac0x))
		}
	}
	return Decimal(buf.String()), nil
}

func pad(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
