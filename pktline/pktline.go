// Package pktline implements reading and creating pkt-lines as per
// https://github.com/git/git/blob/master/Documentation/technical/protocol-common.txt.
package pktline

import "bytes"

const (
	// MaxPayloadSize is the maximum payload size of a pkt-line in bytes.
	MaxPayloadSize = 65516

	// LenSize is the size of the pkt-len header, in bytes.
	LenSize = 4
)

var (
	// FlushPkt are the contents of a flush-pkt pkt-line.
	FlushPkt = []byte{'0', '0', '0', '0'}
	// Flush is the payload to use with the Encode method to encode a flush-pkt.
	Flush = []byte{}
	// FlushString is the payload to use with the EncodeString method to encode a flush-pkt.
	FlushString = ""
)

// Length parses the four ASCII hex digits at the beginning of b and
// returns the length they declare, header included; 0 means a
// flush-pkt. It returns -1 if b holds less than a full pkt-len header
// or if any of the four bytes is not a lowercase hex digit, which is
// how callers detect that b does not start a pkt-line at all.
func Length(b []byte) int {
	if len(b) < LenSize {
		return -1
	}

	var n int
	for _, c := range b[:LenSize] {
		d := asciiHexToByte(c)
		if d == invalidHexDigit {
			return -1
		}

		n = n<<4 | int(d)
	}

	return n
}

// IsFlush reports whether frame is exactly a flush-pkt.
func IsFlush(frame []byte) bool {
	return bytes.Equal(frame, FlushPkt)
}

// EndsWithFlush reports whether the last four bytes of b are a
// flush-pkt. Git may write payload data and its terminating flush-pkt
// in a single chunk, so checking the tail of a chunk is the canonical
// way to detect a trailing flush.
func EndsWithFlush(b []byte) bool {
	return len(b) >= LenSize && bytes.Equal(b[len(b)-LenSize:], FlushPkt)
}

const invalidHexDigit = 0xff

// turns an ascii hex digit into its numeric value, or invalidHexDigit
// if c is out of range. Uppercase digits are rejected: pkt-len headers
// are defined as lowercase.
func asciiHexToByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return invalidHexDigit
	}
}

// susbtitutes fmt.Sprintf("%04x", n) to avoid memory garbage
// generation.
func int16ToHex(n int) []byte {
	var ret [LenSize]byte
	ret[0] = byteToASCIIHex(byte(n & 0xf000 >> 12))
	ret[1] = byteToASCIIHex(byte(n & 0x0f00 >> 8))
	ret[2] = byteToASCIIHex(byte(n & 0x00f0 >> 4))
	ret[3] = byteToASCIIHex(byte(n & 0x000f))

	return ret[:]
}

// turns a byte into its hexadecimal ascii representation.  Example:
// from 11 (0xb) into 'b'.
func byteToASCIIHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}

	return 'a' - 10 + n
}
