package pktline_test

import (
	"bytes"
	"strings"

	"github.com/revam/go-git-smart-proxy/pktline"

	. "gopkg.in/check.v1"
)

type SuiteEncoder struct{}

var _ = Suite(&SuiteEncoder{})

func (s *SuiteEncoder) TestFlush(c *C) {
	var buf bytes.Buffer
	e := pktline.NewEncoder(&buf)

	err := e.Flush()
	c.Assert(err, IsNil)

	obtained := buf.Bytes()
	c.Assert(obtained, DeepEquals, []byte("0000"))
}

func (s *SuiteEncoder) TestEncode(c *C) {
	for i, test := range [...]struct {
		input    [][]byte
		expected []byte
	}{
		{
			input: [][]byte{
				[]byte("hello\n"),
			},
			expected: []byte("000ahello\n"),
		}, {
			input: [][]byte{
				[]byte("hello\n"),
				pktline.Flush,
			},
			expected: []byte("000ahello\n0000"),
		}, {
			input: [][]byte{
				[]byte("hello\n"),
				[]byte("world!\n"),
				[]byte("foo"),
			},
			expected: []byte("000ahello\n000bworld!\n0007foo"),
		}, {
			input: [][]byte{
				[]byte(strings.Repeat("a", pktline.MaxPayloadSize)),
			},
			expected: []byte(
				"fff0" + strings.Repeat("a", pktline.MaxPayloadSize)),
		},
	} {
		comment := Commentf("input %d = %v\n", i, test.input)

		var buf bytes.Buffer
		e := pktline.NewEncoder(&buf)

		err := e.Encode(test.input...)
		c.Assert(err, IsNil, comment)

		c.Assert(buf.Bytes(), DeepEquals, test.expected, comment)
	}
}

func (s *SuiteEncoder) TestEncodeErrPayloadTooLong(c *C) {
	for i, input := range [...][][]byte{
		{
			[]byte(strings.Repeat("a", pktline.MaxPayloadSize+1)),
		},
		{
			[]byte("hello world!"),
			[]byte(strings.Repeat("a", pktline.MaxPayloadSize+1)),
		},
		{
			[]byte("hello world!"),
			[]byte(strings.Repeat("a", pktline.MaxPayloadSize+1)),
			[]byte("foo"),
		},
	} {
		comment := Commentf("input %d = %v\n", i, input)

		var buf bytes.Buffer
		e := pktline.NewEncoder(&buf)

		err := e.Encode(input...)
		c.Assert(err, Equals, pktline.ErrPayloadTooLong, comment)
	}
}

func (s *SuiteEncoder) TestEncodeStrings(c *C) {
	var buf bytes.Buffer
	e := pktline.NewEncoder(&buf)

	err := e.EncodeString("hello\n", "world!\n", pktline.FlushString)
	c.Assert(err, IsNil)

	expected := []byte("000ahello\n000bworld!\n0000")
	c.Assert(buf.Bytes(), DeepEquals, expected)
}

func (s *SuiteEncoder) TestEncodef(c *C) {
	format := " %s %d\n"
	str := "foo"
	d := 42

	var buf bytes.Buffer
	e := pktline.NewEncoder(&buf)

	err := e.Encodef(format, str, d)
	c.Assert(err, IsNil)

	expected := []byte("000c foo 42\n")
	c.Assert(buf.Bytes(), DeepEquals, expected)
}

func (s *SuiteEncoder) TestLengthRoundTrip(c *C) {
	for _, payload := range [...]string{
		"",
		"a",
		"hello\n",
		strings.Repeat("b", 100),
		strings.Repeat("c", pktline.MaxPayloadSize),
	} {
		comment := Commentf("payload len = %d", len(payload))

		var buf bytes.Buffer
		e := pktline.NewEncoder(&buf)
		c.Assert(e.EncodeString(payload), IsNil, comment)

		if payload == "" {
			// empty payloads encode as a flush-pkt
			c.Assert(pktline.Length(buf.Bytes()), Equals, 0, comment)
			continue
		}

		c.Assert(pktline.Length(buf.Bytes()), Equals, len(payload)+4, comment)
	}
}

func (s *SuiteEncoder) TestLengthInvalid(c *C) {
	for _, input := range [...]string{
		"",
		"0",
		"003",
		"00G4data",
		"-001",
		"   5a",
		"FFFF", // uppercase hex is not valid in a pkt-len
	} {
		c.Assert(pktline.Length([]byte(input)), Equals, -1,
			Commentf("input = %q", input))
	}
}

func (s *SuiteEncoder) TestEndsWithFlush(c *C) {
	c.Assert(pktline.EndsWithFlush([]byte("000ahello\n0000")), Equals, true)
	c.Assert(pktline.EndsWithFlush([]byte("0000")), Equals, true)
	c.Assert(pktline.EndsWithFlush([]byte("000ahello\n")), Equals, false)
	c.Assert(pktline.EndsWithFlush([]byte("00")), Equals, false)
}
