package pktline

// A Frame is a single unit produced by a Segmenter: either one
// complete pkt-line (pkt-len header included, so a flush-pkt is its
// own four bytes) or a run of opaque bytes that did not parse as
// pkt-lines, such as the pack data trailing a receive-pack header
// section.
type Frame struct {
	// Raw holds the frame bytes. It may alias the chunk passed to
	// Segment and is only valid for the duration of the emit call.
	Raw []byte
	// Framed is true for pkt-lines and false for opaque bytes.
	Framed bool
}

// IsFlush reports whether the frame is a flush-pkt.
func (f Frame) IsFlush() bool {
	return f.Framed && IsFlush(f.Raw)
}

// Payload returns the frame payload, without the pkt-len header. It is
// empty for flush-pkts and nil for unframed bytes.
func (f Frame) Payload() []byte {
	if !f.Framed || len(f.Raw) <= LenSize {
		return nil
	}

	return f.Raw[LenSize:]
}

// A Segmenter re-frames an arbitrarily chunked byte stream into
// discrete pkt-lines.  Incomplete frames are carried over between
// chunks, so the sequence of frames emitted does not depend on where
// the chunk boundaries fall.
//
// The first position where a pkt-len header fails to parse switches
// the segmenter to raw mode for the rest of the stream: everything
// from that byte on is emitted verbatim as unframed frames.  This is
// how the non-pkt-line pack data region of a receive-pack body is
// passed through untouched.
//
// The zero value is ready to use.  A Segmenter is not safe for
// concurrent use.
type Segmenter struct {
	underflow []byte
	raw       bool
}

// Segment consumes one chunk of input, calling emit once per frame in
// order.  A non-nil error from emit stops the scan and is returned;
// the not yet consumed bytes of the chunk are dropped, so emit errors
// are meant to abort the stream, not to pause it.
func (s *Segmenter) Segment(chunk []byte, emit func(Frame) error) error {
	if len(chunk) == 0 {
		return nil
	}

	if s.raw {
		return emit(Frame{Raw: chunk})
	}

	buf := chunk
	if len(s.underflow) > 0 {
		buf = append(s.underflow, chunk...)
		s.underflow = nil
	}

	offset := 0
	for offset < len(buf) {
		rest := buf[offset:]
		if len(rest) < LenSize {
			s.stash(rest)
			return nil
		}

		n := Length(rest)
		switch {
		case n < 0 || (n > 0 && n <= LenSize):
			// Not a pkt-line boundary; pkt-lens 0001..0004 are never
			// produced either. Everything from here on is opaque.
			s.raw = true
			return emit(Frame{Raw: rest})
		case n == 0:
			// A flush-pkt is just its own header.
			n = LenSize
		}

		if n > len(rest) {
			s.stash(rest)
			return nil
		}

		if err := emit(Frame{Raw: rest[:n], Framed: true}); err != nil {
			return err
		}

		offset += n
	}

	return nil
}

// Pending reports whether the segmenter holds an incomplete frame
// waiting for more input.  If the stream ends while Pending is true,
// the declared length of the last frame never arrived.
func (s *Segmenter) Pending() bool {
	return len(s.underflow) > 0
}

// Close emits any incomplete trailing frame as unframed bytes and
// resets the segmenter.  Callers that consider a truncated frame an
// error should check Pending before calling Close.
func (s *Segmenter) Close(emit func(Frame) error) error {
	if len(s.underflow) == 0 {
		return nil
	}

	frame := Frame{Raw: s.underflow}
	s.underflow = nil

	return emit(frame)
}

func (s *Segmenter) stash(rest []byte) {
	s.underflow = append(make([]byte, 0, len(rest)), rest...)
}
