package sideband

import (
	"io"

	"github.com/revam/go-git-smart-proxy/pktline"
)

// Muxer encodes arbitrary payloads as pkt-lines on a given band,
// splitting them as needed to honour the maximum packed size of the
// negotiated sideband type.
//
// Writes are synchronous: the proxy only muxes messages after the
// primary output has ended, so there is never a competing writer.
type Muxer struct {
	max int
	e   *pktline.Encoder
}

const chLen = 1

// NewMuxer returns a new Muxer for the given t that writes the
// resulting pkt-lines to w.
func NewMuxer(t Type, w io.Writer) *Muxer {
	max := MaxPackedSize64k
	if t == Sideband {
		max = MaxPackedSize
	}

	return &Muxer{
		max: max - chLen,
		e:   pktline.NewEncoder(w),
	}
}

// Write writes p in the PackData channel
func (m *Muxer) Write(p []byte) (int, error) {
	return m.WriteChannel(PackData, p)
}

// WriteChannel writes p in the given channel. This method can be used
// with any channel, but is recommended to use it only for the
// ProgressMessage and ErrorMessage channels and use Write for the
// PackData channel
func (m *Muxer) WriteChannel(t Channel, p []byte) (int, error) {
	wrote := 0
	size := len(p)
	for wrote < size {
		n, err := m.send(t, p[wrote:])
		wrote += n

		if err != nil {
			return wrote, err
		}
	}

	return wrote, nil
}

func (m *Muxer) send(t Channel, p []byte) (int, error) {
	sz := len(p)
	if sz > m.max {
		sz = m.max
	}

	if err := m.e.Encode(append(t.Bytes(), p[:sz]...)); err != nil {
		return 0, err
	}

	return sz, nil
}
