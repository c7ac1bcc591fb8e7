// Package packp implements the request grammar of the smart protocol:
// the negotiation lines a client sends at the head of an upload-pack
// or receive-pack request body.
package packp

import (
	"bytes"
	"regexp"
	"strings"
)

// Hash is a 40 hexadecimal character object id, kept in its wire form.
type Hash string

var hashRegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsHash reports whether s is a well formed object id.
func IsHash(s string) bool {
	return hashRegexp.MatchString(s)
}

// Reference is the target of a receive-pack command, split into its
// refs/<type>/<name> components. Type is exactly "heads" or "tags";
// Name is everything after the corresponding slash and may itself
// contain slashes.
type Reference struct {
	Path string
	Type string
	Name string
}

// RequestData is the metadata extracted from the leading pkt-lines of
// a request body. Which fields are populated depends on the service:
// Wants and Haves for upload-pack, the rest for receive-pack. Once a
// Collector settles, the data is final.
type RequestData struct {
	Wants []Hash
	Haves []Hash

	OldCommit    Hash
	NewCommit    Hash
	Reference    Reference
	Capabilities []string
}

var (
	// `want`/`have` lines. The first want line may carry a NUL and a
	// capability list after the hash; everything past the hash is
	// irrelevant here, so the pattern is only anchored at the start.
	uploadRequestRegexp = regexp.MustCompile(`^(want|have) ([0-9a-f]{40})`)

	// the first command line of a receive-pack request:
	// old-id SP new-id SP refname NUL capability-list
	referenceUpdateRegexp = regexp.MustCompile(
		`^([0-9a-f]{40}) ([0-9a-f]{40}) (refs/(heads|tags)/([^\x00\n]+))(?:\x00([^\n]*))?$`)
)

var eol = []byte("\n")

// A Collector feeds the pkt-line payloads of a request body into a
// RequestData until the grammar for its service settles: at the first
// flush-pkt or unmatched payload for upload-pack, at the very first
// payload for receive-pack. Settling is one way; once done, further
// payloads are ignored.
type Collector struct {
	data    RequestData
	receive bool
	done    bool
}

// NewUploadPackCollector returns a Collector for the upload-pack
// negotiation grammar.
func NewUploadPackCollector() *Collector {
	return &Collector{}
}

// NewReceivePackCollector returns a Collector for the receive-pack
// command grammar.
func NewReceivePackCollector() *Collector {
	return &Collector{receive: true}
}

// Consume parses one pkt-line payload, a flush-pkt being represented
// by an empty payload. It reports whether collection has settled.
func (c *Collector) Consume(payload []byte) bool {
	if c.done {
		return true
	}

	if len(payload) == 0 {
		c.done = true
		return true
	}

	if c.receive {
		c.consumeReferenceUpdate(payload)
		c.done = true
		return true
	}

	c.done = !c.consumeUploadRequest(payload)
	return c.done
}

// Done reports whether collection has settled.
func (c *Collector) Done() bool {
	return c.done
}

// Data returns the collected metadata. The pointer stays valid after
// the collector settles; fields never change once Done reports true.
func (c *Collector) Data() *RequestData {
	return &c.data
}

func (c *Collector) consumeUploadRequest(payload []byte) bool {
	m := uploadRequestRegexp.FindSubmatch(bytes.TrimSuffix(payload, eol))
	if m == nil {
		return false
	}

	h := Hash(m[2])
	switch string(m[1]) {
	case "want":
		c.data.Wants = append(c.data.Wants, h)
	case "have":
		c.data.Haves = append(c.data.Haves, h)
	}

	return true
}

func (c *Collector) consumeReferenceUpdate(payload []byte) {
	m := referenceUpdateRegexp.FindSubmatch(bytes.TrimSuffix(payload, eol))
	if m == nil {
		return
	}

	c.data.OldCommit = Hash(m[1])
	c.data.NewCommit = Hash(m[2])
	c.data.Reference = Reference{
		Path: string(m[3]),
		Type: string(m[4]),
		Name: string(m[5]),
	}

	for _, cap := range strings.Split(string(m[6]), " ") {
		if cap == "" {
			continue
		}

		c.data.Capabilities = append(c.data.Capabilities, cap)
	}
}
