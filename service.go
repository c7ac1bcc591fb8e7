// Package proxy implements the server side transport of the git smart
// HTTP protocol: it classifies incoming requests, parses the pkt-line
// framed request head without touching the backend, and once a caller
// accepts the request it proxies the byte streams between the HTTP
// boundary and a git-upload-pack/git-receive-pack process, preserving
// pkt-line framing byte for byte.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/emirpasic/gods/lists/singlylinkedlist"
	ctxio "github.com/jbenet/go-context/io"

	"github.com/revam/go-git-smart-proxy/packp"
	"github.com/revam/go-git-smart-proxy/pktline"
	"github.com/revam/go-git-smart-proxy/sideband"
)

var (
	// ErrIncompleteRequest means the request body ended before the
	// declared length of a pkt-line frame arrived.
	ErrIncompleteRequest = errors.New("request body ended inside a pkt-line frame")
	// ErrUnknownService is returned by Accept when the request did not
	// classify as a smart protocol request.
	ErrUnknownService = errors.New("unknown service")
)

// Status is the position of a session at the accept/reject boundary.
type Status int

const (
	// Pending sessions await an Accept or Reject call.
	Pending Status = iota
	// Accepted sessions are attached to a backend process.
	Accepted
	// Rejected sessions carry a refusal response instead.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Service is one smart protocol session, affine to a single in-flight
// HTTP request. It parses the head of the request body in the
// background from the moment it is created; the caller decides through
// Accept or Reject what becomes of the request, typically after
// inspecting the parsed metadata and the classification.
//
// All methods are safe for concurrent use, although a session normally
// lives its whole life on one request handling goroutine.
type Service struct {
	match   Match
	backend BackendFunc
	body    io.Reader

	// Repository is the repository the backend will serve. It starts
	// out as the path segment found during classification and may be
	// rewritten by the caller any time before Accept.
	Repository string

	collector *packp.Collector
	parsed    chan struct{}

	mu       sync.Mutex
	status   Status
	err      error
	buffered bytes.Buffer
	verbose  *singlylinkedlist.List

	respStatus int
	respType   string
	respBody   io.ReadCloser
}

// NewService classifies a request and starts collecting its metadata.
// The body may be nil for requests without one; it must already be
// decompressed, the engine never looks at Content-Encoding.
//
// Classification never fails: an unrecognized request yields a session
// with Type Unknown, which can only be rejected.
func NewService(backend BackendFunc, method, path string, query url.Values, contentType string, body io.Reader) *Service {
	match := Classify(method, path, query, contentType)

	s := &Service{
		match:      match,
		backend:    backend,
		body:       body,
		Repository: match.Repository,
		parsed:     make(chan struct{}),
		verbose:    singlylinkedlist.New(),
	}

	switch match.Type {
	case UploadPack:
		s.collector = packp.NewUploadPackCollector()
	case ReceivePack:
		s.collector = packp.NewReceivePackCollector()
	}

	if s.collector == nil || body == nil {
		// no body to parse: the parsed transition fires immediately
		close(s.parsed)
		return s
	}

	go s.collect()

	return s
}

// Type returns the classified service type.
func (s *Service) Type() ServiceType {
	return s.match.Type
}

// Match returns the full classification outcome.
func (s *Service) Match() Match {
	return s.match
}

// Status returns the session status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Err returns the first stream error observed by the session, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Service) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = err
	}
}

// collect segments the request body and feeds frame payloads to the
// collector until the grammar settles. Every byte read is buffered for
// later replay; reading stops as soon as the metadata is final, so the
// rest of the body stays in the source until a backend attaches.
func (s *Service) collect() {
	defer close(s.parsed)

	var seg pktline.Segmenter
	buf := make([]byte, 32*1024)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buffered.Write(buf[:n])
			s.mu.Unlock()

			// Unframed frames have a nil payload, which reads as a
			// terminator just like a flush-pkt: raw bytes can never
			// match the grammar again.
			_ = seg.Segment(buf[:n], func(f pktline.Frame) error {
				s.collector.Consume(f.Payload())
				return nil
			})

			if s.collector.Done() {
				return
			}
		}

		if err == io.EOF {
			if seg.Pending() {
				s.setErr(ErrIncompleteRequest)
			}

			return
		}

		if err != nil {
			s.setErr(err)
			return
		}
	}
}

// AwaitData blocks until the leading frames of the request body have
// been parsed, or until the body ends without a parsable head. The
// returned data may be empty: an info/refs request legitimately never
// has a body, and that is not an error. A non-nil error means the
// stream was malformed or ctx was done first.
func (s *Service) AwaitData(ctx context.Context) (*packp.RequestData, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.parsed:
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	return s.Data(), nil
}

// Data returns the parsed request metadata, or nil while collection is
// still in progress. Use AwaitData to wait for the parsed transition.
func (s *Service) Data() *packp.RequestData {
	select {
	case <-s.parsed:
	default:
		return nil
	}

	if s.collector == nil {
		return &packp.RequestData{}
	}

	return s.collector.Data()
}

// Accept attaches the session to its backend: the request head
// buffered so far is replayed to the backend's input, live bytes
// follow, and the backend's output becomes the response body. For
// info/refs the service advertisement header is prepended to the
// output.
//
// Accept is a no-op when the session is no longer Pending, so calling
// it twice spawns exactly one backend. It returns the first error met
// while attaching; errors during the streaming that follows surface on
// the response body instead. A failed attach moves the session to
// Rejected with a 500 response, so the boundary always has something
// to write.
func (s *Service) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.status != Pending {
		s.mu.Unlock()
		return nil
	}

	if s.match.Type == Unknown {
		s.mu.Unlock()
		return ErrUnknownService
	}

	s.status = Accepted
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return s.abort(ctx.Err())
	case <-s.parsed:
	}

	if err := s.Err(); err != nil {
		return s.abort(err)
	}

	args := []string{"--stateless-rpc"}
	if s.match.Type == InfoRefs {
		args = append(args, "--advertise-refs")
	}

	b, err := s.backend(ctx, s.Repository, s.match.Service, args...)
	if err != nil {
		return s.abort(err)
	}

	in, err := b.StdinPipe()
	if err != nil {
		return s.abort(err)
	}

	out, err := b.StdoutPipe()
	if err != nil {
		return s.abort(err)
	}

	if err := b.Start(); err != nil {
		return s.abort(err)
	}

	go s.feed(ctx, in)

	pr, pw := io.Pipe()
	go s.relay(ctx, pw, out, b)

	s.mu.Lock()
	s.respStatus = http.StatusOK
	s.respType = s.match.ResponseType
	s.respBody = &backendBody{PipeReader: pr, backend: b}
	s.mu.Unlock()

	return nil
}

// abort turns a failed attach into a Rejected session carrying a 500
// response. The cause stays available through Err and the Accept
// return value; the client only sees the generic reason phrase.
func (s *Service) abort(err error) error {
	s.setErr(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = Rejected
	s.respStatus = http.StatusInternalServerError
	s.respType = "text/plain; charset=utf-8"
	s.respBody = ioutil.NopCloser(
		strings.NewReader(http.StatusText(http.StatusInternalServerError)))

	return err
}

// Reject refuses the request with the given HTTP status and a plain
// text reason. A status of zero means 403 Forbidden and an empty
// reason defaults to the standard reason phrase. No-op unless the
// session is Pending.
func (s *Service) Reject(status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Pending {
		return
	}

	s.status = Rejected

	if status <= 0 {
		status = http.StatusForbidden
	}

	if reason == "" {
		reason = http.StatusText(status)
	}

	s.respStatus = status
	s.respType = "text/plain; charset=utf-8"
	s.respBody = ioutil.NopCloser(strings.NewReader(reason))
}

// Exists reports whether the backend can advertise the repository. It
// never returns an error: any invocation failure reads as false. The
// first full line of stdout is inspected for a fatal prefix, stderr is
// sniffed the same way, and the backend exit status is authoritative.
func (s *Service) Exists(ctx context.Context) bool {
	if s.match.Type == Unknown || s.backend == nil {
		return false
	}

	b, err := s.backend(ctx, s.Repository, s.match.Service, "--advertise-refs")
	if err != nil {
		return false
	}
	defer b.Close()

	out, err := b.StdoutPipe()
	if err != nil {
		return false
	}

	serr, err := b.StderrPipe()
	if err != nil {
		return false
	}

	if err := b.Start(); err != nil {
		return false
	}

	// git reports a missing repository on stderr, not stdout
	fatal := make(chan bool, 1)
	go func() {
		er := bufio.NewReader(ctxio.NewReader(ctx, serr))
		line, _ := er.ReadString('\n')
		_, _ = io.Copy(ioutil.Discard, er)
		fatal <- strings.HasPrefix(line, "fatal:")
	}()

	br := bufio.NewReader(ctxio.NewReader(ctx, out))
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}

	if line == "" {
		return false
	}

	// the advertisement line comes with a pkt-len header, error text
	// usually does not; strip the header when one parses.
	payload := line
	if pktline.Length([]byte(payload)) >= 0 && len(payload) > pktline.LenSize {
		payload = payload[pktline.LenSize:]
	}

	if strings.HasPrefix(payload, "fatal:") || strings.HasPrefix(payload, "ERR ") {
		return false
	}

	_, _ = io.Copy(ioutil.Discard, br)

	if <-fatal {
		return false
	}

	return b.Wait() == nil
}

// Verbose queues diagnostic text to be sent to the client on the
// progress band after the backend output finishes. Messages are
// delivered in the order queued; a missing trailing newline is added,
// matching how git prints remote lines.
func (s *Service) Verbose(messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		if !strings.HasSuffix(m, "\n") {
			m += "\n"
		}

		s.verbose.Add([]byte(m))
	}
}

// VerboseBytes queues raw payloads for the progress band, without any
// newline handling.
func (s *Service) VerboseBytes(messages ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		s.verbose.Add(append([]byte(nil), m...))
	}
}

func (s *Service) drainVerbose() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verbose.Empty() {
		return nil
	}

	msgs := make([][]byte, 0, s.verbose.Size())
	for _, v := range s.verbose.Values() {
		msgs = append(msgs, v.([]byte))
	}
	s.verbose.Clear()

	return msgs
}

// StatusCode returns the HTTP status the boundary should respond with.
// It is zero until the session is accepted or rejected.
func (s *Service) StatusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.respStatus
}

// ResponseType returns the Content-Type for the response.
func (s *Service) ResponseType() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.respType
}

// Body returns the response body, nil while the session is Pending.
// Closing it releases the backend.
func (s *Service) Body() io.ReadCloser {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.respBody
}

// Close releases the session resources. It is safe to call in any
// state, including before Accept or Reject.
func (s *Service) Close() error {
	s.mu.Lock()
	body := s.respBody
	s.mu.Unlock()

	if body == nil {
		return nil
	}

	return body.Close()
}

// feed replays the buffered request head to the backend input and then
// relays the rest of the body live. Ordering is strict: buffered bytes
// always precede live bytes, and the input is closed when the source
// ends so the backend sees EOF.
func (s *Service) feed(ctx context.Context, in io.WriteCloser) {
	defer in.Close()

	w := ctxio.NewWriter(ctx, in)
	if s.buffered.Len() > 0 {
		if _, err := w.Write(s.buffered.Bytes()); err != nil {
			s.setErr(err)
			return
		}
	}

	if s.body == nil {
		return
	}

	if _, err := io.Copy(w, ctxio.NewReader(ctx, s.body)); err != nil {
		s.setErr(err)
	}
}

// relay moves backend output to the response pipe and settles the
// stream end: deferred flush, queued side-band messages, exit status.
func (s *Service) relay(ctx context.Context, pw *io.PipeWriter, out io.Reader, b Backend) {
	err := s.pump(ctx, pw, out)
	if werr := b.Wait(); err == nil {
		err = werr
	}

	if err != nil {
		s.setErr(err)
	}

	pw.CloseWithError(err)
}

func (s *Service) pump(ctx context.Context, w io.Writer, out io.Reader) error {
	if s.match.Type == InfoRefs {
		e := pktline.NewEncoder(w)
		if err := e.Encodef("# service=git-%s\n", s.match.Service); err != nil {
			return err
		}

		if err := e.Flush(); err != nil {
			return err
		}
	}

	tail, err := copyWithTail(w, ctxio.NewReader(ctx, out))
	if err != nil {
		return err
	}

	return s.finish(w, tail)
}

// finish writes the withheld stream tail. With side-band messages
// queued, a trailing flush-pkt is deferred until after the last
// message; without a natural trailing flush one is appended, since the
// messages themselves are pkt-lines needing a terminator.
func (s *Service) finish(w io.Writer, tail []byte) error {
	msgs := s.drainVerbose()
	if len(msgs) == 0 {
		if len(tail) == 0 {
			return nil
		}

		_, err := w.Write(tail)
		return err
	}

	if !pktline.IsFlush(tail) && len(tail) > 0 {
		if _, err := w.Write(tail); err != nil {
			return err
		}
	}

	mux := sideband.NewMuxer(sideband.Sideband64k, w)
	for _, m := range msgs {
		if _, err := mux.WriteChannel(sideband.ProgressMessage, m); err != nil {
			return err
		}
	}

	return pktline.NewEncoder(w).Flush()
}

// copyWithTail copies src to dst withholding the last four bytes seen,
// so the caller can decide what to do with a possible trailing
// flush-pkt. Checking the last four bytes is the canonical trailing
// flush detection: git writes payload and flush in one chunk.
func copyWithTail(dst io.Writer, src io.Reader) ([]byte, error) {
	var held []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			combined := append(held, buf[:n]...)

			keep := pktline.LenSize
			if len(combined) < keep {
				keep = len(combined)
			}

			if emit := combined[:len(combined)-keep]; len(emit) > 0 {
				if _, werr := dst.Write(emit); werr != nil {
					return nil, werr
				}
			}

			held = append([]byte(nil), combined[len(combined)-keep:]...)
		}

		if err == io.EOF {
			return held, nil
		}

		if err != nil {
			return held, err
		}
	}
}

type backendBody struct {
	*io.PipeReader
	backend Backend
}

func (b *backendBody) Close() error {
	_ = b.PipeReader.Close()
	return b.backend.Close()
}
