package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// ServiceType classifies an incoming request. It is determined once,
// at classification, and never changes afterwards.
type ServiceType int

const (
	// Unknown is any request this proxy does not serve.
	Unknown ServiceType = iota
	// InfoRefs is the GET reference advertisement endpoint.
	InfoRefs
	// UploadPack is the fetch/clone RPC endpoint.
	UploadPack
	// ReceivePack is the push RPC endpoint.
	ReceivePack
)

func (t ServiceType) String() string {
	switch t {
	case InfoRefs:
		return "info-refs"
	case UploadPack:
		return "upload-pack"
	case ReceivePack:
		return "receive-pack"
	default:
		return "unknown"
	}
}

// Match is the outcome of classifying a request: the service type, the
// underlying git service name ("upload-pack" or "receive-pack"), the
// repository extracted from the path and the content type the response
// must carry. The zero value means Unknown.
type Match struct {
	Type         ServiceType
	Service      string
	Repository   string
	ResponseType string
}

// The classification table is fixed at startup, ordered most specific
// suffix first, and never mutated.
type rule struct {
	method string
	suffix *regexp.Regexp
	typ    ServiceType
}

var rules = [...]rule{
	{http.MethodPost, regexp.MustCompile(`^/(.+)/git-upload-pack$`), UploadPack},
	{http.MethodPost, regexp.MustCompile(`^/(.+)/git-receive-pack$`), ReceivePack},
	{http.MethodGet, regexp.MustCompile(`^/(.+)/info/refs$`), InfoRefs},
}

// Classify maps an incoming method, path, query and content type to a
// Match. Any mismatch in method, path suffix, query service or content
// type yields an Unknown match; classification never fails.
func Classify(method, path string, query url.Values, contentType string) Match {
	for _, r := range rules {
		if r.method != method {
			continue
		}

		m := r.suffix.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		service := r.typ.String()
		if r.typ == InfoRefs {
			// clients always spell the service with its git- prefix;
			// the bare form is not part of the protocol.
			service = strings.TrimPrefix(query.Get("service"), "git-")
			if service == query.Get("service") {
				return Match{}
			}

			if service != UploadPack.String() && service != ReceivePack.String() {
				return Match{}
			}

			return Match{
				Type:         InfoRefs,
				Service:      service,
				Repository:   m[1],
				ResponseType: fmt.Sprintf("application/x-git-%s-advertisement", service),
			}
		}

		if contentType != fmt.Sprintf("application/x-git-%s-request", service) {
			return Match{}
		}

		return Match{
			Type:         r.typ,
			Service:      service,
			Repository:   m[1],
			ResponseType: fmt.Sprintf("application/x-git-%s-result", service),
		}
	}

	return Match{}
}
