package session

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	ncerr "autologin/internal/errors"
	"autologin/util"
)

// headerRe matches "<name>: <value>"; names are letters, digits and
// hyphens only.
var headerRe = regexp.MustCompile(`^([A-Za-z0-9-]+): (.+)$`)

// Request is the parsed request line plus headers of one connection.
// It is never modified after [ParseRequest] returns.
type Request struct {
	Method   string
	Resource string
	Version  string
	Headers  map[string]string // keys as received; duplicates overwrite
}

// ParseRequest reads the request line and header block from r, stopping
// at the first blank line or at end of stream.
//
// It returns io.EOF when the peer sent nothing at all, and an error
// matching [ncerr.ErrMalformedRequest] when the request line does not
// have exactly three space-separated tokens or a header line is not of
// the form "Key: value".
func ParseRequest(r *bufio.Reader) (*Request, error) {
	var req *Request
	for {
		line, err := util.ReadLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			if req == nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ncerr.ErrMalformedRequest, err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}

		if req == nil {
			parts := strings.Split(line, " ")
			if len(parts) != 3 {
				return nil, fmt.Errorf("%w: request line %q", ncerr.ErrMalformedRequest, line)
			}
			req = &Request{
				Method:   parts[0],
				Resource: parts[1],
				Version:  parts[2],
				Headers:  make(map[string]string),
			}
			continue
		}

		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%w: header %q", ncerr.ErrMalformedRequest, line)
		}
		req.Headers[m[1]] = strings.TrimSpace(m[2])
	}

	if req == nil {
		return nil, io.EOF
	}
	return req, nil
}

// Validate checks the resource path; it must be absolute.
func (r *Request) Validate() error {
	if !strings.HasPrefix(r.Resource, "/") {
		return fmt.Errorf("%w: %q", ncerr.ErrInvalidResource, r.Resource)
	}
	return nil
}

// Header returns the value of a request header (exact key match).
func (r *Request) Header(key string) (string, bool) {
	v, ok := r.Headers[key]
	return v, ok
}
