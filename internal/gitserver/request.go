// SPDX-License-Identifier: MPL-2.0

package gitserver

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/invowk/tagprobe/internal/platform"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
)

var (
	// ErrInvalidRepository is the sentinel wrapped by InvalidRepositoryError.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrUnsupportedRequest is returned for paths that are not git endpoints.
	ErrUnsupportedRequest = errors.New("unsupported git request")

	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

type (
	// InvalidRepositoryError is returned when an owner or name segment is
	// not a plain path segment.
	InvalidRepositoryError struct {
		Owner string
		Name  string
	}

	// route is a request classified by path and method.
	route struct {
		owner   string
		name    string
		service string
		op      Operation
	}

	// refUpdate is one command line of a receive-pack request.
	refUpdate struct {
		oldHash string
		newHash string
		ref     string
	}
)

// Error implements the error interface for InvalidRepositoryError.
func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid repository %q/%q: segments must be plain names", e.Owner, e.Name)
}

// Unwrap returns ErrInvalidRepository.
func (e *InvalidRepositoryError) Unwrap() error { return ErrInvalidRepository }

// ValidateRepository checks owner and name are safe single path segments
// that every platform can store.
func ValidateRepository(owner, name string) error {
	if !segmentPattern.MatchString(owner) || !segmentPattern.MatchString(name) || strings.HasSuffix(name, ".") ||
		platform.IsWindowsReservedName(owner) || platform.IsWindowsReservedName(name) {
		return &InvalidRepositoryError{Owner: owner, Name: name}
	}
	return nil
}

// classify maps a request onto a repository and an operation kind. Receive
// pack requests come back as OpPush; their commands decide push vs tag.
func classify(r *http.Request) (route, error) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	if len(parts) < 3 {
		return route{}, fmt.Errorf("%w: %s", ErrUnsupportedRequest, r.URL.Path)
	}
	rt := route{owner: parts[0], name: strings.TrimSuffix(parts[1], ".git"), service: parts[2]}
	if err := ValidateRepository(rt.owner, rt.name); err != nil {
		return route{}, err
	}

	switch {
	case r.Method == http.MethodGet && rt.service == "info/refs":
		rt.op = OpInfo
	case r.Method == http.MethodGet && rt.service == "HEAD":
		rt.op = OpHead
	case r.Method == http.MethodPost && rt.service == "git-upload-pack":
		rt.op = OpFetch
	case r.Method == http.MethodPost && rt.service == "git-receive-pack":
		rt.op = OpPush
	case r.Method == http.MethodGet && (strings.HasPrefix(rt.service, "objects/") || strings.HasPrefix(rt.service, "info/")):
		rt.op = OpFetch
	default:
		return route{}, fmt.Errorf("%w: %s %s", ErrUnsupportedRequest, r.Method, r.URL.Path)
	}
	return rt, nil
}

// bufferBody reads the whole request body and replaces it with an in-memory
// copy of known length. net/http/cgi refuses chunked bodies, which git sends
// for large posts.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.TransferEncoding = nil
	r.Header.Del("Transfer-Encoding")
	return body, nil
}

// decodeUpdates parses the command list at the head of a receive-pack body.
func decodeUpdates(body []byte, contentEncoding string) ([]refUpdate, error) {
	var src io.Reader = bytes.NewReader(body)
	switch strings.ToLower(contentEncoding) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("decompress receive-pack request: %w", err)
		}
		defer zr.Close() //nolint:errcheck // read-only
		src = zr
	}

	var updates []refUpdate
	s := pktline.NewScanner(src)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			break // flush-pkt ends the command list
		}
		if i := bytes.IndexByte(line, 0); i >= 0 {
			line = line[:i] // capabilities follow the first command
		}
		fields := strings.Fields(string(line))
		if len(fields) != 3 || fields[0] == "shallow" {
			continue
		}
		updates = append(updates, refUpdate{oldHash: fields[0], newHash: fields[1], ref: fields[2]})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode receive-pack commands: %w", err)
	}
	return updates, nil
}

// kind reports whether the update moves a tag or anything else.
func (u refUpdate) kind() Operation {
	if strings.HasPrefix(u.ref, "refs/tags/") {
		return OpTag
	}
	return OpPush
}
