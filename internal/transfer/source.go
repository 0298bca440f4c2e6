package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned by Mux for URIs no source is registered for.
var ErrUnsupportedScheme = errors.New("transfer: unsupported source scheme")

// Source fetches artifacts by URI.
type Source interface {
	// Probe issues a metadata-only request and returns the declared length
	// in bytes, or -1 when the source does not declare one.
	Probe(ctx context.Context, uri string) (int64, error)
	// Open starts a transfer of the whole artifact.
	Open(ctx context.Context, uri string) (*Stream, error)
}

// Stream is an open transfer. Size is the expected length, -1 if unknown.
type Stream struct {
	Body io.ReadCloser
	Size int64
}

// Mux routes URIs to a Source by scheme.
type Mux struct {
	routes map[string]Source
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Source)}
}

// Handle registers src for the given schemes.
func (m *Mux) Handle(src Source, schemes ...string) {
	for _, s := range schemes {
		m.routes[strings.ToLower(s)] = src
	}
}

func (m *Mux) Probe(ctx context.Context, uri string) (int64, error) {
	src, err := m.route(uri)
	if err != nil {
		return -1, err
	}

	return src.Probe(ctx, uri)
}

func (m *Mux) Open(ctx context.Context, uri string) (*Stream, error) {
	src, err := m.route(uri)
	if err != nil {
		return nil, err
	}

	return src.Open(ctx, uri)
}

func (m *Mux) route(uri string) (Source, error) {
	scheme := Scheme(uri)

	src, ok := m.routes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	return src, nil
}

// Scheme returns the lower-cased scheme of uri, or "" if it cannot be parsed.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Scheme)
}
