package scanner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"TelegramPipeline/internal/domain"
)

// Request carries all parameters required to pull one channel window.
type Request struct {
	Channel domain.Channel
	Limit   int
}

// Photo downloads the bytes of a photo attachment.
type Photo interface {
	Download(ctx context.Context, w io.Writer) error
}

// PhotoFunc adapts a function to Photo.
type PhotoFunc func(ctx context.Context, w io.Writer) error

// Download calls f.
func (f PhotoFunc) Download(ctx context.Context, w io.Writer) error {
	return f(ctx, w)
}

// Post is a platform message as returned by a scanner, newest first.
// Photo is set only when Media is domain.MediaPhoto.
type Post struct {
	ID       int64
	Date     *time.Time
	Text     *string
	Views    *int64
	Forwards *int64
	Media    domain.MediaKind
	Photo    Photo
}

// Scanner captures a single platform strategy (MTProto, web preview).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]Post, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Handle extracts the public username from "@name", "name", "t.me/name",
// "https://t.me/name" or "https://t.me/s/name".
func Handle(address string) (string, error) {
	addr := strings.TrimSpace(address)
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "www.")
	for _, host := range []string{"t.me/", "telegram.me/"} {
		if strings.HasPrefix(addr, host) {
			addr = strings.TrimPrefix(addr, host)
			addr = strings.TrimPrefix(addr, "s/")
			break
		}
	}
	addr = strings.TrimPrefix(addr, "@")
	if i := strings.IndexAny(addr, "/?#"); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" {
		return "", fmt.Errorf("cannot derive channel handle from %q", address)
	}
	return addr, nil
}
