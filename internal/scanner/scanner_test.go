package scanner

import (
	"context"
	"testing"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }

func (s stubScanner) Scan(context.Context, Request) ([]Post, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner{name: "web"})

	sc, err := reg.Resolve("web")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sc.Name() != "web" {
		t.Fatalf("unexpected scanner: %s", sc.Name())
	}

	if _, err := reg.Resolve("mtproto"); err == nil {
		t.Fatal("expected error for unregistered scanner")
	}
}

func TestZeroRegistryRegister(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubScanner{name: "mtproto"})
	if _, err := reg.Resolve("mtproto"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"@chemed":                         "chemed",
		"chemed":                          "chemed",
		"https://t.me/lobelia4cosmetics":  "lobelia4cosmetics",
		"t.me/s/tikvahpharma":             "tikvahpharma",
		"https://t.me/s/tikvahpharma?x=1": "tikvahpharma",
		"http://telegram.me/chemed/":      "chemed",
	}
	for in, want := range cases {
		got, err := Handle(in)
		if err != nil {
			t.Fatalf("Handle(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Handle(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := Handle("https://t.me/"); err == nil {
		t.Fatal("expected error for empty handle")
	}
}
