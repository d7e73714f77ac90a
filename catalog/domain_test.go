package catalog

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"netmonitor/dbopen"
	"netmonitor/errkind"
	"netmonitor/store"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"  example.com  ", "example.com"},
		{"example.com.", "example.com"},
		{"EXAMPLE.com.", "example.com"},
		{"xn--bcher-kva.de", "xn--bcher-kva.de"},
		{"192.168.1.1", "192.168.1.1"},
		{"localhost", "localhost"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		if err != nil {
			t.Errorf("Normalize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
		// Idempotence.
		again, err := Normalize(got)
		if err != nil || again != got {
			t.Errorf("Normalize(%q) not idempotent: %q, %v", got, again, err)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"", "   ", ".", "example.com/path", "host:8080", "a b.com", "bad\x00.com"} {
		if _, err := Normalize(in); !errors.Is(err, errkind.ErrValidation) {
			t.Errorf("Normalize(%q) err = %v, want ErrValidation", in, err)
		}
	}
}

func TestParent(t *testing.T) {
	cases := []struct {
		fqdn string
		want string
	}{
		{"www.example.com", "example.com"},
		{"a.b.c.example.com", "example.com"},
		{"example.com", "example.com"},
		{"localhost", "localhost"},
		{"192.168.1.1", "192.168.1.1"},
		// Two-label heuristic: multi-label public suffixes group under the
		// suffix itself.
		{"news.bbc.co.uk", "co.uk"},
	}
	for _, c := range cases {
		if got := Parent(c.fqdn); got != c.want {
			t.Errorf("Parent(%q) = %q, want %q", c.fqdn, got, c.want)
		}
	}
}

func TestParentIdempotentOnOwnOutput(t *testing.T) {
	for _, fqdn := range []string{"www.example.com", "news.bbc.co.uk", "localhost", "10.0.0.1"} {
		p := Parent(fqdn)
		if Parent(p) != p {
			t.Errorf("Parent(Parent(%q)) = %q, want fixed point %q", fqdn, Parent(p), p)
		}
	}
}

func TestDomainCatalogInternStable(t *testing.T) {
	st, err := store.OpenDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	c := NewDomainCatalog(st)
	ctx := context.Background()

	id1, err := c.Intern(ctx, "Example.COM.", 100)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := c.Intern(ctx, "example.com", 200)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ after normalization: %d vs %d", id1, id2)
	}

	d, err := st.GetDomain(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if d.FQDN != "example.com" || d.ParentDomain != "example.com" {
		t.Fatalf("stored domain = %+v", d)
	}
}

func TestAppCatalogInternCaches(t *testing.T) {
	st, err := store.OpenDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	c := NewAppCatalog(st)
	ctx := context.Background()

	id1, err := c.Intern(ctx, "firefox", "org.mozilla.firefox", 100)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := c.Intern(ctx, "firefox", "org.mozilla.firefox", 200)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %d vs %d", id1, id2)
	}

	// The second call hit the cache: last_seen still reflects the insert.
	app, err := st.GetApplication(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if app.LastSeen != 100 {
		t.Fatalf("last_seen = %d, want 100 (cache hit must not touch the row)", app.LastSeen)
	}
}
