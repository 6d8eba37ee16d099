package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const doc = `<mujoco model="arm"><worldbody><geom type="sphere" size="0.1"/></worldbody></mujoco>`

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/environment/arm.xml":
			w.Write([]byte(doc))
		case "/environment/binary.bin":
			w.Write([]byte{0xff, 0xfe, 0xfd})
		case "/environment/broken.xml":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(srv.URL+"/demo/", WithHTTPClient(srv.Client()))

	t.Run("relative to base", func(t *testing.T) {
		text, err := f.Fetch(context.Background(), "../environment/arm.xml")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if text != doc {
			t.Errorf("unexpected body %q", text)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "../environment/missing.xml")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound {
			t.Errorf("expected StatusError 404, got %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "../environment/broken.xml")
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
			t.Fatalf("expected StatusError 500, got %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("500 must not look like not found")
		}
	})

	t.Run("not text", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "../environment/binary.bin")
		if !errors.Is(err, ErrNotText) {
			t.Fatalf("expected ErrNotText, got %v", err)
		}
	})
}

func TestFetchHTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(srv.URL, WithHTTPClient(srv.Client()), WithTimeout(20*time.Millisecond))
	if _, err := f.Fetch(context.Background(), "/slow.xml"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestFetchFiles(t *testing.T) {
	files := afero.NewMemMapFs()
	if err := afero.WriteFile(files, "/srv/environment/arm.xml", []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	f := New("/srv/demo", WithFiles(files))

	text, err := f.Fetch(context.Background(), "../environment/arm.xml")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if text != doc {
		t.Errorf("unexpected body %q", text)
	}

	if _, err := f.Fetch(context.Background(), "../environment/missing.xml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchCanceled(t *testing.T) {
	files := afero.NewMemMapFs()
	afero.WriteFile(files, "/a.xml", []byte(doc), 0644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New("/", WithFiles(files)).Fetch(ctx, "a.xml"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, location, expected string
	}{
		{"https://example.com/demo/js/", "../environment/a.xml", "https://example.com/demo/environment/a.xml"},
		{"https://example.com/demo/", "https://cdn.example.com/a.xml", "https://cdn.example.com/a.xml"},
		{"/srv/demo", "../environment/a.xml", "/srv/environment/a.xml"},
		{"/srv/demo", "/abs/a.xml", "/abs/a.xml"},
		{"", "scenes/a.xml", "scenes/a.xml"},
	}

	for _, tt := range tests {
		got, err := New(tt.base).Resolve(tt.location)
		if err != nil {
			t.Errorf("%s + %s: %v", tt.base, tt.location, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%s + %s: expected %s, got %s", tt.base, tt.location, tt.expected, got)
		}
	}

	if _, err := New("/srv").Resolve(""); err == nil {
		t.Error("expected error for empty location")
	}
}
