package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/mmcdole/bundlesync/internal/domain"
)

func TestGetReportsProgress(t *testing.T) {
	body := strings.Repeat("x", 100000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	var last, total int64
	calls := 0
	c := NewClient(0, nil)
	got, err := c.Get(context.Background(), srv.URL+"/x", func(read, size int64) {
		if read < last {
			t.Errorf("progress went backwards: %d after %d", read, last)
		}
		last, total = read, size
		calls++
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != body {
		t.Errorf("body length = %d, want %d", len(got), len(body))
	}
	if last != int64(len(body)) || total != int64(len(body)) {
		t.Errorf("final progress = %d/%d, want %d/%d", last, total, len(body), len(body))
	}
	if calls < 2 {
		t.Errorf("progress called %d times", calls)
	}
}

func TestGetErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c := NewClient(0, nil)

	if _, err := c.Get(context.Background(), srv.URL+"/missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("404 err = %v, want ErrNotFound", err)
	}
	if _, err := c.Get(context.Background(), srv.URL+"/boom", nil); err == nil {
		t.Error("500 returned no error")
	}

	srv.Close()
	if _, err := c.Get(context.Background(), srv.URL+"/x", nil); !errors.Is(err, domain.ErrServerOffline) {
		t.Errorf("closed server err = %v, want ErrServerOffline", err)
	}
}

func TestURLHelpers(t *testing.T) {
	if got := BaseURL("10.0.0.1:8080/"); got != "http://10.0.0.1:8080" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := BaseURL("https://cdn.example.com"); got != "https://cdn.example.com" {
		t.Errorf("BaseURL = %q", got)
	}
	got := JoinURL("http://h", "AssetBundles", "Windows", "/ui/panel.prefab.unity3d")
	if got != "http://h/AssetBundles/Windows/ui/panel.prefab.unity3d" {
		t.Errorf("JoinURL = %q", got)
	}
}
