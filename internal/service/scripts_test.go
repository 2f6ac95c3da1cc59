package service

import (
	"testing"

	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/store"
)

func TestScriptsLookupOrder(t *testing.T) {
	resources, err := store.NewPackagedStore("")
	if err != nil {
		t.Fatal(err)
	}
	if err := resources.Put("Lua/boot/init.lua", domain.Asset{Name: "init.lua", Kind: domain.KindText, Data: []byte("packaged")}); err != nil {
		t.Fatal(err)
	}

	s := NewScripts(resources, nil)
	s.Replace(map[string][]byte{
		"panel":    []byte("short"),
		"ui/panel": []byte("full"),
		"ui/menu":  []byte("menu"),
	})

	tests := []struct {
		name string
		want string
	}{
		{"panel", "short"},
		{"ui/panel", "short"}, // last segment wins
		{"ui.panel", "short"},
		{"ui.menu", "menu"},
		{"boot.init", "packaged"},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(s.Bytes(tt.name)); got != tt.want {
				t.Errorf("Bytes(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestScriptsReplace(t *testing.T) {
	s := NewScripts(nil, nil)
	s.Replace(map[string][]byte{"a": nil, "b": nil})
	if s.Len() != 2 {
		t.Fatalf("Len = %d", s.Len())
	}
	s.Replace(nil)
	if s.Len() != 0 || s.Bytes("a") != nil {
		t.Error("Replace(nil) kept old chunks")
	}
}
