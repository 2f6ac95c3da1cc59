package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mmcdole/bundlesync/internal/index"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Android")
	writeFile(t, root, "Android", "manifest")
	writeFile(t, root, "Android.manifest", "text manifest")
	writeFile(t, root, "ui/panel.prefab.unity3d", "panel")
	writeFile(t, root, "lua/main.lua.unity3d", "main")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, "docs/Android", "not the platform manifest")

	records, err := Generate(root, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got := index.ByName(records)
	if len(records) != 3 {
		t.Fatalf("records = %+v, want 3", records)
	}
	for _, name := range []string{"/Android", "/ui/panel.prefab.unity3d", "/lua/main.lua.unity3d"} {
		if _, ok := got[name]; !ok {
			t.Errorf("missing record %s", name)
		}
	}
	panel := got["/ui/panel.prefab.unity3d"]
	if panel.SizeBytes != 5 || panel.ContentHash != index.MD5.Sum([]byte("panel")) {
		t.Errorf("panel record = %+v", panel)
	}

	written, err := index.ReadFile(filepath.Join(root, "list.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(written) != 3 {
		t.Errorf("written index has %d records", len(written))
	}
}

func TestBuildBumpsChangedVersions(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Windows")
	writeFile(t, root, "Windows", "m")
	writeFile(t, root, "a.unity3d", "a1")
	writeFile(t, root, "b.unity3d", "b1")

	if _, err := Generate(root, Options{Hasher: index.Blake3}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "a.unity3d", "a2")

	records, err := Generate(root, Options{Hasher: index.Blake3})
	if err != nil {
		t.Fatal(err)
	}
	got := index.ByName(records)
	if got["/a.unity3d"].Version != 1 {
		t.Errorf("changed bundle version = %d, want 1", got["/a.unity3d"].Version)
	}
	if got["/b.unity3d"].Version != 0 {
		t.Errorf("unchanged bundle version = %d, want 0", got["/b.unity3d"].Version)
	}
	if len(got["/a.unity3d"].ContentHash) != 64 {
		t.Errorf("blake3 hash width = %d", len(got["/a.unity3d"].ContentHash))
	}
}
