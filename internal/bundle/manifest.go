package bundle

import (
	"fmt"
	"sort"

	"github.com/mmcdole/bundlesync/internal/domain"
)

// ManifestAssetName is the asset holding the dependency graph inside
// the platform manifest bundle.
const ManifestAssetName = "assetbundlemanifest"

// Manifest records the direct dependencies of every bundle, keyed by
// bundle file name relative to the platform root.
type Manifest struct {
	Bundles map[string][]string `json:"bundles"`
}

// DecodeManifest parses manifest asset data.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Bundles == nil {
		m.Bundles = make(map[string][]string)
	}
	return &m, nil
}

// ManifestFromBundle extracts the manifest asset from an opened bundle.
func ManifestFromBundle(b interface {
	LoadAsset(name string, kind domain.AssetKind) (*domain.Asset, error)
}) (*Manifest, error) {
	asset, err := b.LoadAsset(ManifestAssetName, domain.KindManifest)
	if err != nil {
		return nil, err
	}
	return DecodeManifest(asset.Data)
}

// Asset encodes the manifest as the asset stored in a manifest bundle.
func (m *Manifest) Asset() (domain.Asset, error) {
	data, err := Marshal(m)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return domain.Asset{Name: ManifestAssetName, Kind: domain.KindManifest, Data: data}, nil
}

// Dependencies returns the direct dependencies of name.
func (m *Manifest) Dependencies(name string) []string {
	return append([]string(nil), m.Bundles[name]...)
}

// AllDependencies returns the transitive dependencies of name, each
// once, ordered so every bundle appears after its own dependencies.
// name itself is never included, even through a cycle.
func (m *Manifest) AllDependencies(name string) []string {
	var out []string
	visited := map[string]bool{name: true}

	var visit func(string)
	visit = func(n string) {
		for _, dep := range m.Bundles[n] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			visit(dep)
			out = append(out, dep)
		}
	}
	visit(name)
	return out
}

// Names returns every bundle named in the manifest, sorted.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Bundles))
	for n := range m.Bundles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
