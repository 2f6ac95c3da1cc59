package domain

import (
	"path"
	"runtime"
	"strings"
)

// BundleRecord describes one bundle file in an index.
// Name is the bundle path relative to the platform root and is unique
// within an index.
type BundleRecord struct {
	Name        string
	Version     int
	ContentHash string
	SizeBytes   int64
}

// RelPath returns Name without its leading separator, suitable for
// joining onto a URL or cache root.
func (r BundleRecord) RelPath() string {
	return strings.TrimLeft(r.Name, "/\\")
}

// Platform names the build target. It is used as a path segment on
// the server and in the cache root, and as the dependency manifest's
// bundle name.
type Platform string

const (
	PlatformWindows Platform = "Windows"
	PlatformAndroid Platform = "Android"
	PlatformIOS     Platform = "IOS"
)

// CurrentPlatform maps the running OS onto a Platform. Unknown targets
// use the Windows layout.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "android":
		return PlatformAndroid
	case "ios":
		return PlatformIOS
	default:
		return PlatformWindows
	}
}

// ParsePlatform accepts a platform name case-insensitively. An empty
// string yields CurrentPlatform.
func ParsePlatform(name string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return CurrentPlatform(), true
	case "windows":
		return PlatformWindows, true
	case "android":
		return PlatformAndroid, true
	case "ios":
		return PlatformIOS, true
	default:
		return "", false
	}
}

// AssetKind is the type of a decoded asset a caller asks for.
type AssetKind string

const (
	KindMaterial AssetKind = "material"
	KindText     AssetKind = "text"
	KindScene    AssetKind = "scene"
	KindShader   AssetKind = "shader"
	KindPrefab   AssetKind = "prefab"

	// KindManifest is only stored inside the platform manifest bundle.
	KindManifest AssetKind = "manifest"
)

// kindSuffixes lists the accepted file suffixes per loadable kind. The
// first entry is appended when a path carries none of them.
var kindSuffixes = map[AssetKind][]string{
	KindMaterial: {".mat"},
	KindText:     {".txt", ".xml"},
	KindScene:    {".unity"},
	KindShader:   {".shader"},
	KindPrefab:   {".prefab"},
}

// AssetPath returns logicalPath with the suffix implied by kind. It
// reports false for kinds that cannot be loaded by path.
func AssetPath(logicalPath string, kind AssetKind) (string, bool) {
	suffixes, ok := kindSuffixes[kind]
	if !ok {
		return "", false
	}
	lower := strings.ToLower(logicalPath)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return logicalPath, true
		}
	}
	return logicalPath + suffixes[0], true
}

// KindForName infers the kind of an asset from its file name.
func KindForName(name string) (AssetKind, bool) {
	ext := strings.ToLower(path.Ext(name))
	for kind, suffixes := range kindSuffixes {
		for _, s := range suffixes {
			if s == ext {
				return kind, true
			}
		}
	}
	return "", false
}

// StripSuffix removes the final ".ext" from p, if any.
func StripSuffix(p string) string {
	ext := path.Ext(p)
	if ext == "" || strings.Contains(ext, "/") {
		return p
	}
	return p[:len(p)-len(ext)]
}

// Asset is a decoded asset returned to callers. Assets handed out by a
// bundle cache are invalid once that cache has been flushed.
type Asset struct {
	Name string    `json:"name"`
	Kind AssetKind `json:"kind"`
	Data []byte    `json:"data"`
}
