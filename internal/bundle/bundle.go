package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mmcdole/bundlesync/internal/domain"
)

const (
	headerSize = 8

	flagSceneOnly = 1 << 0

	maxPayloadSize = 1 << 31
)

var magic = [4]byte{'B', 'S', 'B', '1'}

// ErrFormat reports a file that is not a valid bundle.
var ErrFormat = errors.New("not a valid bundle file")

type payload struct {
	Assets []domain.Asset `json:"assets"`
}

// Bundle is an opened bundle file. It is safe for concurrent use.
type Bundle struct {
	mu        sync.RWMutex
	name      string
	sceneOnly bool
	assets    []domain.Asset
	unloaded  bool
}

// Open reads and decodes the bundle at filePath.
func Open(filePath string) (*Bundle, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("bundle %s: %w", filePath, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	b, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", filePath, err)
	}
	b.name = filepath.Base(filePath)
	return b, nil
}

// Decode parses bundle bytes.
func Decode(data []byte) (*Bundle, error) {
	if len(data) < headerSize || !bytes.Equal(data[:4], magic[:]) {
		return nil, ErrFormat
	}
	flags := data[4]
	codec := Codec(data[5])
	if data[6] != 0 || data[7] != 0 {
		return nil, fmt.Errorf("%w: reserved header bytes set", ErrFormat)
	}

	size, n := binary.Uvarint(data[headerSize:])
	if n <= 0 || size > maxPayloadSize {
		return nil, fmt.Errorf("%w: bad payload length", ErrFormat)
	}

	raw, err := decompress(data[headerSize+n:], codec, int(size))
	if err != nil {
		return nil, err
	}

	var p payload
	if err := Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return &Bundle{sceneOnly: flags&flagSceneOnly != 0, assets: p.Assets}, nil
}

// Name returns the base file name the bundle was opened from.
func (b *Bundle) Name() string { return b.name }

// SceneOnly reports whether the bundle is a scene container with no
// directly loadable assets.
func (b *Bundle) SceneOnly() bool { return b.sceneOnly }

// LoadAsset returns the asset called name. Names compare
// case-insensitively. An empty kind matches any kind.
func (b *Bundle) LoadAsset(name string, kind domain.AssetKind) (*domain.Asset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.unloaded {
		return nil, domain.ErrBundleUnloaded
	}
	for i := range b.assets {
		a := &b.assets[i]
		if !strings.EqualFold(a.Name, name) {
			continue
		}
		if kind != "" && a.Kind != kind {
			continue
		}
		out := *a
		return &out, nil
	}
	return nil, fmt.Errorf("asset %q in bundle %s: %w", name, b.name, domain.ErrNotFound)
}

// Assets returns every asset in file order.
func (b *Bundle) Assets() ([]domain.Asset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.unloaded {
		return nil, domain.ErrBundleUnloaded
	}
	out := make([]domain.Asset, len(b.assets))
	copy(out, b.assets)
	return out, nil
}

// Unload drops the decoded payload. Further loads fail with
// domain.ErrBundleUnloaded.
func (b *Bundle) Unload() {
	b.mu.Lock()
	b.assets = nil
	b.unloaded = true
	b.mu.Unlock()
}

// Options controls bundle writing.
type Options struct {
	Codec     Codec
	SceneOnly bool
}

// Option configures Write.
type Option func(*Options)

// WithCodec selects the payload compression.
func WithCodec(c Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithSceneOnly marks the bundle as a scene container.
func WithSceneOnly() Option {
	return func(o *Options) { o.SceneOnly = true }
}

// Encode renders assets as bundle bytes. Asset names are lowercased so
// lookups by path segment are stable across platforms.
func Encode(assets []domain.Asset, opts ...Option) ([]byte, error) {
	o := Options{Codec: CodecLZ4}
	for _, opt := range opts {
		opt(&o)
	}

	p := payload{Assets: make([]domain.Asset, len(assets))}
	for i, a := range assets {
		a.Name = strings.ToLower(a.Name)
		p.Assets[i] = a
	}
	raw, err := Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	codec := o.Codec
	body, err := compress(raw, codec)
	if errors.Is(err, errIncompressible) {
		codec, body = CodecNone, raw
	} else if err != nil {
		return nil, err
	}

	var flags byte
	if o.SceneOnly {
		flags |= flagSceneOnly
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+binary.MaxVarintLen64+len(body)))
	buf.Write(magic[:])
	buf.Write([]byte{flags, byte(codec), 0, 0})
	var lenBuf [binary.MaxVarintLen64]byte
	buf.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(raw)))])
	buf.Write(body)
	return buf.Bytes(), nil
}

// Write encodes assets to w.
func Write(w io.Writer, assets []domain.Asset, opts ...Option) error {
	data, err := Encode(assets, opts...)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteFile encodes assets into a bundle file at filePath, creating
// parent directories as needed.
func WriteFile(filePath string, assets []domain.Asset, opts ...Option) error {
	data, err := Encode(assets, opts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}
	return os.WriteFile(filePath, data, 0644)
}

// AssetFromFile reads a source file into an Asset named after its base
// name. The kind is inferred from the suffix; unknown suffixes are
// packed as text.
func AssetFromFile(filePath string) (domain.Asset, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return domain.Asset{}, err
	}
	name := path.Base(filepath.ToSlash(filePath))
	kind, ok := domain.KindForName(name)
	if !ok {
		kind = domain.KindText
	}
	return domain.Asset{Name: name, Kind: kind, Data: data}, nil
}
