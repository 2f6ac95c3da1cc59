package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/index"
	"github.com/mmcdole/bundlesync/internal/indexer"
	"github.com/mmcdole/bundlesync/internal/luavm"
	"github.com/mmcdole/bundlesync/internal/service"
	"github.com/mmcdole/bundlesync/internal/store"
	"github.com/mmcdole/bundlesync/internal/transport"
	"github.com/mmcdole/bundlesync/internal/tui"
)

func runIndex(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("index")
	platform := fs.String("platform", "", "manifest bundle name (default: base name of the build root)")
	hash := fs.String("hash", "", "hash algorithm: md5 or blake3 (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("index takes one build root")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	if *hash == "" {
		*hash = e.cfg.Index.Hash
	}
	hasher, err := index.ParseHasher(*hash)
	if err != nil {
		return err
	}

	records, err := indexer.Generate(fs.Arg(0), indexer.Options{
		Platform:  *platform,
		Extension: e.cfg.Cache.BundleExtension,
		IndexFile: e.cfg.Cache.IndexFile,
		Hasher:    hasher,
		Logger:    e.logger,
	})
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d bundles (%d bytes)\n", len(records), index.TotalSize(records))
	return nil
}

func (e *env) platform() (domain.Platform, error) {
	p, ok := domain.ParsePlatform(e.cfg.Platform)
	if !ok {
		return "", fmt.Errorf("unknown platform: %q", e.cfg.Platform)
	}
	return p, nil
}

// openResources opens the packaged store named in config, or an empty
// memory-only store.
func (e *env) openResources() (*store.PackagedStore, error) {
	return store.NewPackagedStore(e.cfg.Resources.Path)
}

func runSync(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("sync")
	server := fs.String("server", "", "distribution server (default from config)")
	plain := fs.Bool("plain", false, "print progress lines instead of the progress view")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := e.load(*configPath); err != nil {
		return err
	}
	if *server == "" {
		*server = e.cfg.Server.URL
	}
	if *server == "" {
		return fmt.Errorf("no server configured: pass --server or set server.url")
	}

	platform, err := e.platform()
	if err != nil {
		return err
	}
	hasher, err := index.ParseHasher(e.cfg.Index.Hash)
	if err != nil {
		return err
	}
	resources, err := e.openResources()
	if err != nil {
		return err
	}
	defer resources.Close()

	opts := service.UpdaterOptions{
		Server:        *server,
		Platform:      platform,
		CacheRoot:     e.cfg.CacheRoot(),
		BundleRootDir: e.cfg.Cache.BundleRoot,
		IndexFile:     e.cfg.Cache.IndexFile,
		Extension:     e.cfg.Cache.BundleExtension,
		ScriptDir:     e.cfg.Cache.ScriptDir,
		Hasher:        hasher,
		Verify:        e.cfg.Sync.Verify,
	}
	fetcher := transport.NewClient(e.cfg.Sync.Timeout, e.logger)
	scripts := service.NewScripts(resources, e.logger)

	var result domain.SyncResult
	if !*plain && term.IsTerminal(int(os.Stdout.Fd())) {
		updates := make(chan domain.SyncProgress, 64)
		updater := service.NewUpdater(opts, fetcher, resources, scripts, tui.NewChannelObserver(updates), e.logger)
		result, err = tui.RunSync(tui.NewSyncModel(ctx, updater, updates, *server))
	} else {
		updater := service.NewUpdater(opts, fetcher, resources, scripts, plainObserver(), e.logger)
		result, err = updater.Run(ctx, func() { fmt.Println("sync complete") })
	}
	if err != nil {
		return err
	}

	fmt.Printf("%d of %d bundles updated, %d scripts loaded\n", result.Downloaded, result.Batch, result.Scripts)
	for _, name := range result.Failed {
		fmt.Printf("  failed: %s\n", name)
	}
	return nil
}

// plainObserver prints stage changes and finished items.
func plainObserver() domain.SyncObserver {
	var stage string
	done := -1
	return domain.ObserverFunc(func(p domain.SyncProgress) {
		if p.Stage != stage {
			stage = p.Stage
			fmt.Printf("[%3.0f%%] %s\n", p.Fraction*100, stage)
		}
		if p.Total > 0 && p.Done != done {
			done = p.Done
			if p.Error != nil {
				fmt.Printf("[%3.0f%%] %d/%d failed: %v\n", p.Fraction*100, p.Done, p.Total, p.Error)
			} else if p.Done > 0 {
				fmt.Printf("[%3.0f%%] %d/%d\n", p.Fraction*100, p.Done, p.Total)
			}
		}
	})
}

func runDiff(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("diff")
	unified := fs.Bool("unified", false, "print a unified diff of the two indexes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("diff takes a local and a remote index")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	local, err := readIndexOrEmpty(fs.Arg(0))
	if err != nil {
		return err
	}
	remote, err := index.ReadFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("remote index: %w", err)
	}

	if *unified {
		out, err := index.UnifiedReport(fs.Arg(0), fs.Arg(1), local, remote)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	fmt.Print(index.Report(local, remote))
	batch := index.Diff(local, remote)
	fmt.Printf("%d bundles, %d bytes to download\n", len(batch), index.TotalSize(batch))
	return nil
}

// readIndexOrEmpty treats a missing index as empty, like a first sync.
func readIndexOrEmpty(path string) ([]domain.BundleRecord, error) {
	records, err := index.ReadFile(path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return records, err
}

func runFind(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("find")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("find takes a query")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	records, err := readIndexOrEmpty(filepath.Join(e.cfg.CacheRoot(), e.cfg.Cache.IndexFile))
	if err != nil {
		return err
	}
	for _, m := range service.FindBundles(strings.Join(fs.Args(), " "), records) {
		fmt.Printf("%s\tv%d\t%d\n", m.Record.Name, m.Record.Version, m.Record.SizeBytes)
	}
	return nil
}

func runLoad(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("load")
	kind := fs.String("kind", "prefab", "asset kind: material, text, scene, shader or prefab")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("load takes at least one asset path")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	platform, err := e.platform()
	if err != nil {
		return err
	}
	resources, err := e.openResources()
	if err != nil {
		return err
	}
	defer resources.Close()

	cache := service.NewCache(service.CacheOptions{
		Root:      e.cfg.CacheRoot(),
		Platform:  platform,
		Extension: e.cfg.Cache.BundleExtension,
		Editor:    e.cfg.Editor,
	}, nil, resources, e.logger)
	defer cache.CleanAllAsset()

	for _, p := range fs.Args() {
		asset, ok := cache.LoadAsset(p, domain.AssetKind(*kind))
		if !ok {
			// Scene bundles hold no loadable asset but stay loaded.
			if name, isBundle := cache.BundleName(p, domain.AssetKind(*kind)); isBundle {
				if _, loaded := cache.RefCount(name); loaded {
					fmt.Printf("%s: scene loaded\n", p)
					continue
				}
			}
			fmt.Printf("%s: not found\n", p)
			continue
		}
		fmt.Printf("%s: %s (%s, %d bytes)\n", p, asset.Name, asset.Kind, len(asset.Data))
	}

	for _, name := range cache.Loaded() {
		count, _ := cache.RefCount(name)
		fmt.Printf("  %s refs=%d\n", name, count)
	}
	return nil
}

func runPack(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("pack")
	out := fs.String("out", "", "bundle file to write")
	scene := fs.Bool("scene", false, "mark the bundle as a scene container")
	compression := fs.String("compression", "", "none, lz4 or zstd (default from config)")
	resourcesDB := fs.String("resources", "", "write the files into this packaged store instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 || (*out == "") == (*resourcesDB == "") {
		fs.Usage()
		return fmt.Errorf("pack takes files and exactly one of --out or --resources")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	assets := make([]domain.Asset, 0, fs.NArg())
	for _, f := range fs.Args() {
		asset, err := bundle.AssetFromFile(f)
		if err != nil {
			return err
		}
		assets = append(assets, asset)
	}

	if *resourcesDB != "" {
		b, err := store.NewBuilder(*resourcesDB)
		if err != nil {
			return err
		}
		for i, f := range fs.Args() {
			key := domain.StripSuffix(filepath.ToSlash(f))
			if err := b.Put(key, assets[i]); err != nil {
				b.Close()
				return err
			}
			fmt.Printf("packed %s as %s\n", f, key)
		}
		return b.Close()
	}

	if *compression == "" {
		*compression = e.cfg.Bundle.Compression
	}
	codec, err := bundle.ParseCodec(*compression)
	if err != nil {
		return err
	}
	opts := []bundle.Option{bundle.WithCodec(codec)}
	if *scene {
		opts = append(opts, bundle.WithSceneOnly())
	}
	if err := bundle.WriteFile(*out, assets, opts...); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d assets, %s)\n", *out, len(assets), codec)
	return nil
}

func runPackManifest(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("pack-manifest")
	out := fs.String("out", "", "manifest bundle to write, named after the platform")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		fs.Usage()
		return fmt.Errorf("pack-manifest requires --out")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	manifest := &bundle.Manifest{Bundles: make(map[string][]string)}
	for _, arg := range fs.Args() {
		name, deps, _ := strings.Cut(arg, "=")
		if name == "" {
			return fmt.Errorf("bad manifest entry: %q", arg)
		}
		var list []string
		for _, d := range strings.Split(deps, ",") {
			if d = strings.TrimSpace(d); d != "" {
				list = append(list, d)
			}
		}
		manifest.Bundles[name] = list
	}

	asset, err := manifest.Asset()
	if err != nil {
		return err
	}
	if err := bundle.WriteFile(*out, []domain.Asset{asset}); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bundles)\n", *out, len(manifest.Bundles))
	return nil
}

func runScript(ctx context.Context, e *env, args []string) error {
	fs, configPath := e.flags("run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("run takes one module name")
	}
	if err := e.load(*configPath); err != nil {
		return err
	}

	resources, err := e.openResources()
	if err != nil {
		return err
	}
	defer resources.Close()

	chunks, err := service.LoadScriptChunks(ctx, filepath.Join(e.cfg.CacheRoot(), e.cfg.Cache.ScriptDir), e.cfg.Cache.BundleExtension, e.logger)
	if err != nil {
		return err
	}
	scripts := service.NewScripts(resources, e.logger)
	scripts.Replace(chunks)

	return luavm.New(scripts, e.logger).Require(fs.Arg(0))
}
