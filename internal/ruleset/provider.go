package ruleset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"

	"seedlot/internal/blob/core"
	"seedlot/pkg/domain"
)

// Latest selects the highest available semantic version.
const Latest = "latest"

// BlobPrefix is where the blob-backed source looks for ruleset documents.
const BlobPrefix = "rulesets/"

// ErrUnknownVersion is returned by providers for versions they do not hold.
var ErrUnknownVersion = errors.New("unknown ruleset version")

// Provider hands out parsed rulesets by version.
type Provider interface {
	Get(ctx context.Context, version string) (*Ruleset, error)
	Versions(ctx context.Context) ([]string, error)
}

// Acquire fetches version from p and refuses to return a ruleset that is
// unavailable or not usable at now.
func Acquire(ctx context.Context, p Provider, version string, now time.Time) (*Ruleset, error) {
	if p == nil {
		return nil, domain.RulesetExpiredError{Version: version, Reason: "no ruleset provider configured"}
	}
	rs, err := p.Get(ctx, version)
	if errors.Is(err, ErrUnknownVersion) {
		return nil, domain.RulesetExpiredError{Version: version, Reason: "version unavailable"}
	}
	if err != nil {
		return nil, err
	}
	if ok, reason := rs.Usable(now); !ok {
		return nil, domain.RulesetExpiredError{Version: rs.Version(), Reason: reason}
	}
	return rs, nil
}

// highest returns the greatest valid semantic version in versions.
func highest(versions []string) (string, bool) {
	var best *semver.Version
	var bestRaw string
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	return bestRaw, best != nil
}

func canonical(version string) string {
	if v, err := semver.NewVersion(version); err == nil {
		return v.String()
	}
	return version
}

// MemoryProvider serves rulesets registered in process.
type MemoryProvider struct {
	mu   sync.RWMutex
	sets map[string]*Ruleset
}

// NewMemoryProvider returns a provider holding rulesets.
func NewMemoryProvider(rulesets ...*Ruleset) *MemoryProvider {
	p := &MemoryProvider{sets: make(map[string]*Ruleset)}
	for _, rs := range rulesets {
		p.Add(rs)
	}
	return p
}

// Add registers rs under its version, replacing any earlier registration.
func (p *MemoryProvider) Add(rs *Ruleset) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[rs.Version()] = rs
}

func (p *MemoryProvider) Versions(context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.sets))
	for v := range p.sets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (p *MemoryProvider) Get(ctx context.Context, version string) (*Ruleset, error) {
	if version == Latest {
		versions, _ := p.Versions(ctx)
		v, ok := highest(versions)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
		}
		version = v
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	rs, ok := p.sets[canonical(version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return rs, nil
}

// Source lists and reads raw ruleset documents.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, version string) ([]byte, error)
}

// Loader is a Provider over a Source. Parsed rulesets are cached and
// concurrent loads of one version share a single read.
type Loader struct {
	src   Source
	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Ruleset
}

// NewLoader wraps src.
func NewLoader(src Source) *Loader {
	return &Loader{src: src, cache: make(map[string]*Ruleset)}
}

func (l *Loader) Versions(ctx context.Context) ([]string, error) {
	return l.src.List(ctx)
}

func (l *Loader) Get(ctx context.Context, version string) (*Ruleset, error) {
	if version == Latest {
		versions, err := l.src.List(ctx)
		if err != nil {
			return nil, err
		}
		v, ok := highest(versions)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
		}
		version = v
	}
	key := canonical(version)
	l.mu.RLock()
	rs, hit := l.cache[key]
	l.mu.RUnlock()
	if hit {
		return rs, nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		data, err := l.src.Read(ctx, version)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, err
		}
		if parsed.Version() != key {
			return nil, fmt.Errorf("ruleset document declares version %s, expected %s", parsed.Version(), key)
		}
		l.mu.Lock()
		l.cache[key] = parsed
		l.mu.Unlock()
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ruleset), nil
}

// DirSource reads <version>.yaml files from a directory.
type DirSource struct {
	Dir string
}

func (d DirSource) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("list rulesets in %s: %w", d.Dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if v, ok := versionFromName(e.Name()); ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d DirSource) Read(_ context.Context, version string) ([]byte, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(d.Dir, filepath.Base(version)+ext)) // #nosec G304 -- version is reduced to a base name
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
}

// BlobSource reads rulesets/<version>.yaml objects from a blob store.
type BlobSource struct {
	Store core.Store
}

func (b BlobSource) List(ctx context.Context) ([]string, error) {
	infos, err := b.Store.List(ctx, BlobPrefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range infos {
		if v, ok := versionFromName(strings.TrimPrefix(info.Key, BlobPrefix)); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (b BlobSource) Read(ctx context.Context, version string) ([]byte, error) {
	_, rc, err := b.Store.Get(ctx, BlobPrefix+version+".yaml")
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func versionFromName(name string) (string, bool) {
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	v := strings.TrimSuffix(name, ext)
	if _, err := semver.NewVersion(v); err != nil {
		return "", false
	}
	return v, true
}
