package modules

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// candidateExtensions is the fallback order tried when a specifier does
// not resolve as given.
var candidateExtensions = []string{"ts", "js", "mjs", "json"}

// ModuleLoader resolves a specifier to canonical form, fetches its
// source, and reports what it can handle. FilesystemLoader, HTTPLoader
// and CompositeLoader are the three provided implementations.
type ModuleLoader interface {
	LoadModule(resolved string) (string, error)
	ResolveSpecifier(specifier, base string) (string, error)
	ModuleExists(resolved string) bool
	SupportedExtensions() []string
}

// FilesystemLoader resolves relative/absolute/bare specifiers against
// disk, following the extension fallback order and, for directories,
// an index.<ext> fallback.
type FilesystemLoader struct {
	// Root is where bare specifiers (no leading "./", "../" or "/")
	// are resolved against.
	Root string
}

func NewFilesystemLoader(root string) *FilesystemLoader {
	return &FilesystemLoader{Root: root}
}

func (l *FilesystemLoader) ResolveSpecifier(specifier, base string) (string, error) {
	if specifier == "" {
		return "", hosterror.New(hosterror.KindInvalidModuleSpecifier, "empty module specifier")
	}

	var candidate string
	switch {
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		if base == "" {
			base = l.Root
		}
		candidate = filepath.Join(filepath.Dir(base), specifier)
	case strings.HasPrefix(specifier, "/"):
		candidate = specifier
	case strings.HasPrefix(specifier, "http://") || strings.HasPrefix(specifier, "https://"):
		return "", hosterror.Newf(hosterror.KindInvalidModuleSpecifier, "%q is a URL specifier, not a filesystem path", specifier)
	default:
		candidate = filepath.Join(l.Root, specifier)
	}

	resolved, ok := l.resolveCandidates(candidate)
	if !ok {
		return "", hosterror.Newf(hosterror.KindModuleNotFound, "cannot resolve module %q", specifier)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", hosterror.Wrap(hosterror.KindInvalidModuleSpecifier, err, "canonicalizing "+resolved)
	}
	return filepath.Clean(abs), nil
}

func (l *FilesystemLoader) resolveCandidates(candidate string) (string, bool) {
	if info, err := os.Stat(candidate); err == nil {
		if info.IsDir() {
			if resolved, ok := l.resolveIndex(candidate); ok {
				return resolved, true
			}
		} else {
			return candidate, true
		}
	}

	for _, ext := range candidateExtensions {
		withExt := candidate + "." + ext
		if info, err := os.Stat(withExt); err == nil && !info.IsDir() {
			return withExt, true
		}
	}

	return "", false
}

func (l *FilesystemLoader) resolveIndex(dir string) (string, bool) {
	for _, ext := range candidateExtensions {
		indexPath := filepath.Join(dir, "index."+ext)
		if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
			return indexPath, true
		}
	}
	return "", false
}

func (l *FilesystemLoader) LoadModule(resolved string) (string, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", hosterror.Wrap(hosterror.KindPathNotFound, err, "reading "+resolved)
		}
		return "", hosterror.Wrap(hosterror.KindFsError, err, "reading "+resolved)
	}
	return string(data), nil
}

func (l *FilesystemLoader) ModuleExists(resolved string) bool {
	info, err := os.Stat(resolved)
	return err == nil && !info.IsDir()
}

func (l *FilesystemLoader) SupportedExtensions() []string {
	return append([]string(nil), candidateExtensions...)
}

// HTTPLoader resolves and fetches http(s):// module specifiers, caching
// responses in memory keyed by URL. Concurrent loads of the same URL
// are collapsed into a single fetch via singleflight, the same pattern
// the teacher's relay layer used to coalesce concurrent command runs.
type HTTPLoader struct {
	Client *http.Client

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

func NewHTTPLoader() *HTTPLoader {
	return &HTTPLoader{
		Client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string]string),
	}
}

func (l *HTTPLoader) ResolveSpecifier(specifier, base string) (string, error) {
	if strings.HasPrefix(specifier, "http://") || strings.HasPrefix(specifier, "https://") {
		u, err := url.Parse(specifier)
		if err != nil {
			return "", hosterror.Wrap(hosterror.KindInvalidModuleSpecifier, err, "parsing "+specifier)
		}
		return u.String(), nil
	}
	if base == "" || (!strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://")) {
		return "", hosterror.Newf(hosterror.KindInvalidModuleSpecifier, "%q is not an absolute URL and no URL base is available", specifier)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", hosterror.Wrap(hosterror.KindInvalidModuleSpecifier, err, "parsing base "+base)
	}
	ref, err := url.Parse(specifier)
	if err != nil {
		return "", hosterror.Wrap(hosterror.KindInvalidModuleSpecifier, err, "parsing "+specifier)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func (l *HTTPLoader) LoadModule(resolved string) (string, error) {
	l.mu.RLock()
	if cached, ok := l.cache[resolved]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.group.Do(resolved, func() (any, error) {
		resp, err := l.Client.Get(resolved)
		if err != nil {
			return nil, hosterror.Wrap(hosterror.KindNetworkError, err, "fetching "+resolved)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, hosterror.Newf(hosterror.KindNetworkError, "fetching %s: status %d", resolved, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, hosterror.Wrap(hosterror.KindNetworkError, err, "reading body of "+resolved)
		}
		l.mu.Lock()
		l.cache[resolved] = string(body)
		l.mu.Unlock()
		return string(body), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (l *HTTPLoader) ModuleExists(resolved string) bool {
	resp, err := l.Client.Head(resolved)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (l *HTTPLoader) SupportedExtensions() []string {
	return []string{"js", "mjs", "ts", "json"}
}

// CompositeLoader tries each constituent loader in order; the first
// successful resolution wins.
type CompositeLoader struct {
	Loaders []ModuleLoader
}

func NewCompositeLoader(loaders ...ModuleLoader) *CompositeLoader {
	return &CompositeLoader{Loaders: loaders}
}

func (l *CompositeLoader) ResolveSpecifier(specifier, base string) (string, error) {
	var lastErr error
	for _, inner := range l.Loaders {
		resolved, err := inner.ResolveSpecifier(specifier, base)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = hosterror.Newf(hosterror.KindModuleNotFound, "no loader could resolve %q", specifier)
	}
	return "", lastErr
}

func (l *CompositeLoader) LoadModule(resolved string) (string, error) {
	var lastErr error
	for _, inner := range l.Loaders {
		if !inner.ModuleExists(resolved) {
			continue
		}
		src, err := inner.LoadModule(resolved)
		if err == nil {
			return src, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = hosterror.Newf(hosterror.KindModuleNotFound, "no loader could load %q", resolved)
	}
	return "", lastErr
}

func (l *CompositeLoader) ModuleExists(resolved string) bool {
	for _, inner := range l.Loaders {
		if inner.ModuleExists(resolved) {
			return true
		}
	}
	return false
}

func (l *CompositeLoader) SupportedExtensions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inner := range l.Loaders {
		for _, ext := range inner.SupportedExtensions() {
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	return out
}

// extensionOf returns a resolved specifier's extension without the dot,
// defaulting to "js" for an extensionless resolution.
func extensionOf(resolved string) string {
	if strings.HasPrefix(resolved, "http://") || strings.HasPrefix(resolved, "https://") {
		if u, err := url.Parse(resolved); err == nil {
			resolved = u.Path
		}
	}
	ext := strings.TrimPrefix(path.Ext(resolved), ".")
	if ext == "" {
		return "js"
	}
	return ext
}
