package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// DefaultPatterns select plugin sources under the plugin directory
var DefaultPatterns = []string{"**/*.js", "**/*.py"}

// LoadReport summarizes a directory load
type LoadReport struct {
	Loaded int               `json:"loaded"`
	Failed int               `json:"failed"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Loader registers every plugin source found under a directory
type Loader struct {
	registry *Registry
	dir      string
	patterns []string
	logger   *zap.Logger
}

// NewLoader creates a loader for dir using DefaultPatterns
func NewLoader(registry *Registry, dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		registry: registry,
		dir:      dir,
		patterns: DefaultPatterns,
		logger:   logger.Named("loader"),
	}
}

// WithPatterns replaces the glob patterns matched against paths relative
// to the plugin directory
func (l *Loader) WithPatterns(patterns ...string) *Loader {
	l.patterns = patterns
	return l
}

// Load registers every matching file. Files whose name starts with '_'
// are skipped. A missing directory loads nothing.
func (l *Loader) Load() (LoadReport, error) {
	report := LoadReport{Errors: map[string]string{}}

	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		l.logger.Warn("Plugin directory not found", zap.String("dir", l.dir))
		return report, nil
	}

	paths, err := l.scan()
	if err != nil {
		return report, fmt.Errorf("scan %s: %w", l.dir, err)
	}

	for _, path := range paths {
		if err := l.loadFile(path); err != nil {
			report.Failed++
			report.Errors[path] = err.Error()
			l.logger.Warn("Failed to load plugin", zap.String("path", path), zap.Error(err))
			continue
		}
		report.Loaded++
	}

	l.logger.Info("Plugin load complete",
		zap.String("dir", l.dir),
		zap.Int("loaded", report.Loaded),
		zap.Int("failed", report.Failed))
	return report, nil
}

// scan walks the directory and returns matching files in lexical order
func (l *Loader) scan() ([]string, error) {
	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != l.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), "_") || !l.matches(p) {
			return nil
		}
		mu.Lock()
		paths = append(paths, p)
		mu.Unlock()
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

func (l *Loader) matches(path string) bool {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range l.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = l.registry.RegisterFile(string(data), path)
	return err
}
