package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is how long the watcher waits for a burst of file
// changes to settle before reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc receives the full policy set after a change on disk.
type ReloadFunc func(ctx context.Context, policies []Policy) error

// Loader reads policies from .rego files, JSON policy files and JSON policy
// bundles, and can watch them for changes.
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu      sync.Mutex
	cache   map[string][]Policy
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: DefaultReloadDelay,
		cache:       make(map[string][]Policy),
	}
}

// SetReloadDelay changes the debounce delay used by Watch.
func (l *Loader) SetReloadDelay(d time.Duration) {
	l.reloadDelay = d
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	return l.loadFromFile(path)
}

// loadFromDirectory loads every policy file below dirPath. Files that fail to
// parse are logged and skipped.
func (l *Loader) loadFromDirectory(dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile returns the policies defined in one file: a single policy for
// .rego and plain .json files, every member for a JSON bundle.
func (l *Loader) loadFromFile(filePath string) ([]Policy, error) {
	key := cacheKey(filePath)

	l.mu.Lock()
	cached, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policies = []Policy{*parseRegoFile(filePath, data)}
	case strings.HasSuffix(filePath, ".json") && isBundle(data):
		bundle, err := parseBundle(data)
		if err != nil {
			return nil, err
		}
		l.logger.Info().
			Str("bundle", bundle.Name).
			Str("version", bundle.Version).
			Int("policies", len(bundle.Policies)).
			Msg("Policy bundle loaded")
		policies = bundle.Policies
	case strings.HasSuffix(filePath, ".json"):
		policy, err := parseJSONPolicy(data)
		if err != nil {
			return nil, err
		}
		policies = []Policy{*policy}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	for i := range policies {
		if policies[i].Metadata == nil {
			policies[i].Metadata = make(map[string]interface{})
		}
		policies[i].Metadata["source"] = filePath
	}

	l.mu.Lock()
	l.cache[key] = policies
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Int("policies", len(policies)).
		Msg("Policies loaded from file")

	return policies, nil
}

// cacheKey maps every spelling of a path to the name fsnotify reports for it.
func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// parseRegoFile names the policy after its file and reads the leading comment
// block as its description. An optional "# severity: <level>" line sets the
// default severity.
func parseRegoFile(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	content := string(data)
	now := time.Now()

	return &Policy{
		Name:        name,
		Description: extractDescription(content),
		Rego:        content,
		Severity:    extractSeverity(content),
		Enabled:     true,
		Tags:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// jsonPolicy lets a missing "enabled" field default to true.
type jsonPolicy struct {
	Policy
	Enabled *bool `json:"enabled"`
}

func parseJSONPolicy(data []byte) (*Policy, error) {
	var jp jsonPolicy
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	policy := jp.Policy
	if policy.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if policy.Rego == "" {
		return nil, fmt.Errorf("JSON policy %s has no rego", policy.Name)
	}
	policy.Enabled = jp.Enabled == nil || *jp.Enabled
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}

	return &policy, nil
}

func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && description.Len() > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" || strings.HasPrefix(comment, "severity:") {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String()
}

func extractSeverity(content string) Severity {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "# severity:"); ok {
			switch s := Severity(strings.TrimSpace(rest)); s {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				return s
			}
		}
	}
	return SeverityError
}

// isBundle reports whether a JSON document carries a top-level "policies"
// array.
func isBundle(data []byte) bool {
	var shape struct {
		Policies json.RawMessage `json:"policies"`
	}
	return json.Unmarshal(data, &shape) == nil && len(shape.Policies) > 0
}

// parseBundle decodes a JSON policy bundle. Each member follows the same rules
// as a standalone JSON policy and is tagged with the bundle name and version.
func parseBundle(data []byte) (*PolicyBundle, error) {
	var raw struct {
		Name        string            `json:"name"`
		Version     string            `json:"version"`
		Description string            `json:"description"`
		Policies    []json.RawMessage `json:"policies"`
		CreatedAt   time.Time         `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("policy bundle has no name")
	}
	if len(raw.Policies) == 0 {
		return nil, fmt.Errorf("policy bundle %s has no policies", raw.Name)
	}

	bundle := &PolicyBundle{
		Name:        raw.Name,
		Version:     raw.Version,
		Description: raw.Description,
		Policies:    make([]Policy, 0, len(raw.Policies)),
		CreatedAt:   raw.CreatedAt,
	}
	seen := make(map[string]bool, len(raw.Policies))
	for i, member := range raw.Policies {
		policy, err := parseJSONPolicy(member)
		if err != nil {
			return nil, fmt.Errorf("bundle %s policy %d: %w", raw.Name, i, err)
		}
		if seen[policy.Name] {
			return nil, fmt.Errorf("bundle %s defines policy %s twice", raw.Name, policy.Name)
		}
		seen[policy.Name] = true

		if policy.Metadata == nil {
			policy.Metadata = make(map[string]interface{})
		}
		policy.Metadata["bundle"] = raw.Name
		if raw.Version != "" {
			policy.Metadata["bundle_version"] = raw.Version
		}
		bundle.Policies = append(bundle.Policies, *policy)
	}

	return bundle, nil
}

// Watch reloads every policy under paths after files change and passes the
// result to reload. It returns once the watcher is running; watching stops
// when ctx ends or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if !info.IsDir() {
			// Watch the parent so editors that replace the file are seen.
			path = filepath.Dir(path)
		}
		if err := addTree(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, reload)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching policy paths")

	return nil
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reload ReloadFunc) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			l.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, cacheKey(event.Name))
			if l.timer != nil {
				l.timer.Stop()
			}
			l.timer = time.AfterFunc(l.reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reload); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})
			l.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) triggerReload(ctx context.Context, paths []string, reload ReloadFunc) error {
	if ctx.Err() != nil {
		return nil
	}
	l.logger.Info().Msg("Reloading policies")

	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	if err := reload(ctx, policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().
		Int("count", len(policies)).
		Msg("Policies reloaded successfully")

	return nil
}

func (l *Loader) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.stopTimer()

	l.mu.Lock()
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string][]Policy)
	l.logger.Debug().Msg("Policy cache cleared")
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}
