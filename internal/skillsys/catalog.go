package skillsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/animus-run/animus/pkg/model"
)

// Catalog holds every discovered skill and keeps it fresh against one or
// more skill directories: a synchronous initial scan plus an optional
// debounced fsnotify watch loop for hot reload.
type Catalog struct {
	dirs          []string
	watchDebounce time.Duration

	mu     sync.RWMutex
	skills map[string]*model.Skill

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewCatalog builds a catalog over the given skill directories. Directories
// are scanned in order; a later directory's skill overrides an earlier
// directory's skill of the same name, so callers should list directories
// from lowest to highest priority (bundled, then workspace-local).
func NewCatalog(dirs []string) *Catalog {
	return &Catalog{
		dirs:          dirs,
		watchDebounce: 250 * time.Millisecond,
		skills:        make(map[string]*model.Skill),
	}
}

// Discover scans all configured directories for SKILL.md files and
// replaces the in-memory catalog atomically. A parse failure in one skill
// does not abort the scan; it is skipped.
func (c *Catalog) Discover(ctx context.Context) error {
	found := make(map[string]*model.Skill)

	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read skill dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			skillPath := filepath.Join(dir, e.Name(), SkillFilename)
			if _, err := os.Stat(skillPath); err != nil {
				continue
			}
			s, err := ParseFile(skillPath)
			if err != nil {
				continue
			}
			found[s.Name] = s
		}
	}

	c.mu.Lock()
	c.skills = found
	c.mu.Unlock()
	return nil
}

// Get returns a skill by name.
func (c *Catalog) Get(name string) (*model.Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[name]
	return s, ok
}

// List returns every known skill, sorted by name.
func (c *Catalog) List() []*model.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put registers or replaces a skill without touching disk, used after
// create_skill writes a new SKILL.md so the catalog reflects it immediately
// rather than waiting on the next watch-triggered rescan.
func (c *Catalog) Put(s *model.Skill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skills[s.Name] = s
}

// StartWatching begins an fsnotify watch over the configured directories,
// rescanning on any create/write/remove/rename under them. It is a no-op if
// already watching.
func (c *Catalog) StartWatching(ctx context.Context) error {
	c.watchMu.Lock()
	if c.watcher != nil {
		c.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.watchMu.Unlock()
		return fmt.Errorf("create skill watcher: %w", err)
	}
	for _, dir := range c.dirs {
		_ = watcher.Add(dir)
	}
	c.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	c.watchCancel = cancel
	c.watchMu.Unlock()

	c.watchWg.Add(1)
	go c.watchLoop(watchCtx)
	return nil
}

// Close stops the watch loop, if running.
func (c *Catalog) Close() error {
	c.watchMu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	c.watchWg.Wait()
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context) {
	defer c.watchWg.Done()
	c.watchMu.Lock()
	watcher := c.watcher
	c.watchMu.Unlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRescan := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(c.watchDebounce, func() {
			_ = c.Discover(context.Background())
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRescan()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Match reports every skill whose triggers fire for the given faculty, work
// type, and free-text keywords (matched case-insensitively against
// haystack, which Matcher builds from the work item's provenance trigger
// and string-valued params): a skill matches if its Faculties
// list is empty or contains the faculty, AND at least one of
// WorkTypes/Keywords/Params matches (an empty Triggers struct matches
// nothing; a skill with no triggers must be activated manually).
func Match(skills []*model.Skill, faculty, workType string, haystack string, params map[string]any) []*model.Skill {
	haystack = strings.ToLower(haystack)
	var out []*model.Skill
	for _, s := range skills {
		if !facultyMatches(s, faculty) {
			continue
		}
		if triggersMatch(s, workType, haystack, params) {
			out = append(out, s)
		}
	}
	return out
}

func facultyMatches(s *model.Skill, faculty string) bool {
	if len(s.Faculties) == 0 {
		return true
	}
	for _, f := range s.Faculties {
		if f == faculty {
			return true
		}
	}
	return false
}

func triggersMatch(s *model.Skill, workType, haystack string, params map[string]any) bool {
	for _, wt := range s.Triggers.WorkTypes {
		if wt == workType {
			return true
		}
	}
	for _, kw := range s.Triggers.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	for k, want := range s.Triggers.Params {
		if got, ok := params[k]; ok && fmt.Sprint(got) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}

// SelectAutoActivated narrows a matched set down to those flagged
// auto_activate, capped at max. max <= 0 auto-activates none; skills
// beyond the cap (or all of them, at max 0) are left for manual activation
// via the activate_skill tool or the orient-time catalog summary.
func SelectAutoActivated(matched []*model.Skill, max int) []*model.Skill {
	if max <= 0 {
		return nil
	}
	var out []*model.Skill
	for _, s := range matched {
		if !s.AutoActivate {
			continue
		}
		out = append(out, s)
		if len(out) >= max {
			break
		}
	}
	return out
}
