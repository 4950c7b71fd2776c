package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/animus-run/animus/pkg/model"
)

// LoadFaculties parses every *.toml file in dir into a FacultyConfig,
// keyed by name (the file's declared `name`, falling back to its
// filename stem if absent). Unknown keys are tolerated with a warning,
// since toml.Decode already ignores unrecognized fields; we
// surface that leniency by returning the decode metadata's undecoded keys
// as warnings instead of failing the load.
func LoadFaculties(dir string) (map[string]model.FacultyConfig, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading faculties dir %s: %w", dir, err)
	}

	out := make(map[string]model.FacultyConfig)
	var warnings []string

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".toml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, fname := range names {
		path := filepath.Join(dir, fname)
		var fc model.FacultyConfig
		meta, err := toml.DecodeFile(path, &fc)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing faculty file %s: %w", path, err)
		}
		for _, undecoded := range meta.Undecoded() {
			warnings = append(warnings, fmt.Sprintf("%s: unrecognized key %q", fname, undecoded.String()))
		}
		if fc.Name == "" {
			fc.Name = strings.TrimSuffix(fname, filepath.Ext(fname))
		}
		applyFacultyDefaults(&fc)
		if _, exists := out[fc.Name]; exists {
			return nil, nil, fmt.Errorf("duplicate faculty name %q (file %s)", fc.Name, fname)
		}
		out[fc.Name] = fc
	}
	return out, warnings, nil
}

// applyFacultyDefaults fills the handful of zero values that would
// otherwise silently disable engage-loop behavior that should be on by
// default (a bare turn cap, at least one tool-dispatch worker).
func applyFacultyDefaults(fc *model.FacultyConfig) {
	if fc.Engage.MaxTurns <= 0 {
		fc.Engage.MaxTurns = 50
	}
	if fc.Engage.MaxParallelTools <= 0 {
		fc.Engage.MaxParallelTools = 1
	}
	if fc.Engage.Mode == "" {
		fc.Engage.Mode = model.EngageInternal
	}
	if fc.Recover.MaxAttempts <= 0 {
		fc.Recover.MaxAttempts = 3
	}
	if fc.Awareness.LookbackHours <= 0 {
		fc.Awareness.LookbackHours = 24
	}
}
