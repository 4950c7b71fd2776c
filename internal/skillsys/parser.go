// Package skillsys discovers, parses, and matches skills: file-backed
// methodology packets with YAML frontmatter and a markdown body. The
// catalog scans the skills directory once at startup and optionally
// watches it for changes.
package skillsys

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-run/animus/pkg/model"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	frontmatterDelimiter = "---"
)

// ParseFile parses a SKILL.md file at path.
func ParseFile(path string) (*model.Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse splits frontmatter from body and unmarshals into a model.Skill.
func Parse(data []byte, dir string) (*model.Skill, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var s model.Skill
	if err := yaml.Unmarshal(frontmatter, &s); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}

	s.Body = strings.TrimSpace(string(body))
	s.Path = dir
	if scriptsDir := filepath.Join(dir, "scripts"); dirExists(scriptsDir) {
		s.ScriptsDir = scriptsDir
	}
	return &s, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1<<20)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan skill file: %w", err)
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// Validate checks the required fields of a parsed skill.
func Validate(s *model.Skill) error {
	if s.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	for _, r := range s.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: got %q", s.Name)
		}
	}
	if s.Description == "" {
		return fmt.Errorf("skill description is required for %q", s.Name)
	}
	return nil
}

// Render renders a skill's frontmatter and body back to SKILL.md text, used
// by Create for the create_skill tool.
func Render(s *model.Skill) ([]byte, error) {
	fm, err := yaml.Marshal(struct {
		Name         string         `yaml:"name"`
		Description  string         `yaml:"description"`
		Triggers     model.Triggers `yaml:"triggers"`
		Faculties    []string       `yaml:"faculties,omitempty"`
		AutoActivate bool           `yaml:"auto_activate"`
		Version      string         `yaml:"version"`
		CreatedBy    string         `yaml:"created_by"`
	}{
		Name:         s.Name,
		Description:  s.Description,
		Triggers:     s.Triggers,
		Faculties:    s.Faculties,
		AutoActivate: s.AutoActivate,
		Version:      s.Version,
		CreatedBy:    s.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal skill frontmatter: %w", err)
	}
	var out bytes.Buffer
	out.WriteString(frontmatterDelimiter)
	out.WriteByte('\n')
	out.Write(fm)
	out.WriteString(frontmatterDelimiter)
	out.WriteByte('\n')
	out.WriteString(s.Body)
	out.WriteByte('\n')
	return out.Bytes(), nil
}
