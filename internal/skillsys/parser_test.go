package skillsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSkill = `---
name: incident-triage
description: Triage production incidents by severity
triggers:
  work_types:
    - incident
  keywords:
    - outage
    - pagerduty
auto_activate: true
version: 1.0.0
---

# Incident Triage

Body text goes here.
`

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	path := filepath.Join(skillDir, SkillFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "incident-triage", sampleSkill)

	s, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "incident-triage", s.Name)
	assert.True(t, s.AutoActivate)
	assert.Contains(t, s.Triggers.Keywords, "outage")
	assert.Contains(t, s.Body, "# Incident Triage")
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte("---\ndescription: x\n---\nbody"), "/tmp")
	require.Error(t, err)
}

func TestParseRejectsMissingDelimiters(t *testing.T) {
	_, err := Parse([]byte("name: x\ndescription: y"), "/tmp")
	require.Error(t, err)
}

func TestRenderRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "incident-triage", sampleSkill)
	s, err := ParseFile(path)
	require.NoError(t, err)

	out, err := Render(s)
	require.NoError(t, err)

	reparsed, err := Parse(out, dir)
	require.NoError(t, err)
	assert.Equal(t, s.Name, reparsed.Name)
	assert.Equal(t, s.Description, reparsed.Description)
}
