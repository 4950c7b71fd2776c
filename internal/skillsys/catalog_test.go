package skillsys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-run/animus/pkg/model"
)

func TestCatalogDiscoverAndGet(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "incident-triage", sampleSkill)

	cat := NewCatalog([]string{dir})
	require.NoError(t, cat.Discover(context.Background()))

	s, ok := cat.Get("incident-triage")
	require.True(t, ok)
	assert.Equal(t, "incident-triage", s.Name)
	assert.Len(t, cat.List(), 1)
}

func TestCatalogDiscoverMissingDirIsNotAnError(t *testing.T) {
	cat := NewCatalog([]string{"/nonexistent/path"})
	require.NoError(t, cat.Discover(context.Background()))
	assert.Empty(t, cat.List())
}

func TestCatalogLaterDirOverridesEarlier(t *testing.T) {
	low := t.TempDir()
	high := t.TempDir()
	writeSkill(t, low, "incident-triage", sampleSkill)
	writeSkill(t, high, "incident-triage", `---
name: incident-triage
description: overridden
---
body`)

	cat := NewCatalog([]string{low, high})
	require.NoError(t, cat.Discover(context.Background()))

	s, ok := cat.Get("incident-triage")
	require.True(t, ok)
	assert.Equal(t, "overridden", s.Description)
}

func TestMatchByWorkTypeAndKeyword(t *testing.T) {
	skills := []*model.Skill{
		{Name: "a", Triggers: model.Triggers{WorkTypes: []string{"incident"}}},
		{Name: "b", Triggers: model.Triggers{Keywords: []string{"outage"}}},
		{Name: "c", Triggers: model.Triggers{WorkTypes: []string{"deploy"}}},
	}

	matched := Match(skills, "ops", "incident", "unrelated text", nil)
	require.Len(t, matched, 1)
	assert.Equal(t, "a", matched[0].Name)

	matched = Match(skills, "ops", "other", "there was an OUTAGE last night", nil)
	require.Len(t, matched, 1)
	assert.Equal(t, "b", matched[0].Name)
}

func TestMatchRespectsFacultyScope(t *testing.T) {
	skills := []*model.Skill{
		{Name: "scoped", Faculties: []string{"billing"}, Triggers: model.Triggers{WorkTypes: []string{"incident"}}},
	}
	assert.Empty(t, Match(skills, "ops", "incident", "", nil))
	assert.Len(t, Match(skills, "billing", "incident", "", nil), 1)
}

func TestSelectAutoActivatedCapsCount(t *testing.T) {
	matched := []*model.Skill{
		{Name: "a", AutoActivate: true},
		{Name: "b", AutoActivate: false},
		{Name: "c", AutoActivate: true},
		{Name: "d", AutoActivate: true},
	}
	selected := SelectAutoActivated(matched, 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "a", selected[0].Name)
	assert.Equal(t, "c", selected[1].Name)
}

func TestSelectAutoActivatedZeroMeansNone(t *testing.T) {
	matched := []*model.Skill{{Name: "a", AutoActivate: true}}
	assert.Empty(t, SelectAutoActivated(matched, 0))
	assert.Empty(t, SelectAutoActivated(matched, -1))
}
