package skillsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-run/animus/pkg/model"
)

// Matcher implements focus.SkillMatcher: Orient-time trigger matching plus
// auto-activation. It is safe to share across
// every focus of every faculty, since ActiveSet keys activation state by
// work item id.
type Matcher struct {
	Catalog *Catalog
	Active  *ActiveSet

	// Recorder, when set, persists each auto-activation. Best-effort: a
	// failed write never blocks Orient.
	Recorder Recorder
}

// NewMatcher returns a Matcher over the given catalog and activation set.
func NewMatcher(catalog *Catalog, active *ActiveSet) *Matcher {
	return &Matcher{Catalog: catalog, Active: active}
}

// Forget discards workItemID's activation state.
func (m *Matcher) Forget(workItemID string) {
	m.Active.Forget(workItemID)
}

// MatchAndActivate matches every known skill against item, auto-activates
// up to maxAutoActivated of the auto_activate matches (plus item.Skill, if
// set, which names a methodology prompt to activate unconditionally), and
// returns a catalog section listing the remaining matches for manual
// activation via activate_skill. Returns "" if nothing remains to list.
func (m *Matcher) MatchAndActivate(ctx context.Context, item *model.WorkItem, maxAutoActivated int) string {
	all := m.Catalog.List()
	haystack := haystackFor(item)
	matched := Match(all, item.Faculty, item.Faculty, haystack, item.Params)

	activated := make(map[string]bool)
	for _, s := range SelectAutoActivated(matched, maxAutoActivated) {
		if m.Active.Activate(s, item.ID, item.Faculty, model.ActivationAuto) {
			activated[s.Name] = true
			m.record(ctx, s.Name, item)
		}
	}
	if item.Skill != "" && !m.Active.IsActive(item.ID, item.Skill) {
		if s, ok := m.Catalog.Get(item.Skill); ok {
			m.Active.Activate(s, item.ID, item.Faculty, model.ActivationAuto)
			activated[s.Name] = true
			m.record(ctx, s.Name, item)
		}
	}

	var remaining []*model.Skill
	for _, s := range matched {
		if !activated[s.Name] && !m.Active.IsActive(item.ID, s.Name) {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Available skills (call activate_skill to use one):\n")
	for _, s := range remaining {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return sb.String()
}

// record persists one auto-activation; the in-memory ActiveSet already
// holds the timestamped record, so persistence failures are swallowed.
func (m *Matcher) record(ctx context.Context, skillName string, item *model.WorkItem) {
	if m.Recorder == nil {
		return
	}
	for _, act := range m.Active.Activations(item.ID) {
		if act.SkillName == skillName {
			_ = m.Recorder.RecordActivation(ctx, act)
			return
		}
	}
}

// haystackFor builds the free-text blob Match scans for keyword triggers:
// the submission's trigger description plus every string-valued param,
// since work items carry no separate free-text description field.
func haystackFor(item *model.WorkItem) string {
	var sb strings.Builder
	sb.WriteString(item.Provenance.Trigger)
	for _, v := range item.Params {
		if s, ok := v.(string); ok {
			sb.WriteString(" ")
			sb.WriteString(s)
		}
	}
	return sb.String()
}
