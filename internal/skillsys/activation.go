package skillsys

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/animus-run/animus/pkg/model"
)

// ActiveSet tracks which skills are active, scoped per work item, so one
// faculty's shared tool registry can serve many concurrent foci without
// one focus's activate_skill calls leaking into another's system prompt;
// each focus owns its in-memory state exclusively. It is not persisted
// directly; callers persist each Activation through a Recorder (the
// skill_activations table) and keep it here for fast lookup during the
// remainder of the engage loop.
type ActiveSet struct {
	mu     sync.RWMutex
	byItem map[string]*itemActivations
}

type itemActivations struct {
	activations []model.Activation
	byName      map[string]*model.Skill
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{byItem: make(map[string]*itemActivations)}
}

// Activate records a skill as active for workItemID, returning false if it
// was already active for that work item (idempotent re-activation is not
// an error, but it is not re-recorded either).
func (a *ActiveSet) Activate(s *model.Skill, workItemID, faculty string, kind model.ActivationType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	item := a.itemFor(workItemID)
	if _, ok := item.byName[s.Name]; ok {
		return false
	}
	item.byName[s.Name] = s
	item.activations = append(item.activations, model.Activation{
		SkillName:  s.Name,
		WorkItemID: workItemID,
		Faculty:    faculty,
		Type:       kind,
		Timestamp:  time.Now().UTC(),
	})
	return true
}

func (a *ActiveSet) itemFor(workItemID string) *itemActivations {
	item, ok := a.byItem[workItemID]
	if !ok {
		item = &itemActivations{byName: make(map[string]*model.Skill)}
		a.byItem[workItemID] = item
	}
	return item
}

// Active returns every skill currently active for workItemID, in
// activation order.
func (a *ActiveSet) Active(workItemID string) []*model.Skill {
	a.mu.RLock()
	defer a.mu.RUnlock()
	item, ok := a.byItem[workItemID]
	if !ok {
		return nil
	}
	out := make([]*model.Skill, 0, len(item.activations))
	for _, act := range item.activations {
		if s, ok := item.byName[act.SkillName]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Activations returns the recorded activation log for workItemID, in order.
func (a *ActiveSet) Activations(workItemID string) []model.Activation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	item, ok := a.byItem[workItemID]
	if !ok {
		return nil
	}
	out := make([]model.Activation, len(item.activations))
	copy(out, item.activations)
	return out
}

// IsActive reports whether name is currently active for workItemID.
func (a *ActiveSet) IsActive(workItemID, name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	item, ok := a.byItem[workItemID]
	if !ok {
		return false
	}
	_, ok = item.byName[name]
	return ok
}

// Forget discards all activation state for workItemID, called once a focus
// reaches a terminal phase so the set does not grow unbounded across a
// faculty's lifetime.
func (a *ActiveSet) Forget(workItemID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byItem, workItemID)
}

// Fragments returns the markdown bodies of every skill active for
// workItemID, in activation order: what the engage loop folds into the
// system prompt each iteration.
func (a *ActiveSet) Fragments(workItemID string) []string {
	active := a.Active(workItemID)
	out := make([]string, 0, len(active))
	for _, s := range active {
		out = append(out, s.Body)
	}
	return out
}

// Create writes a new SKILL.md under dir/name and registers it in the
// catalog, implementing the autopoietic create_skill tool: a focus can
// write a new skill for future work items in the same faculty. The skill's
// CreatedBy and CreatedAt are stamped here rather than trusted from the
// caller.
func Create(catalog *Catalog, dir string, s *model.Skill, createdBy string) (*model.Skill, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	s.CreatedBy = createdBy
	s.CreatedAt = time.Now().UTC()
	if s.Version == "" {
		s.Version = "1.0.0"
	}

	skillDir := filepath.Join(dir, s.Name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		return nil, fmt.Errorf("create skill dir: %w", err)
	}
	content, err := Render(s)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(skillDir, SkillFilename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("write skill file: %w", err)
	}
	s.Path = skillDir

	if catalog != nil {
		catalog.Put(s)
	}
	return s, nil
}

// Provenance builds the persisted provenance record for a skill creation or
// amendment, tying it back to the ledger entry (identified by seq) that
// produced it.
func Provenance(s *model.Skill, workItemID string, ledgerSeq int, snippet string) model.SkillProvenance {
	return model.SkillProvenance{
		SkillName:    s.Name,
		SkillVersion: s.Version,
		WorkItemID:   workItemID,
		LedgerSeq:    ledgerSeq,
		Snippet:      snippet,
		Timestamp:    time.Now().UTC(),
	}
}
