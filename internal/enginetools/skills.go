package enginetools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/skillsys"
	"github.com/animus-run/animus/pkg/model"
)

// DiscoverSkillsTool lists matching skills' frontmatter without activating
// any of them.
type DiscoverSkillsTool struct {
	Catalog *skillsys.Catalog
}

func (t *DiscoverSkillsTool) Name() string { return "discover_skills" }
func (t *DiscoverSkillsTool) Description() string {
	return "List known skills matching an optional free-text query, faculty, or work type."
}
func (t *DiscoverSkillsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"faculty": {"type": "string"},
			"work_type": {"type": "string"}
		}
	}`)
}

func (t *DiscoverSkillsTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		Query    string `json:"query,omitempty"`
		Faculty  string `json:"faculty,omitempty"`
		WorkType string `json:"work_type,omitempty"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return nil, animuserr.Validation("discover_skills: invalid input: %v", err)
		}
	}
	faculty := params.Faculty
	if faculty == "" {
		faculty = auth.Faculty
	}

	all := t.Catalog.List()
	var matched []*model.Skill
	if params.WorkType != "" || params.Query != "" {
		matched = skillsys.Match(all, faculty, params.WorkType, params.Query, nil)
	} else {
		for _, s := range all {
			if faculty == "" || len(s.Faculties) == 0 || contains(s.Faculties, faculty) {
				matched = append(matched, s)
			}
		}
	}

	type skillSummary struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		AutoActivate bool   `json:"auto_activate"`
	}
	out := make([]skillSummary, 0, len(matched))
	for _, s := range matched {
		out = append(out, skillSummary{Name: s.Name, Description: s.Description, AutoActivate: s.AutoActivate})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal skill list: %w", err)
	}
	return &model.ToolResult{Content: string(encoded)}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ActivateSkillTool loads a skill's body into the focus's active set. The
// engage loop reads ActiveSet after each tool call to fold newly activated
// skill prompt fragments into the next request; a skill's ScriptsDir (if
// any) rides along on the model.Skill the engage loop already holds, so
// activation needs no separate sandbox registration step.
type ActivateSkillTool struct {
	Catalog *skillsys.Catalog
	Active  *skillsys.ActiveSet
	// Recorder, when set, persists the activation record. Best-effort: a
	// failed write never fails the tool call.
	Recorder skillsys.Recorder
}

func (t *ActivateSkillTool) Name() string        { return "activate_skill" }
func (t *ActivateSkillTool) Description() string { return "Activate a known skill, making its body and scripts available for the rest of this focus." }
func (t *ActivateSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"skill_name": {"type": "string"}},
		"required": ["skill_name"]
	}`)
}

func (t *ActivateSkillTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("activate_skill: invalid input: %v", err)
	}

	s, ok := t.Catalog.Get(params.SkillName)
	if !ok {
		return &model.ToolResult{IsError: true, ErrorType: "skill_not_found", Content: fmt.Sprintf("no skill named %q", params.SkillName)}, nil
	}

	if t.Active.Activate(s, auth.WorkItemID, auth.Faculty, model.ActivationManual) && t.Recorder != nil {
		for _, act := range t.Active.Activations(auth.WorkItemID) {
			if act.SkillName == s.Name {
				_ = t.Recorder.RecordActivation(ctx, act)
				break
			}
		}
	}
	return &model.ToolResult{Content: fmt.Sprintf("activated skill %q", s.Name)}, nil
}

// CreateSkillTool writes a new SKILL.md to the skill store, making it
// immediately discoverable by future foci (and this one, if it later calls
// discover_skills again).
type CreateSkillTool struct {
	Catalog  *skillsys.Catalog
	SkillDir string
	// Ledger locates the creating work item's latest entry so the
	// provenance record can point back at it; Recorder persists that
	// record. Both optional.
	Ledger   ledger.Store
	Recorder skillsys.Recorder
}

func (t *CreateSkillTool) Name() string        { return "create_skill" }
func (t *CreateSkillTool) Description() string { return "Write a new skill definition, discoverable immediately by future work." }
func (t *CreateSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"faculties": {"type": "array", "items": {"type": "string"}},
			"triggers": {
				"type": "object",
				"properties": {
					"work_types": {"type": "array", "items": {"type": "string"}},
					"keywords": {"type": "array", "items": {"type": "string"}}
				}
			},
			"content": {"type": "string"}
		},
		"required": ["name", "description", "content"]
	}`)
}

func (t *CreateSkillTool) Execute(ctx context.Context, auth model.AuthContext, input json.RawMessage) (*model.ToolResult, error) {
	var params struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Faculties   []string       `json:"faculties,omitempty"`
		Triggers    model.Triggers `json:"triggers,omitempty"`
		Content     string         `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, animuserr.Validation("create_skill: invalid input: %v", err)
	}
	params.Name = strings.TrimSpace(params.Name)

	s := &model.Skill{
		Name:        params.Name,
		Description: params.Description,
		Faculties:   params.Faculties,
		Triggers:    params.Triggers,
		Body:        params.Content,
	}
	created, err := skillsys.Create(t.Catalog, t.SkillDir, s, auth.WorkItemID)
	if err != nil {
		return &model.ToolResult{IsError: true, ErrorType: "invalid_skill", Content: err.Error()}, nil
	}

	if t.Recorder != nil {
		t.recordProvenance(ctx, created, auth.WorkItemID)
	}
	return &model.ToolResult{
		Content:  fmt.Sprintf("created skill %q at version %s", created.Name, created.Version),
		Metadata: map[string]any{"skill_name": created.Name, "skill_version": created.Version},
	}, nil
}

// recordProvenance persists the created skill's provenance, pointing back
// at the creating work item's latest ledger entry. Best-effort: ledger or
// write failures never fail the tool call.
func (t *CreateSkillTool) recordProvenance(ctx context.Context, created *model.Skill, workItemID string) {
	seq := 0
	if t.Ledger != nil {
		one := 1
		if entries, err := t.Ledger.Read(ctx, workItemID, nil, &one); err == nil && len(entries) > 0 {
			seq = entries[len(entries)-1].Seq
		}
	}
	snippet := created.Body
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	_ = t.Recorder.RecordProvenance(ctx, skillsys.Provenance(created, workItemID, seq, snippet))
}
