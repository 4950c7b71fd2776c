package model

import "time"

// Skill is a file-backed methodology packet: structured frontmatter plus a
// markdown body, optionally backed by a scripts directory importable from
// the sandbox.
type Skill struct {
	Name            string    `yaml:"name"`
	Description     string    `yaml:"description"`
	Triggers        Triggers  `yaml:"triggers"`
	Faculties       []string  `yaml:"faculties"`
	AutoActivate    bool      `yaml:"auto_activate"`
	Version         string    `yaml:"version"`
	CreatedBy       string    `yaml:"created_by"`
	ScriptsDir      string    `yaml:"-"`
	Body            string    `yaml:"-"`
	Path            string    `yaml:"-"`
	CreatedAt       time.Time `yaml:"-"`
}

// Triggers describes when a skill matches a work item at Orient time.
type Triggers struct {
	WorkTypes []string       `yaml:"work_types"`
	Keywords  []string       `yaml:"keywords"`
	Params    map[string]any `yaml:"params"`
}

// ActivationType distinguishes how a skill came to be active.
type ActivationType string

const (
	ActivationAuto   ActivationType = "auto"
	ActivationManual ActivationType = "manual"
)

// Activation is one persisted record of a skill being activated for a focus.
type Activation struct {
	SkillName  string         `json:"skill_name"`
	WorkItemID string         `json:"work_item_id"`
	Faculty    string         `json:"faculty"`
	Type       ActivationType `json:"activation_type"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SkillProvenance is one persisted record of a skill's autopoietic creation or
// amendment, tying the change back to the ledger entry that produced it.
type SkillProvenance struct {
	SkillName    string    `json:"skill_name"`
	SkillVersion string    `json:"skill_version"`
	WorkItemID   string    `json:"work_item_id"`
	LedgerSeq    int       `json:"ledger_seq"`
	Snippet      string    `json:"snippet"`
	Timestamp    time.Time `json:"timestamp"`
}
