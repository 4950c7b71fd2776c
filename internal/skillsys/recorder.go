package skillsys

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/pkg/model"
)

// Recorder persists skill activation and provenance records. Activations
// feed frequency and staleness metrics; provenance ties an autopoietically
// created skill back to the work item and ledger entry that produced it.
// Recording is best-effort at every call site: a failed write never blocks
// a focus.
type Recorder interface {
	RecordActivation(ctx context.Context, act model.Activation) error
	RecordProvenance(ctx context.Context, prov model.SkillProvenance) error
}

// PostgresRecorder writes to the skill_activations and skill_provenance
// tables created by the store package's migration.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder wraps an already-opened *sql.DB.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) RecordActivation(ctx context.Context, act model.Activation) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO skill_activations (id, skill_name, work_item_id, faculty, activation_type, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), act.SkillName, act.WorkItemID, act.Faculty, string(act.Type), act.Timestamp); err != nil {
		return animuserr.Transport(err, "record skill activation")
	}
	return nil
}

func (r *PostgresRecorder) RecordProvenance(ctx context.Context, prov model.SkillProvenance) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO skill_provenance (id, skill_name, skill_version, work_item_id, ledger_seq, snippet, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), prov.SkillName, prov.SkillVersion, prov.WorkItemID, prov.LedgerSeq, prov.Snippet, prov.Timestamp); err != nil {
		return animuserr.Transport(err, "record skill provenance")
	}
	return nil
}

// MemoryRecorder is the in-memory reference used by tests and no-database
// deployments.
type MemoryRecorder struct {
	mu          sync.Mutex
	activations []model.Activation
	provenance  []model.SkillProvenance
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) RecordActivation(ctx context.Context, act model.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations = append(r.activations, act)
	return nil
}

func (r *MemoryRecorder) RecordProvenance(ctx context.Context, prov model.SkillProvenance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provenance = append(r.provenance, prov)
	return nil
}

// RecordedActivations returns a copy of every recorded activation, in order.
func (r *MemoryRecorder) RecordedActivations() []model.Activation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Activation, len(r.activations))
	copy(out, r.activations)
	return out
}

// RecordedProvenance returns a copy of every recorded provenance entry.
func (r *MemoryRecorder) RecordedProvenance() []model.SkillProvenance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SkillProvenance, len(r.provenance))
	copy(out, r.provenance)
	return out
}
