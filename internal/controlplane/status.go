package controlplane

import (
	"context"
	"time"

	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// FacultyStatus summarizes one configured faculty's runtime state.
type FacultyStatus struct {
	Name            string `json:"name"`
	Concurrent      bool   `json:"concurrent"`
	ConcurrentLimit int    `json:"concurrent_limit,omitempty"`
	Active          int    `json:"active"`
	Queued          int    `json:"queued"`
}

// Status is a point-in-time summary of the control plane, returned by the
// CLI's `status` command.
type Status struct {
	Uptime          string          `json:"uptime"`
	StartTime       string          `json:"start_time"`
	ActiveFociTotal int             `json:"active_foci_total"`
	GlobalCap       int             `json:"global_cap"`
	Faculties       []FacultyStatus `json:"faculties"`
	// Unroutable maps unconfigured faculty names to their queued item
	// counts; omitted when everything routes.
	Unroutable map[string]int `json:"unroutable,omitempty"`
}

// Status reports the dispatcher's current capacity usage and, for each
// configured faculty, how many work items are active versus queued.
func (d *Dispatcher) Status(ctx context.Context, st store.Store, startedAt time.Time) (Status, error) {
	out := Status{
		Uptime:          time.Since(startedAt).Round(time.Second).String(),
		StartTime:       startedAt.UTC().Format(time.RFC3339),
		ActiveFociTotal: d.ActiveTotal(),
		GlobalCap:       d.cfg.GlobalCap,
	}

	for name, fc := range d.faculties {
		queued, err := st.ListState(ctx, store.ListFilter{State: statePtr(model.StateQueued), Faculty: name})
		if err != nil {
			return Status{}, err
		}
		out.Faculties = append(out.Faculties, FacultyStatus{
			Name:            name,
			Concurrent:      fc.Concurrent,
			ConcurrentLimit: fc.ConcurrentLimit,
			Active:          d.ActiveCount(name),
			Queued:          len(queued),
		})
	}

	if unroutable, err := d.UnroutableCounts(ctx); err == nil && len(unroutable) > 0 {
		out.Unroutable = unroutable
	}
	return out, nil
}

func statePtr(s model.State) *model.State { return &s }
