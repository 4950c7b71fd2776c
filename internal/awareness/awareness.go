// Package awareness assembles the cross-focus digest prepended to a
// focus's Orient output: what else is running, what finished recently, and
// what the system has learned lately. The digest is a system-wide
// point-in-time snapshot, assembled once at Orient; it does not refresh
// during the engage loop.
package awareness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/animus-run/animus/internal/ledger"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

// Builder assembles the digest from the durable store and ledger. It
// implements internal/focus.AwarenessBuilder.
type Builder struct {
	Store  store.Store
	Ledger ledger.Store
	Now    func() time.Time
}

// New builds a Builder with the real wall clock.
func New(st store.Store, led ledger.Store) *Builder {
	return &Builder{Store: st, Ledger: led, Now: time.Now}
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Assemble builds the digest. Any query failure is swallowed by the
// caller (digest assembly is non-fatal); Assemble itself still returns
// the error so the caller can log and bump a metric.
func (b *Builder) Assemble(ctx context.Context, workItemID, faculty string, cfg model.AwarenessConfig) (string, error) {
	if !cfg.Enabled {
		return "", nil
	}

	running, err := b.runningSiblings(ctx, workItemID, cfg.MaxRunning, cfg.IncludeChildWork)
	if err != nil {
		return "", fmt.Errorf("querying running siblings: %w", err)
	}
	completed, err := b.recentlyCompleted(ctx, cfg.LookbackHours, cfg.MaxRecentCompleted, cfg.IncludeChildWork)
	if err != nil {
		return "", fmt.Errorf("querying recently completed: %w", err)
	}
	findings, err := b.recentFindings(ctx, cfg.LookbackHours, cfg.MaxRecentFindings)
	if err != nil {
		return "", fmt.Errorf("querying recent findings: %w", err)
	}

	return Format(running, completed, findings), nil
}

// SiblingSummary is one running work item shown in the digest.
type SiblingSummary struct {
	Faculty string
	Params  string
	Plan    string
}

// CompletedSummary is one recently completed work item shown in the digest.
type CompletedSummary struct {
	Faculty    string
	Summary    string
	Outcome    string
	ResolvedAt time.Time
}

// FindingSummary is one recent finding-type ledger entry shown in the digest.
type FindingSummary struct {
	Faculty string
	Content string
	Age     time.Duration
}

// runningSiblings lists Running work items other than the current one.
// Child work items (non-empty parent_id) are delegation internals of some
// other focus and are skipped unless includeChildren is set.
func (b *Builder) runningSiblings(ctx context.Context, excludeID string, max int, includeChildren bool) ([]SiblingSummary, error) {
	running := model.StateRunning
	items, err := b.Store.ListState(ctx, store.ListFilter{State: &running})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	var out []SiblingSummary
	for _, it := range items {
		if it.ID == excludeID {
			continue
		}
		if it.ParentID != "" && !includeChildren {
			continue
		}
		if max > 0 && len(out) >= max {
			break
		}
		plan := b.latestPlan(ctx, it.ID)
		out = append(out, SiblingSummary{
			Faculty: it.Faculty,
			Params:  summarizeParams(it.Params),
			Plan:    plan,
		})
	}
	return out, nil
}

func (b *Builder) recentlyCompleted(ctx context.Context, lookbackHours, max int, includeChildren bool) ([]CompletedSummary, error) {
	completed := model.StateCompleted
	items, err := b.Store.ListState(ctx, store.ListFilter{State: &completed})
	if err != nil {
		return nil, err
	}
	since := b.now().Add(-time.Duration(lookbackHours) * time.Hour)

	var filtered []*model.WorkItem
	for _, it := range items {
		if it.ParentID != "" && !includeChildren {
			continue
		}
		if it.ResolvedAt != nil && it.ResolvedAt.After(since) {
			filtered = append(filtered, it)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ResolvedAt.After(*filtered[j].ResolvedAt)
	})
	if max > 0 && len(filtered) > max {
		filtered = filtered[:max]
	}

	out := make([]CompletedSummary, 0, len(filtered))
	for _, it := range filtered {
		out = append(out, CompletedSummary{
			Faculty:    it.Faculty,
			Summary:    summarizeParams(it.Params),
			Outcome:    synopsis(it.OutcomeData, it.OutcomeError),
			ResolvedAt: *it.ResolvedAt,
		})
	}
	return out, nil
}

func (b *Builder) recentFindings(ctx context.Context, lookbackHours, max int) ([]FindingSummary, error) {
	since := b.now().Add(-time.Duration(lookbackHours) * time.Hour)
	entries, err := b.Ledger.RecentByType(ctx, model.EntryFinding, since, max)
	if err != nil {
		return nil, err
	}

	out := make([]FindingSummary, 0, len(entries))
	for _, e := range entries {
		faculty := ""
		if item, err := b.Store.Get(ctx, e.WorkItemID); err == nil {
			faculty = item.Faculty
		}
		out = append(out, FindingSummary{
			Faculty: faculty,
			Content: e.Content,
			Age:     b.now().Sub(e.CreatedAt),
		})
	}
	return out, nil
}

func (b *Builder) latestPlan(ctx context.Context, workItemID string) string {
	planType := model.EntryPlan
	one := 1
	entries, err := b.Ledger.Read(ctx, workItemID, &planType, &one)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Content
}

func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ", ")
}

func synopsis(data, errMsg string) string {
	if errMsg != "" {
		return "error: " + errMsg
	}
	if len(data) > 200 {
		return data[:200] + "..."
	}
	return data
}

// Format renders the three sections into the text prepended to Orient's
// output.
func Format(running []SiblingSummary, completed []CompletedSummary, findings []FindingSummary) string {
	var sb strings.Builder
	sb.WriteString("Currently active:\n")
	if len(running) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, s := range running {
		sb.WriteString(fmt.Sprintf("  - [%s] %s", s.Faculty, s.Params))
		if s.Plan != "" {
			sb.WriteString(" - plan: " + s.Plan)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRecently completed:\n")
	if len(completed) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, c := range completed {
		sb.WriteString(fmt.Sprintf("  - [%s] %s (resolved %s): %s\n", c.Faculty, c.Summary, c.ResolvedAt.Format(time.RFC3339), c.Outcome))
	}

	sb.WriteString("\nRecent findings:\n")
	if len(findings) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("  - [%s, %s ago] %s\n", f.Faculty, f.Age.Round(time.Second), f.Content))
	}

	return sb.String()
}
