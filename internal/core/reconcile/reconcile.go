// Package reconcile compares two listings of the same database and reports
// added pages, removed pages and per-property changes.
package reconcile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hay-kot/pagewatch/internal/core/diff"
	"github.com/hay-kot/pagewatch/internal/core/page"
)

// ErrFieldMissing is returned for a tracked field present on only one side
// of a page pair.
var ErrFieldMissing = errors.New("tracked field missing")

// PropertyChange is one rendered field change.
type PropertyChange struct {
	Name     string
	Category diff.Category
	Old      string
	New      string
}

// PageChange lists the tracked fields that changed on a carried page.
// Name and URL come from the newer version of the page.
type PageChange struct {
	PageID  string
	Name    string
	URL     string
	Changes []PropertyChange
}

// FieldFailure records a tracked field that could not be diffed. Other
// fields of the same page are still reported.
type FieldFailure struct {
	PageID string
	Field  string
	Err    error
}

func (f FieldFailure) Error() string {
	return fmt.Sprintf("page %s field %q: %v", f.PageID, f.Field, f.Err)
}

func (f FieldFailure) Unwrap() error { return f.Err }

// Result is the outcome of one reconciliation.
type Result struct {
	Changes  []PageChange
	Added    []page.Page
	Removed  []page.Page
	Failures []FieldFailure
}

// Empty reports whether nothing user-visible happened.
func (r Result) Empty() bool {
	return len(r.Changes) == 0 && len(r.Added) == 0 && len(r.Removed) == 0
}

// DiffFunc renders one property pair.
type DiffFunc func(old, new page.Property) (diff.Rendered, error)

// Engine reconciles snapshots. The zero value is not usable; call New.
type Engine struct {
	diff DiffFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithDiff replaces the property renderer.
func WithDiff(fn DiffFunc) Option {
	return func(e *Engine) { e.diff = fn }
}

// New creates an Engine that renders with diff.Diff unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{diff: diff.Diff}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile compares old against new for the given tracked fields. A nil old
// snapshot reports every page of new as added. Pages are matched by id;
// added pages keep the order of new and removed pages the order of old.
// Changes are ordered by page id.
func (e *Engine) Reconcile(old *page.Snapshot, new page.Snapshot, fields []string) Result {
	var res Result

	if old == nil {
		res.Added = append(res.Added, new.Pages...)
		return res
	}

	oldByID := indexByID(old.Pages)
	newByID := indexByID(new.Pages)

	for _, p := range new.Pages {
		if _, ok := oldByID[p.ID]; !ok {
			res.Added = append(res.Added, p)
		}
	}
	for _, p := range old.Pages {
		if _, ok := newByID[p.ID]; !ok {
			res.Removed = append(res.Removed, p)
		}
	}

	carriedOld := carried(old.Pages, newByID)
	carriedNew := carried(new.Pages, oldByID)

	for i := range carriedNew {
		before, after := carriedOld[i], carriedNew[i]

		change := PageChange{PageID: after.ID, Name: after.Name(), URL: after.URL}
		for _, field := range fields {
			pc, changed, err := e.diffField(before, after, field)
			if err != nil {
				res.Failures = append(res.Failures, FieldFailure{PageID: after.ID, Field: field, Err: err})
				continue
			}
			if changed {
				change.Changes = append(change.Changes, pc)
			}
		}

		if len(change.Changes) > 0 {
			res.Changes = append(res.Changes, change)
		}
	}

	return res
}

func (e *Engine) diffField(before, after page.Page, field string) (pc PropertyChange, changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diff panicked: %v", r)
		}
	}()

	oldProp, inOld := before.Property(field)
	newProp, inNew := after.Property(field)

	switch {
	case !inOld && !inNew:
		return PropertyChange{}, false, nil
	case !inOld:
		return PropertyChange{}, false, fmt.Errorf("%w: not on previous version", ErrFieldMissing)
	case !inNew:
		return PropertyChange{}, false, fmt.Errorf("%w: not on current version", ErrFieldMissing)
	}

	if oldProp.Type == newProp.Type && page.RawEqual(oldProp.Raw, newProp.Raw) {
		return PropertyChange{}, false, nil
	}

	rendered, err := e.diff(oldProp, newProp)
	if err != nil {
		return PropertyChange{}, false, err
	}

	return PropertyChange{
		Name:     field,
		Category: rendered.Category,
		Old:      rendered.Old,
		New:      rendered.New,
	}, true, nil
}

func indexByID(pages []page.Page) map[string]struct{} {
	ids := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		ids[p.ID] = struct{}{}
	}
	return ids
}

// carried returns the pages whose id is also in other, sorted by id. Only
// the first page with a given id is kept so both sides line up.
func carried(pages []page.Page, other map[string]struct{}) []page.Page {
	out := make([]page.Page, 0, len(pages))
	seen := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		if _, ok := other[p.ID]; !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
