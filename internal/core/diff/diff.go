// Package diff renders the old and new values of a changed property as
// human-readable text.
package diff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/pagewatch/internal/core/page"
)

// ErrSchemaDrift is returned when two versions of a property can no longer
// be compared, either because the type changed or a payload is malformed.
var ErrSchemaDrift = errors.New("schema drift")

// Unknown is rendered for property types without a renderer.
const Unknown = "unknown"

// Category groups rendered changes for presentation.
type Category string

const (
	CategoryTitle  Category = "title"
	CategoryState  Category = "state"
	CategoryDate   Category = "date"
	CategoryPeople Category = "people"
	CategoryLink   Category = "link"
	CategoryOther  Category = "other"
)

// Rendered is a displayable before/after pair.
type Rendered struct {
	Category Category
	Old      string
	New      string
}

// Diff renders the before and after values of one property. Both sides
// must share a type.
func Diff(old, new page.Property) (Rendered, error) {
	if old.Type != new.Type {
		return Rendered{}, fmt.Errorf("%w: %q changed type from %s to %s", ErrSchemaDrift, new.Name, old.Type, new.Type)
	}

	oc, err := old.Content()
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: old %q: %w", ErrSchemaDrift, old.Name, err)
	}
	nc, err := new.Content()
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: new %q: %w", ErrSchemaDrift, new.Name, err)
	}

	category, oldText, err := render(oc)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: old %q: %w", ErrSchemaDrift, old.Name, err)
	}
	_, newText, err := render(nc)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: new %q: %w", ErrSchemaDrift, new.Name, err)
	}

	return Rendered{Category: category, Old: oldText, New: newText}, nil
}

func render(c page.Content) (Category, string, error) {
	switch c := c.(type) {
	case page.TitleContent:
		return CategoryTitle, c.PlainText(), nil
	case page.StatusContent:
		return CategoryState, page.OptionName(c.Option), nil
	case page.SelectContent:
		return CategoryState, page.OptionName(c.Option), nil
	case page.DateContent:
		text, err := renderDate(c.Range)
		return CategoryDate, text, err
	case page.PeopleContent:
		names := make([]string, 0, len(c.People))
		for _, p := range c.People {
			names = append(names, p.Name)
		}
		return CategoryPeople, strings.Join(names, ", "), nil
	case page.URLContent:
		if c.URL == nil {
			return CategoryLink, "", nil
		}
		return CategoryLink, *c.URL, nil
	default:
		return CategoryOther, Unknown, nil
	}
}

func renderDate(r *page.DateRange) (string, error) {
	if r == nil {
		return "", nil
	}

	start, err := FriendlyTime(r.Start)
	if err != nil {
		return "", err
	}

	var end string
	if r.End != nil {
		if end, err = FriendlyTime(*r.End); err != nil {
			return "", err
		}
	}

	switch {
	case end == "":
		return start, nil
	case start == "":
		return end, nil
	default:
		return start + " to " + end, nil
	}
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// FriendlyTime shortens a timestamp to "2006-01-02 3:04PM", dropping ":00"
// for whole hours. Date-only values are returned unchanged.
func FriendlyTime(s string) (string, error) {
	if len(s) <= len("2006-01-02") {
		return s, nil
	}

	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return strings.Replace(t.Format("2006-01-02 3:04PM"), ":00", "", 1), nil
	}

	return "", fmt.Errorf("unrecognized timestamp %q", s)
}
