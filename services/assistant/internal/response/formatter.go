package response

import (
	"strconv"
	"strings"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/i18n"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
)

const (
	secondsPerDay = 86400
	daysPerYear   = 365
)

// Project names that say nothing about where a task went
var genericProjectNames = map[string]bool{
	"other":   true,
	"misc":    true,
	"general": true,
}

var dueLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Input is what a confirmation is built from
type Input struct {
	Title            string
	Draft            vikunja.TaskDraft
	Projects         []vikunja.Project
	Labels           []vikunja.Label
	AttachedLabelIDs []int64
	Assignee         string
	UserAssignment   bool
	Detailed         bool
	Language         string
}

// Formatter builds the spoken replies
type Formatter struct {
	catalog *i18n.Catalog
	now     func() time.Time
}

// NewFormatter creates a formatter reading templates from catalog
func NewFormatter(catalog *i18n.Catalog) *Formatter {
	if catalog == nil {
		catalog = i18n.MustDefault()
	}
	return &Formatter{catalog: catalog, now: time.Now}
}

// Message renders a status message such as "auth_error"
func (f *Formatter) Message(lang, key string) string {
	return f.catalog.Text(lang, "messages."+key, nil)
}

// Terse is the plain success sentence
func (f *Formatter) Terse(lang, title string) string {
	return f.catalog.Text(lang, "messages.success_added", map[string]string{"title": title})
}

// Confirmation is the success sentence, followed in detailed mode by
// "(project; labels; due; assignee; priority; repeat)" for whichever are present
func (f *Formatter) Confirmation(in Input) string {
	msg := f.Terse(in.Language, in.Title)
	if !in.Detailed {
		return msg
	}

	parts := f.detailParts(in)
	if len(parts) == 0 {
		return msg
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

func (f *Formatter) detailParts(in Input) []string {
	lang := in.Language
	var parts []string

	if name := projectName(in.Draft.ProjectID, in.Projects); name != "" {
		parts = append(parts, f.catalog.Text(lang, "details.project", map[string]string{"name": name}))
	}
	if names := labelNames(in.AttachedLabelIDs, in.Labels); names != "" {
		parts = append(parts, f.catalog.Text(lang, "details.labels", map[string]string{"labels": names}))
	}
	if in.Draft.DueDate != "" {
		phrase := f.DuePhrase(lang, in.Draft.DueDate, f.now())
		parts = append(parts, f.catalog.Text(lang, "details.due", map[string]string{"phrase": phrase}))
	}
	if in.UserAssignment && in.Assignee != "" {
		parts = append(parts, f.catalog.Text(lang, "details.assigned", map[string]string{"name": in.Assignee}))
	}
	if word := f.PriorityWord(lang, in.Draft.Priority); word != "" {
		parts = append(parts, f.catalog.Text(lang, "details.priority", map[string]string{"label": word}))
	}
	if phrase := f.RepeatPhrase(lang, in.Draft.RepeatAfter); phrase != "" {
		parts = append(parts, phrase)
	}
	return parts
}

// PriorityWord returns the word for priority 1-5, or "" outside that range
func (f *Formatter) PriorityWord(lang string, priority int) string {
	if priority < 1 || priority > 5 {
		return ""
	}
	return f.catalog.Text(lang, "priority."+strconv.Itoa(priority), nil)
}

// DuePhrase describes an ISO due date relative to now's calendar day.
// Input that isn't a recognised date comes back unchanged.
func (f *Formatter) DuePhrase(lang, iso string, now time.Time) string {
	due, ok := parseDue(iso)
	if !ok {
		return iso
	}

	days := calendarDays(now, due)
	n := strconv.Itoa(days)
	switch {
	case days == 0:
		return f.catalog.Text(lang, "due.today", nil)
	case days == 1:
		return f.catalog.Text(lang, "due.tomorrow", nil)
	case days < 0:
		return f.catalog.Text(lang, "due.past", nil)
	case days < daysPerYear:
		return f.catalog.Text(lang, "due.in_days", map[string]string{"n": n})
	}

	years := days / daysPerYear
	key := "due.in_years"
	if years == 1 {
		key = "due.in_year"
	}
	return f.catalog.Text(lang, key, map[string]string{"y": strconv.Itoa(years), "n": n})
}

// RepeatPhrase describes a repeat interval; "" when there is none
func (f *Formatter) RepeatPhrase(lang string, seconds int64) string {
	if seconds <= 0 {
		return ""
	}
	if seconds%secondsPerDay != 0 {
		return f.catalog.Text(lang, "repeat.every_seconds", map[string]string{"n": strconv.FormatInt(seconds, 10)})
	}

	days := seconds / secondsPerDay
	n := strconv.FormatInt(days, 10)
	switch {
	case days == 1:
		return f.catalog.Text(lang, "repeat.in_day", map[string]string{"n": n})
	case days < daysPerYear:
		return f.catalog.Text(lang, "repeat.in_days", map[string]string{"n": n})
	}

	years := days / daysPerYear
	key := "repeat.in_years"
	if years == 1 {
		key = "repeat.in_year"
	}
	return f.catalog.Text(lang, key, map[string]string{"y": strconv.FormatInt(years, 10), "n": n})
}

// FriendlyDuePhrase is the English due phrase
func FriendlyDuePhrase(iso string, now time.Time) string {
	return NewFormatter(nil).DuePhrase(i18n.DefaultLanguage, iso, now)
}

// FriendlyRepeatPhrase is the English repeat phrase
func FriendlyRepeatPhrase(seconds int64) string {
	return NewFormatter(nil).RepeatPhrase(i18n.DefaultLanguage, seconds)
}

// parseDue reads the wall-clock date of an ISO string; the trailing Z is ignored
func parseDue(iso string) (time.Time, bool) {
	cleaned := strings.TrimSuffix(strings.TrimSpace(iso), "Z")
	for _, layout := range dueLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// calendarDays counts whole days from now's local date to due's date
func calendarDays(now, due time.Time) int {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func projectName(id int64, projects []vikunja.Project) string {
	if id == 0 || id == vikunja.DefaultProjectID {
		return ""
	}
	for _, p := range projects {
		if p.ID != id {
			continue
		}
		name := strings.TrimSpace(p.Title)
		if name == "" || genericProjectNames[strings.ToLower(name)] {
			return ""
		}
		return name
	}
	return ""
}

func labelNames(ids []int64, labels []vikunja.Label) string {
	if len(ids) == 0 {
		return ""
	}
	lookup := make(map[int64]string, len(labels))
	for _, l := range labels {
		lookup[l.ID] = l.Title
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := lookup[id]; ok && name != "" {
			names = append(names, name)
			continue
		}
		names = append(names, strconv.FormatInt(id, 10))
	}
	return strings.Join(names, ", ")
}
