package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
)

var now = time.Date(2026, 1, 19, 15, 0, 0, 0, time.Local)

func TestFriendlyDuePhrase(t *testing.T) {
	tests := []struct {
		name     string
		iso      string
		expected string
	}{
		{"today", "2026-01-19T23:00:00Z", "today"},
		{"tomorrow", "2026-01-20T12:00:00Z", "tomorrow"},
		{"two days", "2026-01-21T12:00:00Z", "in 2 days"},
		{"364 days", "2027-01-18", "in 364 days"},
		{"one year", "2027-01-19T12:00:00Z", "in 1 year (365 days)"},
		{"two years", "2028-01-20T12:00", "in 2 years (731 days)"},
		{"past", "2026-01-10T12:00:00Z", "like currently"},
		{"fractional seconds", "2026-01-20T12:00:00.000Z", "tomorrow"},
		{"unparseable", "next tuesday", "next tuesday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FriendlyDuePhrase(tt.iso, now))
		})
	}
}

func TestFriendlyDuePhrase_Idempotent(t *testing.T) {
	first := FriendlyDuePhrase("2026-03-01T12:00:00Z", now)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, FriendlyDuePhrase("2026-03-01T12:00:00Z", now))
	}
}

func TestFriendlyRepeatPhrase(t *testing.T) {
	assert.Equal(t, "repeats in 1 day", FriendlyRepeatPhrase(86400))
	assert.Equal(t, "repeats in 3 days", FriendlyRepeatPhrase(86400*3))
	assert.Equal(t, "repeats in 7 days", FriendlyRepeatPhrase(604800))
	assert.Contains(t, FriendlyRepeatPhrase(86400*365), "1 year")
	assert.Equal(t, "repeats in 1 year (365 days)", FriendlyRepeatPhrase(31536000))
	assert.Equal(t, "repeats in 2 years (730 days)", FriendlyRepeatPhrase(86400*730))
	assert.Equal(t, "repeats every 3600 seconds", FriendlyRepeatPhrase(3600))
	assert.Empty(t, FriendlyRepeatPhrase(0))
	assert.Empty(t, FriendlyRepeatPhrase(-5))
}

func TestConfirmation_Terse(t *testing.T) {
	f := NewFormatter(nil)

	msg := f.Confirmation(Input{
		Title:    "Buy milk",
		Draft:    vikunja.TaskDraft{Title: "Buy milk", ProjectID: 2, Priority: 3},
		Projects: []vikunja.Project{{ID: 2, Title: "Home"}},
		Detailed: false,
	})

	assert.Equal(t, "Successfully added task: Buy milk", msg)
}

func TestConfirmation_DetailedOrder(t *testing.T) {
	f := NewFormatter(nil)
	f.now = func() time.Time { return now }

	msg := f.Confirmation(Input{
		Title: "Buy milk",
		Draft: vikunja.TaskDraft{
			Title:       "Buy milk",
			ProjectID:   2,
			DueDate:     "2026-01-20T12:00:00Z",
			Priority:    3,
			RepeatAfter: 86400,
		},
		Projects:         []vikunja.Project{{ID: 2, Title: "Home"}},
		Labels:           []vikunja.Label{{ID: 9, Title: "errand"}, {ID: 10, Title: "shop"}},
		AttachedLabelIDs: []int64{9, 10},
		Assignee:         "alice",
		UserAssignment:   true,
		Detailed:         true,
	})

	assert.Equal(t,
		"Successfully added task: Buy milk (project 'Home'; labels: errand, shop; due tomorrow; assigned to alice; priority high; repeats in 1 day)",
		msg)
}

func TestConfirmation_OmitsAbsentAndGeneric(t *testing.T) {
	f := NewFormatter(nil)

	tests := []struct {
		name  string
		input Input
	}{
		{"default project", Input{Title: "x", Draft: vikunja.TaskDraft{ProjectID: 1}, Projects: []vikunja.Project{{ID: 1, Title: "Inbox"}}, Detailed: true}},
		{"generic project", Input{Title: "x", Draft: vikunja.TaskDraft{ProjectID: 3}, Projects: []vikunja.Project{{ID: 3, Title: "Misc"}}, Detailed: true}},
		{"unknown project", Input{Title: "x", Draft: vikunja.TaskDraft{ProjectID: 8}, Detailed: true}},
		{"assignee without assignment", Input{Title: "x", Assignee: "bob", UserAssignment: false, Detailed: true}},
		{"priority out of range", Input{Title: "x", Draft: vikunja.TaskDraft{Priority: 9}, Detailed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "Successfully added task: x", f.Confirmation(tt.input))
		})
	}
}

func TestConfirmation_UnknownLabelIDShownAsNumber(t *testing.T) {
	f := NewFormatter(nil)

	msg := f.Confirmation(Input{Title: "x", AttachedLabelIDs: []int64{42}, Detailed: true})

	assert.Equal(t, "Successfully added task: x (labels: 42)", msg)
}

func TestConfirmation_Localized(t *testing.T) {
	f := NewFormatter(nil)
	f.now = func() time.Time { return now }

	msg := f.Confirmation(Input{
		Title:    "Milch kaufen",
		Draft:    vikunja.TaskDraft{ProjectID: 2, DueDate: "2026-01-19T18:00:00Z", Priority: 5, RepeatAfter: 604800},
		Projects: []vikunja.Project{{ID: 2, Title: "Haushalt"}},
		Detailed: true,
		Language: "de",
	})

	assert.Equal(t,
		"Aufgabe erfolgreich hinzugefügt: Milch kaufen (Projekt 'Haushalt'; fällig heute; Priorität sofort erledigen; wiederholt sich in 7 Tagen)",
		msg)
}

func TestConfirmation_UnsupportedLanguageFallsBack(t *testing.T) {
	f := NewFormatter(nil)

	assert.Equal(t, "Successfully added task: x", f.Confirmation(Input{Title: "x", Language: "ja", Detailed: true}))
}

func TestMessage(t *testing.T) {
	f := NewFormatter(nil)

	assert.Equal(t, "Authentication failed. Please update your Vikunja API token.", f.Message("en", "auth_error"))
	assert.Contains(t, f.Message("fr", "llm_missing_title"), "Impossible de comprendre")
}

func TestPriorityWord(t *testing.T) {
	f := NewFormatter(nil)

	assert.Equal(t, "low", f.PriorityWord("en", 1))
	assert.Equal(t, "do now", f.PriorityWord("en", 5))
	assert.Equal(t, "", f.PriorityWord("en", 0))
}
