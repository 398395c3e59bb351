package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Chat roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged segment of the instruction set
type Message struct {
	Role    string
	Content string
}

// DueDatePolicy is the configured default due date for tasks that name
// neither a project nor a date
type DueDatePolicy string

const (
	DueNone       DueDatePolicy = "none"
	DueTomorrow   DueDatePolicy = "tomorrow"
	DueEndOfWeek  DueDatePolicy = "end_of_week"
	DueEndOfMonth DueDatePolicy = "end_of_month"
)

// ParseDueDatePolicy parses a configured policy; empty means none
func ParseDueDatePolicy(s string) (DueDatePolicy, error) {
	switch p := DueDatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", DueNone:
		return DueNone, nil
	case DueTomorrow, DueEndOfWeek, DueEndOfMonth:
		return p, nil
	default:
		return "", &apperrors.ConfigError{
			Field:   "DEFAULT_DUE_DATE",
			Message: fmt.Sprintf("unknown policy %q (want none, tomorrow, end_of_week or end_of_month)", s),
		}
	}
}

// Input is everything the instruction set is built from
type Input struct {
	Description     string
	Projects        []vikunja.Project
	Labels          []vikunja.Label
	DefaultDueDate  DueDatePolicy
	VoiceCorrection bool
	Users           []vikunja.User
	UserAssignment  bool
	// Now is captured once by the caller
	Now time.Time
}

// DefaultDueDates are the concrete timestamps each policy resolves to
type DefaultDueDates struct {
	Tomorrow   string
	EndOfWeek  string
	EndOfMonth string
}

// ComputeDefaultDueDates returns tomorrow 12:00, +7 days 17:00 and +30 days 17:00, all UTC
func ComputeDefaultDueDates(now time.Time) DefaultDueDates {
	now = now.UTC()
	at := func(days, hour int) string {
		d := now.AddDate(0, 0, days)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC).Format(timestampLayout)
	}
	return DefaultDueDates{
		Tomorrow:   at(1, 12),
		EndOfWeek:  at(7, 17),
		EndOfMonth: at(30, 17),
	}
}

// Resolve returns the timestamp for policy, or "" for none
func (d DefaultDueDates) Resolve(policy DueDatePolicy) string {
	switch policy {
	case DueTomorrow:
		return d.Tomorrow
	case DueEndOfWeek:
		return d.EndOfWeek
	case DueEndOfMonth:
		return d.EndOfMonth
	default:
		return ""
	}
}

// Build produces the system instructions followed by the user's description
func Build(in Input) []Message {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var b strings.Builder
	b.WriteString("You are an assistant that helps create tasks in Vikunja.\n")
	b.WriteString("Given a task description, you will create a JSON payload for the Vikunja API.\n\n")

	fmt.Fprintf(&b, "Available projects: %s\n", projectList(in.Projects))
	fmt.Fprintf(&b, "Available labels: %s\n\n", labelList(in.Labels))

	b.WriteString("DEFAULT DUE DATE RULE:\n")
	if value := ComputeDefaultDueDates(now).Resolve(in.DefaultDueDate); value != "" {
		fmt.Fprintf(&b, "- If neither a specific project nor a due date is mentioned in the task, use this default due date: %s\n", value)
		b.WriteString("- If a specific project is mentioned, do not set any due date unless the user explicitly mentions one\n")
		b.WriteString("- If a specific due date is mentioned by the user, always use that instead of the default\n")
		fmt.Fprintf(&b, "- Even if a recurring task instruction is given, if no due date is mentioned, set it to %s\n\n", value)
	} else {
		b.WriteString("- No default due date configured\n\n")
	}

	if in.VoiceCorrection {
		b.WriteString(voiceCorrectionSection)
	}

	b.WriteString(outputSection)

	fmt.Fprintf(&b, "DATE HANDLING (Current: %s):\n", now.Format(timestampLayout))
	fmt.Fprintf(&b, "- Calculate future dates based on current date: %s\n", now.Format("2006-01-02"))
	b.WriteString(dateRules)

	b.WriteString(priorityAndRecurrence)
	b.WriteString(examples)

	if users := knownUsers(in.Users); in.UserAssignment && len(users) > 0 {
		b.WriteString("\nUSER ASSIGNMENT:\n")
		b.WriteString("- You can optionally include an assignee by username or name if clearly specified in the user's description.\n")
		b.WriteString("- Output field: assignee (string) MUST be an existing username (preferred) or exact name match from available users.\n")
		fmt.Fprintf(&b, "- Available users: %s\n", mustJSON(users))
		b.WriteString("- Only include assignee field if explicitly stated (e.g. 'assign to Alice', 'for william', 'give this to bob').\n")
		b.WriteString("- Do not guess if unclear.\n")
	}

	return []Message{
		{Role: RoleSystem, Content: b.String()},
		{Role: RoleUser, Content: "Create task: " + in.Description},
	}
}

type ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type userRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

func projectList(projects []vikunja.Project) string {
	refs := make([]ref, 0, len(projects))
	for _, p := range projects {
		refs = append(refs, ref{ID: p.ID, Name: p.Title})
	}
	return mustJSON(refs)
}

func labelList(labels []vikunja.Label) string {
	refs := make([]ref, 0, len(labels))
	for _, l := range labels {
		refs = append(refs, ref{ID: l.ID, Name: l.Title})
	}
	return mustJSON(refs)
}

func knownUsers(users []vikunja.User) []userRef {
	refs := make([]userRef, 0, len(users))
	for _, u := range users {
		if u.ID == 0 {
			continue
		}
		refs = append(refs, userRef{ID: u.ID, Name: u.Name, Username: u.Username})
	}
	return refs
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

const voiceCorrectionSection = `SPEECH RECOGNITION CORRECTION:
- Task came from voice command - expect speech recognition errors
- Correct misheard project names, label names, dates, assignee names and common speech-to-text errors
- Ensure the task title is logically consistent with the project name, labels etc. If something doesn't make sense, attempt to find the most likely intended word/phrase based on context

`

const outputSection = `CORE OUTPUT REQUIREMENTS:
- Output ONLY valid JSON with these fields (only include optional fields when applicable):
    * title (string): Main task title (REQUIRED, MUST NOT BE EMPTY)
    * description (string, optional): Only include if the user explicitly asks for additional notes/context.
    * project_id (number): Project ID (always required, use 1 if no project specified)
    * due_date (string, optional): Due date in YYYY-MM-DDTHH:MM:SSZ format
    * priority (number, optional): Priority level 1-5, only when explicitly mentioned
    * repeat_after (number, optional): Repeat interval in seconds, only for recurring tasks
    * label_ids (array, optional): Array of existing label IDs
    * labels_to_create (array of strings, optional): Names of labels the user explicitly asks for that are not in the available labels
    * assignee (string, optional): Username (preferred) or exact name of assignee (ONLY if explicitly stated)

TASK FORMATTING:
- Extract clear, concise titles.
- Avoid redundant words implied by project context
- Remove date/time info from title (use due_date field) if confidently parsed.
- Remove label references from title (handled via label_ids).
- Remove project names from title (handled via project_id).
- Remove priority references from title (handled via priority field).
- Remove unnecessary qualifiers (e.g. "task", "to do", "reminder")
- Remove recurring task keywords from title (handled via repeat_after).

`

const dateRules = `- Use ISO format with 'Z' timezone: YYYY-MM-DDTHH:MM:SSZ
- Default time: 12:00:00 (unless specific time mentioned)
- NEVER set past dates - always use future dates for ambiguous references
- A weekday name means its next future occurrence

`

const priorityAndRecurrence = `PRIORITY LEVELS (only when explicitly mentioned):
- 5: urgent, critical, emergency, ASAP, immediately
- 4: important, soon, priority, needs attention
- 3: medium priority, when possible, moderately important
- 2: low priority, when you have time, not urgent
- 1: sometime, eventually, whenever, no rush

RECURRING TASKS (only when explicitly mentioned):
- Daily: 86400 seconds | Weekly: 604800 seconds
- Monthly: 2592000 seconds | Yearly: 31536000 seconds
- Keywords: daily, weekly, monthly, yearly, every day/week, recurring, repeat...

`

const examples = `EXAMPLES:
Input: "Reminder to pick up groceries tomorrow"
Output: {"title": "Pick up groceries", "project_id": 1, "due_date": "2023-06-09T12:00:00Z"}

Input: "URGENT: finish the report for work by Friday at 5pm"
Output: {"title": "Finish work report", "project_id": 1, "due_date": "2023-06-09T17:00:00Z", "priority": 5}

Input: "Take vitamins daily"
Output: {"title": "Take vitamins", "project_id": 1, "repeat_after": 86400}

Input: "Add buy milk with the grocery label for next week"
(Assuming a label with name 'grocery' has id 7)
Output: {"title": "Buy milk", "project_id": 1, "label_ids": [7], "due_date": "2023-06-16T12:00:00Z"}

Input: "Put fix the fence on the home project"
(Assuming a project with name 'Home' has id 4)
Output: {"title": "Fix the fence", "project_id": 4}

Input: "Finish the project report"
(assuming you have default due date settings set up)
Output: {"title": "Finish project report", "project_id": 1, "due_date": "2023-06-10T12:00:00Z"}

Input: "Assign prepare slides to William for next week"
Output: {"title": "Prepare slides", "project_id": 1, "due_date": "2023-06-16T12:00:00Z", "assignee": "william"}
`
