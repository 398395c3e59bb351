package vikunja

import "strings"

// DefaultProjectID is the project Vikunja files tasks into when none is named
const DefaultProjectID int64 = 1

// FavoritesProjectID is the pseudo-project Vikunja lists for favorited tasks
const FavoritesProjectID int64 = -1

// Project is a Vikunja project as returned by GET /projects
type Project struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Label is a Vikunja label
type Label struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	HexColor string `json:"hex_color,omitempty"`
}

// User is a Vikunja user, also the record kept in the user cache
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// TaskDraft is the structured task the LLM proposes.
// Only Title is required; everything else is optional.
type TaskDraft struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	ProjectID      int64    `json:"project_id,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	RepeatAfter    int64    `json:"repeat_after,omitempty"`
	LabelIDs       []int64  `json:"label_ids,omitempty"`
	LabelsToCreate []string `json:"labels_to_create,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
}

// Project returns the target project, falling back to the default project
func (d TaskDraft) Project() int64 {
	if d.ProjectID <= 0 {
		return DefaultProjectID
	}
	return d.ProjectID
}

// HasTitle reports whether the draft carries a usable title
func (d TaskDraft) HasTitle() bool {
	return strings.TrimSpace(d.Title) != ""
}

// CreatedTask is what Vikunja returns after creating a task
type CreatedTask struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	ProjectID int64  `json:"project_id"`
	DueDate   string `json:"due_date,omitempty"`
}

// FindLabel looks a label up by case-insensitive title
func FindLabel(labels []Label, title string) (Label, bool) {
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(l.Title), strings.TrimSpace(title)) {
			return l, true
		}
	}
	return Label{}, false
}
