package model

import "time"

type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// Completer identifies the child who completed a chore. GoogleID is the
// provider subject id and is what shared-chore ownership is checked against.
type Completer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	GoogleID  string `json:"googleId,omitempty"`
}

// SameChild reports whether c and other refer to the same child.
func (c Completer) SameChild(other Completer) bool {
	if c.GoogleID != "" && other.GoogleID != "" {
		return c.GoogleID == other.GoogleID
	}
	return c.ID == other.ID
}

// TodoItem is a calendar event shown as a chore. A zero Start means the event
// had no start time.
type TodoItem struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Start           time.Time  `json:"startTime"`
	End             time.Time  `json:"endTime"`
	AllDay          bool       `json:"allDay,omitempty"`
	IsShared        bool       `json:"isShared"`
	BackgroundColor string     `json:"backgroundColor,omitempty"`
	Attendees       []Attendee `json:"attendees,omitempty"`
	IsDone          bool       `json:"isDone"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CompletedBy     *Completer `json:"completedBy,omitempty"`
}

func (t TodoItem) HasStart() bool {
	return !t.Start.IsZero()
}

// HasAttendee reports whether email is on the event's attendee list.
func (t TodoItem) HasAttendee(email string) bool {
	for _, a := range t.Attendees {
		if a.Email == email {
			return true
		}
	}
	return false
}

// ClearCompletion resets the completion fields to not-done.
func (t *TodoItem) ClearCompletion() {
	t.IsDone = false
	t.CompletedAt = nil
	t.CompletedBy = nil
}

// CompletionRecord is the persisted completion state of one todo.
type CompletionRecord struct {
	IsDone      bool       `json:"isDone"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CompletedBy *Completer `json:"completedBy,omitempty"`
}
