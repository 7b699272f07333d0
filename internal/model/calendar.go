package model

type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary,omitempty"`
}

// CalendarSelection is the set of calendars a child reads chores from.
type CalendarSelection struct {
	Personal []string `json:"personal"`
	Shared   []string `json:"shared"`
}
