package calendar

import (
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/dukerupert/chorgi/internal/model"
)

const untitled = "Untitled Event"

var colorTags = map[string]string{
	"1":  "blue",
	"2":  "green",
	"3":  "purple",
	"4":  "red",
	"5":  "yellow",
	"6":  "orange",
	"7":  "turquoise",
	"8":  "gray",
	"9":  "bold-blue",
	"10": "bold-green",
	"11": "bold-red",
}

// ColorTag maps a Google event colorId to its named tag, or "" if unknown.
func ColorTag(colorID string) string {
	return colorTags[colorID]
}

func toTodo(ev *gcal.Event, loc *time.Location) model.TodoItem {
	title := ev.Summary
	if title == "" {
		title = untitled
	}

	start, allDay := eventTime(ev.Start, loc)
	end, _ := eventTime(ev.End, loc)

	t := model.TodoItem{
		ID:              ev.Id,
		Title:           title,
		Start:           start,
		End:             end,
		AllDay:          allDay,
		IsShared:        len(ev.Attendees) == 0,
		BackgroundColor: ColorTag(ev.ColorId),
	}
	for _, a := range ev.Attendees {
		if a == nil {
			continue
		}
		t.Attendees = append(t.Attendees, model.Attendee{Email: a.Email, ResponseStatus: a.ResponseStatus})
	}
	return t
}

// eventTime parses a timed or all-day boundary. All-day dates are midnight
// in loc. Unparseable or missing values give the zero time.
func eventTime(edt *gcal.EventDateTime, loc *time.Location) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.In(loc), false
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
