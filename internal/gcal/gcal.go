// Package gcal is the Google Calendar remote store: it lists the events of
// one calendar for a window and executes create, update and delete calls.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const (
	DefaultCalendarID  = "primary"
	DefaultSendUpdates = "all"
)

// API is the slice of the Calendar v3 service the store needs.
type API interface {
	GetCalendar(ctx context.Context, calendarID string) (*calendar.Calendar, error)
	ListEvents(ctx context.Context, calendarID, timeMin, timeMax, pageToken string) (*calendar.Events, error)
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event, sendUpdates string) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event, sendUpdates string) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID, sendUpdates string) error
}

// LowLevelAPI implements API on top of calendar.Service.
type LowLevelAPI struct {
	service *calendar.Service
}

// NewLowLevelAPI builds the service on an already-authorized HTTP client.
func NewLowLevelAPI(ctx context.Context, client *http.Client) (*LowLevelAPI, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, err
	}
	return &LowLevelAPI{service: service}, nil
}

func (a *LowLevelAPI) GetCalendar(ctx context.Context, calendarID string) (*calendar.Calendar, error) {
	return a.service.Calendars.Get(calendarID).Context(ctx).Do()
}

func (a *LowLevelAPI) ListEvents(ctx context.Context, calendarID, timeMin, timeMax, pageToken string) (*calendar.Events, error) {
	call := a.service.Events.List(calendarID).Context(ctx).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(timeMin).
		TimeMax(timeMax)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (a *LowLevelAPI) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event, sendUpdates string) (*calendar.Event, error) {
	return a.service.Events.Insert(calendarID, event).SendUpdates(sendUpdates).Context(ctx).Do()
}

func (a *LowLevelAPI) UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event, sendUpdates string) (*calendar.Event, error) {
	return a.service.Events.Update(calendarID, eventID, event).SendUpdates(sendUpdates).Context(ctx).Do()
}

func (a *LowLevelAPI) DeleteEvent(ctx context.Context, calendarID, eventID, sendUpdates string) error {
	return a.service.Events.Delete(calendarID, eventID).SendUpdates(sendUpdates).Context(ctx).Do()
}

// Config configures a Calendar.
type Config struct {
	API API
	// CalendarID defaults to "primary".
	CalendarID string
	// TimeZone is the IANA zone written on events. Empty means the
	// calendar's own zone, looked up once.
	TimeZone string
	// Attendee, if set, is invited to every created or updated event.
	Attendee string
	// SendUpdates is "all", "externalOnly" or "none". Defaults to "all".
	SendUpdates string
}

// Calendar is a Google Calendar remote store.
type Calendar struct {
	cfg Config
	tz  string
}

// New returns a Calendar using cfg.
func New(cfg Config) *Calendar {
	if cfg.CalendarID == "" {
		cfg.CalendarID = DefaultCalendarID
	}
	if cfg.SendUpdates == "" {
		cfg.SendUpdates = DefaultSendUpdates
	}
	return &Calendar{cfg: cfg, tz: cfg.TimeZone}
}

// TimeZone returns the zone written on events, resolving it from the
// calendar on first use when not configured.
func (c *Calendar) TimeZone(ctx context.Context) (string, error) {
	if c.tz != "" {
		return c.tz, nil
	}
	cal, err := c.cfg.API.GetCalendar(ctx, c.cfg.CalendarID)
	if err != nil {
		return "", fmt.Errorf("retrieving Google calendar: %w", err)
	}
	if cal.TimeZone == "" {
		return "", errors.New("google calendar has no time zone")
	}
	c.tz = cal.TimeZone
	return c.tz, nil
}

// ListEvents returns the timed, non-cancelled events in [min, max).
func (c *Calendar) ListEvents(ctx context.Context, min, max time.Time) ([]model.RemoteEvent, error) {
	out := make([]model.RemoteEvent, 0)
	pageToken := ""
	for {
		page, err := c.cfg.API.ListEvents(ctx, c.cfg.CalendarID, min.Format(time.RFC3339), max.Format(time.RFC3339), pageToken)
		if err != nil {
			return nil, fmt.Errorf("listing Google calendar events: %w", err)
		}
		for _, item := range page.Items {
			ev, ok, err := toRemote(item, min.Location())
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, ev)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	appLog.Debug("google calendar events listed", "calendar", c.cfg.CalendarID, "count", len(out))
	return out, nil
}

// toRemote converts item, reporting false for cancelled and all-day events.
func toRemote(item *calendar.Event, loc *time.Location) (model.RemoteEvent, bool, error) {
	if item.Status == "cancelled" {
		return model.RemoteEvent{}, false, nil
	}
	if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return model.RemoteEvent{}, false, nil
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return model.RemoteEvent{}, false, fmt.Errorf("parsing Google calendar event start time %q: %w", item.Start.DateTime, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return model.RemoteEvent{}, false, fmt.Errorf("parsing Google calendar event end time %q: %w", item.End.DateTime, err)
	}
	return model.RemoteEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Start:       start.In(loc),
		End:         end.In(loc),
		Description: item.Description,
	}, true, nil
}

// Create inserts a new event and returns its ID.
func (c *Calendar) Create(ctx context.Context, in model.EventInput) (string, error) {
	body, err := c.eventBody(ctx, in)
	if err != nil {
		return "", err
	}
	created, err := c.cfg.API.InsertEvent(ctx, c.cfg.CalendarID, body, c.cfg.SendUpdates)
	if err != nil {
		return "", fmt.Errorf("creating Google calendar event: %w", err)
	}
	appLog.Info("google calendar event created", "id", created.Id, "title", in.Title, "link", created.HtmlLink)
	return created.Id, nil
}

// Update replaces the event's title, times and description.
func (c *Calendar) Update(ctx context.Context, id string, in model.EventInput) error {
	body, err := c.eventBody(ctx, in)
	if err != nil {
		return err
	}
	updated, err := c.cfg.API.UpdateEvent(ctx, c.cfg.CalendarID, id, body, c.cfg.SendUpdates)
	if err != nil {
		return fmt.Errorf("updating Google calendar event %s: %w", id, err)
	}
	appLog.Info("google calendar event updated", "id", id, "title", in.Title, "link", updated.HtmlLink)
	return nil
}

// Delete removes the event. An event that is already gone is not an error.
func (c *Calendar) Delete(ctx context.Context, id string) error {
	err := c.cfg.API.DeleteEvent(ctx, c.cfg.CalendarID, id, c.cfg.SendUpdates)
	if isGone(err) {
		appLog.Info("google calendar event already deleted", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting Google calendar event %s: %w", id, err)
	}
	appLog.Info("google calendar event deleted", "id", id)
	return nil
}

func (c *Calendar) eventBody(ctx context.Context, in model.EventInput) (*calendar.Event, error) {
	tz, err := c.TimeZone(ctx)
	if err != nil {
		return nil, err
	}
	ev := &calendar.Event{
		Summary:     in.Title,
		Description: in.Description,
		Start:       &calendar.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: tz},
	}
	if c.cfg.Attendee != "" {
		ev.Attendees = []*calendar.EventAttendee{{Email: c.cfg.Attendee}}
	}
	return ev, nil
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	var ae *googleapi.Error
	return errors.As(err, &ae) && (ae.Code == http.StatusNotFound || ae.Code == http.StatusGone)
}
