package ics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

var (
	// ErrReadOnly is returned when mutating a calendar fetched over HTTP.
	ErrReadOnly = errors.New("ics: calendar is read-only")
	// ErrNotFound is returned when updating an event the calendar lacks.
	ErrNotFound = errors.New("ics: event not found")
)

// Store is a calendar kept in a single .ics file. It serves as the remote
// store for offline runs: it lists events for a window and applies create,
// update and delete calls by rewriting the file.
//
// When the location is an http(s) URL the feed is fetched through Fetcher
// and the store is read-only.
type Store struct {
	mu      sync.Mutex
	src     Source
	fetcher *Fetcher
	now     func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for DTSTAMP values.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore opens the calendar at location. cacheDir is only used for URLs.
func NewStore(location, cacheDir string, opts ...StoreOption) *Store {
	s := &Store{
		src: Source{ID: "remote", URL: location},
		now: time.Now,
	}
	if s.src.IsRemote() {
		s.fetcher = NewFetcher(cacheDir)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListEvents returns the timed events overlapping [min, max], in min's zone.
func (s *Store) ListEvents(ctx context.Context, min, max time.Time) ([]model.RemoteEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: min.Location(),
		RangeStart:      min,
		RangeEnd:        max,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Create adds a new single event and returns its UID.
func (s *Store) Create(ctx context.Context, in model.EventInput) (string, error) {
	uid := uuid.NewString() + "@calsync"
	err := s.mutate(ctx, func(events []ParsedEvent) ([]ParsedEvent, error) {
		return append(events, ParsedEvent{
			UID:         uid,
			Status:      "CONFIRMED",
			Summary:     in.Title,
			Description: in.Description,
			Start:       in.Start,
			End:         in.End,
		}), nil
	})
	if err != nil {
		return "", err
	}
	return uid, nil
}

// Update rewrites the event or occurrence named by id.
func (s *Store) Update(ctx context.Context, id string, in model.EventInput) error {
	uid, occ, isInstance := splitInstanceID(id)
	return s.mutate(ctx, func(events []ParsedEvent) ([]ParsedEvent, error) {
		bi := baseIndex(events, uid)
		if bi < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !isInstance {
			ev := &events[bi]
			ev.Summary, ev.Description, ev.Start, ev.End = in.Title, in.Description, in.Start, in.End
			ev.Seq++
			return events, nil
		}

		override := ParsedEvent{
			UID:         uid,
			Seq:         events[bi].Seq + 1,
			Summary:     in.Title,
			Description: in.Description,
			Start:       in.Start,
			End:         in.End,
			Recurrence:  &occ,
			IsOverride:  true,
		}
		if oi := overrideIndex(events, uid, occ); oi >= 0 {
			events[oi] = override
			return events, nil
		}
		return append(events, override), nil
	})
}

// Delete removes the event or occurrence named by id. Deleting something
// that is already gone succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	uid, occ, isInstance := splitInstanceID(id)
	return s.mutate(ctx, func(events []ParsedEvent) ([]ParsedEvent, error) {
		if !isInstance {
			return slices.DeleteFunc(events, func(ev ParsedEvent) bool { return ev.UID == uid }), nil
		}
		if oi := overrideIndex(events, uid, occ); oi >= 0 {
			events = slices.Delete(events, oi, oi+1)
		}
		if bi := baseIndex(events, uid); bi >= 0 {
			events[bi].ExDates = append(events[bi].ExDates, occ)
			events[bi].Seq++
		}
		return events, nil
	})
}

func (s *Store) mutate(ctx context.Context, fn func([]ParsedEvent) ([]ParsedEvent, error)) error {
	if s.src.IsRemote() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.load(ctx)
	if err != nil {
		return err
	}
	events, err = fn(events)
	if err != nil {
		return err
	}
	return s.save(events)
}

func (s *Store) load(ctx context.Context) ([]ParsedEvent, error) {
	var body []byte
	if s.src.IsRemote() {
		res, err := s.fetcher.FetchOne(ctx, s.src)
		if err != nil {
			return nil, err
		}
		body = res.Body
	} else {
		data, err := os.ReadFile(s.src.URL)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		body = data
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	return ParseICS(s.src, body)
}

// save writes the calendar atomically via a temp file + rename.
func (s *Store) save(events []ParsedEvent) error {
	path := s.src.URL
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsync-ics-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(Serialize(events, s.now())); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	appLog.Debug("ics calendar saved", "path", path, "event_count", len(events))
	return nil
}

// Serialize renders events as a VCALENDAR.
func Serialize(events []ParsedEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//calsync//calsync//EN")

	for _, ev := range events {
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp)
		if ev.Seq > 0 {
			ve.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(ev.Seq))
		}
		if ev.Status != "" {
			ve.SetProperty(ical.ComponentPropertyStatus, ev.Status)
		}
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		if ev.RawRRule != "" {
			ve.SetProperty(ical.ComponentPropertyRrule, ev.RawRRule)
		}
		for _, ex := range ev.ExDates {
			ve.AddProperty(ical.ComponentPropertyExdate, formatICSTime(ex))
		}
		if ev.IsOverride && ev.Recurrence != nil {
			ve.SetProperty(propRecurrenceID, formatICSTime(*ev.Recurrence))
		}
	}
	return cal.Serialize()
}

// splitInstanceID undoes InstanceID. UIDs may contain the separator, so the
// suffix only counts when it parses as a UTC timestamp.
func splitInstanceID(id string) (uid string, occ time.Time, isInstance bool) {
	i := strings.LastIndex(id, instanceSep)
	if i < 0 {
		return id, time.Time{}, false
	}
	t, err := time.Parse(utcLayout, id[i+len(instanceSep):])
	if err != nil {
		return id, time.Time{}, false
	}
	return id[:i], t, true
}

func baseIndex(events []ParsedEvent, uid string) int {
	return slices.IndexFunc(events, func(ev ParsedEvent) bool { return ev.UID == uid && !ev.IsOverride })
}

func overrideIndex(events []ParsedEvent, uid string, occ time.Time) int {
	return slices.IndexFunc(events, func(ev ParsedEvent) bool {
		return ev.UID == uid && ev.IsOverride && ev.Recurrence != nil && ev.Recurrence.Equal(occ)
	})
}
