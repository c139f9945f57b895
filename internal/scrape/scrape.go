// Package scrape reads meeting labels out of the Outlook web calendar with
// a chromedp-driven Chromium.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"calsync/internal/label"
	appLog "calsync/internal/log"
)

const (
	DefaultURL              = "https://outlook.office.com/calendar/view/"
	DefaultView             = "week"
	DefaultUserDataDir      = "./user_data"
	DefaultLoginTimeout     = 2 * time.Minute
	DefaultEventSelector    = ".calendar-SelectionStyles-resizeBoxParent"
	DefaultButtonSelector   = "div[role='button']"
	DefaultBodySelector     = "div[role='document']"
	DefaultAttendeeSelector = "span[title*='@']"
	DefaultCloseSelector    = "button[aria-label='Close']"

	// detailTimeout bounds each per-event peek when details are enabled.
	detailTimeout = 15 * time.Second
)

// Options configures a Scraper. Zero fields take the Default* values.
type Options struct {
	URL          string
	View         string
	UserDataDir  string
	Headless     bool
	LoginTimeout time.Duration

	// Details opens every event to read its body and attendees.
	Details bool

	EventSelector    string
	ButtonSelector   string
	BodySelector     string
	AttendeeSelector string
	CloseSelector    string
}

// WithDefaults returns o with empty fields filled in.
func (o Options) WithDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.View == "" {
		o.View = DefaultView
	}
	if o.UserDataDir == "" {
		o.UserDataDir = DefaultUserDataDir
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.EventSelector == "" {
		o.EventSelector = DefaultEventSelector
	}
	if o.ButtonSelector == "" {
		o.ButtonSelector = DefaultButtonSelector
	}
	if o.BodySelector == "" {
		o.BodySelector = DefaultBodySelector
	}
	if o.AttendeeSelector == "" {
		o.AttendeeSelector = DefaultAttendeeSelector
	}
	if o.CloseSelector == "" {
		o.CloseSelector = DefaultCloseSelector
	}
	return o
}

// ViewURL joins the calendar base URL and the view name.
func (o Options) ViewURL() string {
	return strings.TrimRight(o.URL, "/") + "/" + strings.Trim(o.View, "/")
}

// Scraper collects raw events from the calendar page.
type Scraper struct {
	opts Options
}

// New returns a Scraper using opts with defaults applied.
func New(opts Options) (*Scraper, error) {
	opts = opts.WithDefaults()
	switch opts.View {
	case "day", "workweek", "week", "month":
	default:
		return nil, fmt.Errorf("scrape: unknown view %q", opts.View)
	}
	return &Scraper{opts: opts}, nil
}

// Scrape launches Chromium with the persistent profile, waits for the
// calendar to render (giving the user time to log in) and returns one raw
// event per labelled event button, in page order.
func (s *Scraper) Scrape(parentCtx context.Context) ([]label.RawEvent, error) {
	if err := os.MkdirAll(s.opts.UserDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("scrape: create user data dir: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(s.opts.UserDataDir),
		chromedp.Flag("headless", s.opts.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Start the browser on the long-lived context so the timeouts below
	// only bound individual steps.
	if err := chromedp.Run(ctx, chromedp.Navigate(s.opts.ViewURL())); err != nil {
		return nil, fmt.Errorf("scrape: navigate: %w", err)
	}
	appLog.Info("waiting for calendar to load; log in in the browser window if required",
		"url", s.opts.ViewURL(), "timeout", s.opts.LoginTimeout.String())

	waitCtx, waitCancel := context.WithTimeout(ctx, s.opts.LoginTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(s.opts.EventSelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("scrape: no events appeared within %s: %w", s.opts.LoginTimeout, err)
		}
		return nil, fmt.Errorf("scrape: wait for calendar: %w", err)
	}

	var labels []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(labelsScript(s.opts), &labels)); err != nil {
		return nil, fmt.Errorf("scrape: read labels: %w", err)
	}
	appLog.Info("calendar events found", "count", len(labels), "view", s.opts.View)

	var fetch detailFunc
	if s.opts.Details {
		fetch = func(i int) (string, []string, error) { return s.details(ctx, i) }
	}
	return collect(labels, fetch), nil
}

// detailFunc reads the body HTML and attendees of the i-th event.
type detailFunc func(i int) (string, []string, error)

// collect turns page labels into raw events, skipping unlabelled buttons.
// With a nil fetch no details are read. A failed fetch marks the event's
// details as missing instead of reporting an empty body.
func collect(labels []string, fetch detailFunc) []label.RawEvent {
	out := make([]label.RawEvent, 0, len(labels))
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			continue
		}
		raw := label.RawEvent{Label: l}
		if fetch != nil {
			body, attendees, err := fetch(i)
			if err != nil {
				appLog.Error("event details unavailable", err, "index", i, "label", l)
				raw.DetailsMissing = true
			} else {
				raw.DescriptionHTML = body
				raw.Participants = attendees
			}
		}
		out = append(out, raw)
	}
	return out
}

// details opens the i-th event, reads the body HTML and attendee strings,
// and closes the peek again.
func (s *Scraper) details(parent context.Context, i int) (string, []string, error) {
	ctx, cancel := context.WithTimeout(parent, detailTimeout)
	defer cancel()

	var (
		clicked   bool
		body      string
		attendees []string
		closed    bool
	)
	err := chromedp.Run(ctx,
		chromedp.Evaluate(clickScript(s.opts, i), &clicked),
	)
	if err != nil {
		return "", nil, err
	}
	if !clicked {
		return "", nil, fmt.Errorf("event %d has no button", i)
	}
	err = chromedp.Run(ctx,
		chromedp.WaitVisible(s.opts.BodySelector, chromedp.ByQuery),
		chromedp.InnerHTML(s.opts.BodySelector, &body, chromedp.ByQuery),
		chromedp.Evaluate(attendeesScript(s.opts), &attendees),
		chromedp.Evaluate(closeScript(s.opts), &closed),
	)
	if err != nil {
		return "", nil, err
	}
	return body, attendees, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func labelsScript(o Options) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function (el) {
  var b = el.querySelector(%s);
  return b ? (b.getAttribute("aria-label") || "") : "";
})`, jsString(o.EventSelector), jsString(o.ButtonSelector))
}

func clickScript(o Options, i int) string {
	return fmt.Sprintf(`(function () {
  var el = document.querySelectorAll(%s)[%d];
  var b = el && el.querySelector(%s);
  if (!b) { return false; }
  b.click();
  return true;
})()`, jsString(o.EventSelector), i, jsString(o.ButtonSelector))
}

func attendeesScript(o Options) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function (el) {
  return el.getAttribute("title") || el.textContent || "";
})`, jsString(o.AttendeeSelector))
}

func closeScript(o Options) string {
	return fmt.Sprintf(`(function () {
  var c = document.querySelector(%s);
  if (c) { c.click(); return true; }
  document.dispatchEvent(new KeyboardEvent("keydown", {key: "Escape"}));
  return false;
})()`, jsString(o.CloseSelector))
}
