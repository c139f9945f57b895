package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"calsync/internal/config"
	"calsync/internal/gcal"
	"calsync/internal/ics"
	appLog "calsync/internal/log"
	"calsync/internal/reconcile"
	"calsync/internal/scrape"
	"calsync/internal/syncer"
)

func scrapeOptions(conf *config.Config, loginTimeout time.Duration) scrape.Options {
	s := conf.Source
	return scrape.Options{
		URL:              s.URL,
		View:             s.View,
		UserDataDir:      s.UserDataDir,
		Headless:         s.Headless,
		LoginTimeout:     loginTimeout,
		Details:          s.Details,
		EventSelector:    s.EventSelector,
		ButtonSelector:   s.ButtonSelector,
		BodySelector:     s.BodySelector,
		AttendeeSelector: s.AttendeeSelector,
		CloseSelector:    s.CloseSelector,
	}
}

func policyFrom(conf *config.Config, loc *time.Location) reconcile.Policy {
	return reconcile.Policy{
		IgnoreSubstrings:     conf.Policy.Ignore,
		SelfIdentifier:       conf.Policy.Self,
		CancellationPrefixes: conf.Policy.CancellationPrefixes,
		Location:             loc,
	}
}

func newRemote(ctx context.Context, conf *config.Config) (syncer.Remote, error) {
	switch conf.Remote.Kind {
	case config.RemoteICS:
		if (ics.Source{URL: conf.Remote.ICS.Path}).IsRemote() {
			appLog.Info("ICS remote is a URL; the calendar is read-only", "path", conf.Remote.ICS.Path)
		}
		return ics.NewStore(conf.Remote.ICS.Path, conf.Remote.ICS.CacheDir), nil
	case config.RemoteGoogle:
		g := conf.Remote.Google
		client, err := gcal.HTTPClient(ctx, g.CredentialsFile, g.TokenFile, promptForCode)
		if err != nil {
			return nil, err
		}
		api, err := gcal.NewLowLevelAPI(ctx, client)
		if err != nil {
			return nil, err
		}
		tz := ""
		if conf.Timezone != config.LocalTimezone {
			tz = conf.Timezone
		}
		return gcal.New(gcal.Config{
			API:         api,
			CalendarID:  g.CalendarID,
			TimeZone:    tz,
			Attendee:    g.AttendeeOr(conf.Policy.Self),
			SendUpdates: g.SendUpdates,
		}), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", conf.Remote.Kind)
	}
}

// zoneSource is a remote that knows its own time zone.
type zoneSource interface {
	TimeZone(ctx context.Context) (string, error)
}

// resolveLocation picks the zone scraped wall-clock times are read in: the
// configured timezone, or the remote calendar's own zone when the config
// leaves it at "Local" and the remote has one.
func resolveLocation(ctx context.Context, conf *config.Config, remote syncer.Remote) (*time.Location, error) {
	if conf.Timezone != config.LocalTimezone {
		return conf.Location()
	}
	zs, ok := remote.(zoneSource)
	if !ok {
		return time.Local, nil
	}
	name, err := zs.TimeZone(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("remote calendar time zone %q: %w", name, err)
	}
	return loc, nil
}

// logLevel is the configured level, unless -debug asked for more.
func logLevel(conf *config.Config, debug bool) appLog.Level {
	if debug {
		return appLog.LevelDebug
	}
	return appLog.ParseLevel(conf.LogLevel)
}

// promptForCode runs the one-time consent step on the terminal.
func promptForCode(authURL string) (string, error) {
	fmt.Fprintf(os.Stderr, "Open this link in a browser, approve access, then paste the code here:\n%s\n> ", authURL)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no authorization code entered")
	}
	return strings.TrimSpace(sc.Text()), nil
}

// cronLogger routes cron's logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
