package scrape

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/label"
)

func TestWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, DefaultURL, o.URL)
	assert.Equal(t, DefaultView, o.View)
	assert.Equal(t, DefaultUserDataDir, o.UserDataDir)
	assert.Equal(t, 2*time.Minute, o.LoginTimeout)
	assert.Equal(t, DefaultEventSelector, o.EventSelector)
	assert.Equal(t, DefaultButtonSelector, o.ButtonSelector)
	assert.False(t, o.Headless)

	custom := Options{View: "day", LoginTimeout: time.Second, EventSelector: ".ev"}.WithDefaults()
	assert.Equal(t, "day", custom.View)
	assert.Equal(t, time.Second, custom.LoginTimeout)
	assert.Equal(t, ".ev", custom.EventSelector)
}

func TestViewURL(t *testing.T) {
	tests := []struct {
		url, view, want string
	}{
		{DefaultURL, "week", "https://outlook.office.com/calendar/view/week"},
		{"https://outlook.office.com/calendar/view", "day", "https://outlook.office.com/calendar/view/day"},
		{"http://localhost:9000/cal/", "/month/", "http://localhost:9000/cal/month"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Options{URL: tc.url, View: tc.view}.ViewURL())
	}
}

func TestNewRejectsUnknownView(t *testing.T) {
	_, err := New(Options{View: "year"})
	assert.ErrorContains(t, err, "year")

	s, err := New(Options{View: "month"})
	require.NoError(t, err)
	assert.Equal(t, "month", s.opts.View)
}

func TestScriptsQuoteSelectors(t *testing.T) {
	o := Options{}.WithDefaults()
	script := labelsScript(o)
	assert.Contains(t, script, `".calendar-SelectionStyles-resizeBoxParent"`)
	assert.Contains(t, script, `"div[role='button']"`)
	assert.Contains(t, clickScript(o, 3), "[3]")

	o.CloseSelector = `button[aria-label="Fermer"]`
	assert.Contains(t, closeScript(o), `"button[aria-label=\"Fermer\"]"`)
}

func TestCollect(t *testing.T) {
	labels := []string{"Standup, 9:00 AM to 9:15 AM, Monday, January 5, 2026", "  ", "Review, 2:00 PM to 3:00 PM, Tuesday, January 6, 2026"}

	got := collect(labels, nil)
	assert.Equal(t, []label.RawEvent{{Label: labels[0]}, {Label: labels[2]}}, got)

	var asked []int
	got = collect(labels, func(i int) (string, []string, error) {
		asked = append(asked, i)
		if i == 2 {
			return "", nil, errors.New("peek did not open")
		}
		return "<div>Agenda</div>", []string{"a@example.com"}, nil
	})
	assert.Equal(t, []int{0, 2}, asked, "unlabelled buttons are not opened")
	require.Len(t, got, 2)
	assert.Equal(t, "<div>Agenda</div>", got[0].DescriptionHTML)
	assert.Equal(t, []string{"a@example.com"}, got[0].Participants)
	assert.False(t, got[0].DetailsMissing)
	assert.Empty(t, got[1].DescriptionHTML)
	assert.True(t, got[1].DetailsMissing)
}
