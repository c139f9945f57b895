package model

import "time"

// SourceEvent is one meeting as scraped from the source calendar UI.
// Date and times are kept as the raw text the UI showed; they are only
// normalized when compared against the remote calendar.
type SourceEvent struct {
	Title     string
	Date      string
	StartTime string
	EndTime   string

	// Description is cleaned to plain text with <br> line breaks only.
	// Empty when the scrape did not capture a body.
	Description string

	// Participants are lower-cased identifiers (usually emails). May be empty.
	Participants []string

	// DescriptionUnknown marks a body that could not be read. Such an event
	// never changes a remote description.
	DescriptionUnknown bool
}

// RemoteEvent is one event as currently stored in the destination calendar.
type RemoteEvent struct {
	ID    string
	Title string

	// Start / End carry the zone the remote store reported.
	Start time.Time
	End   time.Time

	Description string
}

// EventInput is the payload a mutation executor sends to the remote store
// for create and update calls. Start / End are already resolved instants.
type EventInput struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}
