package web

import (
	"time"

	"calsync/internal/syncer"
)

// reportDTO is the JSON shape of an in-memory report.
type reportDTO struct {
	ID         string         `json:"id"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	DurationMs int64          `json:"duration_ms"`
	DryRun     bool           `json:"dry_run"`
	Scraped    int            `json:"scraped"`
	Remote     int            `json:"remote"`
	WindowMin  *time.Time     `json:"window_min,omitempty"`
	WindowMax  *time.Time     `json:"window_max,omitempty"`
	Counts     map[string]int `json:"counts"`
	Outcomes   []outcomeDTO   `json:"outcomes"`
	Dropped    []dropDTO      `json:"dropped"`
	Error      string         `json:"error,omitempty"`
}

type outcomeDTO struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	RemoteID  string `json:"remote_id,omitempty"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Applied   bool   `json:"applied"`
	CreatedID string `json:"created_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type dropDTO struct {
	Stage  string `json:"stage"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func reportDTOFrom(rep *syncer.Report) reportDTO {
	dto := reportDTO{
		ID:         rep.ID,
		Started:    rep.Started,
		Finished:   rep.Finished,
		DurationMs: rep.Duration().Milliseconds(),
		DryRun:     rep.DryRun,
		Scraped:    rep.Scraped,
		Remote:     rep.Remote,
		Counts:     make(map[string]int),
		Outcomes:   make([]outcomeDTO, 0, len(rep.Outcomes)),
		Dropped:    make([]dropDTO, 0, len(rep.ParseDrops)+len(rep.Plan.Drops)),
	}
	if !rep.Window.Min.IsZero() {
		lo, hi := rep.Window.Min, rep.Window.Max
		dto.WindowMin, dto.WindowMax = &lo, &hi
	}
	for k, n := range rep.Counts() {
		dto.Counts[string(k)] = n
	}
	for _, o := range rep.Outcomes {
		d := o.Decision
		od := outcomeDTO{
			Kind:      string(d.Kind),
			Reason:    string(d.Reason),
			RemoteID:  d.RemoteID,
			Title:     d.Event.Title,
			Date:      d.Event.Date,
			StartTime: d.Event.StartTime,
			EndTime:   d.Event.EndTime,
			Applied:   o.Applied,
			CreatedID: o.CreatedID,
		}
		if o.Err != nil {
			od.Error = o.Err.Error()
		}
		dto.Outcomes = append(dto.Outcomes, od)
	}
	for _, p := range rep.ParseDrops {
		dto.Dropped = append(dto.Dropped, dropDTO{Stage: "label", Index: p.Index, Text: p.Label, Reason: errString(p.Err)})
	}
	for _, p := range rep.Plan.Drops {
		dto.Dropped = append(dto.Dropped, dropDTO{Stage: "normalize", Index: p.Index, Text: p.Event.Title, Reason: errString(p.Err)})
	}
	if rep.Err != nil {
		dto.Error = rep.Err.Error()
	}
	return dto
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
