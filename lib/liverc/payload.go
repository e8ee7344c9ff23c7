package liverc

import (
	"math"
	"strings"
)

// Entry is one line of a session's authoritative entry list.
type Entry struct {
	EntryID     string `json:"entry_id"`
	DriverName  string `json:"driver_name"`
	CarNumber   string `json:"car_number"`
	Transponder string `json:"transponder"`
	Withdrawn   bool   `json:"withdrawn"`
}

type EntryListPayload struct {
	EventName string  `json:"event_name"`
	ClassName string  `json:"class_name"`
	Entries   []Entry `json:"entries"`
}

// LapRecord is a single timed lap of the race result payload.
type LapRecord struct {
	EntryID    string  `json:"entry_id"`
	DriverName string  `json:"driver_name"`
	LapNum     int     `json:"lap_num"`
	Seconds    float64 `json:"lap_time"`
	Outlap     bool    `json:"outlap"`
}

// RaceResultPayload is a session's machine-readable result. Name
// fields may be empty on some club sub-sites, callers fall back to
// slug-derived titles.
type RaceResultPayload struct {
	EventName string      `json:"event_name"`
	ClassName string      `json:"class_name"`
	RoundName string      `json:"round_name"`
	RaceName  string      `json:"race_name"`
	StartTime string      `json:"start_time"`
	Entries   []Entry     `json:"entry_list"`
	Laps      []LapRecord `json:"laps"`
}

// LapMillis converts a payload lap time to whole milliseconds. A lap
// whose time is not a finite positive value is dropped, never stored.
func LapMillis(seconds float64) (int64, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, false
	}
	ms := int64(math.Round(seconds * 1000))
	if ms <= 0 {
		return 0, false
	}
	return ms, true
}

// EntryListPath derives the entry list endpoint scoped to a parsed
// results url's event and class.
func EntryListPath(p ParsedURL) string {
	if p.Kind != KindJSON || len(p.Slugs) != 4 {
		return ""
	}
	return "/results/" + strings.Join(p.Slugs[:2], "/") + "/entry-list.json"
}
