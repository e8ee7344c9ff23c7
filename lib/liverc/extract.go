package liverc

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mre-backend/lib/htmlutil"
	"mre-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

type SessionType string

const (
	SessionQual SessionType = "QUAL"
	SessionMain SessionType = "MAIN"
)

// SessionSummary is one row of an event overview's session tables.
type SessionSummary struct {
	Type       SessionType
	RoundLabel string
	ClassName  string
	Round      string
	Heat       string
	Href       string
	// CompletedAt is nil unless the page carried a timestamp with an
	// explicit timezone. A guessed timezone is worse than no value.
	CompletedAt *time.Time
}

// ResultRowSummary is one driver's line of a session results table.
// Time fields are milliseconds, zero when the page had no value.
type ResultRowSummary struct {
	DriverName     string
	Position       int
	LapCount       int
	TotalTimeMS    int64
	BehindMS       int64
	FastestLapMS   int64
	AverageLapMS   int64
	ConsistencyPct float64
}

// ExtractSessions scans every table of an event overview page. Markup
// differs across club sub-sites, so columns are mapped by header text
// (or data-label/aria-label) rather than fixed index, and each table
// is classified by its nearest preceding heading.
func ExtractSessions(doc *goquery.Document) []SessionSummary {
	var sessions []SessionSummary

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		heading := nearestHeading(table)
		stype := classifySessionType(heading)

		cols := headerColumns(table)
		if len(cols) == 0 {
			return
		}

		bodyRows(table).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}

			class := cellText(cells, cols, "class", "classname", "raceclass")
			if class == "" {
				return
			}

			s := SessionSummary{
				Type:       stype,
				RoundLabel: heading,
				ClassName:  class,
				Round:      cellText(cells, cols, "round", "rnd", "qualifier"),
				Heat:       cellText(cells, cols, "heat", "race", "heatrace", "main"),
				Href:       row.Find("a").First().AttrOr("href", ""),
			}
			if s.Href == "" {
				linkCell := findCell(cells, cols, "class", "classname", "raceclass")
				if linkCell != nil {
					s.Href = linkCell.Find("a").First().AttrOr("href", "")
				}
			}

			completed := findCell(cells, cols, "completed", "completedat", "completedtime", "finished", "time")
			if completed != nil {
				s.CompletedAt = completedAt(completed)
			}

			sessions = append(sessions, s)
		})
	})

	return sessions
}

// ExtractResultRows reads the per-driver summary table of a session
// page. A table qualifies when its headers name both a driver and a
// lap count column.
func ExtractResultRows(doc *goquery.Document) []ResultRowSummary {
	var rows []ResultRowSummary

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if rows != nil {
			return
		}
		cols := headerColumns(table)
		if !hasColumn(cols, "driver", "name", "drivername") || !hasColumn(cols, "laps", "lapcount") {
			return
		}

		bodyRows(table).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}

			driver := cellText(cells, cols, "driver", "name", "drivername")
			if driver == "" {
				return
			}

			totalMS, _ := ParseRaceTimeMS(cellText(cells, cols, "total", "totaltime", "racetime"))
			behindMS, _ := ParseRaceTimeMS(cellText(cells, cols, "behind", "diff", "gap"))
			fastestMS, _ := ParseRaceTimeMS(cellText(cells, cols, "fastest", "fastestlap", "best", "bestlap"))
			avgMS, _ := ParseRaceTimeMS(cellText(cells, cols, "average", "avg", "averagelap", "avglap"))

			rows = append(rows, ResultRowSummary{
				DriverName:     driver,
				Position:       parseInt(cellText(cells, cols, "pos", "position")),
				LapCount:       parseInt(cellText(cells, cols, "laps", "lapcount")),
				TotalTimeMS:    totalMS,
				BehindMS:       behindMS,
				FastestLapMS:   fastestMS,
				AverageLapMS:   avgMS,
				ConsistencyPct: parsePercent(cellText(cells, cols, "consistency", "cons", "con")),
			})
		})
	})

	return rows
}

// EventLink is one entry of a club's events listing.
type EventLink struct {
	Title string
	Href  string
	// Date is best effort, pulled from the surrounding row.
	Date *time.Time
}

var eventDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ExtractEventLinks pulls event anchors plus a best-effort date off a
// club's events page.
func ExtractEventLinks(doc *goquery.Document) []EventLink {
	var events []EventLink
	seen := map[string]bool{}

	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if !strings.Contains(href, "/results/") {
			return
		}
		title := htmlutil.CleanText(a.Text())
		if title == "" || seen[href] {
			return
		}
		seen[href] = true

		events = append(events, EventLink{
			Title: title,
			Href:  href,
			Date:  eventRowDate(a),
		})
	})

	return events
}

func eventRowDate(a *goquery.Selection) *time.Time {
	row := a.Closest("tr")
	if row.Length() == 0 {
		row = a.Closest("li,div")
	}
	if row.Length() == 0 {
		return nil
	}

	if attr := strings.TrimSpace(row.AttrOr("data-date", "")); attr != "" {
		if at, ok := parseEventDate(attr); ok {
			return &at
		}
	}

	var found *time.Time
	row.Find("time,td,span").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if dt := strings.TrimSpace(cell.AttrOr("datetime", "")); dt != "" {
			if at, ok := parseEventDate(dt); ok {
				found = &at
				return false
			}
		}
		if at, ok := parseEventDate(htmlutil.CleanText(cell.Text())); ok {
			found = &at
			return false
		}
		return true
	})
	return found
}

func parseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range eventDateFormats {
		if at, err := time.Parse(layout, s); err == nil {
			return at.UTC(), true
		}
	}
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return at.UTC(), true
	}
	return time.Time{}, false
}

// TrackLink is one club entry of the root track directory.
type TrackLink struct {
	Subdomain   string
	DisplayName string
}

// ExtractTrackLinks reads the root track directory, keeping anchors
// whose host is a liverc club subdomain.
func ExtractTrackLinks(doc *goquery.Document) []TrackLink {
	var tracks []TrackLink
	seen := map[string]bool{}

	for _, anchor := range htmlutil.GetAnchors(doc.Find("a")) {
		sub := subdomainOf(anchor.Href)
		if sub == "" || seen[sub] || anchor.Name == "" {
			continue
		}
		seen[sub] = true
		tracks = append(tracks, TrackLink{Subdomain: sub, DisplayName: anchor.Name})
	}

	return tracks
}

var subdomainRegex = regexp.MustCompile(`^(?:https?:)?//([a-z0-9-]+)\.liverc\.com`)

func subdomainOf(href string) string {
	groups := subdomainRegex.FindStringSubmatch(strings.ToLower(href))
	if len(groups) < 2 {
		return ""
	}
	sub := groups[1]
	if sub == "www" || sub == "live" {
		return ""
	}
	return sub
}

// --- table plumbing ---

type columnMap map[string]int

func headerColumns(table *goquery.Selection) columnMap {
	cols := columnMap{}

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").First()
	}
	headerRow.Find("th,td").Each(func(i int, cell *goquery.Selection) {
		for _, raw := range []string{
			cell.Text(),
			cell.AttrOr("data-label", ""),
			cell.AttrOr("aria-label", ""),
		} {
			key := textutil.NormalizeHeader(raw)
			if key == "" {
				continue
			}
			if _, taken := cols[key]; !taken {
				cols[key] = i
			}
		}
	})

	return cols
}

func hasColumn(cols columnMap, aliases ...string) bool {
	for _, a := range aliases {
		if _, ok := cols[a]; ok {
			return true
		}
	}
	return false
}

func bodyRows(table *goquery.Selection) *goquery.Selection {
	body := table.Find("tbody tr")
	if body.Length() > 0 {
		return body
	}
	all := table.Find("tr")
	if all.Length() < 2 {
		return all.Slice(0, 0)
	}
	return all.Slice(1, goquery.ToEnd)
}

// findCell locates a row's cell for a header alias: a cell's own
// data-label/aria-label wins over the header index, since some club
// themes render responsive tables that way.
func findCell(cells *goquery.Selection, cols columnMap, aliases ...string) *goquery.Selection {
	var labeled *goquery.Selection
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		for _, attr := range []string{"data-label", "aria-label"} {
			key := textutil.NormalizeHeader(cell.AttrOr(attr, ""))
			if key == "" {
				continue
			}
			for _, a := range aliases {
				if key == a {
					labeled = cell
					return false
				}
			}
		}
		return true
	})
	if labeled != nil {
		return labeled
	}

	for _, a := range aliases {
		if i, ok := cols[a]; ok && i < cells.Length() {
			return cells.Eq(i)
		}
	}
	return nil
}

func cellText(cells *goquery.Selection, cols columnMap, aliases ...string) string {
	cell := findCell(cells, cols, aliases...)
	if cell == nil {
		return ""
	}
	return htmlutil.CleanText(cell.Text())
}

// nearestHeading walks backwards from the table, through preceding
// siblings and then up through ancestors' preceding siblings, to find
// the heading that introduces it.
func nearestHeading(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	for node := sel.Nodes[0]; node != nil; node = node.Parent {
		for prev := node.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if h := lastHeading(prev); h != nil {
				return htmlutil.CleanText(htmlutil.GetText(h))
			}
		}
	}
	return ""
}

func lastHeading(node *html.Node) *html.Node {
	if node.Type == html.ElementNode && isHeadingTag(node.Data) {
		return node
	}
	for child := node.LastChild; child != nil; child = child.PrevSibling {
		if h := lastHeading(child); h != nil {
			return h
		}
	}
	return nil
}

func isHeadingTag(tag string) bool {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func classifySessionType(heading string) SessionType {
	lower := strings.ToLower(heading)
	if strings.Contains(lower, "main") {
		return SessionMain
	}
	return SessionQual
}

// completedAt resolves a row's completion timestamp, preferring
// datetime-bearing attributes over visible text. Values without an
// explicit timezone are discarded.
func completedAt(cell *goquery.Selection) *time.Time {
	candidates := []string{
		cell.AttrOr("datetime", ""),
		cell.AttrOr("data-completed-at", ""),
		cell.AttrOr("data-datetime", ""),
		cell.AttrOr("data-time", ""),
	}
	cell.Find("time").Each(func(_ int, t *goquery.Selection) {
		candidates = append(candidates, t.AttrOr("datetime", ""))
	})
	candidates = append(candidates, htmlutil.CleanText(cell.Text()))

	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if at, ok := parseZonedTime(raw); ok {
			return &at
		}
	}
	return nil
}

var zonedTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
}

func parseZonedTime(s string) (time.Time, bool) {
	for _, layout := range zonedTimeFormats {
		at, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// time.Parse accepts a missing zone for some layouts by
		// defaulting to UTC; layouts above all demand one, so a
		// successful parse carries a real offset.
		return at, true
	}
	return time.Time{}, false
}

var raceTimeRegex = regexp.MustCompile(`^\+?(?:(\d+):)?(?:(\d+):)?(\d+(?:\.\d+)?)$`)

// ParseRaceTimeMS parses "m:ss.mmm", "h:mm:ss.mmm" or bare seconds
// into milliseconds.
func ParseRaceTimeMS(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "--" {
		return 0, false
	}
	groups := raceTimeRegex.FindStringSubmatch(s)
	if groups == nil {
		return 0, false
	}

	secs, err := strconv.ParseFloat(groups[3], 64)
	if err != nil {
		return 0, false
	}
	var mins, hours float64
	if groups[1] != "" && groups[2] != "" {
		hours, _ = strconv.ParseFloat(groups[1], 64)
		mins, _ = strconv.ParseFloat(groups[2], 64)
	} else if groups[1] != "" {
		mins, _ = strconv.ParseFloat(groups[1], 64)
	}

	total := hours*3600 + mins*60 + secs
	ms := int64(math.Round(total * 1000))
	if ms <= 0 {
		return 0, false
	}
	return ms, true
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
