// Package importer turns LiveRC pages and payloads into catalog
// entities. The summary importer walks a whole event, the url
// importer ingests a single session from its json endpoints.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"
	"mre-backend/lib/telemetry"
	"mre-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/importer")

// Repos bundles the repository ports the importer writes through.
type Repos struct {
	Events   catalog.EventRepository
	Classes  catalog.RaceClassRepository
	Sessions catalog.SessionRepository
	Drivers  catalog.DriverRepository
	Entrants catalog.EntrantRepository
	Rows     catalog.ResultRowRepository
	Laps     catalog.LapRepository
}

func ReposFromStore(store catalog.Store) Repos {
	return Repos{
		Events:   store.Events(),
		Classes:  store.RaceClasses(),
		Sessions: store.Sessions(),
		Drivers:  store.Drivers(),
		Entrants: store.Entrants(),
		Rows:     store.ResultRows(),
		Laps:     store.Laps(),
	}
}

type Service struct {
	client *liverc.Client
	repos  Repos
	rec    telemetry.Recorder
}

func NewService(client *liverc.Client, repos Repos, rec telemetry.Recorder) Service {
	if rec == nil {
		rec = telemetry.NopRecorder{}
	}
	return Service{client: client, repos: repos, rec: rec}
}

// Summary aggregates what an import actually wrote.
type Summary struct {
	SessionsImported   int
	ResultRowsImported int
	LapsImported       int
	DriversWithLaps    int
	LapsSkipped        int
}

// Counts flattens a summary for job item bookkeeping.
func (s Summary) Counts() map[string]int64 {
	return map[string]int64{
		"sessions":          int64(s.SessionsImported),
		"result_rows":       int64(s.ResultRowsImported),
		"laps":              int64(s.LapsImported),
		"drivers_with_laps": int64(s.DriversWithLaps),
		"laps_skipped":      int64(s.LapsSkipped),
	}
}

func (s *Summary) add(other Summary) {
	s.SessionsImported += other.SessionsImported
	s.ResultRowsImported += other.ResultRowsImported
	s.LapsImported += other.LapsImported
	s.DriversWithLaps += other.DriversWithLaps
	s.LapsSkipped += other.LapsSkipped
}

// IngestEventSummary imports every session enumerated on an event's
// overview page. One session failing is logged and skipped, it never
// aborts the rest of the event.
func (s Service) IngestEventSummary(ctx context.Context, eventRef string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "IngestEventSummary")
	defer span.End()
	start := time.Now()

	html, err := s.client.GetEventOverview(ctx, eventRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch event overview")
		return Summary{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse event overview")
		return Summary{}, err
	}

	eventSlug := liverc.EventSlugFromRef(eventRef)
	if eventSlug == "" {
		return Summary{}, errMissingIdentifiers("event")
	}
	event, err := s.repos.Events.UpsertBySource(ctx, catalog.Event{
		SourceEventID: eventSlug,
		SourceURL:     s.client.ResolveURL(eventRef),
		Name:          textutil.TitleFromSlug(eventSlug),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert event")
		return Summary{}, err
	}

	var summary Summary
	for _, session := range liverc.ExtractSessions(doc) {
		sessionSummary, err := s.importSession(ctx, event, eventSlug, session)
		if err != nil {
			s.rec.Count("import.session.failed", 1)
			slog.WarnContext(ctx, "skipping session",
				"event", eventSlug, "class", session.ClassName,
				"heat", session.Heat, "err", err)
			continue
		}
		s.rec.Count("import.session.ok", 1)
		summary.add(sessionSummary)
	}

	s.rec.Count("import.event", 1)
	s.rec.Duration("import.event", time.Since(start))
	slog.InfoContext(ctx, "event summary imported",
		"event", eventSlug,
		"sessions", summary.SessionsImported,
		"rows", summary.ResultRowsImported,
		"laps", summary.LapsImported)
	return summary, nil
}

func (s Service) importSession(ctx context.Context, event catalog.Event, eventSlug string, session liverc.SessionSummary) (Summary, error) {
	ctx, span := tracer.Start(ctx, "importSession")
	defer span.End()

	if session.Href == "" {
		return Summary{}, fmt.Errorf("session row carries no link")
	}
	pageURL := s.client.ResolveURL(session.Href)

	slugs := sessionSlugs(eventSlug, session, pageURL)
	sourceSessionID := strings.Join(slugs[:], ":")

	class, err := s.repos.Classes.UpsertBySource(ctx, catalog.RaceClass{
		EventID:   event.ID,
		ClassCode: slugs[1],
		SourceURL: pageURL,
		Name:      className(session, slugs),
	})
	if err != nil {
		return Summary{}, err
	}

	stored, err := s.repos.Sessions.UpsertBySource(ctx, catalog.Session{
		EventID:         event.ID,
		RaceClassID:     class.ID,
		SourceSessionID: sourceSessionID,
		SourceURL:       pageURL,
		Name:            sessionName(class.Name, slugs),
		ScheduledStart:  session.CompletedAt,
	})
	if err != nil {
		return Summary{}, err
	}

	html, err := s.client.GetSessionPage(ctx, session.Href)
	if err != nil {
		return Summary{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Summary{}, err
	}
	rows := liverc.ExtractResultRows(doc)

	// lap payload is best effort: clubs without a json endpoint still
	// get result rows from the summary table
	var payload liverc.RaceResultPayload
	if endpoint := s.client.JSONEndpointFor(html, pageURL); endpoint != "" {
		if err := s.client.FetchJSON(ctx, endpoint, &payload); err != nil {
			slog.DebugContext(ctx, "no lap payload for session",
				"session", sourceSessionID, "err", err)
			payload = liverc.RaceResultPayload{}
		}
	}

	return s.applySession(ctx, applyInput{
		event:   event,
		class:   class,
		session: stored,
		slugs:   slugs,
		rows:    rows,
		laps:    payload.Laps,
	})
}

type applyInput struct {
	event   catalog.Event
	class   catalog.RaceClass
	session catalog.Session
	slugs   [4]string
	rows    []liverc.ResultRowSummary
	laps    []liverc.LapRecord
}

// applySession reconciles a session's summary rows with its lap
// payload. Lap groups consume summary rows by normalized driver name,
// first match wins, so duplicate names resolve deterministically in
// payload order. Rows no group claimed still land as entrant plus
// result row from summary data alone.
func (s Service) applySession(ctx context.Context, in applyInput) (Summary, error) {
	summary := Summary{SessionsImported: 1}

	// queues of unclaimed row indices per normalized driver name
	unclaimed := map[string][]int{}
	for i, row := range in.rows {
		key := textutil.NormalizeDriverName(row.DriverName)
		unclaimed[key] = append(unclaimed[key], i)
	}

	for _, group := range groupLaps(in.laps) {
		key := textutil.NormalizeDriverName(group.driverName)
		queue := unclaimed[key]

		var row *liverc.ResultRowSummary
		if len(queue) > 0 {
			row = &in.rows[queue[0]]
			unclaimed[key] = queue[1:]
		}

		name := group.driverName
		if row != nil {
			name = row.DriverName
		}
		driver, err := s.repos.Drivers.UpsertByDisplayName(ctx, name)
		if err != nil {
			return summary, err
		}
		entrant, err := s.repos.Entrants.UpsertBySource(ctx, catalog.Entrant{
			EventID:         in.event.ID,
			RaceClassID:     in.class.ID,
			SessionID:       in.session.ID,
			DriverID:        driver.ID,
			SourceEntrantID: group.entryID,
		})
		if err != nil {
			return summary, err
		}

		laps, skipped := buildLaps(in.event.ID, in.session.ID, in.slugs[3], driver.ID, group.laps, false)
		summary.LapsSkipped += skipped
		if err := s.repos.Laps.ReplaceForEntrant(ctx, entrant.ID, in.session.ID, laps); err != nil {
			return summary, err
		}
		summary.LapsImported += len(laps)
		if len(laps) > 0 {
			summary.DriversWithLaps++
		}

		if row != nil {
			if err := s.upsertRow(ctx, in.session.ID, driver.ID, *row); err != nil {
				return summary, err
			}
			summary.ResultRowsImported++
		}
	}

	// summary-only rows, in table order
	for i, row := range in.rows {
		key := textutil.NormalizeDriverName(row.DriverName)
		if !contains(unclaimed[key], i) {
			continue
		}
		driver, err := s.repos.Drivers.UpsertByDisplayName(ctx, row.DriverName)
		if err != nil {
			return summary, err
		}
		_, err = s.repos.Entrants.UpsertBySource(ctx, catalog.Entrant{
			EventID:         in.event.ID,
			RaceClassID:     in.class.ID,
			SessionID:       in.session.ID,
			DriverID:        driver.ID,
			SourceEntrantID: fallbackEntrantID(in.session.ID, key, i),
		})
		if err != nil {
			return summary, err
		}
		if err := s.upsertRow(ctx, in.session.ID, driver.ID, row); err != nil {
			return summary, err
		}
		summary.ResultRowsImported++
	}

	s.rec.Count("import.laps", int64(summary.LapsImported))
	return summary, nil
}

func (s Service) upsertRow(ctx context.Context, sessionID, driverID string, row liverc.ResultRowSummary) error {
	return s.repos.Rows.UpsertBySessionAndDriver(ctx, catalog.ResultRow{
		SessionID:      sessionID,
		DriverID:       driverID,
		Position:       row.Position,
		LapCount:       row.LapCount,
		TotalTimeMS:    row.TotalTimeMS,
		BehindMS:       row.BehindMS,
		FastestLapMS:   row.FastestLapMS,
		AverageLapMS:   row.AverageLapMS,
		ConsistencyPct: row.ConsistencyPct,
	})
}

type lapGroup struct {
	entryID    string
	driverName string
	laps       []liverc.LapRecord
}

// groupLaps buckets a payload's laps by upstream entry id, preserving
// the order entry ids first appear.
func groupLaps(laps []liverc.LapRecord) []lapGroup {
	index := map[string]int{}
	var groups []lapGroup
	for _, lap := range laps {
		if lap.EntryID == "" {
			continue
		}
		i, ok := index[lap.EntryID]
		if !ok {
			i = len(groups)
			index[lap.EntryID] = i
			groups = append(groups, lapGroup{
				entryID:    lap.EntryID,
				driverName: lap.DriverName,
			})
		}
		groups[i].laps = append(groups[i].laps, lap)
	}
	return groups
}

// buildLaps converts payload laps to catalog laps, dropping outlaps
// (unless included) and non-positive times.
func buildLaps(eventID, sessionID, raceSlug, driverID string, records []liverc.LapRecord, includeOutlaps bool) ([]catalog.Lap, int) {
	var laps []catalog.Lap
	skipped := 0
	for _, record := range records {
		if record.Outlap && !includeOutlaps {
			skipped++
			continue
		}
		ms, ok := liverc.LapMillis(record.Seconds)
		if !ok {
			skipped++
			continue
		}
		laps = append(laps, catalog.Lap{
			ID:        catalog.BuildLapID(eventID, sessionID, raceSlug, driverID, record.LapNum),
			SessionID: sessionID,
			LapNumber: record.LapNum,
			LapTimeMS: ms,
		})
	}
	return laps, skipped
}

// fallbackEntrantID is the synthetic source id for a summary row that
// no lap group claimed. Deterministic so re-imports stay idempotent;
// the ordinal keeps duplicate names apart.
func fallbackEntrantID(sessionID, normName string, rowIndex int) string {
	id := "row:" + sessionID + ":" + normName
	if rowIndex > 0 {
		id = fmt.Sprintf("%s:%d", id, rowIndex)
	}
	return id
}

func sessionSlugs(eventSlug string, session liverc.SessionSummary, pageURL string) [4]string {
	if parsed := liverc.ParseResultsURL(pageURL); parsed.Kind == liverc.KindJSON {
		return [4]string{parsed.Slugs[0], parsed.Slugs[1], parsed.Slugs[2], parsed.Slugs[3]}
	}
	return [4]string{
		eventSlug,
		orSlug(session.ClassName, "unknown-class"),
		orSlug(session.Round, "r"),
		orSlug(session.Heat, "h"),
	}
}

func orSlug(s, fallback string) string {
	if slug := textutil.Slugify(s); slug != "" {
		return slug
	}
	return fallback
}

func className(session liverc.SessionSummary, slugs [4]string) string {
	if session.ClassName != "" {
		return session.ClassName
	}
	return textutil.TitleFromSlug(slugs[1])
}

func sessionName(class string, slugs [4]string) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s %s",
		class, textutil.TitleFromSlug(slugs[2]), textutil.TitleFromSlug(slugs[3])))
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
