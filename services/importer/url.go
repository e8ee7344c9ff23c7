package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"
	"mre-backend/lib/textutil"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ImportInput is a single session's worth of payload data ready to be
// reconciled into the catalog.
type ImportInput struct {
	// SourceURL is the session results url the payload came from. Its
	// slugs anchor all source identities, so it must parse.
	SourceURL string
	Result    liverc.RaceResultPayload
	// EntryList is the authoritative entry list. When nil, the result
	// payload's embedded entry list stands in.
	EntryList      []liverc.Entry
	IncludeOutlaps bool
}

// ImportFromURL fetches a session's entry list and race result
// concurrently, then imports them. Outlaps are dropped.
func (s Service) ImportFromURL(ctx context.Context, rawURL string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "ImportFromURL")
	defer span.End()

	parsed := liverc.ParseResultsURL(rawURL)
	switch parsed.Kind {
	case liverc.KindJSON:
	case liverc.KindHTML:
		return Summary{}, errUnsupportedURL(rawURL, "legacy html result pages cannot be imported directly")
	default:
		return Summary{}, errUnsupportedURL(rawURL, string(parsed.Reason))
	}

	var (
		result    liverc.RaceResultPayload
		entryList liverc.EntryListPayload
		haveList  bool
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.client.FetchJSON(gctx, parsed.JSONPath, &result)
	})
	group.Go(func() error {
		err := s.client.FetchJSON(gctx, liverc.EntryListPath(parsed), &entryList)
		if errors.Is(err, liverc.ErrNotFound) {
			// older club sites never expose the endpoint, the result
			// payload's embedded list stands in
			return nil
		}
		if err == nil {
			haveList = true
		}
		return err
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch session payloads")
		return Summary{}, err
	}

	in := ImportInput{SourceURL: rawURL, Result: result}
	if haveList {
		in.EntryList = entryList.Entries
	}
	return s.ImportFromPayload(ctx, in)
}

// ImportFromPayload reconciles a session payload against its entry
// list: withdrawn entries, laps whose entry id the list does not
// know, and previously recorded entrants absent from the current list
// all end with zero laps, without failing the import.
func (s Service) ImportFromPayload(ctx context.Context, in ImportInput) (Summary, error) {
	ctx, span := tracer.Start(ctx, "ImportFromPayload")
	defer span.End()
	start := time.Now()

	parsed := liverc.ParseResultsURL(in.SourceURL)
	if parsed.Kind != liverc.KindJSON {
		return Summary{}, errUnsupportedURL(in.SourceURL, string(parsed.Reason))
	}
	slugs := [4]string{parsed.Slugs[0], parsed.Slugs[1], parsed.Slugs[2], parsed.Slugs[3]}

	entries := in.EntryList
	if entries == nil {
		entries = in.Result.Entries
	}
	if len(entries) == 0 {
		return Summary{}, errMissingIdentifiers("entry_list")
	}
	if len(in.Result.Laps) == 0 {
		return Summary{}, errMissingLapData(in.SourceURL)
	}

	event, err := s.repos.Events.UpsertBySource(ctx, catalog.Event{
		SourceEventID: slugs[0],
		SourceURL:     s.client.ResolveURL("/results/" + slugs[0]),
		Name:          orTitle(in.Result.EventName, slugs[0]),
	})
	if err != nil {
		return Summary{}, err
	}
	class, err := s.repos.Classes.UpsertBySource(ctx, catalog.RaceClass{
		EventID:   event.ID,
		ClassCode: slugs[1],
		SourceURL: s.client.ResolveURL(parsed.CanonicalPath),
		Name:      orTitle(in.Result.ClassName, slugs[1]),
	})
	if err != nil {
		return Summary{}, err
	}
	session, err := s.repos.Sessions.UpsertBySource(ctx, catalog.Session{
		EventID:         event.ID,
		RaceClassID:     class.ID,
		SourceSessionID: parsed.SourceSessionID(),
		SourceURL:       s.client.ResolveURL(parsed.CanonicalPath),
		Name:            sessionName(class.Name, slugs),
		ScheduledStart:  parseStartTime(in.Result.StartTime),
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{SessionsImported: 1}

	known := map[string]liverc.Entry{}
	for _, entry := range entries {
		if entry.EntryID == "" {
			return Summary{}, errMissingIdentifiers("entry_id")
		}
		known[entry.EntryID] = entry
	}

	groups := map[string][]liverc.LapRecord{}
	for _, lap := range in.Result.Laps {
		if _, ok := known[lap.EntryID]; !ok {
			// stale lap, its entry is not on the list
			summary.LapsSkipped++
			continue
		}
		groups[lap.EntryID] = append(groups[lap.EntryID], lap)
	}

	current := map[string]bool{}
	for _, entry := range entries {
		current[entry.EntryID] = true

		driver, err := s.repos.Drivers.UpsertByDisplayName(ctx, entry.DriverName)
		if err != nil {
			return summary, err
		}
		entrant, err := s.repos.Entrants.UpsertBySource(ctx, catalog.Entrant{
			EventID:         event.ID,
			RaceClassID:     class.ID,
			SessionID:       session.ID,
			DriverID:        driver.ID,
			SourceEntrantID: entry.EntryID,
			CarNumber:       entry.CarNumber,
			Transponder:     entry.Transponder,
		})
		if err != nil {
			return summary, err
		}

		var laps []catalog.Lap
		if entry.Withdrawn {
			summary.LapsSkipped += len(groups[entry.EntryID])
		} else {
			var skipped int
			laps, skipped = buildLaps(event.ID, session.ID, slugs[3], driver.ID,
				groups[entry.EntryID], in.IncludeOutlaps)
			summary.LapsSkipped += skipped
		}
		if err := s.repos.Laps.ReplaceForEntrant(ctx, entrant.ID, session.ID, laps); err != nil {
			return summary, err
		}
		summary.LapsImported += len(laps)
		if len(laps) > 0 {
			summary.DriversWithLaps++
		}
	}

	// entrants recorded by an earlier import but gone from today's
	// entry list keep their entry, lose their laps
	previous, err := s.repos.Entrants.ListBySession(ctx, session.ID)
	if err != nil {
		return summary, err
	}
	for _, entrant := range previous {
		if current[entrant.SourceEntrantID] {
			continue
		}
		if err := s.repos.Laps.ReplaceForEntrant(ctx, entrant.ID, session.ID, nil); err != nil {
			return summary, err
		}
		slog.InfoContext(ctx, "cleared laps for removed entrant",
			"session", session.SourceSessionID, "entrant", entrant.SourceEntrantID)
	}

	s.rec.Count("import.url", 1)
	s.rec.Duration("import.url", time.Since(start))
	return summary, nil
}

func orTitle(name, slug string) string {
	if name != "" {
		return name
	}
	return textutil.TitleFromSlug(slug)
}

func parseStartTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05Z07:00"} {
		if at, err := time.Parse(layout, raw); err == nil {
			at = at.UTC()
			return &at
		}
	}
	return nil
}
