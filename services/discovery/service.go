package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/discovery")

const (
	defaultLimit = 40
	maxLimit     = 100
	// windows longer than this hammer the upstream site for little
	// benefit, callers page through history a week at a time
	maxWindow = 7 * 24 * time.Hour
)

type Service struct {
	client *liverc.Client
	clubs  catalog.ClubRepository
}

func NewService(client *liverc.Client, clubs catalog.ClubRepository) Service {
	return Service{client: client, clubs: clubs}
}

// DiscoveredEvent is an event found on a club's listing page.
type DiscoveredEvent struct {
	Title string
	URL   string
	Date  time.Time
}

// DiscoverByClubAndDateRange lists a club's events inside the
// inclusive UTC date window. A missing events page means the club has
// published nothing, which is an empty answer rather than an error.
func (s Service) DiscoverByClubAndDateRange(ctx context.Context, clubID string, start, end time.Time, limit int) ([]DiscoveredEvent, error) {
	ctx, span := tracer.Start(ctx, "DiscoverByClubAndDateRange")
	defer span.End()

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if end.Sub(start) > maxWindow {
		end = start.Add(maxWindow)
	}

	club, err := s.clubs.FindById(ctx, clubID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve club")
		return nil, err
	}
	if club == nil {
		err := fmt.Errorf("club %q is not known", clubID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	html, err := s.client.GetClubEventsPage(ctx, club.LiveRcSubdomain)
	if errors.Is(err, liverc.ErrNotFound) {
		slog.DebugContext(ctx, "club has no events page", "subdomain", club.LiveRcSubdomain)
		return []DiscoveredEvent{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch events page")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse events page")
		return nil, err
	}

	startDay := dayOf(start)
	endDay := dayOf(end)

	var events []DiscoveredEvent
	for _, link := range liverc.ExtractEventLinks(doc) {
		if link.Date == nil {
			continue
		}
		day := dayOf(*link.Date)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		events = append(events, DiscoveredEvent{
			Title: link.Title,
			URL:   s.client.ResolveURL(link.Href),
			Date:  *link.Date,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Title < events[j].Title
	})
	if len(events) > limit {
		events = events[:limit]
	}

	slog.DebugContext(ctx, "discovered events",
		"club", club.LiveRcSubdomain, "count", len(events))
	return events, nil
}

func dayOf(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}

// SweepClubCatalogue refreshes the club catalogue off the root track
// directory. Clubs that dropped out of the directory are deactivated,
// never deleted.
func (s Service) SweepClubCatalogue(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "SweepClubCatalogue")
	defer span.End()

	html, err := s.client.GetRootTrackList(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch track list")
		return 0, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse track list")
		return 0, err
	}

	tracks := liverc.ExtractTrackLinks(doc)
	subdomains := make([]string, 0, len(tracks))
	for _, track := range tracks {
		_, err := s.clubs.UpsertByLiveRcSubdomain(ctx, catalog.Club{
			LiveRcSubdomain: track.Subdomain,
			DisplayName:     track.DisplayName,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to upsert club")
			return 0, err
		}
		subdomains = append(subdomains, track.Subdomain)
	}

	if err := s.clubs.MarkInactiveClubsNotInSubdomains(ctx, subdomains); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deactivate missing clubs")
		return 0, err
	}

	slog.InfoContext(ctx, "club catalogue swept", "clubs", len(subdomains))
	return len(subdomains), nil
}

// SearchClubs ranks the repository's name matches by string
// similarity so "canbera" still finds Canberra.
func (s Service) SearchClubs(ctx context.Context, query string) ([]catalog.Club, error) {
	ctx, span := tracer.Start(ctx, "SearchClubs")
	defer span.End()

	clubs, err := s.clubs.SearchByDisplayName(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "club search failed")
		return nil, err
	}

	lowered := strings.ToLower(query)
	sort.SliceStable(clubs, func(i, j int) bool {
		a := matchr.JaroWinkler(lowered, strings.ToLower(clubs[i].DisplayName), true)
		b := matchr.JaroWinkler(lowered, strings.ToLower(clubs[j].DisplayName), true)
		return a > b
	})
	return clubs, nil
}
