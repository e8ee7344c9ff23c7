// Package plan estimates the ingestion scope of LiveRC events before
// anything is fetched in anger, so callers can decide what is worth
// queueing.
package plan

import (
	"context"
	"log/slog"
	"strings"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"
	"mre-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/plan")

type Service struct {
	client *liverc.Client
	state  catalog.ImportPlanRepository
}

func NewService(client *liverc.Client, state catalog.ImportPlanRepository) Service {
	return Service{client: client, state: state}
}

// CreatePlan fetches each event's overview page and classifies the
// event against local state. EXISTING events are left out of the plan
// unless includeExisting is set. An event whose overview cannot be
// fetched is logged and skipped rather than failing the whole plan.
func (s Service) CreatePlan(ctx context.Context, eventRefs []string, includeExisting bool) (catalog.ImportPlan, error) {
	ctx, span := tracer.Start(ctx, "CreatePlan")
	defer span.End()

	var plan catalog.ImportPlan
	for _, ref := range eventRefs {
		item, err := s.planEvent(ctx, ref)
		if err != nil {
			slog.WarnContext(ctx, "skipping unplannable event",
				"ref", ref, "err", err)
			continue
		}
		if item.Status == catalog.PlanExisting && !includeExisting {
			continue
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}

func (s Service) planEvent(ctx context.Context, eventRef string) (catalog.ImportPlanItem, error) {
	ctx, span := tracer.Start(ctx, "planEvent")
	defer span.End()

	html, err := s.client.GetEventOverview(ctx, eventRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch event overview")
		return catalog.ImportPlanItem{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse event overview")
		return catalog.ImportPlanItem{}, err
	}
	sessions := liverc.ExtractSessions(doc)

	// imports persist the event slug as the source id, so local state
	// is keyed on the slug rather than whatever form the ref took
	eventSlug := liverc.EventSlugFromRef(eventRef)
	state, err := s.state.GetEventStateByRef(ctx, eventSlug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load local event state")
		return catalog.ImportPlanItem{}, err
	}

	item := estimate(eventRef, sessions)
	item.Status = classify(sessions, eventSlug, state)

	// local counts are facts, estimates never talk them down
	if state.Sessions > item.EstimatedSessions {
		item.EstimatedSessions = state.Sessions
	}
	if state.Entrants > item.EstimatedDrivers {
		item.EstimatedDrivers = state.Entrants
	}
	if state.Laps > item.EstimatedLaps {
		item.EstimatedLaps = state.Laps
	}
	return item, nil
}

// estimate sizes an event from its enumerated sessions. Driver counts
// aggregate by max within a class so the same entrant racing heats 1
// through 3 of "2WD Buggy" is not counted three times; laps sum over
// every session because each run records its own laps.
func estimate(eventRef string, sessions []liverc.SessionSummary) catalog.ImportPlanItem {
	item := catalog.ImportPlanItem{
		EventRef:          eventRef,
		Title:             textutil.TitleFromSlug(liverc.EventSlugFromRef(eventRef)),
		EstimatedSessions: len(sessions),
	}

	classDrivers := map[string]int{}
	for _, session := range sessions {
		drivers := estimateDrivers(session)
		item.EstimatedLaps += drivers * estimateLapsPerDriver(session)

		key := textutil.Slugify(session.ClassName)
		if drivers > classDrivers[key] {
			classDrivers[key] = drivers
		}
	}
	for _, drivers := range classDrivers {
		item.EstimatedDrivers += drivers
	}
	return item
}

// classify compares the enumerated sessions against what is already
// on disk. NEW means nothing usable locally, EXISTING means every
// enumerated session is present with laps, anything between is
// PARTIAL.
func classify(sessions []liverc.SessionSummary, eventSlug string, state catalog.EventState) catalog.PlanStatus {
	if !state.Exists || (state.Sessions == 0 && state.Entrants == 0 && state.Laps == 0) {
		return catalog.PlanNew
	}

	if len(sessions) == 0 {
		if state.Sessions > 0 && allHaveLaps(state) {
			return catalog.PlanExisting
		}
		return catalog.PlanPartial
	}

	for _, session := range sessions {
		if state.SessionLapCounts[SourceSessionID(eventSlug, session)] <= 0 {
			return catalog.PlanPartial
		}
	}
	return catalog.PlanExisting
}

func allHaveLaps(state catalog.EventState) bool {
	for _, laps := range state.SessionLapCounts {
		if laps <= 0 {
			return false
		}
	}
	return true
}

// SourceSessionID derives the stable source identity of a session,
// "event:class:round:race". The session's own results URL is
// authoritative when it parses, the page labels fill in otherwise.
func SourceSessionID(eventSlug string, session liverc.SessionSummary) string {
	href := session.Href
	if strings.HasPrefix(href, "/") {
		// the host does not contribute to the identity
		href = "https://liverc.com" + href
	}
	if parsed := liverc.ParseResultsURL(href); parsed.Kind == liverc.KindJSON {
		return parsed.SourceSessionID()
	}
	return strings.Join([]string{
		eventSlug,
		textutil.Slugify(session.ClassName),
		textutil.Slugify(session.Round),
		textutil.Slugify(session.Heat),
	}, ":")
}

