package plan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"
	"mre-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

type stubState struct {
	states map[string]catalog.EventState
}

func (s stubState) GetEventStateByRef(ctx context.Context, eventRef string) (catalog.EventState, error) {
	return s.states[eventRef], nil
}

const overviewHTML = `<html><body>
<h2>Qualifying Results</h2>
<table>
<tr><th>Class</th><th>Round</th><th>Heat</th><th>Result</th></tr>
<tr><td>2WD Buggy</td><td>1</td><td>1</td><td><a href="/results/spring-cup/2wd-buggy/q1/h1.json">view</a></td></tr>
<tr><td>2WD Buggy</td><td>2</td><td>1</td><td><a href="/results/spring-cup/2wd-buggy/q2/h1.json">view</a></td></tr>
</table>
<h2>Main Events</h2>
<table>
<tr><th>Class</th><th>Round</th><th>Heat</th><th>Result</th></tr>
<tr><td>2WD Buggy</td><td>M</td><td>A Main</td><td><a href="/results/spring-cup/2wd-buggy/m/a-main.json">view</a></td></tr>
</table>
</body></html>`

func testService(t *testing.T, states map[string]catalog.EventState) (Service, *httptest.Server) {
	testutil.SetupService(t, testutil.ServiceParams{Name: "plan"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(overviewHTML))
	}))
	t.Cleanup(server.Close)

	client, err := liverc.NewClient(liverc.ClientOptions{
		BaseURL:      server.URL,
		MinInterval:  time.Millisecond,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	return NewService(client, stubState{states: states}), server
}

func TestCreatePlanClassifiesNew(t *testing.T) {
	service, _ := testService(t, map[string]catalog.EventState{})

	plan, err := service.CreatePlan(context.Background(), []string{"/results/spring-cup"}, false)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)

	item := plan.Items[0]
	require.Equal(t, catalog.PlanNew, item.Status)
	require.Equal(t, 3, item.EstimatedSessions)
	// both quals and the main are the same class, so drivers count
	// once
	require.Equal(t, 12, item.EstimatedDrivers)
	require.Positive(t, item.EstimatedLaps)
}

func TestCreatePlanClassifiesPartial(t *testing.T) {
	service, _ := testService(t, map[string]catalog.EventState{
		"spring-cup": {
			Exists:   true,
			Sessions: 1,
			Entrants: 8,
			Laps:     80,
			SessionLapCounts: map[string]int{
				"spring-cup:2wd-buggy:q1:h1": 80,
			},
		},
	})

	plan, err := service.CreatePlan(context.Background(), []string{"/results/spring-cup"}, false)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	require.Equal(t, catalog.PlanPartial, plan.Items[0].Status)
}

func TestCreatePlanExcludesExisting(t *testing.T) {
	states := map[string]catalog.EventState{
		"spring-cup": {
			Exists:   true,
			Sessions: 3,
			Entrants: 14,
			Laps:     300,
			SessionLapCounts: map[string]int{
				"spring-cup:2wd-buggy:q1:h1":    100,
				"spring-cup:2wd-buggy:q2:h1":    100,
				"spring-cup:2wd-buggy:m:a-main": 100,
			},
		},
	}

	service, _ := testService(t, states)

	plan, err := service.CreatePlan(context.Background(), []string{"/results/spring-cup"}, false)
	require.NoError(t, err)
	require.Empty(t, plan.Items)

	plan, err = service.CreatePlan(context.Background(), []string{"/results/spring-cup"}, true)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	require.Equal(t, catalog.PlanExisting, plan.Items[0].Status)
}

func TestCreatePlanSeesImportedEventByRawRef(t *testing.T) {
	store := catalog.NewStore(testutil.SetupService(t, testutil.ServiceParams{
		Name:     "plan",
		DbSchema: catalog.Schema,
	}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(overviewHTML))
	}))
	t.Cleanup(server.Close)

	// mirror what an import leaves behind: the event slug as the
	// source id, the resolved page as the source url
	ctx := context.Background()
	event, err := store.Events().UpsertBySource(ctx, catalog.Event{
		SourceEventID: "spring-cup",
		SourceURL:     server.URL + "/results/spring-cup",
		Name:          "Spring Cup",
	})
	require.NoError(t, err)
	class, err := store.RaceClasses().UpsertBySource(ctx, catalog.RaceClass{
		EventID:   event.ID,
		ClassCode: "2wd-buggy",
		Name:      "2WD Buggy",
	})
	require.NoError(t, err)
	driver, err := store.Drivers().UpsertByDisplayName(ctx, "Alice Smith")
	require.NoError(t, err)

	for _, sourceID := range []string{
		"spring-cup:2wd-buggy:q1:h1",
		"spring-cup:2wd-buggy:q2:h1",
		"spring-cup:2wd-buggy:m:a-main",
	} {
		session, err := store.Sessions().UpsertBySource(ctx, catalog.Session{
			EventID:         event.ID,
			RaceClassID:     class.ID,
			SourceSessionID: sourceID,
		})
		require.NoError(t, err)
		entrant, err := store.Entrants().UpsertBySource(ctx, catalog.Entrant{
			EventID:         event.ID,
			RaceClassID:     class.ID,
			SessionID:       session.ID,
			DriverID:        driver.ID,
			SourceEntrantID: "e1",
		})
		require.NoError(t, err)
		err = store.Laps().ReplaceForEntrant(ctx, entrant.ID, session.ID, []catalog.Lap{{
			ID:        catalog.BuildLapID(event.ID, session.ID, "r", driver.ID, 1),
			EntrantID: entrant.ID,
			SessionID: session.ID,
			LapNumber: 1,
			LapTimeMS: 31250,
		}})
		require.NoError(t, err)
	}

	client, err := liverc.NewClient(liverc.ClientOptions{
		BaseURL:      server.URL,
		MinInterval:  time.Millisecond,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	service := NewService(client, store.PlanState())

	// the raw results ref classifies against the imported state
	plan, err := service.CreatePlan(ctx, []string{"/results/spring-cup"}, true)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	require.Equal(t, catalog.PlanExisting, plan.Items[0].Status)

	plan, err = service.CreatePlan(ctx, []string{"/results/spring-cup"}, false)
	require.NoError(t, err)
	require.Empty(t, plan.Items)
}

func TestLocalCountsAreAFloor(t *testing.T) {
	service, _ := testService(t, map[string]catalog.EventState{
		"spring-cup": {
			Exists:   true,
			Sessions: 9,
			Entrants: 40,
			Laps:     9000,
			SessionLapCounts: map[string]int{
				"spring-cup:2wd-buggy:q1:h1": 80,
			},
		},
	})

	plan, err := service.CreatePlan(context.Background(), []string{"/results/spring-cup"}, false)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)

	item := plan.Items[0]
	require.Equal(t, 9, item.EstimatedSessions)
	require.Equal(t, 40, item.EstimatedDrivers)
	require.Equal(t, 9000, item.EstimatedLaps)
}

func TestEstimateRules(t *testing.T) {
	aMain := liverc.SessionSummary{Type: liverc.SessionMain, ClassName: "2WD Buggy", Heat: "A Main"}
	cMain := liverc.SessionSummary{Type: liverc.SessionMain, ClassName: "2WD Buggy", Heat: "C Main"}
	require.Greater(t, estimateDrivers(aMain), estimateDrivers(cMain))

	novice := liverc.SessionSummary{Type: liverc.SessionQual, ClassName: "Novice Buggy"}
	open := liverc.SessionSummary{Type: liverc.SessionQual, ClassName: "Open Buggy"}
	require.Less(t, estimateDrivers(novice), estimateDrivers(open))

	// oval laps are short, so more of them fit in a run
	oval := liverc.SessionSummary{Type: liverc.SessionQual, ClassName: "Oval Stock"}
	buggy := liverc.SessionSummary{Type: liverc.SessionQual, ClassName: "4WD Buggy"}
	require.Greater(t, estimateLapsPerDriver(oval), estimateLapsPerDriver(buggy))

	require.Greater(t, estimateDuration(aMain), estimateDuration(cMain))
}

func TestSourceSessionIDPrefersHrefSlugs(t *testing.T) {
	s := liverc.SessionSummary{
		ClassName: "Completely Different",
		Round:     "9",
		Heat:      "Z",
		Href:      "/results/spring-cup/2wd-buggy/q1/h1.json",
	}
	require.Equal(t, "spring-cup:2wd-buggy:q1:h1", SourceSessionID("spring-cup", s))

	s.Href = "not a results url"
	require.Equal(t, "spring-cup:completely-different:9:z", SourceSessionID("spring-cup", s))
}
