package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mre-backend/internal/catalog"
	"mre-backend/lib/liverc"

	"github.com/stretchr/testify/require"
)

const mainResultJSON = `{
	"event_name": "Spring Cup",
	"class_name": "2WD Buggy",
	"race_name": "A Main",
	"start_time": "2024-06-01T10:30:00Z",
	"laps": [
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 1, "lap_time": 31.2},
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 2, "lap_time": 31.9},
		{"entry_id": "e2", "driver_name": "Bob Jones", "lap_num": 1, "lap_time": 32.8},
		{"entry_id": "e3", "driver_name": "Dave Gone", "lap_num": 1, "lap_time": 33.0},
		{"entry_id": "ghost", "driver_name": "Nobody Home", "lap_num": 1, "lap_time": 30.0}
	]
}`

const entryListJSON = `{
	"event_name": "Spring Cup",
	"class_name": "2WD Buggy",
	"entries": [
		{"entry_id": "e1", "driver_name": "Alice Smith", "car_number": "4"},
		{"entry_id": "e2", "driver_name": "Bob Jones", "car_number": "7"},
		{"entry_id": "e3", "driver_name": "Dave Gone", "withdrawn": true}
	]
}`

func urlTestServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/results/spring-cup/2wd-buggy/m/a-main.json":
			w.Write([]byte(mainResultJSON))
		case "/results/spring-cup/2wd-buggy/entry-list.json":
			w.Write([]byte(entryListJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestImportFromURL(t *testing.T) {
	server := urlTestServer(t)
	store := testStore(t)
	ctx := context.Background()

	service := NewService(testClient(t, server.URL), ReposFromStore(store), nil)

	summary, err := service.ImportFromURL(ctx, server.URL+"/results/spring-cup/2wd-buggy/m/a-main.json")
	require.NoError(t, err)

	require.Equal(t, 1, summary.SessionsImported)
	// alice's two laps plus bob's one; dave is withdrawn, ghost is
	// not on the entry list
	require.Equal(t, 3, summary.LapsImported)
	require.Equal(t, 2, summary.DriversWithLaps)
	require.Equal(t, 2, summary.LapsSkipped)

	state, err := store.GetEventStateByRef(ctx, "spring-cup")
	require.NoError(t, err)
	require.Equal(t, 3, state.Entrants)
	require.Equal(t, 3, state.Laps)
	require.Equal(t, 3, state.SessionLapCounts["spring-cup:2wd-buggy:m:a-main"])
}

func TestWithdrawnEntrantEndsWithZeroLaps(t *testing.T) {
	server := urlTestServer(t)
	store := testStore(t)
	ctx := context.Background()

	service := NewService(testClient(t, server.URL), ReposFromStore(store), nil)

	_, err := service.ImportFromURL(ctx, server.URL+"/results/spring-cup/2wd-buggy/m/a-main.json")
	require.NoError(t, err)

	sessionID := sessionIDFor(t, store, "spring-cup:2wd-buggy:m:a-main")
	dave, err := store.FindBySourceEntrantID(ctx, sessionID, "e3")
	require.NoError(t, err)
	require.NotNil(t, dave)

	laps, err := store.LapsForEntrant(ctx, dave.ID, sessionID)
	require.NoError(t, err)
	require.Empty(t, laps)
}

func TestEntrantRemovedFromEntryListLosesLaps(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testClient(t, "https://liverc.com")
	service := NewService(client, ReposFromStore(store), nil)

	url := "https://liverc.com/results/spring-cup/2wd-buggy/m/a-main.json"
	result := liverc.RaceResultPayload{
		EventName: "Spring Cup",
		ClassName: "2WD Buggy",
		Laps: []liverc.LapRecord{
			{EntryID: "e1", DriverName: "Alice Smith", LapNum: 1, Seconds: 31.2},
			{EntryID: "e2", DriverName: "Bob Jones", LapNum: 1, Seconds: 32.8},
		},
	}

	first, err := service.ImportFromPayload(ctx, ImportInput{
		SourceURL: url,
		Result:    result,
		EntryList: []liverc.Entry{
			{EntryID: "e1", DriverName: "Alice Smith"},
			{EntryID: "e2", DriverName: "Bob Jones"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, first.LapsImported)

	// the corrected entry list no longer carries bob
	second, err := service.ImportFromPayload(ctx, ImportInput{
		SourceURL: url,
		Result:    result,
		EntryList: []liverc.Entry{
			{EntryID: "e1", DriverName: "Alice Smith"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, second.LapsImported)

	sessionID := sessionIDFor(t, store, "spring-cup:2wd-buggy:m:a-main")
	bob, err := store.FindBySourceEntrantID(ctx, sessionID, "e2")
	require.NoError(t, err)
	require.NotNil(t, bob)

	laps, err := store.LapsForEntrant(ctx, bob.ID, sessionID)
	require.NoError(t, err)
	require.Empty(t, laps)
}

func TestOutlapsKeptWhenRequested(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	service := NewService(testClient(t, "https://liverc.com"), ReposFromStore(store), nil)

	in := ImportInput{
		SourceURL: "https://liverc.com/results/spring-cup/2wd-buggy/m/a-main.json",
		Result: liverc.RaceResultPayload{
			Laps: []liverc.LapRecord{
				{EntryID: "e1", DriverName: "Alice Smith", LapNum: 0, Seconds: 35, Outlap: true},
				{EntryID: "e1", DriverName: "Alice Smith", LapNum: 1, Seconds: 31.2},
			},
		},
		EntryList:      []liverc.Entry{{EntryID: "e1", DriverName: "Alice Smith"}},
		IncludeOutlaps: true,
	}

	summary, err := service.ImportFromPayload(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 2, summary.LapsImported)
	require.Equal(t, 0, summary.LapsSkipped)
}

func TestImportErrorsAreTyped(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	service := NewService(testClient(t, "https://liverc.com"), ReposFromStore(store), nil)

	_, err := service.ImportFromURL(ctx, "https://liverc.com/results/spring-cup/2wd-buggy")
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, 400, ierr.Code)
	require.Equal(t, ReasonUnsupportedURL, ierr.Reason)
	require.Equal(t, string(liverc.ReasonIncompleteResultsSegments), ierr.Detail["reason"])

	_, err = service.ImportFromPayload(ctx, ImportInput{
		SourceURL: "https://liverc.com/results/spring-cup/2wd-buggy/m/a-main.json",
		Result: liverc.RaceResultPayload{
			Laps: []liverc.LapRecord{{EntryID: "e1", DriverName: "A", LapNum: 1, Seconds: 30}},
		},
	})
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, 422, ierr.Code)
	require.Equal(t, ReasonMissingIdentifiers, ierr.Reason)

	_, err = service.ImportFromPayload(ctx, ImportInput{
		SourceURL: "https://liverc.com/results/spring-cup/2wd-buggy/m/a-main.json",
		EntryList: []liverc.Entry{{EntryID: "e1", DriverName: "A"}},
	})
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, 422, ierr.Code)
	require.Equal(t, ReasonMissingLapData, ierr.Reason)
}

func sessionIDFor(t *testing.T, store catalog.Store, sourceSessionID string) string {
	id, err := store.SessionIDBySource(context.Background(), sourceSessionID)
	require.NoError(t, err)
	return id
}
