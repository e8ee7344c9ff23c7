package importer

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

func testStore(t *testing.T) catalog.Store {
	return catalog.NewStore(testutil.SetupService(t, testutil.ServiceParams{
		Name:     "importer",
		DbSchema: catalog.Schema,
	}))
}

func testClient(t *testing.T, serverURL string) *liverc.Client {
	client, err := liverc.NewClient(liverc.ClientOptions{
		BaseURL:      serverURL,
		MinInterval:  time.Millisecond,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

const eventOverviewHTML = `<html><body>
<h2>Qualifying Results</h2>
<table>
<tr><th>Class</th><th>Round</th><th>Heat</th><th>Result</th></tr>
<tr><td>2WD Buggy</td><td>Q1</td><td>1</td><td><a href="/results/spring-cup/2wd-buggy/q1/h1">view</a></td></tr>
</table>
</body></html>`

const sessionPageHTML = `<html><body>
<table>
<tr><th>Pos</th><th>Driver</th><th>Laps</th><th>Total</th><th>Fastest</th></tr>
<tr><td>1</td><td>Alice Smith</td><td>3</td><td>5:01.123</td><td>31.201</td></tr>
<tr><td>2</td><td>Bob Jones</td><td>2</td><td>5:05.900</td><td>32.817</td></tr>
<tr><td>3</td><td>Carol White</td><td>0</td><td></td><td></td></tr>
</table>
</body></html>`

const sessionPayloadJSON = `{
	"event_name": "Spring Cup",
	"class_name": "2WD Buggy",
	"laps": [
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 0, "lap_time": 35.0, "outlap": true},
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 1, "lap_time": 31.201},
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 2, "lap_time": 31.950},
		{"entry_id": "e1", "driver_name": "Alice Smith", "lap_num": 3, "lap_time": 32.004},
		{"entry_id": "e2", "driver_name": "Bob Jones", "lap_num": 1, "lap_time": 32.817},
		{"entry_id": "e2", "driver_name": "Bob Jones", "lap_num": 2, "lap_time": 0}
	]
}`

func summaryTestServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/results/spring-cup":
			w.Write([]byte(eventOverviewHTML))
		case "/results/spring-cup/2wd-buggy/q1/h1":
			w.Write([]byte(sessionPageHTML))
		case "/results/spring-cup/2wd-buggy/q1/h1.json":
			w.Write([]byte(sessionPayloadJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestIngestEventSummary(t *testing.T) {
	server := summaryTestServer(t)
	store := testStore(t)
	ctx := context.Background()

	service := NewService(testClient(t, server.URL), ReposFromStore(store), nil)

	summary, err := service.IngestEventSummary(ctx, "/results/spring-cup")
	require.NoError(t, err)

	require.Equal(t, 1, summary.SessionsImported)
	require.Equal(t, 3, summary.ResultRowsImported)
	// alice's outlap and bob's zero-time lap are dropped
	require.Equal(t, 4, summary.LapsImported)
	require.Equal(t, 2, summary.DriversWithLaps)
	require.Equal(t, 2, summary.LapsSkipped)

	state, err := store.GetEventStateByRef(ctx, "spring-cup")
	require.NoError(t, err)
	require.True(t, state.Exists)
	require.Equal(t, 1, state.Sessions)
	require.Equal(t, 3, state.Entrants)
	require.Equal(t, 4, state.Laps)
	require.Equal(t, 4, state.SessionLapCounts["spring-cup:2wd-buggy:q1:h1"])
}

func TestIngestEventSummaryIsIdempotent(t *testing.T) {
	server := summaryTestServer(t)
	store := testStore(t)
	ctx := context.Background()

	service := NewService(testClient(t, server.URL), ReposFromStore(store), nil)

	first, err := service.IngestEventSummary(ctx, "/results/spring-cup")
	require.NoError(t, err)
	second, err := service.IngestEventSummary(ctx, "/results/spring-cup")
	require.NoError(t, err)
	require.Equal(t, first, second)

	state, err := store.GetEventStateByRef(ctx, "spring-cup")
	require.NoError(t, err)
	require.Equal(t, 1, state.Sessions)
	require.Equal(t, 3, state.Entrants)
	require.Equal(t, 4, state.Laps)
}

func TestIngestEventSummaryIsolatesSessionFailures(t *testing.T) {
	overview := `<html><body>
<h2>Qualifying Results</h2>
<table>
<tr><th>Class</th><th>Round</th><th>Heat</th><th>Result</th></tr>
<tr><td>2WD Buggy</td><td>Q1</td><td>1</td><td><a href="/results/spring-cup/2wd-buggy/q1/h1">view</a></td></tr>
<tr><td>4WD Buggy</td><td>Q1</td><td>1</td><td><a href="/results/spring-cup/4wd-buggy/q1/h1">view</a></td></tr>
</table>
</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/results/spring-cup":
			w.Write([]byte(overview))
		case "/results/spring-cup/2wd-buggy/q1/h1":
			w.Write([]byte(sessionPageHTML))
		case "/results/spring-cup/2wd-buggy/q1/h1.json":
			w.Write([]byte(sessionPayloadJSON))
		default:
			// the 4wd session page is permanently broken
			http.Error(w, "boom", http.StatusForbidden)
		}
	}))
	defer server.Close()

	store := testStore(t)
	service := NewService(testClient(t, server.URL), ReposFromStore(store), nil)

	summary, err := service.IngestEventSummary(context.Background(), "/results/spring-cup")
	require.NoError(t, err)
	require.Equal(t, 1, summary.SessionsImported)
	require.Equal(t, 4, summary.LapsImported)
}

func TestLapGroupsConsumeDuplicateNamesInOrder(t *testing.T) {
	laps := []liverc.LapRecord{
		{EntryID: "e1", DriverName: "John Doe", LapNum: 1, Seconds: 30},
		{EntryID: "e2", DriverName: "John Doe", LapNum: 1, Seconds: 31},
		{EntryID: "e1", DriverName: "John Doe", LapNum: 2, Seconds: 30.5},
	}
	groups := groupLaps(laps)
	require.Len(t, groups, 2)
	require.Equal(t, "e1", groups[0].entryID)
	require.Len(t, groups[0].laps, 2)
	require.Equal(t, "e2", groups[1].entryID)
	require.Len(t, groups[1].laps, 1)
}
