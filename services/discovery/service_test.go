package discovery

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
		Name:     "discovery",
		DbSchema: catalog.Schema,
	}))
}

func testClient(t *testing.T, serverURL string) *liverc.Client {
	client, err := liverc.NewClient(liverc.ClientOptions{
		BaseURL:      serverURL,
		ClubBaseURL:  serverURL + "/clubs/%s",
		MinInterval:  time.Millisecond,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

const eventsPageHTML = `<html><body><table>
<tr><td>2024-06-01</td><td><a href="/results/summer-series-rd3">Summer Series Rd 3</a></td></tr>
<tr><td>2024-06-03</td><td><a href="/results/club-night">Club Night</a></td></tr>
<tr><td>2024-06-03</td><td><a href="/results/club-day">Club Day</a></td></tr>
<tr><td>2024-06-20</td><td><a href="/results/winter-warmup">Winter Warmup</a></td></tr>
<tr><td><a href="/results/undated-meet">Undated Meet</a></td></tr>
</table></body></html>`

func TestDiscoverByClubAndDateRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/clubs/canberra/events/" {
			w.Write([]byte(eventsPageHTML))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := testStore(t)
	ctx := context.Background()

	club, err := store.UpsertByLiveRcSubdomain(ctx, catalog.Club{
		LiveRcSubdomain: "canberra",
		DisplayName:     "Canberra Off Road",
	})
	require.NoError(t, err)

	service := NewService(testClient(t, server.URL), store.Clubs())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)
	events, err := service.DiscoverByClubAndDateRange(ctx, club.ID, start, end, 0)
	require.NoError(t, err)

	// out-of-window and undated events are excluded; ties on date
	// break by title
	require.Len(t, events, 3)
	require.Equal(t, "Summer Series Rd 3", events[0].Title)
	require.Equal(t, "Club Day", events[1].Title)
	require.Equal(t, "Club Night", events[2].Title)
	require.Equal(t, server.URL+"/results/summer-series-rd3", events[0].URL)
}

func TestDiscoverLimitAndWindowClamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(eventsPageHTML))
	}))
	defer server.Close()

	store := testStore(t)
	ctx := context.Background()
	club, err := store.UpsertByLiveRcSubdomain(ctx, catalog.Club{
		LiveRcSubdomain: "canberra", DisplayName: "Canberra Off Road",
	})
	require.NoError(t, err)

	service := NewService(testClient(t, server.URL), store.Clubs())

	// a 30 day window is clamped to 7: the june 20th event stays out
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	events, err := service.DiscoverByClubAndDateRange(ctx, club.ID, start, end, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Summer Series Rd 3", events[0].Title)
}

func TestDiscoverMissingEventsPageIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	store := testStore(t)
	ctx := context.Background()
	club, err := store.UpsertByLiveRcSubdomain(ctx, catalog.Club{
		LiveRcSubdomain: "ghost", DisplayName: "Ghost Raceway",
	})
	require.NoError(t, err)

	service := NewService(testClient(t, server.URL), store.Clubs())

	events, err := service.DiscoverByClubAndDateRange(ctx, club.ID,
		time.Now().Add(-24*time.Hour), time.Now(), 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

const trackListHTML = `<html><body>
<a href="https://canberra.liverc.com/">Canberra Off Road</a>
<a href="https://keilor.liverc.com/">Keilor RC</a>
</body></html>`

func TestSweepClubCatalogue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tracks/", r.URL.Path)
		w.Write([]byte(trackListHTML))
	}))
	defer server.Close()

	store := testStore(t)
	ctx := context.Background()

	// a club that has since vanished from the directory
	_, err := store.UpsertByLiveRcSubdomain(ctx, catalog.Club{
		LiveRcSubdomain: "defunct", DisplayName: "Defunct Speedway",
	})
	require.NoError(t, err)

	service := NewService(testClient(t, server.URL), store.Clubs())

	count, err := service.SweepClubCatalogue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	active, err := store.ListActiveClubs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, club := range active {
		require.NotEqual(t, "defunct", club.LiveRcSubdomain)
	}
}

func TestSearchClubsRanksBySimilarity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, club := range []catalog.Club{
		{LiveRcSubdomain: "canberra", DisplayName: "Canberra Off Road"},
		{LiveRcSubdomain: "canyon", DisplayName: "Canyon RC Raceway"},
	} {
		_, err := store.UpsertByLiveRcSubdomain(ctx, club)
		require.NoError(t, err)
	}

	service := NewService(testClient(t, "https://liverc.com"), store.Clubs())

	clubs, err := service.SearchClubs(ctx, "can")
	require.NoError(t, err)
	require.Len(t, clubs, 2)
}
