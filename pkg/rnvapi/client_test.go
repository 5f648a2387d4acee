package rnvapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnvlive/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const tripsResponse = `{
  "data": {
    "trips": [
      {
        "startTime": {"isoString": "2026-09-01T08:00:00Z"},
        "endTime": {"isoString": "2026-09-01T08:45:00Z"},
        "interchanges": 1,
        "legs": [
          {"mode": "WALK"},
          {
            "board": {
              "point": {"ref": "de:1", "stopPointName": "Hauptbahnhof"},
              "timetabledTime": {"isoString": "2026-09-01T08:05:00Z"},
              "estimatedTime": {"isoString": "2026-09-01T08:08:00Z"}
            },
            "alight": {
              "point": {"ref": "de:2", "stopPointName": "Paradeplatz"},
              "timetabledTime": {"isoString": "2026-09-01T08:20:00Z"}
            },
            "service": {
              "type": "STRASSENBAHN",
              "name": "5",
              "description": "Linie 5",
              "destinationLabel": "Weinheim"
            }
          },
          {
            "board": {
              "point": {"ref": "de:2", "stopPointName": "Paradeplatz"},
              "timetabledTime": {"isoString": "not-a-timestamp"}
            },
            "alight": {
              "point": {"ref": "de:3", "stopPointName": "Wasserturm"},
              "timetabledTime": {"isoString": "2026-09-01T08:45:00Z"}
            },
            "service": {
              "type": "BUS",
              "name": "60",
              "description": "Linie 60",
              "destinationLabel": "Käfertal"
            }
          }
        ]
      }
    ]
  }
}`

func TestFetchTrips(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, `originGlobalID: "global-a"`)
		assert.Contains(t, body.Query, `destinationGlobalID: "global-b"`)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tripsResponse))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, StaticTokenSource("tok"), testLogger())
	trips, err := c.FetchTrips(context.Background(), "global-a", "global-b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.NotEmpty(t, trip.ID)
	assert.Equal(t, 1, trip.InterchangeCount)
	assert.Equal(t, time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), trip.StartTime.UTC())
	require.Len(t, trip.Legs, 3)

	walk := trip.Legs[0]
	assert.Equal(t, domain.LegTransfer, walk.Kind)
	assert.Equal(t, "WALK", walk.Mode)

	ride := trip.Legs[1]
	assert.Equal(t, domain.LegTimedRide, ride.Kind)
	assert.Equal(t, "Hauptbahnhof", ride.BoardStopName)
	assert.Equal(t, "Paradeplatz", ride.AlightStopName)
	assert.Equal(t, domain.ServiceTram, ride.ServiceKind)
	assert.Equal(t, "5", ride.LineLabel)
	assert.Equal(t, "Weinheim", ride.DestinationLabel)
	require.NotNil(t, ride.EstimatedDeparture)
	assert.Equal(t, time.Date(2026, 9, 1, 8, 8, 0, 0, time.UTC), ride.EstimatedDeparture.UTC())
	assert.Nil(t, ride.EstimatedArrival)

	// the malformed timetabled time is dropped, not guessed
	bus := trip.Legs[2]
	assert.True(t, bus.ScheduledDeparture.IsZero())
	assert.False(t, bus.ScheduledArrival.IsZero())
}

func TestSearchStationsByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
  "data": {
    "stations": {
      "elements": [
        {"hafasID": "2417", "globalID": "de:08222:2417", "longName": "Mannheim Hauptbahnhof"},
        {"hafasID": "", "globalID": "", "longName": ""}
      ]
    }
  }
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, StaticTokenSource("tok"), testLogger())
	stations, err := c.SearchStationsByName(context.Background(), "Hauptbahnhof")
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "de:08222:2417", stations[0].GlobalID)
	assert.Equal(t, "Mannheim Hauptbahnhof", stations[0].LongName)
}

func TestExecuteQueryGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors": [{"message": "unknown station"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, StaticTokenSource("tok"), testLogger())
	_, err := c.SearchStationsByName(context.Background(), "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown station")
}

func TestFetchLiveTripUpdatesIsStubbed(t *testing.T) {
	c := New("http://unused.invalid", nil, StaticTokenSource("tok"), testLogger())
	trip, err := c.FetchLiveTripUpdates(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Nil(t, trip)
}

func TestClientCredentialsCachesToken(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "res", r.PostForm.Get("resource"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "abc", "expires_in": "3599"}`))
	}))
	defer srv.Close()

	cc := &ClientCredentials{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Resource:     "res",
	}

	tok, err := cc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = cc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, 1, calls)
}

func TestClientCredentialsRejectsMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cc := &ClientCredentials{TokenURL: srv.URL}
	_, err := cc.Token(context.Background())
	require.Error(t, err)
}
