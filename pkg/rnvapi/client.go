// Package rnvapi talks to the RNV trip planning GraphQL API: station search,
// connection search and the authentication that goes with them.
package rnvapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"rnvlive/internal/domain"
	"rnvlive/internal/timemath"
)

const DefaultBaseURL = "https://graphql-sandbox-dds.rnv-online.de/"

type Client struct {
	baseURL string
	doer    Doer
	tokens  TokenSource
	logger  *slog.Logger
}

func New(baseURL string, doer Doer, tokens TokenSource, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		baseURL: baseURL,
		doer:    doer,
		tokens:  tokens,
		logger:  logger.With("component", "rnvapi"),
	}
}

type Station struct {
	HafasID  string `json:"hafasID"`
	GlobalID string `json:"globalID"`
	LongName string `json:"longName"`
}

// SearchStationsByName looks up stations whose name matches the given text.
func (c *Client) SearchStationsByName(ctx context.Context, name string) ([]Station, error) {
	query := fmt.Sprintf(`{
  stations(first: 20, name: %q) {
    elements {
      ... on Station {
        hafasID
        globalID
        longName
      }
    }
  }
}`, name)
	return c.stationQuery(ctx, query)
}

// SearchStationsNear looks up stations within 2 km of the given coordinates.
func (c *Client) SearchStationsNear(ctx context.Context, lat, lon float64) ([]Station, error) {
	query := fmt.Sprintf(`{
  stations(first: 10, lat: %g, long: %g, distance: 2.0) {
    elements {
      ... on Station {
        hafasID
        globalID
        longName
      }
    }
  }
}`, lat, lon)
	return c.stationQuery(ctx, query)
}

func (c *Client) stationQuery(ctx context.Context, query string) ([]Station, error) {
	var payload struct {
		Stations struct {
			Elements []Station `json:"elements"`
		} `json:"stations"`
	}
	if err := c.executeQuery(ctx, query, &payload); err != nil {
		return nil, err
	}

	stations := make([]Station, 0, len(payload.Stations.Elements))
	for _, s := range payload.Stations.Elements {
		if s.GlobalID == "" || s.LongName == "" {
			continue
		}
		stations = append(stations, s)
	}
	return stations, nil
}

// FetchTrips searches connections between two stations departing at or after
// departureTime.
func (c *Client) FetchTrips(ctx context.Context, originGlobalID, destinationGlobalID string, departureTime time.Time) ([]domain.Trip, error) {
	query := fmt.Sprintf(`{
  trips(
    originGlobalID: %q
    destinationGlobalID: %q
    departureTime: %q
  ) {
    startTime {
      isoString
    }
    endTime {
      isoString
    }
    interchanges
    legs {
      ... on InterchangeLeg {
        mode
      }
      ... on ContinuousLeg {
        mode
      }
      ... on TimedLeg {
        board {
          point {
            ... on StopPoint {
              ref
              stopPointName
            }
          }
          estimatedTime {
            isoString
          }
          timetabledTime {
            isoString
          }
        }
        alight {
          point {
            ... on StopPoint {
              ref
              stopPointName
            }
          }
          estimatedTime {
            isoString
          }
          timetabledTime {
            isoString
          }
        }
        service {
          type
          name
          description
          destinationLabel
        }
      }
    }
  }
}`, originGlobalID, destinationGlobalID, departureTime.Format(time.RFC3339))

	var payload struct {
		Trips []gqlTrip `json:"trips"`
	}
	if err := c.executeQuery(ctx, query, &payload); err != nil {
		return nil, err
	}
	return c.toDomain(payload.Trips), nil
}

// FetchLiveTripUpdates would re-fetch live data for an already tracked trip.
// The upstream API has no such endpoint yet, so this returns no trip and no
// error; tracking keeps running on the data captured at start.
func (c *Client) FetchLiveTripUpdates(ctx context.Context, tripID string) (*domain.Trip, error) {
	c.logger.Debug("live trip updates not available upstream", "trip_id", tripID)
	return nil, nil
}

type gqlTime struct {
	ISOString string `json:"isoString"`
}

type gqlStopCall struct {
	Point struct {
		Ref           string `json:"ref"`
		StopPointName string `json:"stopPointName"`
	} `json:"point"`
	EstimatedTime  *gqlTime `json:"estimatedTime"`
	TimetabledTime *gqlTime `json:"timetabledTime"`
}

type gqlService struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	DestinationLabel string `json:"destinationLabel"`
}

type gqlLeg struct {
	Mode    string       `json:"mode"`
	Board   *gqlStopCall `json:"board"`
	Alight  *gqlStopCall `json:"alight"`
	Service *gqlService  `json:"service"`
}

type gqlTrip struct {
	StartTime    gqlTime  `json:"startTime"`
	EndTime      gqlTime  `json:"endTime"`
	Interchanges int      `json:"interchanges"`
	Legs         []gqlLeg `json:"legs"`
}

func (c *Client) toDomain(trips []gqlTrip) []domain.Trip {
	result := make([]domain.Trip, 0, len(trips))

	for _, gt := range trips {
		trip := domain.Trip{
			ID:               uuid.NewString(),
			InterchangeCount: gt.Interchanges,
			Legs:             make([]domain.Leg, 0, len(gt.Legs)),
		}
		trip.StartTime = c.parseTime(gt.StartTime.ISOString)
		trip.EndTime = c.parseTime(gt.EndTime.ISOString)

		for _, gl := range gt.Legs {
			if gl.Board != nil && gl.Alight != nil && gl.Service != nil {
				leg := domain.Leg{
					Kind:               domain.LegTimedRide,
					BoardStopName:      gl.Board.Point.StopPointName,
					AlightStopName:     gl.Alight.Point.StopPointName,
					ScheduledDeparture: c.parseStopTime(gl.Board.TimetabledTime),
					ScheduledArrival:   c.parseStopTime(gl.Alight.TimetabledTime),
					ServiceKind:        domain.ServiceKindFromAPI(gl.Service.Type),
					LineLabel:          gl.Service.Name,
					DestinationLabel:   gl.Service.DestinationLabel,
				}
				if t := c.parseStopTime(gl.Board.EstimatedTime); !t.IsZero() {
					leg.EstimatedDeparture = &t
				}
				if t := c.parseStopTime(gl.Alight.EstimatedTime); !t.IsZero() {
					leg.EstimatedArrival = &t
				}
				trip.Legs = append(trip.Legs, leg)
				continue
			}
			trip.Legs = append(trip.Legs, domain.Leg{
				Kind: domain.LegTransfer,
				Mode: gl.Mode,
			})
		}

		result = append(result, trip)
	}
	return result
}

// parseTime drops malformed timestamps instead of guessing: a zero time
// means absent, and downstream deadline logic falls back accordingly.
func (c *Client) parseTime(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}
	t, err := timemath.Parse(iso)
	if err != nil {
		c.logger.Warn("skipping malformed timestamp", "value", iso, "error", err)
		return time.Time{}
	}
	return t
}

func (c *Client) parseStopTime(gt *gqlTime) time.Time {
	if gt == nil {
		return time.Time{}
	}
	return c.parseTime(gt.ISOString)
}

func (c *Client) executeQuery(ctx context.Context, query string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("API error: %s", envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("response missing data")
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}
