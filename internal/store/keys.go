package store

import "fmt"

const (
	// KeyActiveTrips is a Redis set; membership is the cross-process
	// "is this trip actively tracked" flag.
	KeyActiveTrips = "tracking:active"
)

func KeyTripRecord(tripID string) string {
	return fmt.Sprintf("tracking:trip:%s", tripID)
}

func KeyTripSnapshot(tripID string) string {
	return fmt.Sprintf("tracking:snapshot:%s", tripID)
}
