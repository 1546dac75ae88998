package storage

import (
	"context"
	"errors"

	"github.com/tripstakes/tripstakes/model"
)

var (
	// ErrNotFound is returned when a trip, user or prediction
	// doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrPredictionExists is returned when a user already has a
	// prediction for a trip occurrence.
	ErrPredictionExists = errors.New("prediction already exists")
)

// Storage is the schedule store: scheduled trips and their stop
// times, user predictions, and cumulative scores. It is the single
// source of truth between resolution passes; the engine holds no
// state of its own across ticks.
type Storage interface {
	// UnresolvedTrips returns every trip occurrence whose outcome
	// is still unresolved. Each entry carries the trip's maximum
	// stop sequence and the scheduled arrival at that stop.
	// LastArrival is blank when the trip has no stop time rows at
	// all.
	UnresolvedTrips(ctx context.Context) ([]UnresolvedTrip, error)

	// ResolveTrip writes a terminal outcome onto a trip and, in
	// the same transaction, awards a point to every prediction
	// matching that outcome. The write is guarded on the trip
	// still being unresolved: if another pass got there first the
	// whole call is a no-op and the result has Resolved false.
	// On error nothing is changed and the call is safe to retry.
	ResolveTrip(ctx context.Context, key model.TripKey, outcome model.Outcome) (ResolveResult, error)

	// TripOutcome returns the trip's current outcome
	// (OutcomeUnresolved if not yet resolved).
	TripOutcome(ctx context.Context, key model.TripKey) (model.Outcome, error)

	CreateUser(ctx context.Context, name string) (int64, error)
	UserScore(ctx context.Context, userID int64) (int64, error)

	// CreatePrediction records a user's guess for a trip
	// occurrence. At most one prediction per user per occurrence;
	// a second attempt returns ErrPredictionExists.
	CreatePrediction(ctx context.Context, p model.Prediction) error
	Predictions(ctx context.Context, key model.TripKey) ([]model.Prediction, error)

	// ScheduleWriter returns a writer for loading schedule data.
	ScheduleWriter() (ScheduleWriter, error)

	Close() error
}

// UnresolvedTrip is a resolution candidate as read from storage. The
// due-time computation happens in the engine, not here.
type UnresolvedTrip struct {
	Key              model.TripKey
	LastStopSequence uint32
	LastArrival      string // HHMMSS, "" if the trip has no stop times
}

// ResolveResult describes what a ResolveTrip call did.
type ResolveResult struct {
	// False when the guard failed: the trip was already resolved
	// by an earlier pass and nothing was written.
	Resolved bool

	Outcome       model.Outcome
	Predictions   int
	PointsAwarded int
}

// Writes schedule data for trip occurrences.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou. Same
// for trips.
type ScheduleWriter interface {
	BeginTrips() error
	WriteTrip(trip *model.Trip) error
	EndTrips() error
	BeginStopTimes() error
	WriteStopTime(st *model.StopTime) error
	EndStopTimes() error
	Close() error
}
