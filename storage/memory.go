package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tripstakes/tripstakes/model"
)

// In memory implementation of Storage below. Used in tests and for
// local development.

type predictionKey struct {
	UserID      int64
	TripID      string
	ServiceDate string
}

type MemoryStorage struct {
	mu          sync.Mutex
	trips       map[model.TripKey]*model.Trip
	stopTimes   map[model.TripKey][]*model.StopTime
	users       map[int64]*model.User
	predictions map[predictionKey]*model.Prediction
	nextUserID  int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		trips:       map[model.TripKey]*model.Trip{},
		stopTimes:   map[model.TripKey][]*model.StopTime{},
		users:       map[int64]*model.User{},
		predictions: map[predictionKey]*model.Prediction{},
	}
}

func (s *MemoryStorage) UnresolvedTrips(ctx context.Context) ([]UnresolvedTrip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unresolved := []UnresolvedTrip{}
	for key, trip := range s.trips {
		if trip.Outcome.Terminal() {
			continue
		}
		u := UnresolvedTrip{Key: key}
		for _, st := range s.stopTimes[key] {
			if st.StopSequence >= u.LastStopSequence {
				u.LastStopSequence = st.StopSequence
				u.LastArrival = st.Arrival
			}
		}
		unresolved = append(unresolved, u)
	}

	sort.Slice(unresolved, func(i, j int) bool {
		if unresolved[i].Key.ServiceDate != unresolved[j].Key.ServiceDate {
			return unresolved[i].Key.ServiceDate < unresolved[j].Key.ServiceDate
		}
		return unresolved[i].Key.TripID < unresolved[j].Key.TripID
	})

	return unresolved, nil
}

func (s *MemoryStorage) ResolveTrip(ctx context.Context, key model.TripKey, outcome model.Outcome) (ResolveResult, error) {
	if !outcome.Terminal() {
		return ResolveResult{}, fmt.Errorf("outcome '%s' is not terminal", outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trip, found := s.trips[key]
	if !found {
		return ResolveResult{}, fmt.Errorf("trip %s: %w", key, ErrNotFound)
	}

	// Guard: only an unresolved trip can be resolved. Losing this
	// race is a no-op, not an error.
	if trip.Outcome.Terminal() {
		return ResolveResult{Resolved: false, Outcome: trip.Outcome}, nil
	}

	trip.Outcome = outcome

	result := ResolveResult{Resolved: true, Outcome: outcome}
	for pKey, p := range s.predictions {
		if pKey.TripID != key.TripID || pKey.ServiceDate != key.ServiceDate {
			continue
		}
		result.Predictions++
		if p.Predicted == outcome {
			s.users[p.UserID].Score++
			result.PointsAwarded++
		}
	}

	return result, nil
}

func (s *MemoryStorage) TripOutcome(ctx context.Context, key model.TripKey) (model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, found := s.trips[key]
	if !found {
		return model.OutcomeUnresolved, fmt.Errorf("trip %s: %w", key, ErrNotFound)
	}
	return trip.Outcome, nil
}

func (s *MemoryStorage) CreateUser(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	s.users[s.nextUserID] = &model.User{ID: s.nextUserID, Name: name}
	return s.nextUserID, nil
}

func (s *MemoryStorage) UserScore(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.users[userID]
	if !found {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return user.Score, nil
}

func (s *MemoryStorage) CreatePrediction(ctx context.Context, p model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := predictionKey{p.UserID, p.TripID, p.ServiceDate}
	if _, found := s.predictions[key]; found {
		return ErrPredictionExists
	}

	stored := p
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.predictions[key] = &stored
	return nil
}

func (s *MemoryStorage) Predictions(ctx context.Context, key model.TripKey) ([]model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	predictions := []model.Prediction{}
	for pKey, p := range s.predictions {
		if pKey.TripID == key.TripID && pKey.ServiceDate == key.ServiceDate {
			predictions = append(predictions, *p)
		}
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].UserID < predictions[j].UserID
	})

	return predictions, nil
}

func (s *MemoryStorage) ScheduleWriter() (ScheduleWriter, error) {
	return &memoryScheduleWriter{storage: s}, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

type memoryScheduleWriter struct {
	storage *MemoryStorage
}

func (w *memoryScheduleWriter) BeginTrips() error { return nil }
func (w *memoryScheduleWriter) EndTrips() error   { return nil }

func (w *memoryScheduleWriter) WriteTrip(trip *model.Trip) error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()

	if _, found := w.storage.trips[trip.Key]; found {
		return fmt.Errorf("trip %s already exists", trip.Key)
	}
	t := *trip
	w.storage.trips[trip.Key] = &t
	return nil
}

func (w *memoryScheduleWriter) BeginStopTimes() error { return nil }
func (w *memoryScheduleWriter) EndStopTimes() error   { return nil }

func (w *memoryScheduleWriter) WriteStopTime(st *model.StopTime) error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()

	key := model.TripKey{TripID: st.TripID, ServiceDate: st.ServiceDate}
	s := *st
	w.storage.stopTimes[key] = append(w.storage.stopTimes[key], &s)
	return nil
}

func (w *memoryScheduleWriter) Close() error { return nil }
