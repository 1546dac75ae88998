package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tripstakes/tripstakes/model"
)

const PSQLStopTimeBatchSize = 5000

type PSQLStorage struct {
	db *sql.DB
}

type PSQLScheduleWriter struct {
	db          *sql.DB
	tripBuf     []model.Trip
	stopTimeBuf []model.StopTime
	tripsOpen   bool
	stopsOpen   bool
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS predictions;
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS trips;
DROP TABLE IF EXISTS users;
`)
		if err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
    trip_id TEXT NOT NULL,
    service_date TEXT NOT NULL,
    route_id TEXT NOT NULL DEFAULT '',
    headsign TEXT NOT NULL DEFAULT '',
    outcome TEXT,
    resolved_at TIMESTAMPTZ,
    PRIMARY KEY (trip_id, service_date)
);

CREATE TABLE IF NOT EXISTS stop_times (
    trip_id TEXT NOT NULL,
    service_date TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival TEXT NOT NULL,
    PRIMARY KEY (trip_id, service_date, stop_sequence)
);

CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    score BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS predictions (
    user_id BIGINT NOT NULL,
    trip_id TEXT NOT NULL,
    service_date TEXT NOT NULL,
    predicted TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, trip_id, service_date)
);`)
	if err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

func (s *PSQLStorage) UnresolvedTrips(ctx context.Context) ([]UnresolvedTrip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
    t.trip_id,
    t.service_date,
    COALESCE(ls.stop_sequence, 0),
    COALESCE(ls.arrival, '')
FROM trips t
LEFT JOIN (
    SELECT st.trip_id, st.service_date, st.stop_sequence, st.arrival
    FROM stop_times st
    JOIN (
        SELECT trip_id, service_date, MAX(stop_sequence) AS max_seq
        FROM stop_times
        GROUP BY trip_id, service_date
    ) m ON m.trip_id = st.trip_id
       AND m.service_date = st.service_date
       AND m.max_seq = st.stop_sequence
) ls ON ls.trip_id = t.trip_id AND ls.service_date = t.service_date
WHERE t.outcome IS NULL
ORDER BY t.service_date, t.trip_id`)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved trips: %w", err)
	}
	defer rows.Close()

	unresolved := []UnresolvedTrip{}
	for rows.Next() {
		var u UnresolvedTrip
		err := rows.Scan(&u.Key.TripID, &u.Key.ServiceDate, &u.LastStopSequence, &u.LastArrival)
		if err != nil {
			return nil, fmt.Errorf("scanning unresolved trip: %w", err)
		}
		unresolved = append(unresolved, u)
	}

	return unresolved, rows.Err()
}

func (s *PSQLStorage) ResolveTrip(ctx context.Context, key model.TripKey, outcome model.Outcome) (ResolveResult, error) {
	if !outcome.Terminal() {
		return ResolveResult{}, fmt.Errorf("outcome '%s' is not terminal", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Guarded write: the row-level lock taken here also serializes
	// concurrent resolutions of the same trip.
	res, err := tx.ExecContext(ctx, `
UPDATE trips
SET outcome = $1, resolved_at = $2
WHERE trip_id = $3 AND service_date = $4 AND outcome IS NULL`,
		string(outcome), time.Now().UTC(), key.TripID, key.ServiceDate)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("updating trip outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ResolveResult{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Another pass already resolved this trip.
		return ResolveResult{Resolved: false}, nil
	}

	rows, err := tx.QueryContext(ctx, `
SELECT user_id, predicted
FROM predictions
WHERE trip_id = $1 AND service_date = $2`,
		key.TripID, key.ServiceDate)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("querying predictions: %w", err)
	}

	result := ResolveResult{Resolved: true, Outcome: outcome}
	winners := []int64{}
	for rows.Next() {
		var userID int64
		var predicted string
		if err := rows.Scan(&userID, &predicted); err != nil {
			rows.Close()
			return ResolveResult{}, fmt.Errorf("scanning prediction: %w", err)
		}
		result.Predictions++
		if model.Outcome(predicted) == outcome {
			winners = append(winners, userID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ResolveResult{}, fmt.Errorf("iterating predictions: %w", err)
	}
	rows.Close()

	for _, userID := range winners {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET score = score + 1 WHERE id = $1`, userID)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("crediting user %d: %w", userID, err)
		}
		result.PointsAwarded++
	}

	if err := tx.Commit(); err != nil {
		return ResolveResult{}, fmt.Errorf("committing resolution: %w", err)
	}

	return result, nil
}

func (s *PSQLStorage) TripOutcome(ctx context.Context, key model.TripKey) (model.Outcome, error) {
	var outcome sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT outcome FROM trips WHERE trip_id = $1 AND service_date = $2`,
		key.TripID, key.ServiceDate).Scan(&outcome)
	if err == sql.ErrNoRows {
		return model.OutcomeUnresolved, fmt.Errorf("trip %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.OutcomeUnresolved, fmt.Errorf("querying trip outcome: %w", err)
	}
	if !outcome.Valid {
		return model.OutcomeUnresolved, nil
	}
	return model.Outcome(outcome.String), nil
}

func (s *PSQLStorage) CreateUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

func (s *PSQLStorage) UserScore(ctx context.Context, userID int64) (int64, error) {
	var score int64
	err := s.db.QueryRowContext(ctx, `SELECT score FROM users WHERE id = $1`, userID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("querying user score: %w", err)
	}
	return score, nil
}

func (s *PSQLStorage) CreatePrediction(ctx context.Context, p model.Prediction) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO predictions (user_id, trip_id, service_date, predicted, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		p.UserID, p.TripID, p.ServiceDate, string(p.Predicted), createdAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrPredictionExists
	}
	if err != nil {
		return fmt.Errorf("inserting prediction: %w", err)
	}

	return nil
}

func (s *PSQLStorage) Predictions(ctx context.Context, key model.TripKey) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, predicted, created_at
FROM predictions
WHERE trip_id = $1 AND service_date = $2
ORDER BY user_id`,
		key.TripID, key.ServiceDate)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	predictions := []model.Prediction{}
	for rows.Next() {
		p := model.Prediction{TripID: key.TripID, ServiceDate: key.ServiceDate}
		var predicted string
		if err := rows.Scan(&p.UserID, &predicted, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		p.Predicted = model.Outcome(predicted)
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

func (s *PSQLStorage) ScheduleWriter() (ScheduleWriter, error) {
	return &PSQLScheduleWriter{db: s.db}, nil
}

func (s *PSQLStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (w *PSQLScheduleWriter) BeginTrips() error {
	w.tripsOpen = true
	w.tripBuf = w.tripBuf[:0]
	return nil
}

func (w *PSQLScheduleWriter) WriteTrip(trip *model.Trip) error {
	if !w.tripsOpen {
		return fmt.Errorf("BeginTrips not called")
	}
	w.tripBuf = append(w.tripBuf, *trip)
	return nil
}

func (w *PSQLScheduleWriter) EndTrips() error {
	if !w.tripsOpen {
		return fmt.Errorf("BeginTrips not called")
	}
	w.tripsOpen = false

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning trips transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("trips", "trip_id", "service_date", "route_id", "headsign"))
	if err != nil {
		return fmt.Errorf("preparing trips copy: %w", err)
	}

	for _, trip := range w.tripBuf {
		_, err = stmt.Exec(trip.Key.TripID, trip.Key.ServiceDate, trip.RouteID, trip.Headsign)
		if err != nil {
			return fmt.Errorf("copying trip: %w", err)
		}
	}

	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("flushing trips copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing trips copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trips: %w", err)
	}

	w.tripBuf = nil
	return nil
}

func (w *PSQLScheduleWriter) BeginStopTimes() error {
	w.stopsOpen = true
	w.stopTimeBuf = w.stopTimeBuf[:0]
	return nil
}

func (w *PSQLScheduleWriter) WriteStopTime(st *model.StopTime) error {
	if !w.stopsOpen {
		return fmt.Errorf("BeginStopTimes not called")
	}
	w.stopTimeBuf = append(w.stopTimeBuf, *st)
	if len(w.stopTimeBuf) >= PSQLStopTimeBatchSize {
		return w.flushStopTimes()
	}
	return nil
}

func (w *PSQLScheduleWriter) EndStopTimes() error {
	if !w.stopsOpen {
		return fmt.Errorf("BeginStopTimes not called")
	}
	w.stopsOpen = false
	return w.flushStopTimes()
}

func (w *PSQLScheduleWriter) flushStopTimes() error {
	if len(w.stopTimeBuf) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_times transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("stop_times", "trip_id", "service_date", "stop_sequence", "arrival"))
	if err != nil {
		return fmt.Errorf("preparing stop_times copy: %w", err)
	}

	for _, st := range w.stopTimeBuf {
		_, err = stmt.Exec(st.TripID, st.ServiceDate, st.StopSequence, st.Arrival)
		if err != nil {
			return fmt.Errorf("copying stop_time: %w", err)
		}
	}

	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("flushing stop_times copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing stop_times copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing stop_times: %w", err)
	}

	w.stopTimeBuf = w.stopTimeBuf[:0]
	return nil
}

func (w *PSQLScheduleWriter) Close() error {
	w.tripBuf = nil
	w.stopTimeBuf = nil
	return nil
}
