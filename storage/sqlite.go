package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tripstakes/tripstakes/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

type SQLiteScheduleWriter struct {
	db             *sql.DB
	stopTimeInsert *sql.Stmt
	stopTimeTx     *sql.Tx
	tripInsert     *sql.Stmt
	tripTx         *sql.Tx
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/tripstakes.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if !onDisk {
		// The pool must stay on a single connection, or each
		// connection would get its own empty :memory: database.
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
    trip_id TEXT NOT NULL,
    service_date TEXT NOT NULL,
    route_id TEXT NOT NULL DEFAULT '',
    headsign TEXT NOT NULL DEFAULT '',
    outcome TEXT,
    resolved_at TIMESTAMP,
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
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    score INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS predictions (
    user_id INTEGER NOT NULL,
    trip_id TEXT NOT NULL,
    service_date TEXT NOT NULL,
    predicted TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
PRIMARY KEY (user_id, trip_id, service_date)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) UnresolvedTrips(ctx context.Context) ([]UnresolvedTrip, error) {
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

func (s *SQLiteStorage) ResolveTrip(ctx context.Context, key model.TripKey, outcome model.Outcome) (ResolveResult, error) {
	if !outcome.Terminal() {
		return ResolveResult{}, fmt.Errorf("outcome '%s' is not terminal", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Guarded write: only an unresolved trip can transition.
	res, err := tx.ExecContext(ctx, `
UPDATE trips
SET outcome = ?, resolved_at = ?
WHERE trip_id = ? AND service_date = ? AND outcome IS NULL`,
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
WHERE trip_id = ? AND service_date = ?`,
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
			`UPDATE users SET score = score + 1 WHERE id = ?`, userID)
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

func (s *SQLiteStorage) TripOutcome(ctx context.Context, key model.TripKey) (model.Outcome, error) {
	var outcome sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT outcome FROM trips WHERE trip_id = ? AND service_date = ?`,
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

func (s *SQLiteStorage) CreateUser(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting user id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStorage) UserScore(ctx context.Context, userID int64) (int64, error) {
	var score int64
	err := s.db.QueryRowContext(ctx, `SELECT score FROM users WHERE id = ?`, userID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("querying user score: %w", err)
	}
	return score, nil
}

func (s *SQLiteStorage) CreatePrediction(ctx context.Context, p model.Prediction) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO predictions (user_id, trip_id, service_date, predicted, created_at)
VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.TripID, p.ServiceDate, string(p.Predicted), createdAt)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrPredictionExists
	}
	if err != nil {
		return fmt.Errorf("inserting prediction: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Predictions(ctx context.Context, key model.TripKey) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, predicted, created_at
FROM predictions
WHERE trip_id = ? AND service_date = ?
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

func (s *SQLiteStorage) ScheduleWriter() (ScheduleWriter, error) {
	return &SQLiteScheduleWriter{db: s.db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (w *SQLiteScheduleWriter) BeginTrips() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning trips transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
INSERT INTO trips (trip_id, service_date, route_id, headsign)
VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing trip insert: %w", err)
	}
	w.tripTx = tx
	w.tripInsert = stmt
	return nil
}

func (w *SQLiteScheduleWriter) WriteTrip(trip *model.Trip) error {
	if w.tripInsert == nil {
		return fmt.Errorf("BeginTrips not called")
	}
	_, err := w.tripInsert.Exec(trip.Key.TripID, trip.Key.ServiceDate, trip.RouteID, trip.Headsign)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) EndTrips() error {
	if w.tripTx == nil {
		return fmt.Errorf("BeginTrips not called")
	}
	w.tripInsert.Close()
	err := w.tripTx.Commit()
	w.tripTx = nil
	w.tripInsert = nil
	if err != nil {
		return fmt.Errorf("committing trips: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) BeginStopTimes() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_times transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
INSERT INTO stop_times (trip_id, service_date, stop_sequence, arrival)
VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}
	w.stopTimeTx = tx
	w.stopTimeInsert = stmt
	return nil
}

func (w *SQLiteScheduleWriter) WriteStopTime(st *model.StopTime) error {
	if w.stopTimeInsert == nil {
		return fmt.Errorf("BeginStopTimes not called")
	}
	_, err := w.stopTimeInsert.Exec(st.TripID, st.ServiceDate, st.StopSequence, st.Arrival)
	if err != nil {
		return fmt.Errorf("inserting stop_time: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) EndStopTimes() error {
	if w.stopTimeTx == nil {
		return fmt.Errorf("BeginStopTimes not called")
	}
	w.stopTimeInsert.Close()
	err := w.stopTimeTx.Commit()
	w.stopTimeTx = nil
	w.stopTimeInsert = nil
	if err != nil {
		return fmt.Errorf("committing stop_times: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) Close() error {
	var errs []string
	if w.tripTx != nil {
		if err := w.tripTx.Rollback(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if w.stopTimeTx != nil {
		if err := w.stopTimeTx.Rollback(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing writer: %s", strings.Join(errs, "; "))
	}
	return nil
}
