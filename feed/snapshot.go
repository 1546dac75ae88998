package feed

import (
	"errors"
	"fmt"
	"sort"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"

	"github.com/tripstakes/tripstakes/model"
)

// Decoding of GTFS Realtime feeds into an in-memory snapshot. The
// snapshot lives for a single resolution pass and is discarded
// afterwards. Covers trip updates with arrival delays; vehicle
// positions, alerts and the various realtime extensions are ignored.

// ErrUnavailable marks a tick's feed as unusable: transport failure,
// bad status, or a payload that didn't decode. A snapshot is all or
// nothing; no outcome may be derived from a partial feed.
var ErrUnavailable = errors.New("realtime feed unavailable")

// Snapshot is one decoded feed: trip update entries indexed by
// (trip id, start date).
type Snapshot struct {
	Timestamp uint64
	FetchedAt time.Time

	entries map[model.TripKey]*TripEntry

	// These exist to simplify debugging down the road
	NumEntities  int
	NumScheduled int
	NumCanceled  int
	NumSkipped   int
}

// TripEntry holds the arrival delays reported for one trip
// occurrence, keyed by stop sequence.
type TripEntry struct {
	Key    model.TripKey
	delays map[uint32]time.Duration
	seqs   []uint32 // sorted sequences with arrival data
}

// Delay returns the arrival delay reported for the given stop
// sequence, if any.
func (e *TripEntry) Delay(seq uint32) (time.Duration, bool) {
	d, ok := e.delays[seq]
	return d, ok
}

// LatestReported returns the delay at the highest stop sequence the
// feed reports for this trip.
func (e *TripEntry) LatestReported() (uint32, time.Duration, bool) {
	if len(e.seqs) == 0 {
		return 0, 0, false
	}
	seq := e.seqs[len(e.seqs)-1]
	return seq, e.delays[seq], true
}

// FirstReported returns the delay at the lowest stop sequence the
// feed reports for this trip.
func (e *TripEntry) FirstReported() (uint32, time.Duration, bool) {
	if len(e.seqs) == 0 {
		return 0, 0, false
	}
	seq := e.seqs[0]
	return seq, e.delays[seq], true
}

// Trip looks up the entry for a trip occurrence. Feeds are not
// required to set start_date on a trip descriptor; an entry without
// one matches any service date for its trip id.
func (s *Snapshot) Trip(key model.TripKey) (*TripEntry, bool) {
	if e, ok := s.entries[key]; ok {
		return e, true
	}
	e, ok := s.entries[model.TripKey{TripID: key.TripID}]
	return e, ok
}

// Len returns the number of trip entries in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Decode parses a serialized GTFS Realtime FeedMessage into a
// Snapshot.
func Decode(data []byte, fetchedAt time.Time) (*Snapshot, error) {
	f := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}

	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}

	snap := &Snapshot{
		Timestamp: header.GetTimestamp(),
		FetchedAt: fetchedAt,
		entries:   map[model.TripKey]*TripEntry{},
	}

	for _, entity := range f.GetEntity() {
		snap.NumEntities++

		// We only care about TripUpdates
		if entity.TripUpdate == nil {
			continue
		}

		trip := entity.TripUpdate.Trip
		if trip == nil {
			return nil, fmt.Errorf("trip_update missing trip")
		}

		// Blank trip ID is allowed when the trip is identified
		// by (route_id, direction_id, start_time, start_date)
		// instead. We don't support that.
		if trip.GetTripId() == "" {
			continue
		}

		switch trip.GetScheduleRelationship() {
		case gtfsproto.TripDescriptor_SCHEDULED:
			snap.NumScheduled++
		case gtfsproto.TripDescriptor_CANCELED:
			snap.NumCanceled++
			continue
		default:
			// ADDED, UNSCHEDULED, DUPLICATED: no scheduled
			// trip to resolve against.
			snap.NumSkipped++
			continue
		}

		key := model.TripKey{
			TripID:      trip.GetTripId(),
			ServiceDate: trip.GetStartDate(),
		}

		entry, found := snap.entries[key]
		if !found {
			entry = &TripEntry{
				Key:    key,
				delays: map[uint32]time.Duration{},
			}
			snap.entries[key] = entry
		}

		for _, update := range entity.TripUpdate.GetStopTimeUpdate() {
			if update.GetScheduleRelationship() != gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED {
				continue
			}
			if update.Arrival == nil {
				continue
			}
			seq := update.GetStopSequence()
			delay := time.Duration(update.GetArrival().GetDelay()) * time.Second
			if _, seen := entry.delays[seq]; !seen {
				entry.seqs = append(entry.seqs, seq)
			}
			entry.delays[seq] = delay
		}
	}

	for _, entry := range snap.entries {
		sort.Slice(entry.seqs, func(i, j int) bool {
			return entry.seqs[i] < entry.seqs[j]
		})
	}

	return snap, nil
}
