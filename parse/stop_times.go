package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
)

type StopTimeCSV struct {
	TripID       string `csv:"trip_id"`
	StopSequence uint32 `csv:"stop_sequence"`
	ArrivalTime  string `csv:"arrival_time"`
}

func ParseStopTimes(
	writer storage.ScheduleWriter,
	data io.Reader,
	serviceDate string,
	trips map[string]bool,
) (int, error) {

	stopSeq := map[string][]int{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		i += 1
		if !trips[st.TripID] {
			return fmt.Errorf("unknown trip_id: '%s' (row %d)", st.TripID, i+1)
		}

		arrivalTime, err := model.ParseArrival(st.ArrivalTime)
		if err != nil {
			return errors.Wrapf(err, "parsing arrival_time (row %d)", i+1)
		}

		stopSeq[st.TripID] = append(stopSeq[st.TripID], int(st.StopSequence))

		err = writer.WriteStopTime(&model.StopTime{
			TripID:       st.TripID,
			ServiceDate:  serviceDate,
			StopSequence: st.StopSequence,
			Arrival:      arrivalTime,
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop_time (row %d)", i+1)
		}

		return nil
	})

	if err != nil {
		return 0, errors.Wrap(err, "unmarshaling stop_times csv")
	}

	// Verify that stop_sequence is unique for each trip
	count := 0
	for tripID, seq := range stopSeq {
		seqSeen := map[int]bool{}
		for _, s := range seq {
			if seqSeen[s] {
				return 0, fmt.Errorf("duplicate stop_sequence %d for trip_id '%s'", s, tripID)
			}
			seqSeen[s] = true
		}
		count += len(seq)
	}

	return count, nil
}
