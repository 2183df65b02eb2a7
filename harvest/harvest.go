// Package harvest runs the dump tool for a time span and records the outcome.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/dateutil"
	"github.com/dataesr/bso3-harvest-datacite-sub000/exdep"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrAlreadyExists is returned when a harvest for a directory is recorded
// and force is not set.
var ErrAlreadyExists = errors.New("harvest already exists")

// Request for a harvest.
type Request struct {
	Directory string
	Start     time.Time
	End       time.Time
	// Interval is a name like "minute", "hour", "day" or "week".
	Interval string
	Force    bool
}

// SelectInterval maps interval names to dump tool interval codes.
func SelectInterval(name string) string {
	switch name {
	case "minute":
		return dateutil.CodeMinute
	case "hour":
		return dateutil.CodeHour
	case "day":
		return dateutil.CodeDay
	case "week":
		return dateutil.CodeWeek
	default:
		return dateutil.CodeMinute
	}
}

// Harvester runs harvests and keeps their state in a repository.
type Harvester struct {
	Tool  *Tool
	Repo  state.HarvestStateRepository
	NewID func() string
}

func (h *Harvester) newID() string {
	if h.NewID == nil {
		return uuid.NewString()
	}
	return h.NewID()
}

// Start records a harvest and runs it, either synchronously or in a
// goroutine. A returned state has the id of the stored row; in the
// background case its outcome is only visible through the repository. For
// an already recorded directory without force the returned state has status
// "already exists" and the error is ErrAlreadyExists.
func (h *Harvester) Start(ctx context.Context, req Request, background bool) (*state.HarvestState, error) {
	if h.Tool.Runner == nil {
		dep := exdep.DCDump
		dep.Name = h.Tool.name()
		if err := dep.Check(); err != nil {
			return nil, err
		}
	}
	s, err := h.begin(ctx, req)
	if errors.Is(err, ErrAlreadyExists) {
		log.WithFields(log.Fields{
			"id":     s.ID,
			"dir":    req.Directory,
			"status": s.Status,
		}).Warn("harvest already recorded, use force to run again")
	}
	if err != nil {
		return s, err
	}
	if !background {
		if err := h.run(ctx, req, s); err != nil {
			return s, err
		}
		return s, nil
	}
	snapshot := *s
	go func() {
		if err := h.run(context.WithoutCancel(ctx), req, s); err != nil {
			log.WithFields(log.Fields{
				"id":  s.ID,
				"dir": req.Directory,
			}).WithError(err).Error("harvest failed")
		}
	}()
	return &snapshot, nil
}

// begin creates or resets the state row for a request.
func (h *Harvester) begin(ctx context.Context, req Request) (*state.HarvestState, error) {
	rows, err := h.Repo.Get(ctx, map[string]any{"current_directory": req.Directory})
	if err != nil {
		return nil, err
	}
	s := &state.HarvestState{
		RunID:            h.newID(),
		StartDate:        req.Start,
		EndDate:          req.End,
		Status:           state.StatusInProgress,
		CurrentDirectory: req.Directory,
		SliceType:        SelectInterval(req.Interval),
	}
	if len(rows) > 0 {
		if !req.Force {
			existing := rows[0]
			existing.Status = state.StatusAlreadyExists
			return &existing, ErrAlreadyExists
		}
		s.ID = rows[0].ID
		_, err := h.Repo.Update(ctx, map[string]any{
			"run_id":        s.RunID,
			"start_date":    s.StartDate,
			"end_date":      s.EndDate,
			"status":        s.Status,
			"slice_type":    s.SliceType,
			"number_slices": int64(0),
			"number_missed": int64(0),
			"processed":     false,
		}, map[string]any{"id": s.ID})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	ok, err := h.Repo.Create(ctx, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Status = state.StatusAlreadyExists
		return s, ErrAlreadyExists
	}
	return s, nil
}

func (h *Harvester) run(ctx context.Context, req Request, s *state.HarvestState) error {
	logger := log.WithFields(log.Fields{"id": s.ID, "dir": req.Directory})
	slices, err := h.Tool.Slices(ctx, req)
	if err != nil {
		return fmt.Errorf("debug run: %w", err)
	}
	logger.WithField("slices", slices).Info("starting harvest")
	if err := h.Tool.Download(ctx, req); err != nil {
		return err
	}
	downloaded, err := CountDownloaded(req.Directory, h.Tool.prefix(), req.Start, req.End)
	if err != nil {
		return err
	}
	s.NumberSlices = int64(slices)
	s.NumberMissed = int64(slices - downloaded)
	s.Status = state.StatusDone
	if s.NumberMissed != 0 {
		s.Status = state.StatusError
	}
	_, err = h.Repo.Update(ctx, map[string]any{
		"status":        s.Status,
		"number_slices": s.NumberSlices,
		"number_missed": s.NumberMissed,
	}, map[string]any{"id": s.ID})
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"downloaded": downloaded,
		"missed":     s.NumberMissed,
		"status":     s.Status,
	}).Info("harvest finished")
	return nil
}
