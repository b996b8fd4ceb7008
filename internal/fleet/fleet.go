// Package fleet owns one timeline recorder per configured machine.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"shiftmonitor/internal/config"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/models"
	"shiftmonitor/internal/timeline"
)

// Fleet maps machine ids to their recorders.
type Fleet struct {
	machines  []models.Machine
	recorders map[string]*timeline.Recorder
	clock     timeline.Clock
	log       zerolog.Logger
}

// New builds a recorder for every machine in cfg. A nil clock uses wall time in cfg's timezone.
func New(cfg config.Config, store kv.Store, log zerolog.Logger, clock timeline.Clock) *Fleet {
	if clock == nil {
		loc := cfg.Location()
		clock = func() time.Time { return time.Now().In(loc) }
	}
	f := &Fleet{
		machines:  append([]models.Machine(nil), cfg.Machines...),
		recorders: make(map[string]*timeline.Recorder, len(cfg.Machines)),
		clock:     clock,
		log:       log.With().Str("component", "fleet").Logger(),
	}
	for _, m := range cfg.Machines {
		f.recorders[m.ID] = timeline.NewRecorder(m.ID, store,
			timeline.WithClock(clock),
			timeline.WithLogger(log),
			timeline.WithShift(models.ShiftInfo{Label: m.ShiftLabel}),
			timeline.WithIntervals(
				time.Duration(cfg.Timeline.PersistThrottleSeconds)*time.Second,
				time.Duration(cfg.Timeline.TickSeconds)*time.Second,
				time.Duration(cfg.Timeline.FlushSeconds)*time.Second,
			),
			timeline.WithRetention(time.Duration(cfg.Timeline.RetentionHours)*time.Hour),
		)
	}
	return f
}

// Now returns the fleet's current time.
func (f *Fleet) Now() time.Time {
	return f.clock()
}

// Open restores every recorder from the store.
func (f *Fleet) Open(ctx context.Context) {
	for _, m := range f.machines {
		f.recorders[m.ID].Open(ctx)
	}
	f.log.Info().Int("machines", len(f.machines)).Msg("timelines opened")
}

// Start arms every recorder's tick and flush timers.
func (f *Fleet) Start(ctx context.Context) {
	for _, m := range f.machines {
		f.recorders[m.ID].Start(ctx)
	}
}

// Hide flushes every recorder, as when the dashboard goes to the background.
func (f *Fleet) Hide(ctx context.Context) {
	for _, m := range f.machines {
		f.recorders[m.ID].Hide(ctx)
	}
}

// Close stops timers and flushes every recorder once.
func (f *Fleet) Close(ctx context.Context) error {
	var errs []error
	for _, m := range f.machines {
		if err := f.recorders[m.ID].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder returns the recorder for id.
func (f *Fleet) Recorder(id string) (*timeline.Recorder, bool) {
	r, ok := f.recorders[id]
	return r, ok
}

// Machine returns the configuration for id.
func (f *Fleet) Machine(id string) (models.Machine, bool) {
	for _, m := range f.machines {
		if m.ID == id {
			return m, true
		}
	}
	return models.Machine{}, false
}

// Machines returns the configured machines in config order.
func (f *Fleet) Machines() []models.Machine {
	return append([]models.Machine(nil), f.machines...)
}
