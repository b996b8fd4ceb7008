package models

import (
	"time"
)

// Machine defines a monitored production machine.
type Machine struct {
	ID                  string `yaml:"id" json:"id"`
	Name                string `yaml:"name" json:"name"`
	StatusURL           string `yaml:"status_url" json:"status_url,omitempty"`
	StatusField         string `yaml:"status_field" json:"-"`
	ColorField          string `yaml:"color_field" json:"-"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" json:"poll_interval_seconds,omitempty"`
	TimeoutSeconds      int    `yaml:"timeout_seconds" json:"-"`
	ShiftLabel          string `yaml:"shift_label" json:"shift_label,omitempty"`
}

// StatusObservation is one reading of a machine's current status.
type StatusObservation struct {
	Label      string    `json:"label"`
	Color      string    `json:"color,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// ShiftInfo carries the caller-supplied shift metadata used to scope a timeline.
type ShiftInfo struct {
	Label          string    `json:"shift_label,omitempty"`
	ReferenceStart time.Time `json:"reference_start,omitempty"`
}
