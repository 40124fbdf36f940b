package domain

import "time"

// DeviceStatus is the user approval state of a device authorization.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusApproved DeviceStatus = "approved"
	DeviceStatusDenied   DeviceStatus = "denied"
)

// DeviceCodePayload is the kind specific body of a device code grant.
type DeviceCodePayload struct {
	Scopes []string     `json:"scopes"`
	Status DeviceStatus `json:"status"`

	// Interval is the minimum seconds between token endpoint polls.
	Interval int `json:"interval"`

	// LastPolledAt enforces the polling interval; zero until the
	// first poll.
	LastPolledAt time.Time `json:"last_polled_at,omitzero"`

	// SubjectID is set when the user approves the request.
	SubjectID string `json:"subject_id,omitempty"`
}
