package model

import "time"

// Reservation pins a hostname/VLAN assignment for a device so that
// lease churn does not overwrite operator intent.
type Reservation struct {
	HostID          string `json:"host_id"`
	DesiredHostname string `json:"desired_hostname"`
	VlanID          int    `json:"vlan_id"`
}

// Device is an identified host on the network, keyed by canonical MAC.
type Device struct {
	MAC         string       `json:"mac"`
	IP          string       `json:"ip"`
	Hostname    string       `json:"hostname"`
	VlanID      *int         `json:"vlan_id,omitempty"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Online      bool         `json:"online"`
}

// LeaseRecord is a single observation from a DHCP lease file. It is not
// authoritative; later observations for the same MAC supersede it.
type LeaseRecord struct {
	MAC         string    `json:"mac"`
	IP          string    `json:"ip"`
	Hostname    string    `json:"hostname"`
	LeaseExpiry time.Time `json:"lease_expiry"`
	SourceFile  string    `json:"source_file"`
	ObservedAt  time.Time `json:"observed_at"`
}

// PresenceSample is one activity observation for a device.
type PresenceSample struct {
	MAC           string    `json:"mac"`
	ObservedAt    time.Time `json:"observed_at"`
	BytesInDelta  int64     `json:"bytes_in_delta"`
	BytesOutDelta int64     `json:"bytes_out_delta"`
	PingResponded bool      `json:"ping_responded"`
	Active        bool      `json:"active"`
}

// DetectionSettings holds the online-detection thresholds.
type DetectionSettings struct {
	PingWindowS int   `json:"ping_window" yaml:"ping_window"`
	MinBytesIn  int64 `json:"min_bytes_in" yaml:"min_bytes_in"`
	MinBytesOut int64 `json:"min_bytes_out" yaml:"min_bytes_out"`
}

// DefaultDetectionSettings returns the documented threshold defaults.
func DefaultDetectionSettings() DetectionSettings {
	return DetectionSettings{PingWindowS: 3, MinBytesIn: 1024, MinBytesOut: 1024}
}

// ActiveSample applies the detection rule: a sample is active iff the
// ping probe answered within the window, or both byte deltas meet the
// configured minima.
func (d DetectionSettings) ActiveSample(s PresenceSample) bool {
	if s.PingResponded {
		return true
	}
	return s.BytesInDelta >= d.MinBytesIn && s.BytesOutDelta >= d.MinBytesOut
}
