package model

import "testing"

func TestDetectionSettings_ActiveSample(t *testing.T) {
	d := DefaultDetectionSettings()

	cases := []struct {
		name   string
		in     int64
		out    int64
		ping   bool
		active bool
	}{
		{"idle", 0, 0, false, false},
		{"ping answers with no traffic", 0, 0, true, true},
		{"both deltas at the minima", 1024, 1024, false, true},
		{"both deltas above the minima", 2000, 2000, false, true},
		// Inbound alone is not enough; broadcast noise reaches every
		// host, so the rule demands traffic in both directions.
		{"inbound only", 2000, 500, false, false},
		{"outbound only", 500, 2000, false, false},
		{"one-sided traffic but ping answers", 2000, 500, true, true},
		{"just under the inbound minimum", 1023, 4096, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := PresenceSample{BytesInDelta: tc.in, BytesOutDelta: tc.out, PingResponded: tc.ping}
			if got := d.ActiveSample(s); got != tc.active {
				t.Errorf("ActiveSample(in=%d out=%d ping=%v) = %v, want %v",
					tc.in, tc.out, tc.ping, got, tc.active)
			}
		})
	}
}

func TestDetectionSettings_CustomThresholds(t *testing.T) {
	d := DetectionSettings{PingWindowS: 3, MinBytesIn: 1, MinBytesOut: 4096}

	if d.ActiveSample(PresenceSample{BytesInDelta: 10, BytesOutDelta: 100}) {
		t.Error("sample under the raised outbound minimum should be inactive")
	}
	if !d.ActiveSample(PresenceSample{BytesInDelta: 1, BytesOutDelta: 4096}) {
		t.Error("sample meeting both custom minima should be active")
	}
}
