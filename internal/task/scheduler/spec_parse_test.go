package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		source  string
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", source: "cron"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly", source: "cron"},
		{in: "cron: 30 3 * * *", kind: SpecCron, cron: "30 3 * * *", source: "cron"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute, source: "duration"},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute, source: "hhmm"},
		{in: "every: 00:15", kind: SpecInterval, every: 15 * time.Minute, source: "hhmm"},
		{in: "interval:1h", kind: SpecInterval, every: time.Hour, source: "duration"},
		{in: "", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Cron != tc.cron || got.Every != tc.every || got.Source != tc.source {
			t.Fatalf("%q: got %+v", tc.in, got)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	h, m, err := parseHHMM("03:30")
	if err != nil || h != 3 || m != 30 {
		t.Fatalf("got %d:%d err=%v", h, m, err)
	}
	for _, bad := range []string{"24:00", "3", "aa:10", "10:60"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
