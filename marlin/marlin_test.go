package marlin_test

import (
	"bytes"
	"github.com/jt05610/benchtop/marlin"
	"testing"
)

var testCases = []struct {
	name   string
	buffer []byte
	expect marlin.StatusUpdate
}{
	{
		name:   "pos upd",
		buffer: []byte("X:0.00 Y:0.00 Z:40.00 E:0.00 Count X:0 Y:0 Z:16000"),
		expect: &marlin.Status{
			Position: &marlin.Position{Z: 40},
			Count:    &marlin.Count{Z: 16000},
		},
	},
	{
		name:   "m114 reply",
		buffer: []byte("X:10.00 Y:20.00 Z:5.00 E:0.00"),
		expect: &marlin.Status{
			Position: &marlin.Position{X: 10, Y: 20, Z: 5},
		},
	},
	{
		name:   "negative without extruder",
		buffer: []byte("X:-1.50 Y:2.25 Z:0.00"),
		expect: &marlin.Status{
			Position: &marlin.Position{X: -1.5, Y: 2.25},
		},
	},
	{
		name:   "busy processing",
		buffer: []byte("echo:busy: processing"),
		expect: &marlin.Processing{},
	},
	{
		name:   "ok",
		buffer: []byte("ok"),
		expect: &marlin.Ack{},
	},
	{
		name:   "ping",
		buffer: []byte("PING:42"),
		expect: &marlin.Ping{Payload: "42"},
	},
	{
		name:   "active id",
		buffer: []byte("ACTIVE_ID:1a2b"),
		expect: &marlin.ActiveID{ID: "1a2b"},
	},
	{
		name:   "temperature",
		buffer: []byte("ok T:25.00 /0.00 B:59.80 /60.00 @:0 B@:127"),
		expect: &marlin.Temperature{
			Ack:    true,
			Hotend: &marlin.Reading{Current: 25},
			Bed:    &marlin.Reading{Current: 59.8, Target: 60},
		},
	},
	{
		name:   "bed only",
		buffer: []byte("B:21.5 /0.0"),
		expect: &marlin.Temperature{
			Bed: &marlin.Reading{Current: 21.5},
		},
	},
	{
		name:   "firmware error",
		buffer: []byte("Error:Printer halted. kill() called!"),
		expect: &marlin.Fault{Message: "Printer halted. kill() called!"},
	},
}

func TestParse(t *testing.T) {
	for _, tc := range testCases {
		p := marlin.NewParser(bytes.NewReader(tc.buffer))
		u, err := p.Parse()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if u == nil {
			t.Fatalf("%s: nil status", tc.name)
		}
		switch e := tc.expect.(type) {
		case *marlin.Status:
			s, ok := u.(*marlin.Status)
			if !ok {
				t.Fatalf("%s: expected status, got %T", tc.name, u)
			}
			if *s.Position != *e.Position {
				t.Fatalf("%s: expected position %+v, got %+v", tc.name, *e.Position, *s.Position)
			}
			if e.Count != nil && (s.Count == nil || *s.Count != *e.Count) {
				t.Fatalf("%s: expected count %+v, got %+v", tc.name, e.Count, s.Count)
			}
		case *marlin.Temperature:
			got, ok := u.(*marlin.Temperature)
			if !ok {
				t.Fatalf("%s: expected temperature, got %T", tc.name, u)
			}
			if got.Ack != e.Ack {
				t.Fatalf("%s: expected ack %v, got %v", tc.name, e.Ack, got.Ack)
			}
			if (e.Hotend == nil) != (got.Hotend == nil) || (e.Hotend != nil && *e.Hotend != *got.Hotend) {
				t.Fatalf("%s: expected hotend %+v, got %+v", tc.name, e.Hotend, got.Hotend)
			}
			if (e.Bed == nil) != (got.Bed == nil) || (e.Bed != nil && *e.Bed != *got.Bed) {
				t.Fatalf("%s: expected bed %+v, got %+v", tc.name, e.Bed, got.Bed)
			}
		case *marlin.Ack:
			if _, ok := u.(*marlin.Ack); !ok {
				t.Fatalf("%s: expected ack, got %T", tc.name, u)
			}
		case *marlin.Processing:
			if _, ok := u.(*marlin.Processing); !ok {
				t.Fatalf("%s: expected processing, got %T", tc.name, u)
			}
		case *marlin.Ping:
			got, ok := u.(*marlin.Ping)
			if !ok || *got != *e {
				t.Fatalf("%s: expected %+v, got %+v", tc.name, e, u)
			}
		case *marlin.ActiveID:
			got, ok := u.(*marlin.ActiveID)
			if !ok || *got != *e {
				t.Fatalf("%s: expected %+v, got %+v", tc.name, e, u)
			}
		case *marlin.Fault:
			got, ok := u.(*marlin.Fault)
			if !ok || *got != *e {
				t.Fatalf("%s: expected %+v, got %+v", tc.name, e, u)
			}
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := marlin.ParseLine("start"); err == nil {
		t.Fatal("expected error for unknown identifier")
	}
	if _, err := marlin.ParseLine("X:abc"); err == nil {
		t.Fatal("expected error for malformed position")
	}
}

func TestLineClassifiers(t *testing.T) {
	noise := []string{"PING:1", "echo:busy: processing", "ACTIVE_ID:abc"}
	for _, l := range noise {
		if !marlin.IsNoise(l) {
			t.Fatalf("expected %q to be noise", l)
		}
		if marlin.IsPositionReport(l) || marlin.IsAck(l) {
			t.Fatalf("noise line %q matched a completion pattern", l)
		}
	}
	if !marlin.IsAck("OK") || !marlin.IsAck(" ok ") || marlin.IsAck("ok T:20") {
		t.Fatal("IsAck mismatch")
	}
	if !marlin.EndsWithAck("M400 ok") || !marlin.EndsWithAck("Ok") || marlin.EndsWithAck("okay") {
		t.Fatal("EndsWithAck mismatch")
	}
	if !marlin.IsPositionReport("x:1 y:2 z:3") || marlin.IsPositionReport("echo:X:1 Y:2 Z:3") {
		t.Fatal("IsPositionReport mismatch")
	}
}

func TestParsePosition(t *testing.T) {
	pos, ok := marlin.ParsePosition("X:10.00 Y:20.00 Z:5.00 E:0.00")
	if !ok {
		t.Fatal("expected a position")
	}
	if pos != (marlin.Position{X: 10, Y: 20, Z: 5, E: 0}) {
		t.Fatalf("unexpected position %+v", pos)
	}
	pos, ok = marlin.ParsePosition("x:1.50 y:-2.00 z:3.00")
	if !ok {
		t.Fatal("expected a lowercase report to parse")
	}
	if pos != (marlin.Position{X: 1.5, Y: -2, Z: 3}) {
		t.Fatalf("unexpected position %+v", pos)
	}
	if _, ok := marlin.ParsePosition("echo:busy: processing"); ok {
		t.Fatal("busy echo parsed as position")
	}
}
