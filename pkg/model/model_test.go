package model

import "testing"

func TestTimeWindowBoundary(t *testing.T) {
	tw := TimeWindow{Index: 0, Start: 0, Width: 3600}
	justInside := Timestamp((3600 - 1) * 1e6)
	if !tw.Contains(justInside) {
		t.Fatalf("expected ts just before end to be contained")
	}
	atBoundary := Timestamp(3600 * 1e6)
	if tw.Contains(atBoundary) {
		t.Fatalf("ts == start+width must belong to the next window, not this one")
	}
}

func TestThreatLevelValue(t *testing.T) {
	cases := map[ThreatLevel]float64{
		ThreatInfo:     0,
		ThreatLow:      0.2,
		ThreatMedium:   0.5,
		ThreatHigh:     0.8,
		ThreatCritical: 1.0,
	}
	for lvl, want := range cases {
		got, ok := lvl.Value()
		if !ok || got != want {
			t.Fatalf("%s: got %v, %v want %v", lvl, got, ok, want)
		}
	}
	if _, ok := ThreatLevel("bogus").Value(); ok {
		t.Fatalf("expected unknown threat level to report !ok")
	}
}

func TestAlertID(t *testing.T) {
	got := AlertID("profile_10.0.0.5", "timewindow0", "ev123")
	want := "profile_10.0.0.5_timewindow0_ev123"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIsGratuitous(t *testing.T) {
	f := &Flow{
		SrcAddr: "10.0.0.40",
		DstAddr: "10.0.0.40",
		ARP:     &ARPFlow{SrcMAC: "2e:a4:18:f8:3d:02", DstMAC: "ff:ff:ff:ff:ff:ff"},
	}
	if !f.IsGratuitous() {
		t.Fatalf("expected gratuitous arp to be detected")
	}
	f.DstAddr = "10.0.0.41"
	if f.IsGratuitous() {
		t.Fatalf("src != dst must not be gratuitous")
	}
}

func TestIdentificationMerge(t *testing.T) {
	id := Identification{Hostname: "host1"}
	id.Merge(Identification{Hostname: "should-not-overwrite", SNI: "example.com"})
	if id.Hostname != "host1" {
		t.Fatalf("merge must not clobber an existing field")
	}
	if id.SNI != "example.com" {
		t.Fatalf("merge must fill in a zero field")
	}
}

func TestTimestampFromFloatSeconds(t *testing.T) {
	if TimestampFromFloatSeconds(0) != 0 {
		t.Fatalf("missing timestamp must sort earliest (0)")
	}
	if TimestampFromFloatSeconds(-1) != 0 {
		t.Fatalf("negative timestamp must clamp to 0")
	}
	got := TimestampFromFloatSeconds(1.5)
	if got != 1_500_000 {
		t.Fatalf("got %d want 1500000", got)
	}
}
