package enums

import "testing"

func TestParseSourceTypeAliases(t *testing.T) {
	cases := map[string]SourceType{
		"easyappointments": SourceEasyAppointments,
		" Zoom ":           SourceZoom,
		"direct_signup":    SourceDirect,
		"POSHVIP":          SourcePoshVIP,
	}
	for raw, want := range cases {
		got, err := ParseSourceType(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	if _, err := ParseSourceType("myspace"); err == nil {
		t.Fatal("expected error for unknown source type")
	}
}

func TestSyncableSourceTypes(t *testing.T) {
	for _, st := range SyncableSourceTypes() {
		if !st.IsSyncable() {
			t.Fatalf("%s should be syncable", st)
		}
	}
	for _, st := range []SourceType{SourceManual, SourceReferral, SourceDirect} {
		if st.IsSyncable() {
			t.Fatalf("%s should not be syncable", st)
		}
	}
}

func TestEventTypesFunnelOrder(t *testing.T) {
	types := EventTypes()
	if len(types) != 11 {
		t.Fatalf("expected 11 event types, got %d", len(types))
	}
	if types[0] != EventPageView || types[len(types)-1] != EventConverted {
		t.Fatalf("unexpected funnel order: %v", types)
	}
	if EventType("bogus").StageRank() != -1 {
		t.Fatal("unknown type should have rank -1")
	}
	if _, err := ParseEventType("Appointment_Booked"); err != nil {
		t.Fatalf("expected case-insensitive parse: %v", err)
	}
}

func TestParseDedupPolicy(t *testing.T) {
	policy, err := ParseDedupPolicy("")
	if err != nil || policy != DedupExternalIDFirst {
		t.Fatalf("default policy: got %s err %v", policy, err)
	}
	if _, err := ParseDedupPolicy("newest_wins"); err == nil {
		t.Fatal("expected invalid policy error")
	}
}
