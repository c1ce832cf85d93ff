package domain

import "testing"

func TestDispositionPoints(t *testing.T) {
	if DispositionMeetingBooked.Points() <= DispositionConnected.Points() {
		t.Fatalf("a booked meeting must outscore a plain connect")
	}
	if Disposition("nope").Valid() {
		t.Fatalf("unknown disposition must be invalid")
	}
	if Disposition("nope").Points() != 0 {
		t.Fatalf("unknown disposition scores nothing")
	}
}

func TestDispositionLeadStatus(t *testing.T) {
	cases := map[Disposition]LeadStatus{
		DispositionMeetingBooked: LeadStatusMeeting,
		DispositionVoicemail:     LeadStatusCallback,
		DispositionDoNotCall:     LeadStatusDNC,
		DispositionConnected:     LeadStatusContacted,
	}
	for d, want := range cases {
		if got := d.LeadStatus(); got != want {
			t.Errorf("%s: expected %s, got %s", d, want, got)
		}
	}
}

func TestSessionProgress(t *testing.T) {
	s := DialSession{TotalLeads: 10, AttemptedCount: 4}
	if got := s.ProgressPercent(); got != 40 {
		t.Fatalf("expected 40%%, got %v", got)
	}
	if s.Remaining() != 6 {
		t.Fatalf("expected 6 remaining, got %d", s.Remaining())
	}
	if (DialSession{}).ProgressPercent() != 0 {
		t.Fatalf("empty session progress must be 0")
	}
}
