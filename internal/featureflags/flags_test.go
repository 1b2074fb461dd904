package featureflags

import "testing"

func TestEnabled(t *testing.T) {
	t.Setenv("FLAG_FORCE_SIGNOFF_DAY", "Yes")
	if !Enabled(ForceSignOffDay) {
		t.Fatalf("expected flag on")
	}
	t.Setenv("FLAG_FORCE_SIGNOFF_DAY", "0")
	if Enabled(ForceSignOffDay) {
		t.Fatalf("expected flag off")
	}
}

func TestStatic(t *testing.T) {
	l := Static(ForceSignOffDay)
	if !l(ForceSignOffDay) || l("other") {
		t.Fatalf("unexpected static lookup")
	}
}
