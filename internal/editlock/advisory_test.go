package editlock

import (
	"testing"

	"compass/api/internal/presence"
)

type fakeRoster struct {
	rosters map[string][]presence.Participant
}

func (f *fakeRoster) Roster(reportID string) []presence.Participant {
	return f.rosters[reportID]
}

func TestIsActivelyEditedByOther(t *testing.T) {
	f := &fakeRoster{rosters: map[string][]presence.Participant{
		"r1": {
			{ID: "u1", TabCount: 1, EditingGoalIDs: []string{"g1"}},
			{ID: "u2", TabCount: 2, EditingGoalIDs: []string{"g2"}},
		},
	}}
	a := &Advisory{presence: f}

	if !a.IsActivelyEditedByOther("r1", "g2", "u1") {
		t.Error("u2 is editing g2, expected a conflict for u1")
	}
	if a.IsActivelyEditedByOther("r1", "g1", "u1") {
		t.Error("u1's own edit must not flag as a conflict for u1")
	}
	if a.IsActivelyEditedByOther("r1", "g3", "u1") {
		t.Error("nobody is editing g3")
	}
	if a.IsActivelyEditedByOther("r9", "g1", "u1") {
		t.Error("an empty room has no conflicts")
	}
}

func TestActiveEditors(t *testing.T) {
	f := &fakeRoster{rosters: map[string][]presence.Participant{
		"r1": {
			{ID: "u1", Name: "Avery", EditingGoalIDs: []string{"g1"}},
			{ID: "u2", Name: "Blake", EditingGoalIDs: []string{"g1"}},
			{ID: "u3", Name: "Casey", EditingGoalIDs: []string{"g2"}},
		},
	}}
	a := &Advisory{presence: f}

	editors := a.ActiveEditors("r1", "g1", "u1")
	if len(editors) != 1 || editors[0].ID != "u2" {
		t.Errorf("expected only u2 as conflicting editor, got %v", editors)
	}
}
