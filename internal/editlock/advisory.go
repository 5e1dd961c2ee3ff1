// Package editlock flags concurrent editors of a goal within a report.
// The signal is advisory: it warns the UI, it never blocks a write.
package editlock

import "compass/api/internal/presence"

type rosterSource interface {
	Roster(reportID string) []presence.Participant
}

type Advisory struct {
	presence rosterSource
}

func New(coordinator *presence.Coordinator) *Advisory {
	return &Advisory{presence: coordinator}
}

// IsActivelyEditedByOther reports whether any identified participant other
// than selfUserID is currently editing goalID in the report's room.
func (a *Advisory) IsActivelyEditedByOther(reportID, goalID, selfUserID string) bool {
	for _, p := range a.presence.Roster(reportID) {
		if p.ID == selfUserID {
			continue
		}
		for _, editing := range p.EditingGoalIDs {
			if editing == goalID {
				return true
			}
		}
	}
	return false
}

// ActiveEditors lists the other participants editing goalID, for UIs that
// name the conflicting users instead of showing a bare flag.
func (a *Advisory) ActiveEditors(reportID, goalID, selfUserID string) []presence.Participant {
	var editors []presence.Participant
	for _, p := range a.presence.Roster(reportID) {
		if p.ID == selfUserID {
			continue
		}
		for _, editing := range p.EditingGoalIDs {
			if editing == goalID {
				editors = append(editors, p)
				break
			}
		}
	}
	return editors
}
