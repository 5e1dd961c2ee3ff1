package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionApprove, false},
		{RoleSpecialist, ActionRead, true},
		{RoleSpecialist, ActionWrite, true},
		{RoleSpecialist, ActionApprove, false},
		{RoleSpecialist, ActionReconcile, false},
		{RoleApprover, ActionWrite, true},
		{RoleApprover, ActionApprove, true},
		{RoleApprover, ActionReconcile, false},
		{RoleAdmin, ActionApprove, true},
		{RoleAdmin, ActionReconcile, true},
		{RoleAdmin, ActionAdmin, true},
		{Role("bogus"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("approver") != RoleApprover {
		t.Error("known role must pass through")
	}
	if Normalize("") != RoleViewer {
		t.Error("empty role must default to viewer")
	}
	if Normalize("superuser") != RoleViewer {
		t.Error("unknown role must default to viewer")
	}
}
