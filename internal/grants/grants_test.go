package grants

import (
	"context"
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr bool
	}{
		{"viewer", "viewer", RoleViewer, false},
		{"editor", "editor", RoleEditor, false},
		{"admin", "admin", RoleAdmin, false},
		{"uppercase", "EDITOR", RoleEditor, false},
		{"whitespace", "  admin  ", RoleAdmin, false},
		{"owner is not assignable", "owner", "", true},
		{"empty", "", "", true},
		{"unknown", "superuser", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoleAtMost(t *testing.T) {
	tests := []struct {
		r     Role
		other Role
		want  bool
	}{
		{RoleViewer, RoleViewer, true},
		{RoleViewer, RoleEditor, true},
		{RoleEditor, RoleViewer, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleOwner, true},
		{RoleOwner, RoleAdmin, false},
		{RoleEditor, RoleOwner, true},
	}

	for _, tt := range tests {
		if got := tt.r.AtMost(tt.other); got != tt.want {
			t.Errorf("%s.AtMost(%s) = %v, want %v", tt.r, tt.other, got, tt.want)
		}
	}
}

func TestForRole(t *testing.T) {
	viewer := ForRole(RoleViewer)
	if !viewer.CanView || viewer.CanEdit || viewer.CanInvite || viewer.CanManageCollaborators {
		t.Errorf("viewer permission = %+v, want view only", viewer)
	}

	editor := ForRole(RoleEditor)
	if !editor.CanView || !editor.CanEdit || editor.CanInvite || editor.CanManageCollaborators {
		t.Errorf("editor permission = %+v, want view+edit", editor)
	}

	for _, r := range []Role{RoleAdmin, RoleOwner} {
		p := ForRole(r)
		if !p.CanView || !p.CanEdit || !p.CanInvite || !p.CanManageCollaborators {
			t.Errorf("%s permission = %+v, want all", r, p)
		}
	}

	// Unknown roles degrade to viewer.
	unknown := ForRole(Role("bogus"))
	if !unknown.CanView || unknown.CanEdit {
		t.Errorf("unknown role permission = %+v, want viewer", unknown)
	}
}

func TestForShareLink(t *testing.T) {
	ro := ForShareLink(false)
	if !ro.CanView || ro.CanEdit || ro.CanInvite || ro.CanManageCollaborators {
		t.Errorf("read-only link permission = %+v", ro)
	}

	rw := ForShareLink(true)
	if !rw.CanView || !rw.CanEdit {
		t.Errorf("editable link permission = %+v", rw)
	}
	if rw.CanInvite || rw.CanManageCollaborators {
		t.Errorf("share links must never confer invite/manage, got %+v", rw)
	}
}

func TestStateConflictError(t *testing.T) {
	err := &StateConflictError{Status: "declined"}

	if !errors.Is(err, ErrInvalidState) {
		t.Error("StateConflictError should match ErrInvalidState")
	}
	if errors.Is(err, ErrExpired) {
		t.Error("StateConflictError should not match ErrExpired")
	}

	var sce *StateConflictError
	if !errors.As(err, &sce) {
		t.Fatal("errors.As failed")
	}
	if sce.Status != "declined" {
		t.Errorf("Status = %q, want declined", sce.Status)
	}
}

func TestGrantContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := GrantFromContext(ctx); ok {
		t.Error("empty context should carry no grant")
	}

	g := &Grant{Permission: ForRole(RoleEditor), Role: RoleEditor}
	ctx = WithGrant(ctx, g)
	got, ok := GrantFromContext(ctx)
	if !ok || got != g {
		t.Errorf("GrantFromContext = %v, %v", got, ok)
	}

	if _, ok := GrantFromContext(WithGrant(context.Background(), nil)); ok {
		t.Error("nil grant should read back as absent")
	}
}
