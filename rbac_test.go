package classlab

import (
	"context"
	"testing"
)

func newTestEvaluator(t *testing.T, sessions SessionReader) *Evaluator {
	t.Helper()
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	e, err := NewEvaluator(sessions, WithAccessCacheTTL(0))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestHasPermissionNilAndUnknown(t *testing.T) {
	e := newTestEvaluator(t, nil)
	if e.HasPermission(nil, PermUserDelete) {
		t.Fatalf("nil user should hold nothing")
	}
	if e.HasPermission(&User{ID: "u", Role: Role("ghost")}, PermUserDelete) {
		t.Fatalf("unknown role should hold nothing")
	}
}

func TestAssertPermissionNamesMissingPermission(t *testing.T) {
	e := newTestEvaluator(t, nil)
	student := &User{ID: "s1", Role: RoleStudent, NamespaceID: "ns1"}
	err := e.AssertPermission(student, PermSessionCreate)
	if err == nil {
		t.Fatalf("expected authorization error")
	}
	authzErr, ok := err.(*AuthorizationError)
	if !ok {
		t.Fatalf("expected *AuthorizationError, got %T", err)
	}
	if authzErr.Permission != PermSessionCreate {
		t.Fatalf("error should name the missing permission, got %q", authzErr.Permission)
	}
	if HTTPStatus(err) != 403 {
		t.Fatalf("expected 403, got %d", HTTPStatus(err))
	}
}

func TestCanManageUserMatrix(t *testing.T) {
	e := newTestEvaluator(t, nil)

	sysAdmin := &User{ID: "sys", Role: RoleSystemAdmin}
	otherSysAdmin := &User{ID: "sys2", Role: RoleSystemAdmin}
	nsAdmin := &User{ID: "nsa", Role: RoleNamespaceAdmin, NamespaceID: "ns1"}
	otherNsAdmin := &User{ID: "nsa2", Role: RoleNamespaceAdmin, NamespaceID: "ns1"}
	instructor := &User{ID: "inst", Role: RoleInstructor, NamespaceID: "ns1"}
	student := &User{ID: "stu", Role: RoleStudent, NamespaceID: "ns1"}
	foreignStudent := &User{ID: "stu2", Role: RoleStudent, NamespaceID: "ns2"}
	foreignInstructor := &User{ID: "inst2", Role: RoleInstructor, NamespaceID: "ns2"}

	cases := []struct {
		name   string
		actor  *User
		target *User
		want   bool
	}{
		{"system admin manages student", sysAdmin, student, true},
		{"system admin manages ns admin", sysAdmin, nsAdmin, true},
		{"system admin manages other system admin", sysAdmin, otherSysAdmin, true},
		{"system admin manages cross-namespace", sysAdmin, foreignStudent, true},
		{"ns admin manages same-ns student", nsAdmin, student, true},
		{"ns admin manages same-ns instructor", nsAdmin, instructor, true},
		{"ns admin cannot manage other ns admin", nsAdmin, otherNsAdmin, false},
		{"ns admin cannot manage system admin", nsAdmin, sysAdmin, false},
		{"ns admin cannot cross namespace", nsAdmin, foreignStudent, false},
		{"instructor manages same-ns student", instructor, student, true},
		{"instructor cannot manage instructor", instructor, foreignInstructor, false},
		{"instructor cannot manage ns admin", instructor, nsAdmin, false},
		{"instructor cannot cross namespace", instructor, foreignStudent, false},
		{"student manages no one", student, foreignStudent, false},
		{"student cannot manage student", student, &User{ID: "x", Role: RoleStudent, NamespaceID: "ns1"}, false},
		{"no self management for ns admin", nsAdmin, nsAdmin, false},
		{"no self management for instructor", instructor, instructor, false},
		{"no self management for student", student, student, false},
	}
	for _, tc := range cases {
		if got := e.CanManageUser(tc.actor, tc.target); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanAccessSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	e := newTestEvaluator(t, store)

	sess := &Session{
		ID: "sess1", NamespaceID: "ns1", SectionID: "sec1",
		Status: SessionActive, CreatorID: "inst",
		Participants: []string{"stu"},
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	cases := []struct {
		name string
		user *User
		want bool
	}{
		{"system admin", &User{ID: "sys", Role: RoleSystemAdmin}, true},
		{"instructor same namespace with viewAll", &User{ID: "other-inst", Role: RoleInstructor, NamespaceID: "ns1"}, true},
		{"creator instructor", &User{ID: "inst", Role: RoleInstructor, NamespaceID: "ns1"}, true},
		{"namespace admin same namespace", &User{ID: "nsa", Role: RoleNamespaceAdmin, NamespaceID: "ns1"}, true},
		{"instructor foreign namespace", &User{ID: "inst2", Role: RoleInstructor, NamespaceID: "ns2"}, false},
		{"participant student", &User{ID: "stu", Role: RoleStudent, NamespaceID: "ns1"}, true},
		{"non-participant student", &User{ID: "stu2", Role: RoleStudent, NamespaceID: "ns1"}, false},
		{"foreign student", &User{ID: "stu9", Role: RoleStudent, NamespaceID: "ns2"}, false},
	}
	for _, tc := range cases {
		got, err := e.CanAccessSession(ctx, tc.user, "sess1")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

// A non-positive cache TTL disables decision reuse: an access change is
// visible on the very next check.
func TestCanAccessSessionNoCacheWhenTTLDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	e := newTestEvaluator(t, store)

	sess := &Session{
		ID: "sess1", NamespaceID: "ns1", SectionID: "sec1",
		Status: SessionActive, CreatorID: "inst",
		Participants: []string{},
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	stu := &User{ID: "stu", Role: RoleStudent, NamespaceID: "ns1"}

	got, err := e.CanAccessSession(ctx, stu, "sess1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got {
		t.Fatalf("non-participant should be denied")
	}

	sess.Participants = []string{"stu"}
	if err := store.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("update session: %v", err)
	}
	got, err = e.CanAccessSession(ctx, stu, "sess1")
	if err != nil {
		t.Fatalf("check after join: %v", err)
	}
	if !got {
		t.Fatalf("joining the session must be visible immediately when the cache is disabled")
	}
}

func TestCanAccessSessionMissingSession(t *testing.T) {
	e := newTestEvaluator(t, NewMemorySessionStore())
	u := &User{ID: "stu", Role: RoleStudent, NamespaceID: "ns1"}
	_, err := e.CanAccessSession(context.Background(), u, "missing")
	if err == nil {
		t.Fatalf("expected not found error")
	}
	if HTTPStatus(err) != 404 {
		t.Fatalf("expected 404, got %d", HTTPStatus(err))
	}
}
