package classlab

import (
	"context"
	"testing"
	"time"
)

type usersFixture struct {
	store   *MemoryUserStore
	service *UserService
}

func newUsersFixture(t *testing.T) *usersFixture {
	t.Helper()
	store := NewMemoryUserStore()
	rbac, err := NewEvaluator(NewMemorySessionStore(), WithAccessCacheTTL(0))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return &usersFixture{store: store, service: NewUserService(store, rbac)}
}

func (f *usersFixture) seed(t *testing.T, id string, role Role, ns string) *User {
	t.Helper()
	u := &User{ID: id, Role: role, NamespaceID: ns, CreatedAt: time.Now()}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return u
}

func TestCreateUserScopedToActorNamespace(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	admin := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")

	// A namespace admin cannot place users elsewhere; the namespace argument
	// is overridden with their own.
	u, err := f.service.CreateUser(ctx, admin, RoleStudent, "ns2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.NamespaceID != "ns1" {
		t.Fatalf("user landed in %q, want ns1", u.NamespaceID)
	}

	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	u, err = f.service.CreateUser(ctx, sysadmin, RoleInstructor, "ns2")
	if err != nil {
		t.Fatalf("sysadmin create: %v", err)
	}
	if u.NamespaceID != "ns2" {
		t.Fatalf("sysadmin-created user in %q, want ns2", u.NamespaceID)
	}
}

func TestOnlySystemAdminMintsAdmins(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	admin := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")

	for _, role := range []Role{RoleNamespaceAdmin, RoleSystemAdmin} {
		if _, err := f.service.CreateUser(ctx, admin, role, "ns1"); HTTPStatus(err) != 403 {
			t.Fatalf("%s by namespace admin: status %d, want 403", role, HTTPStatus(err))
		}
	}

	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	if _, err := f.service.CreateUser(ctx, sysadmin, RoleSystemAdmin, "ns0"); err != nil {
		t.Fatalf("sysadmin minting sysadmin: %v", err)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	f := newUsersFixture(t)
	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	_, err := f.service.CreateUser(context.Background(), sysadmin, Role("superuser"), "ns0")
	if HTTPStatus(err) != 400 {
		t.Fatalf("unknown role: status %d, want 400", HTTPStatus(err))
	}
}

func TestSelfDeleteRefusedForEveryRole(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()

	for _, role := range []Role{RoleStudent, RoleInstructor, RoleNamespaceAdmin, RoleSystemAdmin} {
		u := f.seed(t, "self-"+string(role), role, "ns1")
		err := f.service.DeleteUser(ctx, u, u.ID)
		if err == nil {
			t.Fatalf("%s deleted themselves", role)
		}
		if err.Error() != MsgSelfDelete {
			t.Fatalf("%s: message %q, want %q", role, err.Error(), MsgSelfDelete)
		}
		if HTTPStatus(err) != 400 {
			t.Fatalf("%s: status %d, want 400", role, HTTPStatus(err))
		}
	}
}

func TestDeleteLastNamespaceAdminRefused(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	lone := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")

	err := f.service.DeleteUser(ctx, sysadmin, lone.ID)
	if err == nil {
		t.Fatalf("deleting the last namespace admin must fail")
	}
	if err.Error() != MsgDeleteLastAdmin {
		t.Fatalf("message %q, want %q", err.Error(), MsgDeleteLastAdmin)
	}

	// With a second admin present the delete goes through.
	f.seed(t, "adm-2", RoleNamespaceAdmin, "ns1")
	if err := f.service.DeleteUser(ctx, sysadmin, lone.ID); err != nil {
		t.Fatalf("delete with a second admin present: %v", err)
	}
}

func TestDemoteLastNamespaceAdminRefused(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	lone := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")

	err := f.service.ChangeRole(ctx, sysadmin, lone.ID, RoleInstructor)
	if err == nil {
		t.Fatalf("demoting the last namespace admin must fail")
	}
	if err.Error() != MsgDemoteLastAdmin {
		t.Fatalf("message %q, want %q", err.Error(), MsgDemoteLastAdmin)
	}

	f.seed(t, "adm-2", RoleNamespaceAdmin, "ns1")
	if err := f.service.ChangeRole(ctx, sysadmin, lone.ID, RoleInstructor); err != nil {
		t.Fatalf("demote with a second admin present: %v", err)
	}
	got, err := f.store.GetUser(ctx, lone.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != RoleInstructor {
		t.Fatalf("role after demote: %q", got.Role)
	}
}

func TestSelfRoleChangeRefused(t *testing.T) {
	f := newUsersFixture(t)
	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	err := f.service.ChangeRole(context.Background(), sysadmin, sysadmin.ID, RoleStudent)
	if err == nil || err.Error() != MsgSelfDemote {
		t.Fatalf("self role change: err %v, want %q", err, MsgSelfDemote)
	}
}

func TestOnlySystemAdminGrantsSystemAdmin(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	admin := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")
	f.seed(t, "adm-2", RoleNamespaceAdmin, "ns1")
	student := f.seed(t, "stu-1", RoleStudent, "ns1")

	err := f.service.ChangeRole(ctx, admin, student.ID, RoleSystemAdmin)
	if HTTPStatus(err) != 403 {
		t.Fatalf("namespace admin granting system-admin: status %d, want 403", HTTPStatus(err))
	}
}

func TestCrossNamespaceTargetConcealed(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	admin := f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")
	outsider := f.seed(t, "stu-9", RoleStudent, "ns2")

	if err := f.service.DeleteUser(ctx, admin, outsider.ID); HTTPStatus(err) != 404 {
		t.Fatalf("cross-namespace delete: status %d, want 404", HTTPStatus(err))
	}
	if err := f.service.ChangeRole(ctx, admin, outsider.ID, RoleInstructor); HTTPStatus(err) != 404 {
		t.Fatalf("cross-namespace role change: status %d, want 404", HTTPStatus(err))
	}
}

func TestManagementMatrixEnforced(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	f.seed(t, "adm-1", RoleNamespaceAdmin, "ns1")
	admin2 := f.seed(t, "adm-2", RoleNamespaceAdmin, "ns1")
	instructor := f.seed(t, "inst-1", RoleInstructor, "ns1")
	peer := f.seed(t, "inst-2", RoleInstructor, "ns1")

	// An instructor manages students only, so a peer instructor is off
	// limits even with user.delete absent anyway.
	if err := f.service.DeleteUser(ctx, instructor, peer.ID); HTTPStatus(err) != 403 {
		t.Fatalf("instructor deleting instructor: status %d, want 403", HTTPStatus(err))
	}

	// A namespace admin cannot touch a fellow admin.
	if err := f.service.DeleteUser(ctx, admin2, "adm-1"); err == nil {
		t.Fatalf("namespace admin deleting a fellow admin should fail")
	}
}

func TestStudentCannotManageUsers(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	student := f.seed(t, "stu-1", RoleStudent, "ns1")
	other := f.seed(t, "stu-2", RoleStudent, "ns1")

	if _, err := f.service.CreateUser(ctx, student, RoleStudent, "ns1"); HTTPStatus(err) != 403 {
		t.Fatalf("student create: status %d, want 403", HTTPStatus(err))
	}
	if err := f.service.DeleteUser(ctx, student, other.ID); HTTPStatus(err) != 403 {
		t.Fatalf("student delete: status %d, want 403", HTTPStatus(err))
	}
}

func TestDeleteUnknownUser(t *testing.T) {
	f := newUsersFixture(t)
	sysadmin := f.seed(t, "root", RoleSystemAdmin, "ns0")
	if err := f.service.DeleteUser(context.Background(), sysadmin, "missing"); HTTPStatus(err) != 404 {
		t.Fatalf("missing target: status %d, want 404", HTTPStatus(err))
	}
}
