package classlab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classlab/classlab/logger"
)

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateUserRole(ctx context.Context, id string, role Role) error
	// CountNamespaceAdmins counts users with the namespace-admin role inside
	// one namespace.
	CountNamespaceAdmins(ctx context.Context, namespaceID string) (int, error)
}

// UserService applies the cross-user management rules on top of the store:
// namespace concealment, the management matrix, self-protection, and the
// last-admin guarantee.
type UserService struct {
	store  UserStore
	rbac   *Evaluator
	logger logger.Logger
	now    func() time.Time
}

// UserServiceOption configures a UserService.
type UserServiceOption func(*UserService)

func WithUserServiceLogger(l logger.Logger) UserServiceOption {
	return func(s *UserService) { s.logger = l }
}

func NewUserService(store UserStore, rbac *Evaluator, opts ...UserServiceOption) *UserService {
	s := &UserService{
		store:  store,
		rbac:   rbac,
		logger: logger.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser adds a user to the actor's namespace. Requires user.create.
// Only system admins may mint other system admins or place a user outside
// their own namespace.
func (s *UserService) CreateUser(ctx context.Context, actor *User, role Role, namespaceID string) (*User, error) {
	if err := s.rbac.AssertPermission(actor, PermUserCreate); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, NewStateConflictError("Unknown role: " + string(role))
	}
	if actor.Role != RoleSystemAdmin {
		if role == RoleSystemAdmin || role == RoleNamespaceAdmin {
			return nil, NewAuthorizationError("only a system admin can create admin accounts")
		}
		namespaceID = actor.NamespaceID
	}
	u := &User{
		ID:          uuid.NewString(),
		Role:        role,
		NamespaceID: namespaceID,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID, "role", string(role), "namespace_id", namespaceID)
	return u, nil
}

// DeleteUser removes the target user. The acting user can never delete
// themselves, and the last namespace admin of a namespace cannot be
// deleted at all.
func (s *UserService) DeleteUser(ctx context.Context, actor *User, targetID string) error {
	target, err := s.loadVisible(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if actor.ID == target.ID {
		return NewStateConflictError(MsgSelfDelete)
	}
	if err := s.rbac.AssertPermission(actor, PermUserDelete); err != nil {
		return err
	}
	if !s.rbac.CanManageUser(actor, target) {
		return NewAuthorizationError("you cannot manage this user")
	}
	if target.Role == RoleNamespaceAdmin {
		if err := s.requireAnotherAdmin(ctx, target.NamespaceID, MsgDeleteLastAdmin); err != nil {
			return err
		}
	}
	if err := s.store.DeleteUser(ctx, target.ID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", target.ID, "actor_id", actor.ID)
	return nil
}

// ChangeRole moves the target user to a new role. Self-demotion is
// refused, as is demoting a namespace's last admin, and only system admins
// can grant the system-admin role.
func (s *UserService) ChangeRole(ctx context.Context, actor *User, targetID string, newRole Role) error {
	target, err := s.loadVisible(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if !newRole.Valid() {
		return NewStateConflictError("Unknown role: " + string(newRole))
	}
	if actor.ID == target.ID {
		return NewStateConflictError(MsgSelfDemote)
	}
	if err := s.rbac.AssertPermission(actor, PermUserChangeRole); err != nil {
		return err
	}
	if !s.rbac.CanManageUser(actor, target) {
		return NewAuthorizationError("you cannot manage this user")
	}
	if newRole == RoleSystemAdmin && actor.Role != RoleSystemAdmin {
		return NewAuthorizationError("only a system admin can grant the system-admin role")
	}
	if target.Role == RoleNamespaceAdmin && newRole != RoleNamespaceAdmin {
		if err := s.requireAnotherAdmin(ctx, target.NamespaceID, MsgDemoteLastAdmin); err != nil {
			return err
		}
	}
	if err := s.store.UpdateUserRole(ctx, target.ID, newRole); err != nil {
		return err
	}
	s.logger.Info("user role changed", "user_id", target.ID, "role", string(newRole), "actor_id", actor.ID)
	return nil
}

// loadVisible loads the target and conceals cross-namespace users from
// non-system-admin actors as not found.
func (s *UserService) loadVisible(ctx context.Context, actor *User, targetID string) (*User, error) {
	if actor == nil {
		return nil, NewAuthenticationError("")
	}
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleSystemAdmin && target.NamespaceID != actor.NamespaceID {
		return nil, NewNotFoundError("user")
	}
	return target, nil
}

func (s *UserService) requireAnotherAdmin(ctx context.Context, namespaceID, conflictMsg string) error {
	n, err := s.store.CountNamespaceAdmins(ctx, namespaceID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return NewStateConflictError(conflictMsg)
	}
	return nil
}
