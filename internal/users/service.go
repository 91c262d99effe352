package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entries ...audit.Entry) error
}

// Service covers admin user management.
type Service interface {
	List(ctx context.Context) ([]UserDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*UserDTO, error)
	ChangeRole(ctx context.Context, actorID, targetID uuid.UUID, role string) (*UserDTO, error)
	ToggleStatus(ctx context.Context, actorID, targetID uuid.UUID) (*UserDTO, error)
}

// SessionRevoker ends every live session of a user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// ServiceParams bundles the dependencies of the user management service. Sessions is
// optional; without it a role change or deactivation only applies once tokens expire.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Audit    auditRecorder
	Sessions SessionRevoker
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	audit    auditRecorder
	sessions SessionRevoker
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: params.Repo, tx: params.Tx, audit: params.Audit, sessions: params.Sessions, logg: logg}, nil
}

func (s *service) List(ctx context.Context) ([]UserDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}
	out := make([]UserDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return FromModel(user), nil
}

// ChangeRole sets the target's role. Admins cannot change their own role.
func (s *service) ChangeRole(ctx context.Context, actorID, targetID uuid.UUID, raw string) (*UserDTO, error) {
	role, err := enums.ParseUserRole(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be admin, analyst, or viewer")
	}
	if actorID == targetID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you cannot change your own role")
	}

	var (
		updated *UserDTO
		changed bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindByID(ctx, targetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		previous := user.Role
		if previous == role {
			updated = FromModel(user)
			return nil
		}
		if previous == enums.UserRoleAdmin && user.IsActive {
			admins, err := repo.CountActiveAdmins(ctx)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count admins")
			}
			if admins <= 1 {
				return pkgerrors.New(pkgerrors.CodeConflict, "cannot demote the last active admin")
			}
		}
		if err := repo.UpdateRole(ctx, user.ID, role); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update role")
		}
		if err := s.audit.Record(ctx, tx, audit.RoleChange(user.ID, previous, role, &actorID)); err != nil {
			return err
		}
		user.Role = role
		updated = FromModel(user)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.endSessions(ctx, targetID, "role changed")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"target_user_id": targetID.String(),
		"role":           role.String(),
	}), "user role updated")
	return updated, nil
}

// ToggleStatus flips is_active. Neither the caller nor any admin can be toggled here.
func (s *service) ToggleStatus(ctx context.Context, actorID, targetID uuid.UUID) (*UserDTO, error) {
	if actorID == targetID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you cannot disable your own account")
	}

	var updated *UserDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindByID(ctx, targetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if user.Role == enums.UserRoleAdmin {
			return pkgerrors.New(pkgerrors.CodeValidation, "admin account status cannot be changed")
		}
		next := !user.IsActive
		if err := repo.UpdateActive(ctx, user.ID, next); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update status")
		}
		if err := s.audit.Record(ctx, tx, audit.ActiveChange(user.ID, user.IsActive, next, &actorID)); err != nil {
			return err
		}
		user.IsActive = next
		updated = FromModel(user)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !updated.IsActive {
		s.endSessions(ctx, targetID, "deactivated")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"target_user_id": targetID.String(),
		"is_active":      updated.IsActive,
	}), "user status updated")
	return updated, nil
}

// endSessions logs the user out everywhere. The change is already committed, so a Redis
// failure is logged rather than returned.
func (s *service) endSessions(ctx context.Context, userID uuid.UUID, reason string) {
	if s.sessions == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"target_user_id": userID.String(), "reason": reason})
	n, err := s.sessions.RevokeUser(ctx, userID)
	if err != nil {
		s.logg.Error(logCtx, "failed to revoke user sessions", err)
		return
	}
	s.logg.Info(s.logg.WithField(logCtx, "sessions", n), "user sessions revoked")
}
