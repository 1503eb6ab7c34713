package users

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIdentities = errors.New("identity store is required")
)

const (
	opServiceNew   = "users.service.new"
	opCreate       = "users.create"
	opUpdate       = "users.update"
	opDelete       = "users.delete"
	opList         = "users.list"
	opLookup       = "users.lookup"
	opAuthenticate = "users.authenticate"
)

const (
	msgMissingFields      = "Missing required fields"
	msgInvalidRole        = "Invalid role"
	msgUsernameTaken      = "Username already exists"
	msgEmailTaken         = "A user with this email address has already been registered"
	msgCreateIdentity     = "Failed to create user"
	msgCreateProfile      = "Failed to create user profile"
	msgAssignRole         = "Failed to assign user role"
	msgUpdateUsername     = "Failed to update username"
	msgUpdateRole         = "Failed to update role"
	msgUpdatePassword     = "Failed to update password"
	msgDeleteUser         = "Failed to delete user"
	msgUserNotFound       = "User not found"
	msgInvalidPassword    = "Password must be at most 72 bytes"
	msgMissingUserID      = "Missing user id"
	msgInternal           = "Internal server error"
	msgInvalidCredentials = "Invalid login credentials"
)

// ServiceConfig describes the dependencies of the user lifecycle service.
type ServiceConfig struct {
	Database   *gorm.DB
	Identities identity.Store
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service keeps identities, profiles and role assignments consistent. Callers
// are expected to have passed credential gating; the service authorizes nothing.
type Service struct {
	db         *gorm.DB
	identities identity.Store
	clock      func() time.Time
	ids        ids.Provider
	logger     *zap.Logger
}

// NewService constructs the lifecycle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperror.Store(opServiceNew, "missing_database", msgInternal, errMissingDatabase)
	}
	if cfg.Identities == nil {
		return nil, apperror.Store(opServiceNew, "missing_identity_store", msgInternal, errMissingIdentities)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		identities: cfg.Identities,
		clock:      clock,
		ids:        idProvider,
		logger:     logger,
	}, nil
}

type CreateInput struct {
	Email    string
	Password string
	Username string
	Role     string
}

// Create provisions an identity, its profile and its role, in that order. A
// profile failure triggers a best-effort delete of the new identity; a role
// failure leaves identity and profile in place.
func (s *Service) Create(ctx context.Context, input CreateInput) (uid string, err error) {
	defer func() { metrics.ObserveLifecycle(opCreate, err) }()

	email := normalize(input.Email)
	username := normalize(input.Username)
	if email == "" || input.Password == "" || username == "" || normalize(input.Role) == "" {
		return "", apperror.Validation(opCreate, "missing_fields", msgMissingFields)
	}
	role, ok := ParseRole(input.Role)
	if !ok {
		return "", apperror.Validation(opCreate, "invalid_role", msgInvalidRole)
	}

	taken, err := s.usernameTaken(ctx, username, "")
	if err != nil {
		s.logError(opCreate, "lookup_username", err)
		return "", apperror.Store(opCreate, "lookup_username", msgInternal, err)
	}
	if taken {
		return "", apperror.Conflict(opCreate, "username_taken", msgUsernameTaken, nil)
	}

	account, err := s.identities.Create(ctx, identity.CreateParams{
		Email:        email,
		Password:     input.Password,
		Metadata:     identity.UsernameMetadata(username),
		ConfirmEmail: true,
	})
	if err != nil {
		s.logError(opCreate, "create_identity", err)
		if errors.Is(err, identity.ErrEmailTaken) {
			return "", apperror.Conflict(opCreate, "email_taken", msgEmailTaken, err)
		}
		if errors.Is(err, identity.ErrPasswordTooLong) {
			return "", apperror.Validation(opCreate, "invalid_password", msgInvalidPassword)
		}
		return "", apperror.Identity(opCreate, "create_identity", msgCreateIdentity, err)
	}
	uid = account.ID

	if err := s.insertProfile(ctx, uid, username); err != nil {
		s.logError(opCreate, "insert_profile", err, zap.String("user_id", uid))
		s.compensateIdentity(ctx, uid)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", apperror.Conflict(opCreate, "username_taken", msgUsernameTaken, err)
		}
		return "", apperror.Profile(opCreate, "insert_profile", msgCreateProfile, err)
	}

	if err := s.insertRole(s.db.WithContext(ctx), uid, role); err != nil {
		s.logError(opCreate, "insert_role", err, zap.String("user_id", uid))
		return "", apperror.Role(opCreate, "insert_role", msgAssignRole, err)
	}

	s.logger.Info("user created", zap.String("user_id", uid), zap.String("role", string(role)))
	return uid, nil
}

// UpdateInput holds optional changes; empty fields are left untouched.
type UpdateInput struct {
	Username string
	Role     string
	Password string
}

// Update applies username, role and password changes in that order and stops
// at the first failure. Earlier changes are not rolled back.
func (s *Service) Update(ctx context.Context, uid string, input UpdateInput) (err error) {
	defer func() { metrics.ObserveLifecycle(opUpdate, err) }()

	uid = normalize(uid)
	if uid == "" {
		return apperror.Validation(opUpdate, "missing_user_id", msgMissingUserID)
	}
	username := normalize(input.Username)
	var role Role
	if normalize(input.Role) != "" {
		parsed, ok := ParseRole(input.Role)
		if !ok {
			return apperror.Validation(opUpdate, "invalid_role", msgInvalidRole)
		}
		role = parsed
	}

	if username != "" {
		if err := s.updateUsername(ctx, uid, username); err != nil {
			return err
		}
	}

	if role != "" {
		exists, err := s.HasProfile(ctx, uid)
		if err != nil {
			return err
		}
		if !exists {
			return apperror.NotFound(opUpdate, "profile_not_found", msgUserNotFound)
		}
		if err := s.replaceRole(ctx, uid, role); err != nil {
			s.logError(opUpdate, "replace_role", err, zap.String("user_id", uid))
			return apperror.Role(opUpdate, "replace_role", msgUpdateRole, err)
		}
	}

	if input.Password != "" {
		if _, err := s.identities.Update(ctx, uid, identity.UpdateParams{Password: input.Password}); err != nil {
			s.logError(opUpdate, "update_password", err, zap.String("user_id", uid))
			if errors.Is(err, identity.ErrNotFound) {
				return apperror.NotFound(opUpdate, "identity_not_found", msgUserNotFound)
			}
			if errors.Is(err, identity.ErrPasswordTooLong) {
				return apperror.Validation(opUpdate, "invalid_password", msgInvalidPassword)
			}
			return apperror.Identity(opUpdate, "update_password", msgUpdatePassword, err)
		}
	}

	return nil
}

func (s *Service) updateUsername(ctx context.Context, uid, username string) error {
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", uid).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(opUpdate, "profile_not_found", msgUserNotFound)
	}
	if err != nil {
		s.logError(opUpdate, "load_profile", err, zap.String("user_id", uid))
		return apperror.Profile(opUpdate, "load_profile", msgUpdateUsername, err)
	}
	if profile.Username == username {
		return nil
	}

	taken, err := s.usernameTaken(ctx, username, uid)
	if err != nil {
		s.logError(opUpdate, "lookup_username", err, zap.String("user_id", uid))
		return apperror.Profile(opUpdate, "lookup_username", msgUpdateUsername, err)
	}
	if taken {
		return apperror.Conflict(opUpdate, "username_taken", msgUsernameTaken, nil)
	}

	err = s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", uid).Update("username", username).Error
	if err != nil {
		s.logError(opUpdate, "update_username", err, zap.String("user_id", uid))
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict(opUpdate, "username_taken", msgUsernameTaken, err)
		}
		return apperror.Profile(opUpdate, "update_username", msgUpdateUsername, err)
	}

	// Identity metadata mirrors the username for tooling that only sees identities.
	if _, err := s.identities.Update(ctx, uid, identity.UpdateParams{Metadata: identity.UsernameMetadata(username)}); err != nil {
		s.logger.Warn("identity metadata sync failed", zap.String("user_id", uid), zap.Error(err))
	}
	return nil
}

// Delete removes the identity. Profile and role rows are removed by the store.
func (s *Service) Delete(ctx context.Context, uid string) (err error) {
	defer func() { metrics.ObserveLifecycle(opDelete, err) }()

	uid = normalize(uid)
	if uid == "" {
		return apperror.Validation(opDelete, "missing_user_id", msgMissingUserID)
	}
	if err := s.identities.Delete(ctx, uid); err != nil {
		s.logError(opDelete, "delete_identity", err, zap.String("user_id", uid))
		if errors.Is(err, identity.ErrNotFound) {
			return apperror.NotFound(opDelete, "identity_not_found", msgUserNotFound)
		}
		return apperror.Identity(opDelete, "delete_identity", msgDeleteUser, err)
	}
	s.logger.Info("user deleted", zap.String("user_id", uid))
	return nil
}

// List returns every profile with its role, newest first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	var profiles []Profile
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&profiles).Error; err != nil {
		s.logError(opList, "load_profiles", err)
		return nil, apperror.Store(opList, "load_profiles", msgInternal, err)
	}
	if len(profiles) == 0 {
		return []Summary{}, nil
	}

	userIDs := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		userIDs = append(userIDs, profile.UserID)
	}
	var assignments []RoleAssignment
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&assignments).Error; err != nil {
		s.logError(opList, "load_roles", err)
		return nil, apperror.Store(opList, "load_roles", msgInternal, err)
	}
	roles := make(map[string]Role, len(assignments))
	for _, assignment := range assignments {
		roles[assignment.UserID] = assignment.Role
	}

	summaries := make([]Summary, 0, len(profiles))
	for _, profile := range profiles {
		role, ok := roles[profile.UserID]
		if !ok {
			role = RoleMember
		}
		summaries = append(summaries, Summary{
			UserID:    profile.UserID,
			Username:  profile.Username,
			Role:      role,
			CreatedAt: profile.CreatedAt,
		})
	}
	return summaries, nil
}

// Authenticate verifies credentials and returns the user's joined view.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Summary, error) {
	if normalize(email) == "" || password == "" {
		return Summary{}, apperror.Validation(opAuthenticate, "missing_fields", msgMissingFields)
	}
	account, err := s.identities.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			s.logger.Info("login rejected", zap.String("email", normalize(email)))
			return Summary{}, apperror.Unauthenticated(opAuthenticate, "invalid_credentials", msgInvalidCredentials, err)
		}
		s.logError(opAuthenticate, "identity", err)
		return Summary{}, apperror.Identity(opAuthenticate, "identity", msgInternal, err)
	}
	return s.Describe(ctx, account.ID, account.Email)
}

// Describe joins a UID with its profile and role.
func (s *Service) Describe(ctx context.Context, uid, email string) (Summary, error) {
	summary := Summary{UserID: uid, Email: email}
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", uid).Take(&profile).Error
	switch {
	case err == nil:
		summary.Username = profile.Username
		summary.CreatedAt = profile.CreatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logError(opLookup, "load_profile", err, zap.String("user_id", uid))
		return Summary{}, apperror.Store(opLookup, "load_profile", msgInternal, err)
	}
	role, err := s.RoleOf(ctx, uid)
	if err != nil {
		return Summary{}, err
	}
	summary.Role = role
	return summary, nil
}

// RoleOf returns the user's role, defaulting to member when no row exists.
func (s *Service) RoleOf(ctx context.Context, uid string) (Role, error) {
	var assignment RoleAssignment
	err := s.db.WithContext(ctx).Where("user_id = ?", uid).Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleMember, nil
	}
	if err != nil {
		s.logError(opLookup, "load_role", err, zap.String("user_id", uid))
		return "", apperror.Store(opLookup, "load_role", msgInternal, err)
	}
	return assignment.Role, nil
}

func (s *Service) IsAdmin(ctx context.Context, uid string) (bool, error) {
	role, err := s.RoleOf(ctx, uid)
	if err != nil {
		return false, err
	}
	return role == RoleAdmin, nil
}

// AdminUserIDs lists every UID holding the admin role.
func (s *Service) AdminUserIDs(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).Model(&RoleAssignment{}).
		Where("role = ?", RoleAdmin).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		s.logError(opLookup, "load_admins", err)
		return nil, apperror.Store(opLookup, "load_admins", msgInternal, err)
	}
	return userIDs, nil
}

func (s *Service) AdminExists(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&RoleAssignment{}).Where("role = ?", RoleAdmin).Count(&count).Error; err != nil {
		s.logError(opLookup, "count_admins", err)
		return false, apperror.Store(opLookup, "count_admins", msgInternal, err)
	}
	return count > 0, nil
}

func (s *Service) HasProfile(ctx context.Context, uid string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", uid).Count(&count).Error; err != nil {
		s.logError(opLookup, "count_profiles", err, zap.String("user_id", uid))
		return false, apperror.Store(opLookup, "count_profiles", msgInternal, err)
	}
	return count > 0, nil
}

// Usernames maps each known UID to its username.
func (s *Service) Usernames(ctx context.Context, uids []string) (map[string]string, error) {
	result := make(map[string]string, len(uids))
	if len(uids) == 0 {
		return result, nil
	}
	var profiles []Profile
	if err := s.db.WithContext(ctx).Where("user_id IN ?", uids).Find(&profiles).Error; err != nil {
		s.logError(opLookup, "load_usernames", err)
		return nil, apperror.Store(opLookup, "load_usernames", msgInternal, err)
	}
	for _, profile := range profiles {
		result[profile.UserID] = profile.Username
	}
	return result, nil
}

func (s *Service) usernameTaken(ctx context.Context, username, excludeUserID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&Profile{}).Where("username = ?", username)
	if excludeUserID != "" {
		query = query.Where("user_id <> ?", excludeUserID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) insertProfile(ctx context.Context, uid, username string) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&Profile{
		ID:        id,
		UserID:    uid,
		Username:  username,
		CreatedAt: s.clock().UTC(),
	}).Error
}

func (s *Service) insertRole(tx *gorm.DB, uid string, role Role) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	return tx.Create(&RoleAssignment{ID: id, UserID: uid, Role: role}).Error
}

// replaceRole deletes every role row of the user and inserts exactly one.
func (s *Service) replaceRole(ctx context.Context, uid string, role Role) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", uid).Delete(&RoleAssignment{}).Error; err != nil {
			return err
		}
		return s.insertRole(tx, uid, role)
	})
}

func (s *Service) compensateIdentity(ctx context.Context, uid string) {
	if err := s.identities.Delete(context.WithoutCancel(ctx), uid); err != nil {
		metrics.IncOrphanedIdentity()
		s.logger.Error("compensating identity delete failed",
			zap.String("user_id", uid),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("identity removed after profile failure", zap.String("user_id", uid))
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
