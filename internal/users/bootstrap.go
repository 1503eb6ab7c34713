package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opBootstrap = "users.bootstrap_admin"
	opRepair    = "users.repair_admin_role"
	opSetup     = "users.setup_first_admin"
)

const (
	// placeholderAdminUsername marks identities seeded with a guessable admin name.
	placeholderAdminUsername = "admin"
	renamedUsernameSuffix    = "_old"
	minSetupPasswordLength   = 6

	msgAdminExists      = "An admin already exists. Use the login page."
	msgPasswordTooShort = "Password must be at least 6 characters"
)

type BootstrapInput struct {
	Email    string
	Username string
	Password string
}

// BootstrapResult reports what BootstrapAdmin changed.
type BootstrapResult struct {
	UserID               string
	Created              bool
	RemovedPlaceholders  []string
	RenamedProfileUserID string
	RenamedTo            string
}

// BootstrapAdmin ensures exactly one identity for the email exists with admin
// rights and the requested username. Running it again converges on the same state.
func (s *Service) BootstrapAdmin(ctx context.Context, input BootstrapInput) (result BootstrapResult, err error) {
	defer func() { metrics.ObserveLifecycle(opBootstrap, err) }()

	email := strings.ToLower(normalize(input.Email))
	username := normalize(input.Username)
	if email == "" || username == "" || input.Password == "" {
		return BootstrapResult{}, apperror.Validation(opBootstrap, "missing_fields", msgMissingFields)
	}

	accounts, err := s.identities.List(ctx)
	if err != nil {
		s.logError(opBootstrap, "list_identities", err)
		return BootstrapResult{}, apperror.Identity(opBootstrap, "list_identities", msgInternal, err)
	}

	var target *identity.Account
	for index := range accounts {
		if accounts[index].Email == email {
			target = &accounts[index]
			break
		}
	}

	placeholders, err := s.placeholderIdentities(ctx, accounts, target)
	if err != nil {
		return result, err
	}
	for _, uid := range placeholders {
		if err := s.identities.Delete(ctx, uid); err != nil && !errors.Is(err, identity.ErrNotFound) {
			s.logError(opBootstrap, "delete_placeholder", err, zap.String("user_id", uid))
			return result, apperror.Identity(opBootstrap, "delete_placeholder", msgDeleteUser, err)
		}
		result.RemovedPlaceholders = append(result.RemovedPlaceholders, uid)
		s.logger.Info("placeholder admin removed", zap.String("user_id", uid))
	}

	var account identity.Account
	if target != nil {
		account, err = s.identities.Update(ctx, target.ID, identity.UpdateParams{
			Password:     input.Password,
			Metadata:     identity.UsernameMetadata(username),
			ConfirmEmail: true,
		})
		if err != nil {
			s.logError(opBootstrap, "update_identity", err, zap.String("user_id", target.ID))
			if errors.Is(err, identity.ErrPasswordTooLong) {
				return result, apperror.Validation(opBootstrap, "invalid_password", msgInvalidPassword)
			}
			return result, apperror.Identity(opBootstrap, "update_identity", msgUpdatePassword, err)
		}
	} else {
		account, err = s.identities.Create(ctx, identity.CreateParams{
			Email:        email,
			Password:     input.Password,
			Metadata:     identity.UsernameMetadata(username),
			ConfirmEmail: true,
		})
		if err != nil {
			s.logError(opBootstrap, "create_identity", err)
			if errors.Is(err, identity.ErrPasswordTooLong) {
				return result, apperror.Validation(opBootstrap, "invalid_password", msgInvalidPassword)
			}
			return result, apperror.Identity(opBootstrap, "create_identity", msgCreateIdentity, err)
		}
		result.Created = true
	}
	result.UserID = account.ID

	var holder Profile
	err = s.db.WithContext(ctx).Where("username = ? AND user_id <> ?", username, account.ID).Take(&holder).Error
	switch {
	case err == nil:
		renamed, err := s.freeUsername(ctx, username+renamedUsernameSuffix)
		if err != nil {
			s.logError(opBootstrap, "rename_profile", err)
			return result, apperror.Profile(opBootstrap, "rename_profile", msgUpdateUsername, err)
		}
		if err := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", holder.UserID).Update("username", renamed).Error; err != nil {
			s.logError(opBootstrap, "rename_profile", err, zap.String("user_id", holder.UserID))
			return result, apperror.Profile(opBootstrap, "rename_profile", msgUpdateUsername, err)
		}
		if _, err := s.identities.Update(ctx, holder.UserID, identity.UpdateParams{Metadata: identity.UsernameMetadata(renamed)}); err != nil {
			s.logger.Warn("identity metadata sync failed", zap.String("user_id", holder.UserID), zap.Error(err))
		}
		result.RenamedProfileUserID = holder.UserID
		result.RenamedTo = renamed
		s.logger.Info("conflicting profile renamed", zap.String("user_id", holder.UserID), zap.String("username", renamed))
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logError(opBootstrap, "lookup_username", err)
		return result, apperror.Profile(opBootstrap, "lookup_username", msgCreateProfile, err)
	}

	if err := s.upsertProfile(ctx, account.ID, username); err != nil {
		s.logError(opBootstrap, "upsert_profile", err, zap.String("user_id", account.ID))
		return result, apperror.Profile(opBootstrap, "upsert_profile", msgCreateProfile, err)
	}

	if err := s.replaceRole(ctx, account.ID, RoleAdmin); err != nil {
		s.logError(opBootstrap, "replace_role", err, zap.String("user_id", account.ID))
		return result, apperror.Role(opBootstrap, "replace_role", msgAssignRole, err)
	}

	s.logger.Info("admin bootstrapped",
		zap.String("user_id", account.ID),
		zap.Bool("created", result.Created),
		zap.Int("placeholders_removed", len(result.RemovedPlaceholders)),
	)
	return result, nil
}

// placeholderIdentities returns the UIDs carrying the placeholder username in
// either their identity metadata or their profile, skipping the target identity.
func (s *Service) placeholderIdentities(ctx context.Context, accounts []identity.Account, target *identity.Account) ([]string, error) {
	targetID := ""
	if target != nil {
		targetID = target.ID
	}
	seen := map[string]bool{targetID: true}
	var uids []string
	for _, account := range accounts {
		if seen[account.ID] || account.Username() != placeholderAdminUsername {
			continue
		}
		seen[account.ID] = true
		uids = append(uids, account.ID)
	}

	var profileOwners []string
	err := s.db.WithContext(ctx).Model(&Profile{}).
		Where("username = ?", placeholderAdminUsername).
		Order("created_at ASC").
		Pluck("user_id", &profileOwners).Error
	if err != nil {
		s.logError(opBootstrap, "lookup_placeholder_profiles", err)
		return nil, apperror.Profile(opBootstrap, "lookup_placeholder_profiles", msgInternal, err)
	}
	for _, uid := range profileOwners {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		uids = append(uids, uid)
	}
	return uids, nil
}

// RepairAction names the change RepairAdminRole made.
type RepairAction string

const (
	RepairInserted  RepairAction = "inserted"
	RepairUpdated   RepairAction = "updated"
	RepairUnchanged RepairAction = "unchanged"
)

type RepairResult struct {
	UserID       string
	PreviousRole Role
	Action       RepairAction
}

// RepairAdminRole makes the profile's owner an admin, inserting or correcting
// the role row as needed.
func (s *Service) RepairAdminRole(ctx context.Context, username string) (result RepairResult, err error) {
	defer func() { metrics.ObserveLifecycle(opRepair, err) }()

	username = normalize(username)
	if username == "" {
		return RepairResult{}, apperror.Validation(opRepair, "missing_username", msgMissingFields)
	}

	var profile Profile
	err = s.db.WithContext(ctx).Where("username = ?", username).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RepairResult{}, apperror.NotFound(opRepair, "profile_not_found", msgUserNotFound)
	}
	if err != nil {
		s.logError(opRepair, "load_profile", err)
		return RepairResult{}, apperror.Store(opRepair, "load_profile", msgInternal, err)
	}
	result.UserID = profile.UserID

	var assignment RoleAssignment
	err = s.db.WithContext(ctx).Where("user_id = ?", profile.UserID).Take(&assignment).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.insertRole(s.db.WithContext(ctx), profile.UserID, RoleAdmin); err != nil {
			s.logError(opRepair, "insert_role", err, zap.String("user_id", profile.UserID))
			return result, apperror.Role(opRepair, "insert_role", msgAssignRole, err)
		}
		result.Action = RepairInserted
	case err != nil:
		s.logError(opRepair, "load_role", err, zap.String("user_id", profile.UserID))
		return result, apperror.Store(opRepair, "load_role", msgInternal, err)
	case assignment.Role == RoleAdmin:
		result.PreviousRole = RoleAdmin
		result.Action = RepairUnchanged
	default:
		result.PreviousRole = assignment.Role
		if err := s.db.WithContext(ctx).Model(&RoleAssignment{}).Where("user_id = ?", profile.UserID).Update("role", RoleAdmin).Error; err != nil {
			s.logError(opRepair, "update_role", err, zap.String("user_id", profile.UserID))
			return result, apperror.Role(opRepair, "update_role", msgUpdateRole, err)
		}
		result.Action = RepairUpdated
	}

	s.logger.Info("admin role repaired", zap.String("user_id", profile.UserID), zap.String("action", string(result.Action)))
	return result, nil
}

type SetupInput struct {
	Email    string
	Password string
	Username string
}

// SetupFirstAdmin creates the first administrator. It refuses once any admin exists.
func (s *Service) SetupFirstAdmin(ctx context.Context, input SetupInput) (string, error) {
	exists, err := s.AdminExists(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		return "", apperror.Conflict(opSetup, "admin_exists", msgAdminExists, nil)
	}
	if normalize(input.Email) == "" || input.Password == "" || normalize(input.Username) == "" {
		return "", apperror.Validation(opSetup, "missing_fields", msgMissingFields)
	}
	if len(input.Password) < minSetupPasswordLength {
		return "", apperror.Validation(opSetup, "password_too_short", msgPasswordTooShort)
	}
	return s.Create(ctx, CreateInput{
		Email:    input.Email,
		Password: input.Password,
		Username: input.Username,
		Role:     string(RoleAdmin),
	})
}

func (s *Service) upsertProfile(ctx context.Context, uid, username string) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(&Profile{
		ID:        id,
		UserID:    uid,
		Username:  username,
		CreatedAt: s.clock().UTC(),
	}).Error
}

// freeUsername returns base, or base followed by the first numeric suffix not in use.
func (s *Service) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for attempt := 2; ; attempt++ {
		taken, err := s.usernameTaken(ctx, candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, attempt)
	}
}
