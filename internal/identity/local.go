package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/ids"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("identity: database connection required")

// LocalStoreConfig describes the dependencies of the table-backed identity store.
type LocalStoreConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	HashCost   int
	Logger     *zap.Logger
}

// LocalStore keeps identities in the auth_users table with bcrypt hashes.
type LocalStore struct {
	db       *gorm.DB
	ids      ids.Provider
	clock    func() time.Time
	hashCost int
	logger   *zap.Logger
}

// NewLocalStore constructs a LocalStore.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{
		db:       cfg.Database,
		ids:      idProvider,
		clock:    clock,
		hashCost: cost,
		logger:   logger,
	}, nil
}

func (s *LocalStore) Create(ctx context.Context, params CreateParams) (Account, error) {
	email := normalizeEmail(params.Email)
	if email == "" || params.Password == "" {
		return Account{}, ErrInvalidInput
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return Account{}, err
	}
	if existing > 0 {
		return Account{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}

	hash, err := s.hashPassword(params.Password)
	if err != nil {
		return Account{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Metadata:     params.Metadata,
	}
	if params.ConfirmEmail {
		confirmedAt := s.clock().UTC()
		account.EmailConfirmedAt = &confirmedAt
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Account{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return Account{}, err
	}
	s.logger.Debug("identity created", zap.String("user_id", account.ID))
	return account, nil
}

func (s *LocalStore) Update(ctx context.Context, id string, params UpdateParams) (Account, error) {
	account, err := s.find(ctx, "id = ?", id)
	if err != nil {
		return Account{}, err
	}

	changed := false
	if params.Password != "" {
		hash, err := s.hashPassword(params.Password)
		if err != nil {
			return Account{}, err
		}
		account.PasswordHash = string(hash)
		changed = true
	}
	if params.Metadata != nil {
		merged := make(map[string]any, len(account.Metadata)+len(params.Metadata))
		for key, value := range account.Metadata {
			merged[key] = value
		}
		for key, value := range params.Metadata {
			merged[key] = value
		}
		account.Metadata = merged
		changed = true
	}
	if params.ConfirmEmail && account.EmailConfirmedAt == nil {
		confirmedAt := s.clock().UTC()
		account.EmailConfirmedAt = &confirmedAt
		changed = true
	}
	if !changed {
		return account, nil
	}

	if err := s.db.WithContext(ctx).Save(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *LocalStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	return s.find(ctx, "email = ?", normalizeEmail(email))
}

func (s *LocalStore) Authenticate(ctx context.Context, email, password string) (Account, error) {
	account, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *LocalStore) find(ctx context.Context, query string, value string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where(query, value).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, value)
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// hashPassword maps bcrypt's length limit onto ErrPasswordTooLong.
func (s *LocalStore) hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	return hash, err
}
