package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultStoreTimeout = 5 * time.Second

	opRepositoryNew    = "users.repository.new"
	opFindByEmail      = "users.find_by_email"
	opFindByID         = "users.find_by_id"
	opFindLink         = "users.find_link"
	opCreateAccount    = "users.create_account"
	opCreateLinked     = "users.create_linked_account"
	opCreateLink       = "users.create_link"
	opUpdateLinkTokens = "users.update_link_tokens"
	opUpdateProfile    = "users.update_profile"
	opAssignRole       = "users.assign_role"
	opRevokeRole       = "users.revoke_role"
	accountRolesTable  = "account_roles"
)

var errMissingDatabase = errors.New("database handle is required")

// RepositoryConfig describes the dependencies of the gorm-backed account store.
type RepositoryConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	// Timeout bounds every store call; expiry surfaces as ErrStoreUnavailable.
	Timeout time.Duration
}

// Repository persists accounts, provider links and role assignments.
type Repository struct {
	db         *gorm.DB
	idProvider IDProvider
	timeout    time.Duration
}

// NewRepository constructs a Repository over an already migrated database.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Repository{
		db:         cfg.Database,
		idProvider: idProvider,
		timeout:    timeout,
	}, nil
}

func (r *Repository) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	scoped, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(scoped), cancel
}

func (r *Repository) loadAccount(db *gorm.DB, query string, arg any) (Account, error) {
	var account Account
	err := db.
		Preload("Roles", func(tx *gorm.DB) *gorm.DB { return tx.Order("roles.name ASC") }).
		Preload("Links", func(tx *gorm.DB) *gorm.DB { return tx.Order("provider_links.provider ASC") }).
		Where(query, arg).
		Take(&account).
		Error
	return account, err
}

// FindByEmail loads the account owning email together with its roles and links.
func (r *Repository) FindByEmail(ctx context.Context, email string) (Account, error) {
	db, cancel := r.session(ctx)
	defer cancel()

	account, err := r.loadAccount(db, "email = ?", NormalizeEmail(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, newServiceError(opFindByEmail, "query_failed", translateStoreError(err))
	}
	return account, nil
}

// FindByID loads the account by surrogate id together with its roles and links.
func (r *Repository) FindByID(ctx context.Context, id string) (Account, error) {
	db, cancel := r.session(ctx)
	defer cancel()

	account, err := r.loadAccount(db, "id = ?", normalize(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, newServiceError(opFindByID, "query_failed", translateStoreError(err))
	}
	return account, nil
}

// FindLink returns the link bound to provider+subject.
func (r *Repository) FindLink(ctx context.Context, provider, subject string) (ProviderLink, error) {
	db, cancel := r.session(ctx)
	defer cancel()

	var link ProviderLink
	err := db.Where("provider = ? AND provider_subject_id = ?", provider, subject).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProviderLink{}, ErrLinkNotFound
	}
	if err != nil {
		return ProviderLink{}, newServiceError(opFindLink, "query_failed", translateStoreError(err))
	}
	return link, nil
}

// CreateAccount inserts a new account. A duplicate email yields ErrConflict.
func (r *Repository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if err := r.prepareAccount(&account); err != nil {
		return Account{}, newServiceError(opCreateAccount, "id_generation_failed", err)
	}

	db, cancel := r.session(ctx)
	defer cancel()

	if err := db.Omit(clause.Associations).Create(&account).Error; err != nil {
		return Account{}, newServiceError(opCreateAccount, "insert_failed", translateStoreError(err))
	}
	return account, nil
}

// CreateAccountWithLink inserts an account and its first provider link in one transaction,
// so an account without its link is never observable.
func (r *Repository) CreateAccountWithLink(ctx context.Context, account Account, link ProviderLink) (Account, error) {
	if err := r.prepareAccount(&account); err != nil {
		return Account{}, newServiceError(opCreateLinked, "id_generation_failed", err)
	}
	if err := r.prepareLink(&link); err != nil {
		return Account{}, newServiceError(opCreateLinked, "id_generation_failed", err)
	}
	link.AccountID = account.ID

	db, cancel := r.session(ctx)
	defer cancel()

	txErr := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&account).Error; err != nil {
			return err
		}
		return tx.Create(&link).Error
	})
	if txErr != nil {
		return Account{}, newServiceError(opCreateLinked, "insert_failed", translateStoreError(txErr))
	}
	account.Links = []ProviderLink{link}
	return account, nil
}

// CreateLink attaches a provider link to an existing account.
func (r *Repository) CreateLink(ctx context.Context, link ProviderLink) (ProviderLink, error) {
	if normalize(link.AccountID) == "" {
		return ProviderLink{}, newServiceError(opCreateLink, "missing_account_id", ErrInvalidAssertion)
	}
	if err := r.prepareLink(&link); err != nil {
		return ProviderLink{}, newServiceError(opCreateLink, "id_generation_failed", err)
	}

	db, cancel := r.session(ctx)
	defer cancel()

	if err := db.Create(&link).Error; err != nil {
		return ProviderLink{}, newServiceError(opCreateLink, "insert_failed", translateStoreError(err))
	}
	return link, nil
}

// UpdateLinkTokens refreshes the token fields of a link. The access token and expiry are always
// written; the other tokens keep their stored value when the new assertion omits them.
func (r *Repository) UpdateLinkTokens(ctx context.Context, linkID string, tokens ProviderTokens) error {
	updates := map[string]interface{}{
		"access_token": normalize(tokens.AccessToken),
		"token_expiry": tokens.Expiry,
	}
	optional := map[string]string{
		"refresh_token": tokens.RefreshToken,
		"id_token":      tokens.IDToken,
		"token_type":    tokens.TokenType,
		"scope":         tokens.Scope,
	}
	for column, value := range optional {
		if value = normalize(value); value != "" {
			updates[column] = value
		}
	}

	db, cancel := r.session(ctx)
	defer cancel()

	result := db.Model(&ProviderLink{}).
		Where("id = ?", linkID).
		Updates(updates)
	if result.Error != nil {
		return newServiceError(opUpdateLinkTokens, "update_failed", translateStoreError(result.Error))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateLinkTokens, "missing_link", ErrLinkNotFound)
	}
	return nil
}

// UpdateProfile overwrites display name and picture. Empty values leave the stored value in place.
func (r *Repository) UpdateProfile(ctx context.Context, accountID, name, picture string) error {
	updates := map[string]interface{}{}
	if value := normalize(name); value != "" {
		updates["name"] = value
	}
	if value := normalize(picture); value != "" {
		updates["picture"] = value
	}
	if len(updates) == 0 {
		return nil
	}

	db, cancel := r.session(ctx)
	defer cancel()

	result := db.Model(&Account{}).Where("id = ?", accountID).Updates(updates)
	if result.Error != nil {
		return newServiceError(opUpdateProfile, "update_failed", translateStoreError(result.Error))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateProfile, "missing_account", ErrAccountNotFound)
	}
	return nil
}

// AssignRole grants roleName to the account, creating the role when it does not exist yet.
// Granting a role twice is a no-op.
func (r *Repository) AssignRole(ctx context.Context, accountID, roleName string) error {
	name := normalizeKey(roleName)
	if name == "" {
		return newServiceError(opAssignRole, "missing_role", ErrInvalidAssertion)
	}
	roleID, err := r.idProvider.NewID()
	if err != nil {
		return newServiceError(opAssignRole, "id_generation_failed", err)
	}

	db, cancel := r.session(ctx)
	defer cancel()

	txErr := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Role{ID: roleID, Name: name}).Error; err != nil {
			return err
		}
		var role Role
		if err := tx.Where("name = ?", name).Take(&role).Error; err != nil {
			return err
		}
		return tx.Table(accountRolesTable).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(map[string]interface{}{"account_id": accountID, "role_id": role.ID}).
			Error
	})
	if txErr != nil {
		return newServiceError(opAssignRole, "assign_failed", translateStoreError(txErr))
	}
	return nil
}

// RevokeRole removes roleName from the account. Revoking an absent role is a no-op.
func (r *Repository) RevokeRole(ctx context.Context, accountID, roleName string) error {
	db, cancel := r.session(ctx)
	defer cancel()

	err := db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE account_id = ? AND role_id IN (SELECT id FROM roles WHERE name = ?)", accountRolesTable),
		accountID,
		normalizeKey(roleName),
	).Error
	if err != nil {
		return newServiceError(opRevokeRole, "delete_failed", translateStoreError(err))
	}
	return nil
}

func (r *Repository) prepareAccount(account *Account) error {
	account.Email = NormalizeEmail(account.Email)
	account.Name = normalize(account.Name)
	account.Picture = normalize(account.Picture)
	account.Roles = nil
	account.Links = nil
	if account.ID != "" {
		return nil
	}
	id, err := r.idProvider.NewID()
	if err != nil {
		return err
	}
	account.ID = id
	return nil
}

func (r *Repository) prepareLink(link *ProviderLink) error {
	if link.TokenType == "" {
		link.TokenType = defaultTokenType
	}
	if link.ID != "" {
		return nil
	}
	id, err := r.idProvider.NewID()
	if err != nil {
		return err
	}
	link.ID = id
	return nil
}
