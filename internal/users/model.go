package users

import (
	"strings"
	"time"
)

const (
	// ProviderGoogle identifies Google sign-in links.
	ProviderGoogle = "google"
	// ProviderApple identifies Sign in with Apple links.
	ProviderApple = "apple"

	// RoleAdmin is the role seeded for administrative access.
	RoleAdmin = "admin"

	defaultTokenType = "Bearer"
)

// Account is the canonical identity record. Email is the only key shared across login channels.
type Account struct {
	ID           string         `gorm:"column:id;primaryKey;size:64;not null"`
	Email        string         `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	PasswordHash string         `gorm:"column:password_hash;size:255;not null;default:''"`
	Name         string         `gorm:"column:name;size:320;not null;default:''"`
	Picture      string         `gorm:"column:picture;size:1024;not null;default:''"`
	Roles        []Role         `gorm:"many2many:account_roles;constraint:OnDelete:CASCADE"`
	Links        []ProviderLink `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// HasPassword reports whether the local password channel is enabled for the account.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// HasRole reports whether the account holds the named role.
func (a Account) HasRole(name string) bool {
	name = normalizeKey(name)
	for _, role := range a.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

// RoleNames lists the names of the roles assigned to the account.
func (a Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		names = append(names, role.Name)
	}
	return names
}

// LinkFor returns the provider link bound to provider+subject, if present.
func (a Account) LinkFor(provider, subject string) (ProviderLink, bool) {
	for _, link := range a.Links {
		if link.Provider == provider && link.ProviderSubjectID == subject {
			return link, true
		}
	}
	return ProviderLink{}, false
}

// LinkForProvider returns the account's link for provider regardless of subject.
func (a Account) LinkForProvider(provider string) (ProviderLink, bool) {
	for _, link := range a.Links {
		if link.Provider == provider {
			return link, true
		}
	}
	return ProviderLink{}, false
}

// ProviderLink binds one external provider subject to exactly one account.
type ProviderLink struct {
	ID                string     `gorm:"column:id;primaryKey;size:64;not null"`
	AccountID         string     `gorm:"column:account_id;size:64;not null;uniqueIndex:idx_provider_links_account_provider,priority:1"`
	Provider          string     `gorm:"column:provider;size:32;not null;uniqueIndex:idx_provider_links_subject,priority:1;uniqueIndex:idx_provider_links_account_provider,priority:2"`
	ProviderSubjectID string     `gorm:"column:provider_subject_id;size:190;not null;uniqueIndex:idx_provider_links_subject,priority:2"`
	AccessToken       string     `gorm:"column:access_token;type:text;not null;default:''"`
	RefreshToken      string     `gorm:"column:refresh_token;type:text;not null;default:''"`
	IDToken           string     `gorm:"column:id_token;type:text;not null;default:''"`
	TokenType         string     `gorm:"column:token_type;size:32;not null;default:''"`
	Scope             string     `gorm:"column:scope;size:512;not null;default:''"`
	TokenExpiry       *time.Time `gorm:"column:token_expiry"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing provider links.
func (ProviderLink) TableName() string {
	return "provider_links"
}

// Role is a named capability assignable to accounts.
type Role struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Name      string    `gorm:"column:name;size:64;not null;uniqueIndex:idx_roles_name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing roles.
func (Role) TableName() string {
	return "roles"
}

// ProviderTokens carries the opaque upstream tokens stored on a provider link.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	Expiry       *time.Time
}

func (t ProviderTokens) apply(link *ProviderLink) {
	link.AccessToken = t.AccessToken
	link.RefreshToken = t.RefreshToken
	link.IDToken = t.IDToken
	link.TokenType = t.TokenType
	if link.TokenType == "" {
		link.TokenType = defaultTokenType
	}
	link.Scope = t.Scope
	link.TokenExpiry = t.Expiry
}

// NormalizeEmail canonicalizes an email address for storage and lookup.
func NormalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}

func normalizeKey(value string) string {
	return strings.ToLower(normalize(value))
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
