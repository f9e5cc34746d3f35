package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/types"
)

type userRecord struct {
	ID                     string `gorm:"primaryKey"`
	RealmID                string `gorm:"index:idx_users_realm;index:idx_users_realm_username"`
	Username               string `gorm:"index:idx_users_realm_username"`
	Email                  string `gorm:"index:idx_users_email"`
	Enabled                bool
	CreatedAt              int64
	ServiceAccountClientID string
	Attributes             []byte
}

func (userRecord) TableName() string { return "users" }

type linkRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	RealmID          string `gorm:"index:idx_links_lookup"`
	UserID           string `gorm:"index:idx_links_user"`
	ProviderAlias    string `gorm:"index:idx_links_lookup"`
	ExternalUserID   string `gorm:"index:idx_links_lookup"`
	ExternalUsername string
}

func (linkRecord) TableName() string { return "federated_identities" }

type consentRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RealmID       string `gorm:"index:idx_consents_user"`
	UserID        string `gorm:"index:idx_consents_user"`
	ClientID      string
	GrantedScopes []byte
	CreatedAt     int64
	LastUpdatedAt int64
}

func (consentRecord) TableName() string { return "user_consents" }

// SQLProvider is a DelegateProvider backed by a relational database through
// GORM. It is the authoritative store in single-writer deployments and in
// the examples; production deployments typically wrap their own store
// instead.
type SQLProvider struct {
	db *gorm.DB
}

// NewSQLProvider wraps an existing GORM handle and migrates the user,
// federated identity and consent tables.
func NewSQLProvider(db *gorm.DB) (*SQLProvider, error) {
	if err := db.AutoMigrate(&userRecord{}, &linkRecord{}, &consentRecord{}); err != nil {
		return nil, err
	}
	return &SQLProvider{db: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database at path and returns a
// provider over it. Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLProvider, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewSQLProvider(db)
}

// UserByID implements cache.DelegateProvider.
func (p *SQLProvider) UserByID(ctx context.Context, realmID, id string) (*types.User, error) {
	var rec userRecord
	err := p.db.WithContext(ctx).Where("realm_id = ? AND id = ?", realmID, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordToUser(&rec)
}

// UserByUsername implements cache.DelegateProvider.
func (p *SQLProvider) UserByUsername(ctx context.Context, realmID, username string) (*types.User, error) {
	return p.findOne(ctx, "realm_id = ? AND username = ?", realmID, strings.ToLower(username))
}

// UserByEmail implements cache.DelegateProvider. Duplicate emails surface as
// ErrAmbiguousResult.
func (p *SQLProvider) UserByEmail(ctx context.Context, realmID, email string) (*types.User, error) {
	return p.findOne(ctx, "realm_id = ? AND email = ? AND email <> ''", realmID, strings.ToLower(email))
}

// UserByFederatedIdentity implements cache.DelegateProvider.
func (p *SQLProvider) UserByFederatedIdentity(ctx context.Context, realmID, providerAlias, externalUserID string) (*types.User, error) {
	var link linkRecord
	err := p.db.WithContext(ctx).
		Where("realm_id = ? AND provider_alias = ? AND external_user_id = ?", realmID, providerAlias, externalUserID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.UserByID(ctx, realmID, link.UserID)
}

// ServiceAccount implements cache.DelegateProvider.
func (p *SQLProvider) ServiceAccount(ctx context.Context, realmID, clientID string) (*types.User, error) {
	return p.findOne(ctx, "realm_id = ? AND service_account_client_id = ?", realmID, clientID)
}

// FederatedIdentities implements cache.DelegateProvider.
func (p *SQLProvider) FederatedIdentities(ctx context.Context, realmID, userID string) ([]types.FederatedIdentity, error) {
	var recs []linkRecord
	err := p.db.WithContext(ctx).Where("realm_id = ? AND user_id = ?", realmID, userID).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	links := make([]types.FederatedIdentity, 0, len(recs))
	for _, rec := range recs {
		links = append(links, types.FederatedIdentity{
			ProviderAlias:    rec.ProviderAlias,
			ExternalUserID:   rec.ExternalUserID,
			ExternalUsername: rec.ExternalUsername,
		})
	}
	return links, nil
}

// Consents implements cache.DelegateProvider.
func (p *SQLProvider) Consents(ctx context.Context, realmID, userID string) ([]types.Consent, error) {
	var recs []consentRecord
	err := p.db.WithContext(ctx).Where("realm_id = ? AND user_id = ?", realmID, userID).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	consents := make([]types.Consent, 0, len(recs))
	for _, rec := range recs {
		var scopes []string
		if len(rec.GrantedScopes) > 0 {
			if err := json.Unmarshal(rec.GrantedScopes, &scopes); err != nil {
				return nil, err
			}
		}
		consents = append(consents, types.Consent{
			ClientID:      rec.ClientID,
			GrantedScopes: scopes,
			CreatedAt:     rec.CreatedAt,
			LastUpdatedAt: rec.LastUpdatedAt,
		})
	}
	return consents, nil
}

// AddUser implements cache.DelegateProvider.
func (p *SQLProvider) AddUser(ctx context.Context, realmID, id, username string) (*types.User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	rec := userRecord{
		ID:        id,
		RealmID:   realmID,
		Username:  strings.ToLower(username),
		Enabled:   true,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return recordToUser(&rec)
}

// RemoveUser implements cache.DelegateProvider. Links and consents are
// removed with the user.
func (p *SQLProvider) RemoveUser(ctx context.Context, realmID, userID string) (bool, error) {
	var removed bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("realm_id = ? AND id = ?", realmID, userID).Delete(&userRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		if !removed {
			return nil
		}
		if err := tx.Where("realm_id = ? AND user_id = ?", realmID, userID).Delete(&linkRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("realm_id = ? AND user_id = ?", realmID, userID).Delete(&consentRecord{}).Error
	})
	return removed, err
}

// AddConsent implements cache.DelegateProvider.
func (p *SQLProvider) AddConsent(ctx context.Context, realmID, userID string, consent types.Consent) error {
	scopes, err := json.Marshal(consent.GrantedScopes)
	if err != nil {
		return err
	}
	rec := consentRecord{
		RealmID:       realmID,
		UserID:        userID,
		ClientID:      consent.ClientID,
		GrantedScopes: scopes,
		CreatedAt:     consent.CreatedAt,
		LastUpdatedAt: consent.LastUpdatedAt,
	}
	return p.db.WithContext(ctx).Create(&rec).Error
}

// UpdateConsent implements cache.DelegateProvider.
func (p *SQLProvider) UpdateConsent(ctx context.Context, realmID, userID string, consent types.Consent) error {
	scopes, err := json.Marshal(consent.GrantedScopes)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Model(&consentRecord{}).
		Where("realm_id = ? AND user_id = ? AND client_id = ?", realmID, userID, consent.ClientID).
		Updates(map[string]any{
			"granted_scopes":  scopes,
			"last_updated_at": consent.LastUpdatedAt,
		}).Error
}

// RevokeConsent implements cache.DelegateProvider.
func (p *SQLProvider) RevokeConsent(ctx context.Context, realmID, userID, clientID string) (bool, error) {
	res := p.db.WithContext(ctx).
		Where("realm_id = ? AND user_id = ? AND client_id = ?", realmID, userID, clientID).
		Delete(&consentRecord{})
	return res.RowsAffected > 0, res.Error
}

// AddFederatedIdentity implements cache.DelegateProvider.
func (p *SQLProvider) AddFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error {
	rec := linkRecord{
		RealmID:          realmID,
		UserID:           userID,
		ProviderAlias:    link.ProviderAlias,
		ExternalUserID:   link.ExternalUserID,
		ExternalUsername: link.ExternalUsername,
	}
	return p.db.WithContext(ctx).Create(&rec).Error
}

// UpdateFederatedIdentity implements cache.DelegateProvider.
func (p *SQLProvider) UpdateFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error {
	return p.db.WithContext(ctx).Model(&linkRecord{}).
		Where("realm_id = ? AND user_id = ? AND provider_alias = ?", realmID, userID, link.ProviderAlias).
		Updates(map[string]any{
			"external_user_id":  link.ExternalUserID,
			"external_username": link.ExternalUsername,
		}).Error
}

// RemoveFederatedIdentity implements cache.DelegateProvider.
func (p *SQLProvider) RemoveFederatedIdentity(ctx context.Context, realmID, userID, providerAlias string) (bool, error) {
	res := p.db.WithContext(ctx).
		Where("realm_id = ? AND user_id = ? AND provider_alias = ?", realmID, userID, providerAlias).
		Delete(&linkRecord{})
	return res.RowsAffected > 0, res.Error
}

// GrantRoleToAllUsers implements cache.DelegateProvider. Role membership is
// stored as a "roles" attribute on each user.
func (p *SQLProvider) GrantRoleToAllUsers(ctx context.Context, realmID, roleID string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recs []userRecord
		if err := tx.Where("realm_id = ?", realmID).Find(&recs).Error; err != nil {
			return err
		}
		for i := range recs {
			attrs, err := decodeAttributes(recs[i].Attributes)
			if err != nil {
				return err
			}
			if attrs == nil {
				attrs = make(map[string][]string)
			}
			attrs["roles"] = append(attrs["roles"], roleID)
			encoded, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			if err := tx.Model(&userRecord{}).Where("id = ?", recs[i].ID).
				Update("attributes", encoded).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *SQLProvider) findOne(ctx context.Context, query string, args ...any) (*types.User, error) {
	var recs []userRecord
	err := p.db.WithContext(ctx).Where(query, args...).Limit(2).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recordToUser(&recs[0])
	default:
		return nil, cache.ErrAmbiguousResult
	}
}

func recordToUser(rec *userRecord) (*types.User, error) {
	attrs, err := decodeAttributes(rec.Attributes)
	if err != nil {
		return nil, err
	}
	return &types.User{
		ID:                     rec.ID,
		RealmID:                rec.RealmID,
		Username:               rec.Username,
		Email:                  rec.Email,
		Enabled:                rec.Enabled,
		CreatedAt:              rec.CreatedAt,
		ServiceAccountClientID: rec.ServiceAccountClientID,
		Attributes:             attrs,
	}, nil
}

func decodeAttributes(data []byte) (map[string][]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attrs map[string][]string
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
