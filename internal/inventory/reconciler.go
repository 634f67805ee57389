// Package inventory reconciles connector discovery results into the
// durable account and resource tables.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
)

// AccountParams identifies one linked external account plus the mutable
// metadata refreshed on every discovery.
type AccountParams struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	DisplayName       string
	PrimaryEmail      string
	RawProfile        any
}

// Resource is one discovered resource as reported by a connector.
type Resource struct {
	Type string
	ID   string
	Name string
	Meta any
}

// Reconciler owns the inventory tables. Discovery results are
// authoritative: the stored resource set for an account is fully
// replaced on each reconciliation.
type Reconciler struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a reconciler over the given database.
func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db, locks: make(map[string]*sync.Mutex)}
}

// accountLock returns the per-account mutex, creating it on first use.
// Replacements for the same account must not interleave; cross-account
// operations stay fully parallel.
func (r *Reconciler) accountLock(accountID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[accountID] = l
	}
	return l
}

// UpsertAccount creates the account row if absent, else updates the
// mutable fields. Returns the durable account id used as the resource
// foreign key.
func (r *Reconciler) UpsertAccount(ctx context.Context, p AccountParams) (string, error) {
	profile, err := json.Marshal(p.RawProfile)
	if err != nil {
		return "", err
	}

	var accountID string
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.InventoryAccount
		err := tx.Where("user_id = ? AND provider = ? AND provider_account_id = ?",
			p.UserID, p.Provider, p.ProviderAccountID).First(&existing).Error

		switch {
		case err == nil:
			existing.DisplayName = p.DisplayName
			existing.PrimaryEmail = p.PrimaryEmail
			existing.RawProfile = string(profile)
			existing.UpdatedAt = time.Now()
			accountID = existing.ID
			return tx.Save(&existing).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			account := models.InventoryAccount{
				ID:                uuid.New().String(),
				UserID:            p.UserID,
				Provider:          p.Provider,
				ProviderAccountID: p.ProviderAccountID,
				DisplayName:       p.DisplayName,
				PrimaryEmail:      p.PrimaryEmail,
				RawProfile:        string(profile),
			}
			accountID = account.ID
			return tx.Create(&account).Error

		default:
			return err
		}
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// ReplaceResources swaps the stored resource set for the account with the
// given one: delete-then-insert inside a single transaction, so a crash
// mid-operation can never leave the account with zero resources.
// Idempotent; a resource absent from the listing no longer exists in
// storage afterwards.
func (r *Reconciler) ReplaceResources(ctx context.Context, accountID string, resources []Resource) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).
			Delete(&models.InventoryResource{}).Error; err != nil {
			return err
		}
		for _, res := range resources {
			meta, err := json.Marshal(res.Meta)
			if err != nil {
				return err
			}
			row := models.InventoryResource{
				ID:           uuid.New().String(),
				AccountID:    accountID,
				ResourceType: res.Type,
				ResourceID:   res.ID,
				Name:         res.Name,
				Meta:         string(meta),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("📦 Reconciled %d resources for account %s", len(resources), accountID)
	return nil
}

// ListAccounts returns every known inventory account. Used by the
// nightly rediscovery sweep.
func (r *Reconciler) ListAccounts(ctx context.Context) ([]models.InventoryAccount, error) {
	var accounts []models.InventoryAccount
	if err := r.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
