package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"gorm.io/gorm"
)

const defaultStoreTimeout = 5 * time.Second

var errMissingDatabase = errors.New("session: database handle is required")

// DatabaseStore keeps sessions in the gorm-managed sessions table.
type DatabaseStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewDatabaseStore constructs a DatabaseStore. A non-positive timeout selects the default.
func NewDatabaseStore(db *gorm.DB, timeout time.Duration) (*DatabaseStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &DatabaseStore{db: db, timeout: timeout}, nil
}

func (s *DatabaseStore) Create(ctx context.Context, record Session) error {
	if record.ID == "" || record.AccountID == "" {
		return fmt.Errorf("session: missing session id or account id")
	}
	db, cancel := s.scoped(ctx)
	defer cancel()
	return translateDatabaseError(db.Create(&record).Error)
}

func (s *DatabaseStore) Get(ctx context.Context, sessionID string) (Session, error) {
	db, cancel := s.scoped(ctx)
	defer cancel()
	var record Session
	err := db.Where("id = ?", sessionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, translateDatabaseError(err)
	}
	return record, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, sessionID string) error {
	db, cancel := s.scoped(ctx)
	defer cancel()
	return translateDatabaseError(db.Where("id = ?", sessionID).Delete(&Session{}).Error)
}

// PurgeExpired removes every session that expired before cutoff and reports how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	db, cancel := s.scoped(ctx)
	defer cancel()
	result := db.Where("expires_at < ?", cutoff.UTC()).Delete(&Session{})
	if result.Error != nil {
		return 0, translateDatabaseError(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *DatabaseStore) scoped(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	scoped, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(scoped), cancel
}

func translateDatabaseError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", users.ErrStoreUnavailable, err)
	}
	return err
}
