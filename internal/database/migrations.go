package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrationSeedAdminRole = "2026-01-12_seed_admin_role"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationSeedAdminRole, apply: seedAdminRole},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		txErr := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if txErr != nil {
			logger.Error("database migration failed", zap.String("migration", migration.name), zap.Error(txErr))
			return txErr
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func seedAdminRole(db *gorm.DB) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&users.Role{ID: id.String(), Name: users.RoleAdmin}).Error
}
