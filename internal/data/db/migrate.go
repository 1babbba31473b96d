package db

import (
	"gorm.io/gorm"

	types "github.com/semlink/semlink/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Documents and their structured sections
		&types.Document{},
		&types.Section{},

		// Matching output
		&types.Association{},
		&types.AssociationRun{},
	)
}
