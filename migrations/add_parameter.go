package migrations

import (
	"log"

	"gorm.io/gorm"
)

// AddParameterToQuestion adds the reporting parameter column to questions
// created before parameter grouping existed.
func AddParameterToQuestion(db *gorm.DB) error {
	if db.Migrator().HasColumn(&Question{}, "parameter") {
		log.Println("migration skipped: parameter column already exists")
		return nil
	}

	if err := db.Exec("ALTER TABLE questions ADD COLUMN parameter VARCHAR(191)").Error; err != nil {
		log.Printf("migration failed: %v", err)
		return err
	}
	log.Println("migration applied: parameter column added to questions")
	return nil
}

// Question is a minimal shape used only for the column check.
type Question struct {
	Parameter string
}

func (Question) TableName() string {
	return "questions"
}
