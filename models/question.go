package models

import "gorm.io/gorm"

// Question belongs to a survey. Options are kept as ordered child rows so
// reports can aggregate per option text.
type Question struct {
	gorm.Model
	SurveyID  uint             `gorm:"not null;index" json:"survey_id"`
	Text      string           `gorm:"not null" json:"text"`
	Parameter string           `gorm:"index" json:"parameter"` // grouping label for aggregate reporting
	Order     int              `gorm:"not null;column:display_order" json:"order"`
	Options   []QuestionOption `gorm:"foreignKey:QuestionID" json:"options"`
}

// QuestionOption is one selectable answer of a question.
type QuestionOption struct {
	gorm.Model
	QuestionID uint   `gorm:"not null;index" json:"question_id"`
	Text       string `gorm:"not null" json:"text"`
	Position   int    `gorm:"not null" json:"position"`
}

// HasOption reports whether text matches one of the question's options.
func (q *Question) HasOption(text string) bool {
	for _, opt := range q.Options {
		if opt.Text == text {
			return true
		}
	}
	return false
}
