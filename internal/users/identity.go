package users

import "time"

// Identity captures the profile of one Scribe user as shown to collaborators.
type Identity struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Username    string    `gorm:"column:username;size:190;not null;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}
