package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Name     string `gorm:"type:text"`                      // Display name.
	Email    string `gorm:"type:text"`                      // Email address.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Admin    bool `gorm:"not null;default:false"` // Grants access to the admin API.
	Active   bool `gorm:"not null;default:true"`  // Whether the user can sign in.
	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	AccessTokens []AccessToken `gorm:"foreignKey:UserID"` // Issued tokens.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CanSignIn reports whether the account may authenticate.
func (u *User) CanSignIn() bool {
	return u != nil && u.Active && !u.Disabled
}
