package models

import "time"

// User is an account row. Handlers never render a User directly; use
// Profile.
type User struct {
	ID              string
	UserName        string
	Email           string
	PasswordHash    string
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Profile is the public view of a User.
type Profile struct {
	ID              string    `json:"id"`
	UserName        string    `json:"username"`
	Email           string    `json:"email"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile returns the public view of u.
func (u *User) Profile() *Profile {
	return &Profile{
		ID:              u.ID,
		UserName:        u.UserName,
		Email:           u.Email,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.CreatedAt,
	}
}
