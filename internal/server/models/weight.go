package models

import "time"

// Weight registers a model the owner can run analyses against.
// APIKey is a provider secret and is never serialized. StorageKey is the
// archived weights file of a custom model, empty for demo models.
type Weight struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Workspace  string    `json:"workspace"`
	Project    string    `json:"project"`
	APIKey     string    `json:"-"`
	Version    int       `json:"version"`
	ModelType  string    `json:"model_type"`
	Kind       string    `json:"kind"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
