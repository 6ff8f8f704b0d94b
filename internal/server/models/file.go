// Package models defines server-side data models persisted in the database.
package models

import "time"

// File is the record of one completed analysis. URL points at the
// annotated image; StorageKey is its key in the blob store.
type File struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	WeightID       string    `json:"weight_id,omitempty"`
	Name           string    `json:"name"`
	StorageKey     string    `json:"-"`
	Dimensions     string    `json:"dimensions"`
	Size           string    `json:"size"`
	URL            string    `json:"url"`
	Classification string    `json:"classification"`
	Accuracy       string    `json:"accuracy"`
	ErrorRate      string    `json:"error_rate"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UploadedImage describes a staged original returned by Upload.
type UploadedImage struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Dimensions string `json:"dimensions"`
	Size       string `json:"size"`
}

// DemoResult is the outcome of an analysis with the demo model. It is
// never persisted.
type DemoResult struct {
	URL            string `json:"url"`
	Classification string `json:"classification"`
	Accuracy       string `json:"accuracy"`
	ErrorRate      string `json:"error_rate"`
}
