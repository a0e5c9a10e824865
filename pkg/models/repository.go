package models

import (
	"time"

	"github.com/google/uuid"
)

// Repository is a code repository known to the engine. A repository is
// created on first submission and reused by every later analysis of the
// same owner/name pair.
type Repository struct {
	ID            uuid.UUID `json:"id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	SourceURL     string    `json:"source_url"`
	DefaultBranch string    `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FullName returns the owner/name form used by code-host APIs.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}
