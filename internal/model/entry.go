package model

import "time"

// Category is the classification bucket of a captured entry.
type Category string

const (
	CategoryPeople   Category = "people"
	CategoryProjects Category = "projects"
	CategoryIdeas    Category = "ideas"
	CategoryAdmin    Category = "admin"
)

// Entry is a captured thought stored for a tenant.
type Entry struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	Category   Category  `json:"category" db:"category"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Body       string    `json:"body" db:"body"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// EntrySummary is the subset of an entry echoed back in a confirmation.
type EntrySummary struct {
	Name       string
	Category   Category
	Confidence float64
}

// Summary returns the confirmation view of the entry.
func (e Entry) Summary() EntrySummary {
	return EntrySummary{
		Name:       e.Name,
		Category:   e.Category,
		Confidence: e.Confidence,
	}
}
