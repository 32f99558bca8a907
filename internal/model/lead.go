// internal/model/lead.go
package model

import (
	"strings"
	"time"
)

type Lead struct {
	ID          int64     `db:"id" json:"id" yaml:"-"`
	TenantID    string    `db:"tenant_id" json:"tenant_id" yaml:"-"`
	Email       string    `db:"email" json:"email,omitempty" yaml:"email"`
	Name        string    `db:"name" json:"name" yaml:"name"`
	Company     string    `db:"company" json:"company,omitempty" yaml:"company"`
	Title       string    `db:"title" json:"title,omitempty" yaml:"title"`
	LinkedInURL string    `db:"linkedin_url" json:"linkedin_url,omitempty" yaml:"linkedin_url"`
	Phone       string    `db:"phone" json:"phone,omitempty" yaml:"phone"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" yaml:"-"`
}

// Placeholders exposes the fields step content may reference as {key}.
func (l *Lead) Placeholders() map[string]string {
	first, last, _ := strings.Cut(strings.TrimSpace(l.Name), " ")
	return map[string]string{
		"name":         l.Name,
		"first_name":   first,
		"last_name":    last,
		"email":        l.Email,
		"company":      l.Company,
		"title":        l.Title,
		"phone":        l.Phone,
		"linkedin_url": l.LinkedInURL,
	}
}

