package entity

import (
	"time"

	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
)

// Claims is what downstream handlers see about the signed-in account.
type Claims struct {
	UserID        string             `json:"id"`
	Email         string             `json:"email"`
	Name          string             `json:"name"`
	Image         *string            `json:"image,omitempty"`
	Role          accountentity.Role `json:"role"`
	StudentNumber *string            `json:"studentNumber"`
	IsCandidate   bool               `json:"isCandidate"`
}

// Session represents a row in the `sessions` table. Only the token hash is stored.
type Session struct {
	ID            string             `db:"id" json:"id"`
	TokenHash     string             `db:"token_hash" json:"tokenHash"`
	UserID        string             `db:"user_id" json:"userId"`
	Email         string             `db:"email" json:"email"`
	Name          string             `db:"name" json:"name"`
	Image         *string            `db:"image" json:"image,omitempty"`
	Role          accountentity.Role `db:"role" json:"role"`
	StudentNumber *string            `db:"student_number" json:"studentNumber,omitempty"`
	IsCandidate   bool               `db:"is_candidate" json:"isCandidate"`
	IssuedAt      time.Time          `db:"issued_at" json:"issuedAt"`
	ExpiresAt     time.Time          `db:"expires_at" json:"expiresAt"`
}

func (s *Session) Claims() Claims {
	return Claims{
		UserID:        s.UserID,
		Email:         s.Email,
		Name:          s.Name,
		Image:         s.Image,
		Role:          s.Role,
		StudentNumber: s.StudentNumber,
		IsCandidate:   s.IsCandidate,
	}
}

// SetClaims overwrites the cached claim columns.
func (s *Session) SetClaims(c Claims) {
	s.UserID = c.UserID
	s.Email = c.Email
	s.Name = c.Name
	s.Image = c.Image
	s.Role = c.Role
	s.StudentNumber = c.StudentNumber
	s.IsCandidate = c.IsCandidate
}
