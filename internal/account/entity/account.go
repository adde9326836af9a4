package entity

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleElectionOfficer Role = "ELECTION_OFFICER"
	RoleCandidate       Role = "CANDIDATE"
	RoleVoter           Role = "VOTER"
)

// ParseRole accepts any case; ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleElectionOfficer, RoleCandidate, RoleVoter:
		return r, true
	}
	return "", false
}

// Account represents a row in the `users` table joined with `candidates`.
type Account struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	StudentNumber *string    `db:"student_number" json:"studentNumber,omitempty"`
	PasswordHash  *string    `db:"password_hash" json:"-"`
	Name          string     `db:"name" json:"name"`
	Image         *string    `db:"image" json:"image,omitempty"`
	Role          Role       `db:"role" json:"role"`
	IsActive      bool       `db:"is_active" json:"isActive"`
	IsCandidate   bool       `db:"is_candidate" json:"isCandidate"`
	FailedLogins  int        `db:"login_failed_attempts" json:"-"`
	LockedUntil   *time.Time `db:"locked_until" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// Identity is what a successful sign-in hands to the session issuer.
type Identity struct {
	ID            string
	Email         string
	Name          string
	Image         *string
	Role          Role
	StudentNumber *string
	IsCandidate   bool
	Provider      string
}

func (a *Account) Identity(provider string) Identity {
	return Identity{
		ID:            a.ID,
		Email:         a.Email,
		Name:          a.Name,
		Image:         a.Image,
		Role:          a.Role,
		StudentNumber: a.StudentNumber,
		IsCandidate:   a.IsCandidate,
		Provider:      provider,
	}
}
