package entity

import "time"

type Action string

const (
	ActionRegister   Action = "REGISTER"
	ActionLogin      Action = "LOGIN"
	ActionLogout     Action = "LOGOUT"
	ActionRoleChange Action = "ROLE_CHANGE"
	ActionActivate   Action = "ACTIVATE"
	ActionDeactivate Action = "DEACTIVATE"
)

// Log represents a row in the `system_logs` table. UserEmail and UserName come from the users join.
type Log struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Action    Action    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	UserEmail *string   `db:"user_email" json:"userEmail,omitempty"`
	UserName  *string   `db:"user_name" json:"userName,omitempty"`
}
