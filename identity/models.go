package identity

import "time"

type Role string

const (
	RoleMember     Role = "member"
	RoleArbitrator Role = "arbitrator"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Claims is what the deal engine trusts about a caller: who they are and
// whether they may arbitrate. Every engine operation receives the email from
// here and performs only deal-party / arbitrator checks on top.
type Claims struct {
	Email string
	Role  Role
}
