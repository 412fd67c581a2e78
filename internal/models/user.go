package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is a closed enumeration ordered by privilege. Comparisons go through
// AtLeast, never through string matching.
type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleScanner
	RoleOrganizer
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleScanner:
		return "scanner"
	case RoleOrganizer:
		return "organizer"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole maps a claim string to a Role, defaulting to guest.
func ParseRole(s string) Role {
	switch s {
	case "user":
		return RoleUser
	case "scanner":
		return RoleScanner
	case "organizer":
		return RoleOrganizer
	case "admin":
		return RoleAdmin
	default:
		return RoleGuest
	}
}

func (r Role) AtLeast(min Role) bool {
	return r >= min
}

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Name      string    `bun:"name,notnull" json:"name"`
	Phone     string    `bun:"phone,nullzero" json:"phone,omitempty"`
	Role      string    `bun:"role,notnull,default:'user'" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
