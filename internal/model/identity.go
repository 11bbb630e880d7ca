package model

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity: вызывающий, определённый сервисом авторизации.
type Identity struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
