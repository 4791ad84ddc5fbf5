package customer

import (
	"strings"
	"time"
)

type Customer struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	Roles        string    `gorm:"column:roles;default:'customer'" json:"roles"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// RoleList splits the comma-separated roles column.
func (c *Customer) RoleList() []string {
	if c.Roles == "" {
		return nil
	}

	parts := strings.Split(c.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if r := strings.TrimSpace(p); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
