package core

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAdminToken = errors.New("invalid admin token")

// AdminGuard authorizes operator-only actions (catalogue reload, status)
// against a bcrypt hash of the shared admin token. An empty hash disables
// admin actions entirely.
type AdminGuard struct {
	tokenHash string
}

func NewAdminGuard(cfg Config) *AdminGuard {
	return &AdminGuard{tokenHash: cfg.AdminTokenHash}
}

// Check verifies the presented token.
func (g *AdminGuard) Check(token string) error {
	if g.tokenHash == "" || token == "" {
		return ErrInvalidAdminToken
	}
	if bcrypt.CompareHashAndPassword([]byte(g.tokenHash), []byte(token)) != nil {
		return ErrInvalidAdminToken
	}
	return nil
}
