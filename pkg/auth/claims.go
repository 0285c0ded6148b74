package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// AccessTokenClaims represents the typed JWT issued by the upstream auth
// service. The commerce core only parses and validates it.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
