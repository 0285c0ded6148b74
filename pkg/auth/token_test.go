package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/config"
	"github.com/subhubhq/subhub-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{
	Secret: "test-secret",
	Issuer: "subhub",
}

func TestMintAndParseAccessToken(t *testing.T) {
	userID := uuid.New()

	signed, err := MintAccessToken(testJWTConfig, time.Now(), userID, enums.UserRoleMember, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseAccessToken(testJWTConfig, signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != enums.UserRoleMember {
		t.Fatalf("expected member role, got %s", claims.Role)
	}
	if claims.Issuer != "subhub" {
		t.Fatalf("expected issuer subhub, got %s", claims.Issuer)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signed, err := MintAccessToken(testJWTConfig, time.Now().Add(-2*time.Hour), uuid.New(), enums.UserRoleMember, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseAccessToken(testJWTConfig, signed); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	signed, err := MintAccessToken(testJWTConfig, time.Now(), uuid.New(), enums.UserRoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := config.JWTConfig{Secret: "different", Issuer: "subhub"}
	if _, err := ParseAccessToken(other, signed); err == nil || !strings.Contains(err.Error(), "signature") {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestMintRejectsInvalidRole(t *testing.T) {
	_, err := MintAccessToken(testJWTConfig, time.Now(), uuid.New(), enums.UserRole("root"), time.Hour)
	if err == nil {
		t.Fatal("expected invalid role to fail")
	}
}
