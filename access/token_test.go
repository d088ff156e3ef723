package access

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("idn-42", "org-1", []string{"tickets.manage", "tickets.manage", " events.manage "}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "idn-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.OrganizationID != "org-1" {
		t.Fatalf("unexpected organization: %s", claims.OrganizationID)
	}
	if len(claims.Capabilities) != 2 {
		t.Fatalf("capabilities not deduplicated: %v", claims.Capabilities)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("idn-42", "org-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	parts := strings.Split(token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"

	if _, err := ParseAndValidate(strings.Join(parts, ".")); err == nil {
		t.Fatalf("expected tampered token to fail validation")
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("idn-42", "org-1", nil, time.Minute); err == nil {
		t.Fatalf("expected error without configured secret")
	}
}
