package mail

import (
	"strings"
	"testing"
	"time"
)

func TestComposer_Links(t *testing.T) {
	c := NewComposer("https://shop.example.com", "Storefront", 10*time.Minute)

	if got := c.VerificationLink("abc123"); got != "https://shop.example.com/api/v1/users/verifyEmail/abc123" {
		t.Errorf("VerificationLink = %q", got)
	}
	if got := c.PasswordResetLink("abc123"); got != "https://shop.example.com/api/v1/users/resetPassword/abc123" {
		t.Errorf("PasswordResetLink = %q", got)
	}
}

func TestComposer_Verification(t *testing.T) {
	c := NewComposer("http://localhost:8080", "Storefront", 10*time.Minute)

	msg, err := c.Verification("a@b.com", "Ann", "deadbeef")
	if err != nil {
		t.Fatalf("Verification error: %v", err)
	}
	if msg.To != "a@b.com" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject == "" {
		t.Error("Subject should not be empty")
	}
	for _, want := range []string{"Hi Ann", "Storefront", "http://localhost:8080/api/v1/users/verifyEmail/deadbeef", "10 minutes"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestComposer_PasswordReset(t *testing.T) {
	c := NewComposer("http://localhost:8080", "Storefront", 10*time.Minute)

	msg, err := c.PasswordReset("a@b.com", "Ann", "cafebabe")
	if err != nil {
		t.Fatalf("PasswordReset error: %v", err)
	}
	if !strings.Contains(msg.Subject, "10 min") {
		t.Errorf("Subject = %q, want ttl mention", msg.Subject)
	}
	if !strings.Contains(msg.Body, "/api/v1/users/resetPassword/cafebabe") {
		t.Errorf("body missing reset link:\n%s", msg.Body)
	}
}
