package main

import (
	"os"
	"strings"
	"testing"

	"github.com/qterm/qterm/internal/wire"
)

func TestTokenFromFlagOrEnv_FlagTakesPrecedence(t *testing.T) {
	tok, _ := wire.GenerateAuthToken()
	os.Setenv("QTERM_TOKEN", strings.Repeat("ff", 32))
	defer os.Unsetenv("QTERM_TOKEN")

	got, err := tokenFromFlagOrEnv(tok.Hex())
	if err != nil {
		t.Fatalf("tokenFromFlagOrEnv: %v", err)
	}
	if got != tok {
		t.Error("flag value should take precedence over QTERM_TOKEN")
	}
}

func TestTokenFromFlagOrEnv_FallsBackToEnv(t *testing.T) {
	tok, _ := wire.GenerateAuthToken()
	os.Setenv("QTERM_TOKEN", tok.Hex())
	defer os.Unsetenv("QTERM_TOKEN")

	got, err := tokenFromFlagOrEnv("")
	if err != nil {
		t.Fatalf("tokenFromFlagOrEnv: %v", err)
	}
	if got != tok {
		t.Error("expected token from QTERM_TOKEN env var")
	}
}

func TestTokenFromFlagOrEnv_NoneSetErrors(t *testing.T) {
	os.Unsetenv("QTERM_TOKEN")

	if _, err := tokenFromFlagOrEnv(""); err == nil {
		t.Fatal("expected an error when no token is available")
	}
}

func TestTokenFromFlagOrEnv_InvalidHexErrors(t *testing.T) {
	if _, err := tokenFromFlagOrEnv("not-hex"); err == nil {
		t.Fatal("expected an error for malformed hex")
	}
}
