package util

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
)

func TestGetHashFromString(t *testing.T) {
	a := GetHashFromString("https://remote.example/activities/1")
	b := GetHashFromString("https://remote.example/activities/1")
	c := GetHashFromString("https://remote.example/activities/2")

	if a != b {
		t.Errorf("Expected identical hashes for identical input, got %s and %s", a, b)
	}
	if a == c {
		t.Error("Expected different hashes for different input")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
	// sha256("") is a well known value
	if GetHashFromString("") != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Unexpected hash for empty string: %s", GetHashFromString(""))
	}
}

func TestPkToHash(t *testing.T) {
	pk := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIExample"
	if PkToHash(pk) != GetHashFromString(pk) {
		t.Error("Expected PkToHash to match GetHashFromString")
	}
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("Expected non-empty version")
	}
	if strings.ContainsAny(version, " \n") {
		t.Errorf("Version should be trimmed, got '%s'", version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	if !strings.HasPrefix(result, "fedi / ") {
		t.Errorf("Expected 'fedi / <version>', got '%s'", result)
	}
	if !strings.Contains(UserAgent(), "ActivityPub") {
		t.Errorf("Expected user agent to mention ActivityPub, got '%s'", UserAgent())
	}
}

func TestRandomString(t *testing.T) {
	for _, length := range []int{1, 7, 10, 32} {
		s := RandomString(length)
		if len(s) != length {
			t.Errorf("Expected length %d, got %d", length, len(s))
		}
	}
	if RandomString(16) == RandomString(16) {
		t.Error("Expected two random strings to differ")
	}
}

func TestTextToHTMLKeepsLinks(t *testing.T) {
	got := TextToHTML("see [docs](https://example.com/docs)")
	expected := `<p>see <a href="https://example.com/docs" target="_blank" rel="noopener noreferrer">docs</a></p>`
	if got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestTextToHTMLAndBack(t *testing.T) {
	content := TextToHTML("hello <b>\nworld")
	if content != "<p>hello &lt;b&gt;<br>world</p>" {
		t.Errorf("Unexpected html: %s", content)
	}
	if StripHTML(content) != "hello <b>\nworld" {
		t.Errorf("Unexpected text: %q", StripHTML(content))
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<p>Hi <a href="https://x">@bob</a></p><p>second</p>`)
	if got != "Hi @bob\n\nsecond" {
		t.Errorf("Unexpected text: %q", got)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair, err := generatePemKeypair(1024)
	if err != nil {
		t.Fatalf("generatePemKeypair failed: %v", err)
	}

	privBlock, _ := pem.Decode([]byte(keypair.Private))
	if privBlock == nil || privBlock.Type != "RSA PRIVATE KEY" {
		t.Fatal("Expected an RSA PRIVATE KEY block")
	}
	if _, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes); err != nil {
		t.Errorf("Private key does not parse: %v", err)
	}

	pubBlock, _ := pem.Decode([]byte(keypair.Public))
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		t.Fatal("Expected a PUBLIC KEY block")
	}
	if _, err := x509.ParsePKIXPublicKey(pubBlock.Bytes); err != nil {
		t.Errorf("Public key does not parse as PKIX: %v", err)
	}
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "logfmt")

	called := false
	BestEffort(logger, "email", func() error {
		called = true
		return errors.New("smtp down")
	})

	if !called {
		t.Error("Expected side effect to run")
	}
	if !strings.Contains(buf.String(), "smtp down") {
		t.Errorf("Expected error to be logged, got: %s", buf.String())
	}
}

func TestBestEffortRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "logfmt")

	BestEffort(logger, "notify", func() error {
		panic("boom")
	})

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("Expected panic to be logged, got: %s", buf.String())
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Expected info message to be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected warn message to be written")
	}
}
