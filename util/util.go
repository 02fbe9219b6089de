package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
)

//go:embed version.txt
var embeddedVersion string

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

type RsaKeyPair struct {
	Private string
	Public  string
}

func LogPublicKey(logger *log.Logger, s ssh.Session) {
	logger.Info("Opened a new ssh session", "user", s.User(), "addr", s.RemoteAddr())
}

func PublicKeyToString(s ssh.PublicKey) string {
	return strings.TrimSpace(string(gossh.MarshalAuthorizedKey(s)))
}

func PkToHash(pk string) string {
	return GetHashFromString(pk)
}

// GetHashFromString is the SHA-256 hex digest of s. Job ids and activity
// dedup ids are derived with it.
func GetHashFromString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent on every outbound federation request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

func RandomString(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:length]
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05"
}

// GeneratePemKeypair creates the RSA key pair an actor signs deliveries with.
// The public half is PKIX so remote servers can parse it.
func GeneratePemKeypair() (*RsaKeyPair, error) {
	return generatePemKeypair(4096)
}

func generatePemKeypair(bitSize int) (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// TextToHTML escapes plain text into a paragraph, keeping Markdown links.
func TextToHTML(text string) string {
	escaped := html.EscapeString(text)
	// escaping does not touch [] or (), links survive
	withLinks := markdownLink.ReplaceAllStringFunc(escaped, func(match string) string {
		m := markdownLink.FindStringSubmatch(match)
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, m[2], m[1])
	})
	return "<p>" + strings.ReplaceAll(withLinks, "\n", "<br>") + "</p>"
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// StripHTML turns remote HTML content into plain text for storage and display.
func StripHTML(content string) string {
	withBreaks := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p><p>", "\n\n").Replace(content)
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(withBreaks, "")))
}
