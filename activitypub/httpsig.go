package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

var signedHeaders = []string{"(request-target)", "host", "date", "digest"}

// SignRequest signs an outgoing HTTP request with the given private key
// keyId format: "https://example.com/users/alice#main-key"
// The Digest header must already be set.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest checks the signature against publicKeyPem and returns the
// key id that signed the request.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return verifier.KeyId(), nil
}

// KeyIdFromRequest reads keyId out of the Signature (or Authorization) header
// without verifying anything.
func KeyIdFromRequest(req *http.Request) (string, error) {
	header := req.Header.Get("Signature")
	if header == "" {
		header = strings.TrimPrefix(req.Header.Get("Authorization"), "Signature ")
	}
	if header == "" {
		return "", fmt.Errorf("missing signature header")
	}

	for _, part := range splitSignatureParams(header) {
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) != "keyId" {
			continue
		}
		keyId := strings.Trim(strings.TrimSpace(v), `"`)
		if keyId == "" {
			break
		}
		return keyId, nil
	}
	return "", fmt.Errorf("signature header has no keyId")
}

// splitSignatureParams splits on commas outside quoted values.
func splitSignatureParams(header string) []string {
	var parts []string
	var current strings.Builder
	quoted := false
	for _, r := range header {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// ActorURIFromKeyId strips the key fragment:
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func ActorURIFromKeyId(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// Digest is the value of the Digest header for body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// VerifyDigest compares a Digest header against the body. Only SHA-256 is
// accepted.
func VerifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing digest header")
	}
	expected := Digest(body)
	for _, candidate := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(candidate), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if "SHA-256="+value == expected {
			return nil
		}
		return fmt.Errorf("digest mismatch")
	}
	return fmt.Errorf("unsupported digest algorithm")
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// ParsePublicKey accepts PKIX ("PUBLIC KEY") and PKCS1 ("RSA PUBLIC KEY").
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
