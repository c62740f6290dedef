package installer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

// SignatureOptions governs the verification gate of gallery downloads.
type SignatureOptions struct {
	// Required rejects archives that ship no signature asset.
	Required bool

	// AllowUnsigned lets unsigned archives through even when Required
	// is set. Intended for private galleries that never sign.
	AllowUnsigned bool
}

// signatureDocument is the signature asset payload: the digest of the
// archive, hex-encoded.
type signatureDocument struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// VerifySignature checks the archive digest against the signature
// document. A mismatch is a verification failure; anything preventing
// the check itself (unreadable document, unknown algorithm) is an
// internal fault.
func VerifySignature(archivePath, signaturePath string) error {
	data, err := os.ReadFile(signaturePath)
	if err != nil {
		return extension.NewError(extension.ErrSignatureVerificationInternal,
			fmt.Errorf("reading signature: %w", err))
	}

	var doc signatureDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return extension.NewError(extension.ErrSignatureVerificationInternal,
			fmt.Errorf("parsing signature: %w", err))
	}
	if !strings.EqualFold(doc.Algorithm, "sha256") || doc.Digest == "" {
		return extension.Errorf(extension.ErrSignatureVerificationInternal,
			"unsupported signature algorithm %q", doc.Algorithm)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return extension.NewError(extension.ErrSignatureVerificationInternal,
			fmt.Errorf("opening archive: %w", err))
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return extension.NewError(extension.ErrSignatureVerificationInternal,
			fmt.Errorf("hashing archive: %w", err))
	}

	if !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), doc.Digest) {
		return extension.Errorf(extension.ErrSignatureVerificationFailed,
			"archive digest does not match its signature")
	}
	return nil
}
