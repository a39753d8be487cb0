package pipeline

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Signer produces a detached signature over a sign's attestation.
type Signer interface {
	// Identity is the signer name recorded when a request names none.
	Identity() string
	Sign(payload []byte) (string, error)
}

// Attestation is the canonical statement a signature covers. It binds the
// signer to the file's path and content hash at sign time.
func Attestation(pipelineName, path string, s models.Sign) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "muckrake-sign-v1\n")
	fmt.Fprintf(&b, "pipeline: %s\n", pipelineName)
	fmt.Fprintf(&b, "state: %s\n", s.State)
	fmt.Fprintf(&b, "path: %s\n", path)
	fmt.Fprintf(&b, "sha256: %s\n", s.FileHash)
	fmt.Fprintf(&b, "signer: %s\n", s.Signer)
	fmt.Fprintf(&b, "signed_at: %s\n", s.SignedAt.UTC().Format(time.RFC3339))
	return b.Bytes()
}

// OpenPGPSigner signs attestations with an OpenPGP private key and emits
// ASCII-armored detached signatures.
type OpenPGPSigner struct {
	entity *openpgp.Entity
	config *packet.Config
}

// WithConfig overrides the packet configuration used when signing.
func (s *OpenPGPSigner) WithConfig(cfg *packet.Config) *OpenPGPSigner {
	s.config = cfg
	return s
}

// NewOpenPGPSigner wraps an entity whose private key is decrypted.
func NewOpenPGPSigner(entity *openpgp.Entity) (*OpenPGPSigner, error) {
	if entity == nil || entity.PrivateKey == nil {
		return nil, errors.New("openpgp entity has no private key")
	}
	if entity.PrivateKey.Encrypted {
		return nil, errors.New("openpgp private key is still encrypted")
	}
	return &OpenPGPSigner{entity: entity}, nil
}

// LoadOpenPGPSigner reads an armored or binary secret keyring and selects
// the key whose user id contains identity, or the first secret key when
// identity is empty.
func LoadOpenPGPSigner(keyringPath, identity, passphrase string) (*OpenPGPSigner, error) {
	data, err := os.ReadFile(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("read keyring %s: %w", keyringPath, err)
	}
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse keyring %s: %w", keyringPath, err)
		}
	}

	entity := selectEntity(keyring, identity)
	if entity == nil {
		return nil, fmt.Errorf("no secret key for %q in %s", identity, keyringPath)
	}
	if entity.PrivateKey.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("secret key for %q is encrypted and no passphrase was given", identity)
		}
		if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("decrypt secret key: %w", err)
		}
	}
	return NewOpenPGPSigner(entity)
}

func selectEntity(keyring openpgp.EntityList, identity string) *openpgp.Entity {
	for _, e := range keyring {
		if e.PrivateKey == nil {
			continue
		}
		if identity == "" {
			return e
		}
		if strings.EqualFold(identity, e.PrimaryKey.KeyIdString()) {
			return e
		}
		for name := range e.Identities {
			if strings.Contains(name, identity) {
				return e
			}
		}
	}
	return nil
}

// Identity returns the primary user id's email, or its full name.
func (s *OpenPGPSigner) Identity() string {
	id := s.entity.PrimaryIdentity()
	if id == nil {
		return hex.EncodeToString(s.entity.PrimaryKey.Fingerprint)
	}
	if id.UserId != nil && id.UserId.Email != "" {
		return id.UserId.Email
	}
	return id.Name
}

// Sign implements Signer.
func (s *OpenPGPSigner) Sign(payload []byte) (string, error) {
	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, s.entity, bytes.NewReader(payload), s.config); err != nil {
		return "", fmt.Errorf("sign attestation: %w", err)
	}
	return out.String(), nil
}

// VerifySignature checks an armored detached signature over payload and
// returns the signing entity.
func VerifySignature(keyring openpgp.KeyRing, payload []byte, signature string) (*openpgp.Entity, error) {
	entity, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(payload), strings.NewReader(signature), nil)
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	return entity, nil
}
