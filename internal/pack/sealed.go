package pack

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealAlg      = "AES-GCM"
	kdfPrefix    = "PBKDF2-HMAC-SHA256/"
	kdfRounds    = 150000
	maxKDFRounds = 1_000_000
	keyLen       = 32
	minSaltLen   = 16
	gcmNonceSize = 12
)

var (
	ErrEnvelope = errors.New("invalid sealed envelope")
	ErrUnseal   = errors.New("could not unseal pack (wrong password or corrupted file)")
)

// Envelope is the on-disk form of a sealed pack. The ciphertext carries the
// 16-byte GCM tag at its end.
type Envelope struct {
	Alg      string `json:"alg"`
	KDF      string `json:"pbkdf2"`
	SaltB64  string `json:"salt_b64"`
	NonceB64 string `json:"nonce_b64"`
	CtB64    string `json:"ct_b64"`
}

func IsSealed(data []byte) bool {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return env.Alg != "" && env.CtB64 != ""
}

func (e Envelope) rounds() (int, error) {
	if e.KDF == "" {
		return kdfRounds, nil
	}
	if !strings.HasPrefix(e.KDF, kdfPrefix) {
		return 0, fmt.Errorf("%w: kdf %q", ErrEnvelope, e.KDF)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(e.KDF, kdfPrefix))
	if err != nil || n <= 0 || n > maxKDFRounds {
		return 0, fmt.Errorf("%w: kdf %q", ErrEnvelope, e.KDF)
	}
	return n, nil
}

func newGCM(password string, salt []byte, rounds int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, rounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Unseal decrypts an envelope and returns the plaintext pack JSON.
func Unseal(data []byte, password string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelope, err)
	}
	if env.Alg != sealAlg {
		return nil, fmt.Errorf("%w: alg %q", ErrEnvelope, env.Alg)
	}
	rounds, err := env.rounds()
	if err != nil {
		return nil, err
	}
	salt, err1 := base64.StdEncoding.DecodeString(env.SaltB64)
	nonce, err2 := base64.StdEncoding.DecodeString(env.NonceB64)
	ct, err3 := base64.StdEncoding.DecodeString(env.CtB64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelope, err)
	}
	if len(salt) < minSaltLen || len(nonce) != gcmNonceSize || len(ct) == 0 {
		return nil, ErrEnvelope
	}
	aead, err := newGCM(password, salt, rounds)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrUnseal
	}
	return plain, nil
}

// Seal encrypts a plain pack into an envelope.
func Seal(plain []byte, password string) ([]byte, error) {
	salt := make([]byte, minSaltLen)
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	aead, err := newGCM(password, salt, kdfRounds)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Alg:      sealAlg,
		KDF:      kdfPrefix + strconv.Itoa(kdfRounds),
		SaltB64:  base64.StdEncoding.EncodeToString(salt),
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CtB64:    base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plain, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

// Checksum is the hex SHA-256 of the pack's compact JSON with the top-level
// integrity member removed. Key order is kept as written.
func Checksum(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("%w: not an object", ErrBadPack)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return "", err
		}
		if key == "integrity" {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return "", err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := json.Compact(&buf, val); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
