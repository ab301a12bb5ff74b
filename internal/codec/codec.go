// Package codec implements the write-path encode chain and read-path decode
// chain every blob passes through: optional gzip compression followed by
// optional AES-256-GCM encryption, per the codec chain component. Decoding
// consults the inode's recorded descriptor and key token rather than any
// backend-side state, so a single repository may legally mix codecs across
// files.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/pbkdf2"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// associatedData is the constant AEAD associated-data string, kept short and
// fixed so a decryptor in any language can reproduce it without consulting
// InnerFS-specific metadata.
const associatedData = "innerfs-blob-v1"

const (
	pbkdf2Iterations = 256
	keyLenBytes      = 32
	saltLenBytes     = 16
	nonceLenBytes    = 12
)

// Descriptor builds the compression descriptor string stored on an inode:
// empty for no compression, "gzip:<level>" otherwise.
func Descriptor(level int) string {
	if level <= 0 {
		return ""
	}
	return fmt.Sprintf("gzip:%d", level)
}

// ParseDescriptor extracts the gzip level from a descriptor string. A zero
// level (or an empty descriptor) means no compression was applied.
func ParseDescriptor(descriptor string) (level int, err error) {
	if descriptor == "" {
		return 0, nil
	}
	parts := strings.SplitN(descriptor, ":", 2)
	if len(parts) != 2 || parts[0] != "gzip" {
		return 0, ifserrors.New(ifserrors.KindDecodeFailure, "unrecognized codec descriptor: "+descriptor).WithComponent("codec")
	}
	level, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return 0, ifserrors.New(ifserrors.KindDecodeFailure, "malformed codec descriptor: "+descriptor).WithComponent("codec")
	}
	return level, nil
}

// Compress runs data through gzip at level (1..9); level<=0 is a no-op.
func Compress(data []byte, level int) ([]byte, error) {
	if level <= 0 {
		return data, nil
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "create gzip writer").WithComponent("codec")
	}
	if _, err := w.Write(data); err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "compress").WithComponent("codec")
	}
	if err := w.Close(); err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "close gzip writer").WithComponent("codec")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. level<=0 is a no-op (data was never
// compressed).
func Decompress(data []byte, level int) ([]byte, error) {
	if level <= 0 {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindDecodeFailure, err, "open gzip stream").WithComponent("codec")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindDecodeFailure, err, "decompress").WithComponent("codec")
	}
	return out, nil
}

// deriveKey computes CEK = PBKDF2-HMAC-SHA256(password, salt, 256 iters, 32 bytes).
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLenBytes, sha256.New)
}

// Encrypt seals data with AES-256-GCM under a fresh per-blob salt and nonce.
// It returns the ciphertext (tag included) and the hex-encoded token
// persisted in the inode's encryption_key column: salt || nonce.
func Encrypt(password string, data []byte) (ciphertext []byte, token string, err error) {
	salt := make([]byte, saltLenBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, "", ifserrors.Wrap(ifserrors.KindBackendIO, err, "generate salt").WithComponent("codec")
	}
	nonce := make([]byte, nonceLenBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", ifserrors.Wrap(ifserrors.KindBackendIO, err, "generate nonce").WithComponent("codec")
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, "", err
	}

	ct := gcm.Seal(nil, nonce, data, []byte(associatedData))
	return ct, hex.EncodeToString(append(append([]byte{}, salt...), nonce...)), nil
}

// Decrypt reverses Encrypt given the same password and the token persisted
// on the inode.
func Decrypt(password string, ciphertext []byte, token string) ([]byte, error) {
	raw, err := hex.DecodeString(token)
	if err != nil || len(raw) != saltLenBytes+nonceLenBytes {
		return nil, ifserrors.New(ifserrors.KindDecodeFailure, "malformed encryption token").WithComponent("codec")
	}
	salt, nonce := raw[:saltLenBytes], raw[saltLenBytes:]

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}

	pt, err := gcm.Open(nil, nonce, ciphertext, []byte(associatedData))
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindDecodeFailure, err, "AEAD open").WithComponent("codec")
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "create AES cipher").WithComponent("codec")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "create GCM mode").WithComponent("codec")
	}
	return gcm, nil
}

// Chain applies compression then encryption (compress-then-encrypt, per the
// codec chain's ordering rule). When encryptionKey is non-empty, level is
// silently forced to 0 first so compressed-size correlation can't leak
// information about plaintext size through ciphertext length.
func Chain(plaintext []byte, level int, encryptionKey string) (out []byte, descriptor, token string, err error) {
	if encryptionKey != "" {
		level = 0
	}
	descriptor = Descriptor(level)

	compressed, err := Compress(plaintext, level)
	if err != nil {
		return nil, "", "", err
	}

	if encryptionKey == "" {
		return compressed, descriptor, "", nil
	}

	ct, token, err := Encrypt(encryptionKey, compressed)
	if err != nil {
		return nil, "", "", err
	}
	return ct, descriptor, token, nil
}

// Unchain reverses Chain: decrypt (if token is non-empty) then decompress
// per descriptor.
func Unchain(data []byte, descriptor, token, encryptionKey string) ([]byte, error) {
	level, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}

	plain := data
	if token != "" {
		if encryptionKey == "" {
			return nil, ifserrors.New(ifserrors.KindDecodeFailure, "blob is encrypted but no encryption key configured").WithComponent("codec")
		}
		plain, err = Decrypt(encryptionKey, data, token)
		if err != nil {
			return nil, err
		}
	}

	return Decompress(plain, level)
}
