// Package auth implements credential verification, session tokens,
// lockout, and role checks for LNMT operators.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// Argon2id parameters. Verification reads the parameters back from the
// encoded verifier, so these can change without invalidating old hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword derives an encoded argon2id verifier from a password.
// The output is self-describing:
// $argon2id$v=19$m=65536,t=1,p=4$<salt-b64>$<hash-b64>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword checks a password against an encoded verifier in
// constant time. Returns nil on match.
func VerifyPassword(password, encoded string) error {
	memory, time, threads, salt, want, err := decodeVerifier(encoded)
	if err != nil {
		return err
	}
	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return util.NewCodedError(util.ErrUnauthenticated, "bad_credentials", "invalid username or password")
	}
	return nil
}

func decodeVerifier(encoded string) (memory, time uint32, threads uint8, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, util.Invariantf("bad_verifier", "malformed password verifier")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, util.Invariantf("bad_verifier", "unsupported verifier version")
	}
	var threads32 uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads32); err != nil {
		return 0, 0, 0, nil, nil, util.Invariantf("bad_verifier", "malformed verifier parameters")
	}
	threads = uint8(threads32)
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return 0, 0, 0, nil, nil, util.Invariantf("bad_verifier", "malformed verifier salt")
	}
	if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return 0, 0, 0, nil, nil, util.Invariantf("bad_verifier", "malformed verifier hash")
	}
	return memory, time, threads, salt, hash, nil
}
