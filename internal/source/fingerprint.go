package source

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// FingerprintFile hashes the file content with BLAKE2b-256 and returns the
// first 16 bytes hex encoded. Equal content gives equal fingerprints, so
// shared raster keys survive renames and re-downloads.
func FingerprintFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}
