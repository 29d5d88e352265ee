package scanner

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint returns the MD5 of the manifest content and keeps it in
// m.Hash. A manifest that changed size since it was scanned is reported as
// an error rather than hashed.
func (m *Manifest) Fingerprint() (string, error) {
	if m.Hash != "" {
		return m.Hash, nil
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", m.Name, err)
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", m.Name, err)
	}
	if m.Size > 0 && n != m.Size {
		return "", fmt.Errorf("fingerprint %s: size changed from %d to %d bytes", m.Name, m.Size, n)
	}

	m.Hash = hex.EncodeToString(h.Sum(nil))
	return m.Hash, nil
}
