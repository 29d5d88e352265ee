package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Manifest describes a cut manifest found in the manifest directory.
type Manifest struct {
	Path    string
	Name    string
	Corpus  string
	Part    string  // M, XL, DEV, TEST...
	Split   string  // train, dev or test
	Speed   float64 // speed perturbation factor, 1 when unperturbed
	Variant string  // suffix after the part, e.g. "future"
	Size    int64
	Hash    string // MD5 of the content, set by Fingerprint
}

// Format: <corpus>_cuts_<PART>[-sp<a>_<b>][_<variant>].jsonl[.gz]
var manifestName = regexp.MustCompile(`^([a-z0-9]+)_cuts_([A-Za-z]+)(?:-sp(\d+)_(\d+))?(?:_([A-Za-z0-9_]+))?\.jsonl(?:\.gz)?$`)

// ParseManifestName extracts corpus, part, speed factor and variant from a
// manifest file name.
func ParseManifestName(name string) (Manifest, bool) {
	m := manifestName.FindStringSubmatch(name)
	if m == nil {
		return Manifest{}, false
	}
	info := Manifest{
		Name:    name,
		Corpus:  m[1],
		Part:    m[2],
		Speed:   1,
		Variant: m[5],
	}
	if m[3] != "" {
		speed, err := strconv.ParseFloat(m[3]+"."+m[4], 64)
		if err != nil {
			return Manifest{}, false
		}
		info.Speed = speed
	}
	switch strings.ToUpper(info.Part) {
	case "DEV":
		info.Split = "dev"
	case "TEST":
		info.Split = "test"
	default:
		info.Split = "train"
	}
	return info, true
}

// ScanManifests lists the cut manifests directly inside dir, sorted by name.
// Files that do not follow the manifest naming scheme are skipped.
func ScanManifests(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan manifests: %w", err)
	}

	var out []Manifest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := ParseManifestName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		info.Path = filepath.Join(dir, e.Name())
		info.Size = fi.Size()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
