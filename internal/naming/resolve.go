package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Policy decides what happens when an output path is already taken.
type Policy string

const (
	Overwrite Policy = "overwrite"
	Skip      Policy = "skip"
	Rename    Policy = "rename"
)

// ParsePolicy accepts the policy names used in config files. Empty input
// selects Rename.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", Rename:
		return Rename, nil
	case Overwrite:
		return Overwrite, nil
	case Skip:
		return Skip, nil
	default:
		return "", fmt.Errorf("duplicate policy: unsupported value %q", value)
	}
}

// Resolver tracks output paths claimed during one run so that concurrent
// jobs resolving the same name never land on the same file. Paths already on
// disk count as taken for Skip and Rename. All methods are goroutine-safe.
type Resolver struct {
	mu      sync.Mutex
	claimed map[string]struct{}
	exists  func(string) bool
}

// NewResolver creates a resolver that checks the filesystem for existing files.
func NewResolver() *Resolver {
	return &Resolver{
		claimed: make(map[string]struct{}),
		exists:  fileExists,
	}
}

// Resolve returns the final path for name inside dir under policy. skip is
// true when policy is Skip and the path is already taken.
func (r *Resolver) Resolve(dir, name string, policy Policy) (path string, skip bool) {
	path = filepath.Join(dir, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch policy {
	case Overwrite:
		r.claimed[path] = struct{}{}
		return path, false
	case Skip:
		if r.taken(path) {
			return path, true
		}
		r.claimed[path] = struct{}{}
		return path, false
	}

	if !r.taken(path) {
		r.claimed[path] = struct{}{}
		return path, false
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%03d%s", stem, counter, ext))
		if !r.taken(candidate) {
			r.claimed[candidate] = struct{}{}
			return candidate, false
		}
	}
}

func (r *Resolver) taken(path string) bool {
	if _, ok := r.claimed[path]; ok {
		return true
	}
	return r.exists(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
