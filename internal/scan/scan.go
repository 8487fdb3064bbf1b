// Package scan expands user-supplied paths into batch jobs.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

// Extensions lists the input extensions picked up from directories.
var Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".avif", ".gif", ".tiff", ".tif", ".bmp"}

// Options controls directory expansion.
type Options struct {
	Recursive bool
	// SkipDir names directories never descended into, typically the output
	// subdirectory of a previous run.
	SkipDir string
	// OutputDir is excluded from the walk when it lies inside a scanned root.
	OutputDir string
}

// Supported reports whether path has an input extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Collect returns one job per supported file under paths, in input order,
// with each file appearing once. Directories are walked in lexical order.
// Explicit files with unsupported extensions are ignored.
func Collect(ctx context.Context, paths []string, opts Options) ([]batch.Job, error) {
	var outputAbs string
	if opts.OutputDir != "" {
		abs, err := filepath.Abs(opts.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("resolve output dir: %w", err)
		}
		outputAbs = abs
	}

	seen := make(map[string]struct{})
	var jobs []batch.Job
	add := func(path string, info fs.FileInfo) {
		if _, dup := seen[path]; dup || !Supported(path) {
			return
		}
		seen[path] = struct{}{}
		jobs = append(jobs, JobFor(path, info))
	}

	for _, raw := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		root, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", raw, err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", raw, err)
		}
		if !info.IsDir() {
			add(root, info)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				if !opts.Recursive || d.Name() == opts.SkipDir || (outputAbs != "" && IsWithin(path, outputAbs)) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			add(path, fi)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", raw, err)
		}
	}
	return jobs, nil
}

// JobFor builds the job for a file at an absolute path.
func JobFor(path string, info fs.FileInfo) batch.Job {
	return batch.Job{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
		Dir:  filepath.Dir(path),
	}
}

// IsWithin reports whether path is root or lies below it.
func IsWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
