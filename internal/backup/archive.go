// Archive packaging for manual backup export.
package backup

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Archive creates a snapshot and packages it into a single zip file next to
// the snapshot directory, returning the archive path. It fails with
// ErrNothingToBackUp when there is no data on disk to snapshot.
func (e *Engine) Archive(reason string, schemaVersion int) (string, error) {
	dir, err := e.Create(reason, schemaVersion)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", ErrNothingToBackUp
	}

	archivePath := dir + ".zip"
	if err := zipTree(dir, archivePath); err != nil {
		return "", fmt.Errorf("package snapshot: %w", err)
	}
	// Create pruned before the archive existed; run again so old exports
	// are subject to the same retention.
	e.Prune(e.keep())
	return archivePath, nil
}

// zipTree writes the contents of dir (not the directory itself) into a zip
// archive at dest, mirroring shutil.make_archive semantics.
func zipTree(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			_, err := zw.Create(filepath.ToSlash(rel) + "/")
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// CopyFile copies a regular file, preserving its mode.
func CopyFile(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree recursively copies a directory. dest must not exist beforehand
// except as an empty target; files are overwritten.
func CopyTree(source, dest string) error {
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return CopyFile(path, target)
	})
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from a snapshot directory.
func ReadManifest(snapshotDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, ManifestFileName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
