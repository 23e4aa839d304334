package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cozy-creator/model-cache/internal/types"
)

const manifestDirName = ".manifests"

// The manifest sidecar records the files a transfer selected for an entry,
// so a later cache check can tell a finished entry from one that stopped
// part way without asking the repository again.
type manifestFile struct {
	ArtifactID string                       `json:"artifact_id"`
	Files      []types.RemoteFileDescriptor `json:"files"`
}

func (s *Store) manifestPath(dirName string) string {
	return filepath.Join(s.root, manifestDirName, dirName+".json")
}

// SaveManifest replaces the sidecar of artifactID with files.
func (s *Store) SaveManifest(artifactID string, files []types.RemoteFileDescriptor) error {
	if err := ValidateArtifactID(artifactID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(manifestFile{ArtifactID: artifactID, Files: files}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	dest := s.manifestPath(DirName(artifactID))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), DirName(artifactID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move manifest into place: %w", err)
	}

	return nil
}

// LoadManifest returns the recorded files of artifactID. ok is false when
// no sidecar exists.
func (s *Store) LoadManifest(artifactID string) (files []types.RemoteFileDescriptor, ok bool, err error) {
	if err := ValidateArtifactID(artifactID); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.manifestPath(DirName(artifactID)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read manifest: %w", err)
	}

	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, false, fmt.Errorf("decode manifest of %s: %w", artifactID, err)
	}

	return mf.Files, true, nil
}

// ForgetManifest drops the sidecar of the entry directory dirName. A
// missing sidecar is not an error.
func (s *Store) ForgetManifest(dirName string) error {
	err := os.Remove(s.manifestPath(dirName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove manifest: %w", err)
	}
	return nil
}
