package build

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// createArtifact 把新增的二进制包按相对路径打成 <ArtifactDir>/<id>.tar，
// 客户端可直接解包回自己的 binpkg 目录。
func (e *Executor) createArtifact(job *Job, built []string) error {
	if err := os.MkdirAll(e.cfg.ArtifactDir, 0o755); err != nil {
		return err
	}

	artifactPath := filepath.Join(e.cfg.ArtifactDir, job.ID+".tar")
	job.AppendLog("\n=== Creating artifact tarball ===\n")

	f, err := os.Create(artifactPath)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(f)
	for _, rel := range built {
		if err := addToTar(tw, filepath.Join(e.cfg.BinpkgDir, rel), rel); err != nil {
			tw.Close()
			f.Close()
			os.Remove(artifactPath)
			return err
		}
		job.AppendLog(fmt.Sprintf("  Added: %s\n", rel))
	}

	if err := tw.Close(); err != nil {
		f.Close()
		os.Remove(artifactPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(artifactPath)
		return err
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return err
	}

	job.setArtifactPath(artifactPath)
	job.AppendLog(fmt.Sprintf("Artifact created: %s (%d bytes)\n", artifactPath, info.Size()))
	return nil
}

// addToTar 以 arcname 写入单个文件条目。
func addToTar(tw *tar.Writer, path, arcname string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(arcname)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
