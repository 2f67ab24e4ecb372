package export

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// ZipDirectory compresses the contents of srcDir into a single zip file at
// destPath. Entries are stored relative to srcDir. The file is fully
// flushed and closed before the function returns.
func ZipDirectory(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	writer := zip.NewWriter(out)
	walkErr := filepath.WalkDir(srcDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relative)
		header.Method = zip.Deflate

		target, err := writer.CreateHeader(header)
		if err != nil {
			return err
		}

		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()

		_, err = io.Copy(target, source)
		return err
	})
	if walkErr != nil {
		writer.Close()
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	}

	if err := writer.Close(); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("flush archive: %w", err)
	}
	return out.Close()
}
