package utils

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ZipDirectory writes every regular file below source into a zip at target.
// Entry names are relative to source and use forward slashes.
func ZipDirectory(source, target string) error {
	zipfile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipfile.Close()

	archive := zip.NewWriter(zipfile)

	walkErr := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		// Skip the root directory entry itself
		if relPath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := archive.CreateHeader(header)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if walkErr != nil {
		archive.Close()
		return walkErr
	}
	return archive.Close()
}

// ZipFiles writes named in-memory entries into a zip stream.
func ZipFiles(w io.Writer, files map[string][]byte) error {
	archive := zip.NewWriter(w)
	for name, data := range files {
		f, err := archive.Create(name)
		if err != nil {
			archive.Close()
			return err
		}
		if _, err := f.Write(data); err != nil {
			archive.Close()
			return err
		}
	}
	return archive.Close()
}
