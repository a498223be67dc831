package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
)

// WriteZip writes the tree to w as a deflate-compressed zip. Entry names
// are slash-separated and relative to the root; directories get their own
// entries so empty ones survive extraction.
func (ft *Filetree) WriteZip(w io.Writer) error {
	zipWriter := zip.NewWriter(w)

	for _, child := range ft.Root.children {
		if err := compressNode(zipWriter, child, ""); err != nil {
			zipWriter.Close()
			return err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func compressNode(zw *zip.Writer, node Node, basePath string) error {
	archivePath := path.Join(basePath, node.Name())

	switch n := node.(type) {
	case *File:
		return addFileToZip(zw, n.Path(), archivePath)
	case *Dir:
		if err := addDirToZip(zw, n.Path(), archivePath); err != nil {
			return err
		}
		for _, child := range n.Children() {
			if err := compressNode(zw, child, archivePath); err != nil {
				return err
			}
		}
	}
	return nil
}

func addDirToZip(zw *zip.Writer, srcPath, archivePath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath + "/"
	header.Method = zip.Store

	if _, err := zw.CreateHeader(header); err != nil {
		return fmt.Errorf("failed to create zip directory entry: %w", err)
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}

// GetUncompressedSize sums the sizes of all files in the tree.
func (ft *Filetree) GetUncompressedSize() (int64, error) {
	var totalSize int64
	for _, node := range ft.FlattenTree() {
		if file, ok := node.(*File); ok {
			info, err := os.Stat(file.Path())
			if err != nil {
				return 0, err
			}
			totalSize += info.Size()
		}
	}
	return totalSize, nil
}
