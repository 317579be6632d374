package downloader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// validateOutputFile checks that a finished download is non-empty and
// starts with the magic bytes of its container.
func validateOutputFile(path string, format *youtube.Format) error {
	info, err := os.Stat(path)
	if err != nil {
		return ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("stat output: %w", err))
	}
	if info.Size() == 0 {
		return ytclient.Wrap(ytclient.CategoryUnsupported, errors.New("output file is empty"))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov", ".m4a":
		return validateMP4(path)
	case ".webm", ".mkv":
		return validateEBML(path)
	case ".mp3":
		return validateMP3(path)
	default:
		if format != nil && strings.Contains(strings.ToLower(format.MimeType), "mp4") {
			return validateMP4(path)
		}
		return nil
	}
}

func readHeader(path string, size int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	buf := make([]byte, size)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

func validateMP4(path string) error {
	body, err := readHeader(path, 1024*1024)
	if err != nil {
		return ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("read mp4 header: %w", err))
	}
	if len(body) < 8 || string(body[4:8]) != "ftyp" {
		return ytclient.Wrap(ytclient.CategoryUnsupported, errors.New("invalid mp4 header"))
	}
	if !bytes.Contains(body, []byte("moov")) && !bytes.Contains(body, []byte("moof")) {
		return ytclient.Wrap(ytclient.CategoryUnsupported, errors.New("missing moov/moof atom"))
	}
	return nil
}

func validateEBML(path string) error {
	header, err := readHeader(path, 4)
	if err != nil {
		return ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("read ebml header: %w", err))
	}
	if len(header) < 4 || binary.BigEndian.Uint32(header) != 0x1A45DFA3 {
		return ytclient.Wrap(ytclient.CategoryUnsupported, errors.New("invalid webm header"))
	}
	return nil
}

func validateMP3(path string) error {
	header, err := readHeader(path, 3)
	if err != nil {
		return ytclient.Wrap(ytclient.CategoryFilesystem, fmt.Errorf("read mp3 header: %w", err))
	}
	if len(header) == 3 && (string(header) == "ID3" || header[0] == 0xFF) {
		return nil
	}
	return ytclient.Wrap(ytclient.CategoryUnsupported, errors.New("invalid mp3 header"))
}
