package task

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// unpackTar extracts a tar bundle into a fresh temporary directory and
// returns that directory's path alongside the bytes of its composed
// artifact (the first *.json entry found). A tar-packaged program is
// always a composed JSON artifact plus a BTFHub-style archive laid out
// alongside it in the same bundle; the extracted directory is handed back
// as the BTF archive path for resolveKernelBTF to search. The caller owns
// the returned directory and is responsible for removing it once the task
// it backs terminates.
func unpackTar(data []byte) (dir string, program []byte, err error) {
	dir, err = os.MkdirTemp("", "eunomia-task-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}

	var jsonEntry []byte
	r := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, terr := r.Next()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("read tar entry: %w", terr)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(dir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("tar entry %q escapes extraction directory", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("create directory for %q: %w", hdr.Name, err)
		}

		content, err := io.ReadAll(r)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("read content of %q: %w", hdr.Name, err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("write %q: %w", hdr.Name, err)
		}

		if jsonEntry == nil && strings.HasSuffix(hdr.Name, ".json") {
			jsonEntry = content
		}
	}

	if jsonEntry != nil {
		return dir, jsonEntry, nil
	}
	os.RemoveAll(dir)
	return "", nil, fmt.Errorf("tar bundle carries no .json entry")
}
