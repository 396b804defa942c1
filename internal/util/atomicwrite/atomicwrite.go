// Package atomicwrite escribe archivos de forma atómica (tmp + fsync + rename).
// Lo usan el sink de artefactos de certificados y los comandos keys gen / ca init.
package atomicwrite

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AtomicWriteFile escribe data a path: write tmp → Sync → Close → Chmod → Rename.
// Si rename falla (Windows con destino bloqueado) intenta remove+rename, lo que
// preserva el archivo viejo si algo sale mal antes.
func AtomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	return write(path, data, perm, 0o755)
}

// WriteSecret escribe material privado (claves, JWKS privados): archivo 0600 en un
// directorio 0700.
func WriteSecret(path string, data []byte) error {
	return write(path, data, 0o600, 0o700)
}

func write(path string, data []byte, perm, dirPerm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	// CreateTemp ya crea con 0600; el chmod final solo abre si perm lo pide.
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
