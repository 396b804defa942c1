package ca

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dropDatabas3/vdigate/internal/util/atomicwrite"
)

// Artifacts es lo que una emisión le pasa al sink.
type Artifacts struct {
	MachineID      string
	PrivateKeyPEM  []byte
	CSRPEM         []byte
	CertificatePEM []byte
}

// ArtifactSink recibe copias del material emitido. Solo para debug: el FSSink escribe
// claves privadas en disco y config.Validate lo apaga en prod.
type ArtifactSink interface {
	Put(ctx context.Context, a Artifacts) error
}

// NopSink descarta todo. Es el default.
type NopSink struct{}

func (NopSink) Put(context.Context, Artifacts) error { return nil }

// FSSink escribe machine-<id>.key / .csr / .crt.pem en Dir.
type FSSink struct {
	Dir string
}

func (s FSSink) Put(_ context.Context, a Artifacts) error {
	if s.Dir == "" {
		return fmt.Errorf("fs sink: empty dir")
	}
	// machineID ya viene validado, pero Base evita escapar del directorio.
	base := filepath.Join(s.Dir, "machine-"+filepath.Base(a.MachineID))
	if err := atomicwrite.WriteSecret(base+".key", a.PrivateKeyPEM); err != nil {
		return err
	}
	if err := atomicwrite.AtomicWriteFile(base+".csr", a.CSRPEM, 0o644); err != nil {
		return err
	}
	return atomicwrite.AtomicWriteFile(base+".crt.pem", a.CertificatePEM, 0o644)
}
