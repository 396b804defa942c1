// Package broker implementa el flujo OAuth2/OIDC entre el navegador, Hydra y Kratos.
//
// Del lado proveedor (rol auth) atiende los challenges de login, consent y logout
// de Hydra usando Kratos como almacén de identidades. Del lado relying party
// (rol app) arma la URL de autorización, valida el state y canjea el code.
package broker

import "errors"

var (
	// ErrStateMismatch: el state del callback no coincide con la cookie o ya fue usado.
	ErrStateMismatch = errors.New("broker: state mismatch")
	// ErrMissingChallenge: falta el challenge de Hydra o el id del flow.
	ErrMissingChallenge = errors.New("broker: missing challenge")
	// ErrMissingCode: el callback llegó sin authorization code.
	ErrMissingCode = errors.New("broker: missing authorization code")
	// ErrInvariant: el proveedor devolvió algo que el flujo no admite (subject vacío, flow sin csrf).
	ErrInvariant = errors.New("broker: invariant violated")
)
