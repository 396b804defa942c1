package jwt

import "errors"

// Errores de KeySource.
var (
	ErrKeyNotFound        = errors.New("key_not_found")
	ErrIssuerUnreachable  = errors.New("issuer_unreachable")
	ErrConfigurationFatal = errors.New("configuration_fatal")
)

// Errores de verificación. Todos son de autenticación salvo ErrIssuerUnreachable,
// que el verifier propaga tal cual para que el caller pueda reintentar.
var (
	ErrMalformedToken   = errors.New("malformed_token")
	ErrUnknownKeyID     = errors.New("unknown_kid")
	ErrBadSignature     = errors.New("bad_signature")
	ErrExpiredToken     = errors.New("expired_token")
	ErrIssuerMismatch   = errors.New("issuer_mismatch")
	ErrAudienceMismatch = errors.New("audience_mismatch")
	ErrMissingSubject   = errors.New("missing_subject")
)

// ErrSigningKeyUnavailable: no hay clave privada local para firmar.
var ErrSigningKeyUnavailable = errors.New("signing_key_unavailable")

var classes = []error{
	ErrMalformedToken,
	ErrUnknownKeyID,
	ErrBadSignature,
	ErrExpiredToken,
	ErrIssuerMismatch,
	ErrAudienceMismatch,
	ErrMissingSubject,
	ErrIssuerUnreachable,
	ErrKeyNotFound,
	ErrSigningKeyUnavailable,
	ErrConfigurationFatal,
}

// Class devuelve la clase gruesa de un error para logs y métricas.
func Class(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range classes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	return "internal"
}

// IsAuthentication indica si el error obliga al caller a re-autenticarse.
func IsAuthentication(err error) bool {
	switch {
	case errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrUnknownKeyID),
		errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrIssuerMismatch),
		errors.Is(err, ErrAudienceMismatch),
		errors.Is(err, ErrMissingSubject):
		return true
	}
	return false
}
