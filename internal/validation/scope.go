package validation

import "regexp"

// Reglas de nombre de scope (el rol del usuario se concede como scope extra):
// - Solo minúsculas.
// - Empieza y termina con [a-z0-9].
// - En el medio admite [a-z0-9:_.-].
// - Largo 1..64. Sin espacios ni ';'.
//
// Válidos: user, admin, profile:read, a_b-c.d:scope2
// Inválidos: ;hack, Admin, "bad space", :leader, trailer:, "", 65+ chars.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName returns true if the provided scope name matches the allowed pattern.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}
