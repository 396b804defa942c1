package jwt

import "strings"

// Role es el rol efectivo de un sujeto autenticado. Conjunto cerrado.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RoleFromScopes es el único lugar donde se decide el rol: "admin" en scp
// eleva a RoleAdmin, cualquier otro sujeto autenticado es RoleUser.
func RoleFromScopes(scopes []string) Role {
	for _, s := range scopes {
		if s == string(RoleAdmin) {
			return RoleAdmin
		}
	}
	return RoleUser
}

func (r Role) String() string { return string(r) }

// scopesFromClaims lee "scp" (array, como lo emite Hydra) y cae a "scope"
// (string separado por espacios) si no existe.
func scopesFromClaims(claims map[string]any) []string {
	switch v := claims["scp"].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		return strings.Fields(v)
	}
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	return nil
}
