package util

import "strings"

// MaskEmail deja solo la primera letra del usuario y del dominio.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskToken deja los primeros 6 caracteres de un token o secreto opaco.
// Para JWT nunca se loguea más que esto.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 6 {
		if s == "" {
			return ""
		}
		return "***"
	}
	return s[:6] + "…"
}
