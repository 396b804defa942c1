package validation

import (
	"net/netip"
	"strconv"
	"strings"
)

// ValidMachineID: entero positivo en base 10, sin signo ni ceros a la izquierda.
func ValidMachineID(id string) bool {
	if id == "" || id[0] == '0' || strings.TrimSpace(id) != id {
		return false
	}
	n, err := strconv.ParseUint(id, 10, 63)
	return err == nil && n > 0
}

// ValidIP acepta IPv4 o IPv6 literal (sin zona).
func ValidIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Zone() == ""
}

// ValidPort: 1..65535.
func ValidPort(p int) bool {
	return p > 0 && p <= 65535
}
