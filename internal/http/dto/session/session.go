// Package session contiene los DTOs de tokens de sesión VDI.
package session

// TokenPayload son los datos de la sesión VDI que viajan en el token.
type TokenPayload struct {
	SessionID           int64  `json:"sessionId"`
	MachineExternalIP   string `json:"machineExternalIp"`
	MachineExternalPort int    `json:"machineExternalPort"`
}

// TokenRequest: POST /api/v1/token.
type TokenRequest struct {
	Audience string       `json:"audience"`
	Payload  TokenPayload `json:"payload"`
}

type TokenResponse struct {
	JWT string `json:"jwt"`
}

// VerifyResponse: POST /api/v1/token/verify.
type VerifyResponse struct {
	Subject             string   `json:"subject"`
	Role                string   `json:"role"`
	Domain              string   `json:"domain"`
	Scopes              []string `json:"scopes,omitempty"`
	ExpiresAt           int64    `json:"expiresAt"`
	SessionID           *int64   `json:"sessionId,omitempty"`
	MachineExternalIP   string   `json:"machineExternalIp,omitempty"`
	MachineExternalPort int      `json:"machineExternalPort,omitempty"`
}
