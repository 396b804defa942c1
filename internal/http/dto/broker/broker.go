// Package broker contiene los DTOs del flujo OAuth2 (login, consent, logout y webapp).
package broker

// RedirectResponse es la respuesta de todo paso del flujo que termina en una redirección.
type RedirectResponse struct {
	RedirectTo string `json:"redirect_to"`
}

// LoginFlowResponse es el flow de Kratos que el frontend tiene que completar.
type LoginFlowResponse struct {
	ID        string `json:"id"`
	CSRFToken string `json:"csrfToken"`
}

// SubmitLoginRequest son las credenciales del formulario de login.
type SubmitLoginRequest struct {
	CSRFToken string `json:"csrfToken"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// UserInfoResponse describe al usuario de la sesión de la webapp.
type UserInfoResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
