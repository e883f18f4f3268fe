package httpapi

//UserCreateRequest is a request to create a new User
type UserCreateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

//AuthenticateRequest is an email/password authentication request
type AuthenticateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
