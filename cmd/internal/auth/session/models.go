package session

import "encoding/json"

// User is the current-user profile.
type User struct {
	ID        json.Number `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Access  string `json:"access"`
	User    *User  `json:"user"`
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Access  string `json:"access"`
}

// errorResponse covers both error body shapes the service emits.
type errorResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

func (e errorResponse) message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Detail
}
