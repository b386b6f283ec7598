package dto

import "time"

// UserRegisterRequest payload for customer signup.
type UserRegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserLoginRequest payload for customer login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// StaffLoginRequest payload for staff login.
type StaffLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries an issued token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
