package user

import "time"

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	FullName      string  `json:"full_name" validate:"required,min=1,max=100"`
	Email         string  `json:"email" validate:"required,email"`
	PaymentHandle *string `json:"payment_handle,omitempty" validate:"omitempty,payment_handle"`
}

// UpdateUserRequest represents the request body for updating a user
type UpdateUserRequest struct {
	FullName      *string `json:"full_name,omitempty" validate:"omitempty,min=1,max=100"`
	PaymentHandle *string `json:"payment_handle,omitempty" validate:"omitempty,payment_handle"`
}

// UserResponse represents the response for a single user
type UserResponse struct {
	ID            int64   `json:"id"`
	FullName      string  `json:"full_name"`
	Email         string  `json:"email"`
	PaymentHandle *string `json:"payment_handle,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ToResponse converts a User model to a UserResponse DTO
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		FullName:      u.FullName,
		Email:         u.Email,
		PaymentHandle: u.PaymentHandle,
		CreatedAt:     u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
