package dto

import "github.com/hugh/go-referral/internal/api/validation"

type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required"`
	Name       string `json:"name" validate:"required,max=100"`
	ClinicName string `json:"clinic_name,omitempty" validate:"max=200"`
	ClinicSlug string `json:"clinic_slug,omitempty" validate:"omitempty,slug"`
	City       string `json:"city,omitempty" validate:"max=100"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,phone"`
}

func (r RegisterRequest) Validate() map[string]string {
	errors := validation.Struct(r)
	if errors == nil {
		errors = make(map[string]string)
	}

	if _, failed := errors["password"]; !failed && r.Password != "" {
		if ok, msg := validation.IsValidPassword(r.Password); !ok {
			errors["password"] = msg
		}
	}

	return errors
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

type AuthResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

type UserDTO struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	ClinicID   string `json:"clinic_id"`
	ClinicName string `json:"clinic_name,omitempty"`
	ClinicSlug string `json:"clinic_slug,omitempty"`
}
