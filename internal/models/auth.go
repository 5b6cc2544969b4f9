package models

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// Normalize upper-cases the role; the project API issues lower-case roles.
func (r UserRole) Normalize() UserRole {
	return UserRole(strings.ToUpper(strings.TrimSpace(string(r))))
}

// JWTClaims represents the JWT payload of access tokens issued by the
// project API.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// AuthSession is the authenticated caller: validated claims plus the raw
// bearer token forwarded to the project API.
type AuthSession struct {
	Claims *JWTClaims
	Token  string
}

// UserID returns the caller id or an empty string.
func (s *AuthSession) UserID() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	return s.Claims.UserID
}
