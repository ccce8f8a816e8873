package user

import (
	"github.com/google/uuid"
)

type RegisterCmd struct {
	Email    string
	Password string
}

type LogInCmd struct {
	Email    string
	Password string
}

type LogInResult struct {
	UserID      uuid.UUID
	UserKey     string
	AccessToken string
}
