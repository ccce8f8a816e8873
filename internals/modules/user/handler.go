package user

import (
	"encoding/json"
	"fmt"
	"net/http"

	middle "vigil/internals/middleware"
	"vigil/pkg/utils"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service, validator *validator.Validate) *Handler {
	return &Handler{
		service:   service,
		validator: validator,
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteValidationErrors(w, []string{"malformed request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteValidationErrors(w, validationMessages(err))
		return
	}

	created, err := h.service.Register(ctx, RegisterCmd{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, RegisterResponse{UserKey: created.UserKey})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middle.PrincipalFromContext(ctx)
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	if principal.IsAdmin {
		utils.WriteError(w, http.StatusBadRequest, "admin key does not identify a user account")
		return
	}

	if err := h.service.Delete(ctx, principal.UserID); err != nil {
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, "Delete successful")
}

func (h *Handler) LogIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LogInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteValidationErrors(w, []string{"malformed request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteValidationErrors(w, validationMessages(err))
		return
	}

	res, err := h.service.LogIn(ctx, LogInCmd{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, LogInResponse{
		UserKey:     res.UserKey,
		AccessToken: res.AccessToken,
	})
}

func validationMessages(err error) []string {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{"invalid request body"}
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
	}
	return msgs
}
