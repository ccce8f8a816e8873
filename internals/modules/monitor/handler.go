package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	middle "vigil/internals/middleware"
	"vigil/pkg/apperror"
	"vigil/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
	baseURL   string
}

func NewHandler(service *Service, validator *validator.Validate, baseURL string) *Handler {
	return &Handler{
		service:   service,
		validator: validator,
		baseURL:   baseURL,
	}
}

func (h *Handler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middle.PrincipalFromContext(ctx)
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteValidationErrors(w, []string{"malformed request body"})
		return
	}

	if err := h.validator.Struct(req); err != nil {
		utils.WriteValidationErrors(w, validationMessages(err))
		return
	}

	mon, hook, err := h.service.Create(ctx, CreateMonitorCmd{
		UserID:    principal.UserID,
		Name:      req.Name,
		Slug:      req.Slug,
		Frequency: req.Frequency,
		Webhook: WebhookSpec{
			Url:         req.Webhook.Url,
			Method:      req.Webhook.Method,
			Headers:     req.Webhook.Headers,
			FormFields:  req.Webhook.FormFields,
			BodyPayload: req.Webhook.BodyPayload,
		},
	})
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Kind == apperror.InvalidInput {
			utils.WriteValidationErrors(w, strings.Split(appErr.Message, "; "))
			return
		}
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, CreateMonitorResponse{
		MonitorUrl:        fmt.Sprintf("%s/monitor/%s", h.baseURL, mon.Slug),
		ReportIfNotCalled: mon.Frequency,
		Name:              mon.Name,
		ApiKey:            mon.APIKey,
		Webhook: WebhookResponse{
			Url:         hook.URL,
			Method:      hook.Method,
			Headers:     hook.Headers,
			FormFields:  hook.FormFields,
			BodyPayload: hook.BodyPayload,
		},
	})
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing x-api-key header")
		return
	}

	if _, err := h.service.CheckIn(ctx, slug, apiKey); err != nil {
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, "Update successful")
}

func (h *Handler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	principal, ok := middle.PrincipalFromContext(ctx)
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	if err := h.service.Delete(ctx, slug, principal.IsAdmin, principal.UserID); err != nil {
		utils.FromAppError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, "Delete successful")
}

func (h *Handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	principal, ok := middle.PrincipalFromContext(ctx)
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	mon, hooks, err := h.service.Get(ctx, slug, principal.IsAdmin, principal.UserID)
	if err != nil {
		utils.FromAppError(w, err)
		return
	}

	var lastCheck *string
	if mon.LastCheck != nil {
		s := mon.LastCheck.UTC().Format(time.RFC3339)
		lastCheck = &s
	}

	utils.WriteJSON(w, http.StatusOK, GetMonitorResponse{
		Name:         mon.Name,
		Slug:         mon.Slug,
		Frequency:    mon.Frequency,
		ExpiresAt:    mon.ExpiresAt,
		LastCheck:    lastCheck,
		WebhookCount: len(hooks),
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
