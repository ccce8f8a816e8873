package monitor

import (
	"github.com/google/uuid"
)

type WebhookSpec struct {
	Url         string
	Method      string
	Headers     map[string]string
	FormFields  map[string]string
	BodyPayload string
}

type CreateMonitorCmd struct {
	UserID    uuid.UUID
	Name      string
	Slug      string
	Frequency int64
	Webhook   WebhookSpec
}
