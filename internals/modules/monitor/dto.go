package monitor

type WebhookRequest struct {
	Url         string            `json:"url" validate:"required"`
	Method      string            `json:"method" validate:"required"`
	Headers     map[string]string `json:"headers,omitempty"`
	FormFields  map[string]string `json:"form_fields,omitempty"`
	BodyPayload string            `json:"body_payload,omitempty"`
}

type CreateMonitorRequest struct {
	Name      string          `json:"name" validate:"required,max=255"`
	Slug      string          `json:"slug" validate:"required"`
	Frequency int64           `json:"frequency" validate:"required"`
	Webhook   *WebhookRequest `json:"webhook" validate:"required"`
}

type WebhookResponse struct {
	Url         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	FormFields  map[string]string `json:"form_fields,omitempty"`
	BodyPayload string            `json:"body_payload,omitempty"`
}

type CreateMonitorResponse struct {
	MonitorUrl        string          `json:"monitor_url"`
	ReportIfNotCalled int64           `json:"report_if_not_called_in"`
	Name              string          `json:"name"`
	ApiKey            string          `json:"api_key"`
	Webhook           WebhookResponse `json:"webhook"`
}

type GetMonitorResponse struct {
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Frequency    int64   `json:"frequency"`
	ExpiresAt    int64   `json:"expires_at"`
	LastCheck    *string `json:"last_check"`
	WebhookCount int     `json:"webhook_count"`
}
