package monitor_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/internals/modules/monitor"
	"vigil/internals/storage/sqlite"
	"vigil/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newService(t *testing.T) *monitor.Service {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	logger := zerolog.Nop()
	return monitor.NewService(store, &logger)
}

func validCmd() monitor.CreateMonitorCmd {
	return monitor.CreateMonitorCmd{
		UserID:    uuid.New(),
		Name:      "testmon",
		Slug:      "testslug",
		Frequency: 60,
		Webhook: monitor.WebhookSpec{
			Url:    "https://foo2.com",
			Method: "post",
		},
	}
}

func TestValidateCmdFrequencyBoundaries(t *testing.T) {
	cases := []struct {
		frequency int64
		ok        bool
	}{
		{59, false},
		{60, true},
		{2_592_000, true},
		{2_592_001, false},
	}
	for _, tc := range cases {
		cmd := validCmd()
		cmd.Frequency = tc.frequency
		problems := monitor.ValidateCmd(cmd)
		if tc.ok && len(problems) != 0 {
			t.Errorf("frequency %d: unexpected problems %v", tc.frequency, problems)
		}
		if !tc.ok && len(problems) == 0 {
			t.Errorf("frequency %d: expected rejection", tc.frequency)
		}
	}
}

func TestValidateCmdSlugBoundaries(t *testing.T) {
	cases := []struct {
		slug string
		ok   bool
	}{
		{"testslug", true},
		{"a", true},
		{"slug-with-dashes-9", true},
		{strings.Repeat("a", 32), true},
		{strings.Repeat("a", 33), false},
		{"-leading-dash", false},
		{"UpperCase", false},
		{"under_score", false},
		{"", false},
	}
	for _, tc := range cases {
		cmd := validCmd()
		cmd.Slug = tc.slug
		problems := monitor.ValidateCmd(cmd)
		if tc.ok && len(problems) != 0 {
			t.Errorf("slug %q: unexpected problems %v", tc.slug, problems)
		}
		if !tc.ok && len(problems) == 0 {
			t.Errorf("slug %q: expected rejection", tc.slug)
		}
	}
}

func TestValidateCmdNameAndWebhook(t *testing.T) {
	cmd := validCmd()
	cmd.Name = strings.Repeat("x", 256)
	if len(monitor.ValidateCmd(cmd)) == 0 {
		t.Error("expected rejection of 256 character name")
	}

	cmd = validCmd()
	cmd.Webhook.Url = ""
	if len(monitor.ValidateCmd(cmd)) == 0 {
		t.Error("expected rejection of missing webhook url")
	}

	cmd = validCmd()
	cmd.Webhook.Method = "DELETE"
	if len(monitor.ValidateCmd(cmd)) == 0 {
		t.Error("expected rejection of unsupported method")
	}
}

func TestCreateGeneratesKeyAndDeadline(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	before := time.Now().Unix()
	mon, hook, err := svc.Create(ctx, validCmd())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(mon.APIKey) != 16 {
		t.Fatalf("api key length = %d, want 16", len(mon.APIKey))
	}
	if hook.Method != "POST" {
		t.Fatalf("method not normalized, got %q", hook.Method)
	}

	want := before + 60
	if mon.ExpiresAt < want || mon.ExpiresAt > want+2 {
		t.Fatalf("expires_at = %d, want about %d", mon.ExpiresAt, want)
	}
	if mon.LastCheck != nil {
		t.Fatal("last_check must be null on creation")
	}
}

func TestCreateDuplicateSlugConflict(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, validCmd()); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, _, err := svc.Create(ctx, validCmd())
	if !apperror.IsKind(err, apperror.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCheckInUnknownPairIsNotFound(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	mon, _, err := svc.Create(ctx, validCmd())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.CheckIn(ctx, mon.Slug, "wrong-key")
	if !apperror.IsKind(err, apperror.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	updated, err := svc.CheckIn(ctx, mon.Slug, mon.APIKey)
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if updated.LastCheck == nil {
		t.Fatal("last_check not set")
	}
}

func TestDeleteRequiresOwnerOrAdmin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cmd := validCmd()
	mon, _, err := svc.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, mon.Slug, false, uuid.New()); !apperror.IsKind(err, apperror.Forbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if err := svc.Delete(ctx, mon.Slug, false, cmd.UserID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if err := svc.Delete(ctx, mon.Slug, true, uuid.Nil); !apperror.IsKind(err, apperror.NotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
