package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

type fakeTelegram struct {
	mu       sync.Mutex
	methods  []string
	captions []string
	fail     bool
}

func (f *fakeTelegram) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.mu.Lock()
		f.methods = append(f.methods, method)
		switch method {
		case "sendPhoto":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f.captions = append(f.captions, r.FormValue("caption"))
		case "sendMessage":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			f.captions = append(f.captions, payload["text"].(string))
		}
		fail := f.fail
		f.mu.Unlock()

		if fail {
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"id":1,"username":"trafficeye_bot"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeTelegram) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func criticalEvent(cameraID string) *sink.Event {
	return &sink.Event{
		ID:         "evt-" + cameraID,
		CameraID:   cameraID,
		Type:       engine.RedLight,
		Category:   engine.CategoryCritical,
		VehicleID:  "car_3",
		Location:   "Main St & 5th Ave Intersection",
		Confidence: 0.9,
		Timestamp:  "2024-05-17 14:30:15",
	}
}

func newBot(srv *httptest.Server) *TelegramBot {
	return NewTelegramBot(Config{BotToken: "tok", ChatID: "42", Enabled: true, APIBase: srv.URL})
}

func TestNotifierCooldownPerCamera(t *testing.T) {
	fake := &fakeTelegram{}
	clock := timeutil.NewMockClock(time.Date(2024, 5, 17, 14, 0, 0, 0, time.UTC))
	n := NewNotifier(newBot(fake.server(t)), time.Minute, clock)

	n.OnViolation(criticalEvent("cam-1"))
	n.OnViolation(criticalEvent("cam-1")) // within cooldown
	n.OnViolation(criticalEvent("cam-2"))
	clock.Advance(61 * time.Second)
	n.OnViolation(criticalEvent("cam-1"))
	n.Close()

	sent, failed := n.Stats()
	assert.Equal(t, 3, sent)
	assert.Zero(t, failed)
	assert.Equal(t, []string{"sendMessage", "sendMessage", "sendMessage"}, fake.calls())
}

func TestNotifierIgnoresNonCritical(t *testing.T) {
	fake := &fakeTelegram{}
	n := NewNotifier(newBot(fake.server(t)), 0, nil)

	e := criticalEvent("cam-1")
	e.Type = engine.Speeding
	e.Category = engine.CategoryMedium
	n.OnViolation(e)
	n.OnViolation(nil)
	n.Close()

	assert.Empty(t, fake.calls())
}

func TestNotifierSendsEvidencePhoto(t *testing.T) {
	fake := &fakeTelegram{}
	path := filepath.Join(t.TempDir(), "red_light_violation_car_3.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o644))

	n := NewNotifier(newBot(fake.server(t)), 0, nil)
	e := criticalEvent("cam-1")
	e.ImagePath = path
	n.OnViolation(e)
	n.Close()

	require.Equal(t, []string{"sendPhoto"}, fake.calls())
	assert.Contains(t, fake.captions[0], "Red Light Violation")
	assert.Contains(t, fake.captions[0], "Main St &amp; 5th Ave Intersection")
}

func TestNotifierCountsFailures(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	n := NewNotifier(newBot(fake.server(t)), 0, nil)
	n.OnViolation(criticalEvent("cam-1"))
	n.Close()

	sent, failed := n.Stats()
	assert.Zero(t, sent)
	assert.Equal(t, 1, failed)
}

func TestDisabledBot(t *testing.T) {
	bot := NewTelegramBot(Config{BotToken: "tok"})
	assert.False(t, bot.IsEnabled())
	assert.ErrorIs(t, bot.SendMessage(context.Background(), "hi"), ErrDisabled)

	n := NewNotifier(bot, 0, nil)
	n.OnViolation(criticalEvent("cam-1"))
	n.Close()
	sent, failed := n.Stats()
	assert.Zero(t, sent+failed)
}

func TestGetBotInfo(t *testing.T) {
	fake := &fakeTelegram{}
	info, err := newBot(fake.server(t)).GetBotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trafficeye_bot", info["username"])
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled empty", Config{}, false},
		{"enabled complete", Config{Enabled: true, BotToken: "t", ChatID: "c"}, false},
		{"missing token", Config{Enabled: true, ChatID: "c"}, true},
		{"missing chat", Config{Enabled: true, BotToken: "t"}, true},
		{"negative cooldown", Config{CooldownSeconds: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatAlertSpeed(t *testing.T) {
	e := criticalEvent("cam-1")
	e.Type = engine.Speeding
	e.EstimatedSpeed = 62.5
	assert.Contains(t, FormatAlert(e), "Speed: 62.5 km/h")
}
