package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

const (
	defaultCooldown = 30 * time.Second
	queueSize       = 64
	sendTimeout     = 30 * time.Second
)

// Sender is the part of TelegramBot the notifier needs
type Sender interface {
	IsEnabled() bool
	SendMessage(ctx context.Context, message string) error
	SendPhoto(ctx context.Context, photoData []byte, filename, caption string) error
}

// Notifier alerts on CRITICAL violations with a per-camera cooldown.
// Events are queued and sent from a single worker so publishers never block.
type Notifier struct {
	sender   Sender
	clock    timeutil.Clock
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time

	queue  chan *sink.Event
	wg     sync.WaitGroup
	closed bool
	sent   int
	failed int
}

// NewNotifier starts the delivery worker. A non-positive cooldown uses 30s.
func NewNotifier(sender Sender, cooldown time.Duration, clock timeutil.Clock) *Notifier {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	n := &Notifier{
		sender:   sender,
		clock:    clock,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
		queue:    make(chan *sink.Event, queueSize),
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

// OnViolation queues critical events that are outside their camera's cooldown
func (n *Notifier) OnViolation(event *sink.Event) {
	if event == nil || !event.Critical() || !n.sender.IsEnabled() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	now := n.clock.Now()
	if last, ok := n.lastSent[event.CameraID]; ok && now.Sub(last) < n.cooldown {
		return
	}

	select {
	case n.queue <- event:
		n.lastSent[event.CameraID] = now
	default:
		log.Printf("[Notify] Queue full, dropping alert for %s", event.ID)
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for event := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := n.deliver(ctx, event)
		cancel()

		n.mu.Lock()
		if err != nil {
			n.failed++
		} else {
			n.sent++
		}
		n.mu.Unlock()

		if err != nil {
			log.Printf("[Notify] Failed to send alert for %s: %v", event.ID, err)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, event *sink.Event) error {
	caption := FormatAlert(event)
	if event.ImagePath != "" {
		data, err := os.ReadFile(event.ImagePath)
		if err == nil {
			return n.sender.SendPhoto(ctx, data, filepath.Base(event.ImagePath), caption)
		}
		log.Printf("[Notify] Evidence image unavailable, sending text only: %v", err)
	}
	return n.sender.SendMessage(ctx, caption)
}

// Stats returns delivered and failed alert counts
func (n *Notifier) Stats() (sent, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.failed
}

// Close stops accepting events and waits for queued alerts to be sent
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

// FormatAlert renders the HTML alert text for an event
func FormatAlert(e *sink.Event) string {
	msg := fmt.Sprintf(
		"🚨 <b>%s Violation</b> [%s]\n\n"+
			"📹 Camera: %s\n"+
			"📍 Location: %s\n"+
			"🚗 Vehicle: %s\n"+
			"🎯 Confidence: %.2f\n"+
			"🕐 Time: %s",
		html.EscapeString(e.Type.Label()),
		e.Category,
		html.EscapeString(e.CameraID),
		html.EscapeString(e.Location),
		html.EscapeString(e.VehicleID),
		e.Confidence,
		html.EscapeString(e.Timestamp),
	)
	if e.EstimatedSpeed > 0 {
		msg += fmt.Sprintf("\n💨 Speed: %.1f km/h", e.EstimatedSpeed)
	}
	return msg
}
