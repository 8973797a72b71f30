package detectors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"trafficeye/internal/pipeline"
)

// ErrNoHealthyDetector is returned when every registered detector is down
var ErrNoHealthyDetector = errors.New("no healthy detector available")

// Registry holds detectors in registration order. It implements
// pipeline.Detector by delegating each frame to the first healthy detector,
// so a secondary inference service takes over when the primary is down.
type Registry struct {
	order     []string
	detectors map[string]pipeline.Detector
	mu        sync.RWMutex
}

// NewRegistry creates a new detector registry
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]pipeline.Detector),
	}
}

// Register adds a detector to the registry
func (r *Registry) Register(detector pipeline.Detector) error {
	if detector == nil {
		return fmt.Errorf("detector cannot be nil")
	}

	name := detector.Name()
	if name == "" {
		return fmt.Errorf("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}

	r.detectors[name] = detector
	r.order = append(r.order, name)
	return nil
}

// Get returns a detector by name
func (r *Registry) Get(name string) (pipeline.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// GetAll returns all registered detectors in registration order
func (r *Registry) GetAll() []pipeline.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]pipeline.Detector, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.detectors[name])
	}
	return result
}

// GetHealthy returns only healthy detectors, in registration order
func (r *Registry) GetHealthy() []pipeline.Detector {
	var result []pipeline.Detector
	for _, d := range r.GetAll() {
		if d.IsHealthy() {
			result = append(result, d)
		}
	}
	return result
}

// Name identifies the registry as a detector
func (r *Registry) Name() string {
	return "registry"
}

// IsHealthy reports whether any registered detector is healthy
func (r *Registry) IsHealthy() bool {
	for _, d := range r.GetAll() {
		if d.IsHealthy() {
			return true
		}
	}
	return false
}

// Detect tries healthy detectors in order and returns the first success
func (r *Registry) Detect(ctx context.Context, frame *pipeline.FrameData) (*pipeline.DetectionResult, error) {
	var errs []error
	for _, d := range r.GetHealthy() {
		res, err := d.Detect(ctx, frame)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[Detectors] %s failed, trying next: %v", d.Name(), err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoHealthyDetector
	}
	return nil, errors.Join(errs...)
}

// Close releases all detector resources
func (r *Registry) Close() error {
	var errs []error
	for _, d := range r.GetAll() {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ pipeline.Detector = (*Registry)(nil)
