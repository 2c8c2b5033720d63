package pose

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/metrics"
)

// Provider defines the interface for pose estimation backends
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// DetectPose extracts body landmarks from an encoded image.
	// An empty result means no person was visible in the frame.
	DetectPose(ctx context.Context, image []byte) ([]RawLandmark, error)
}

// ProviderManager manages all pose estimation providers
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a pose estimation provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize pose provider")
		return err
	}

	m.mu.Lock()
	m.providers[provider.Name()] = provider
	m.mu.Unlock()

	m.logger.WithField("provider", provider.Name()).Info("Registered pose provider")

	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Detect runs pose estimation with the named provider, falling back to the
// default when the name is unknown or empty.
func (m *ProviderManager) Detect(ctx context.Context, providerName string, image []byte) ([]RawLandmark, error) {
	startTime := time.Now()

	provider, exists := m.GetProvider(providerName)
	if !exists {
		if providerName != "" {
			m.logger.WithFields(logrus.Fields{
				"provider":         providerName,
				"default_provider": m.defaultProvider,
			}).Warn("Pose provider not found, falling back to default")
		}

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return nil, ErrNoProviderAvailable
		}
	}

	observe := metrics.ObserveEstimationLatency(provider.Name())
	landmarks, err := provider.DetectPose(ctx, image)
	observe()

	elapsed := time.Since(startTime)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordEstimationRequest(provider.Name(), status)

	m.logger.WithFields(logrus.Fields{
		"provider":    provider.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"landmarks":   len(landmarks),
		"error":       err != nil,
	}).Debug("Pose detection completed")

	return landmarks, err
}
