package pose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/errors"
	"postureguard-server/pkg/version"
)

// HTTPProviderConfig holds the settings for the estimator sidecar client.
type HTTPProviderConfig struct {
	Endpoint               string
	Timeout                time.Duration
	ModelComplexity        int
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
}

// HTTPProvider runs pose estimation through a sidecar service over HTTP.
// The sidecar owns the model; this client only ships frames and model knobs.
type HTTPProvider struct {
	logger *logrus.Logger
	config HTTPProviderConfig
	client *http.Client
}

type detectRequest struct {
	Image                  string  `json:"image"`
	ModelComplexity        int     `json:"model_complexity"`
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
}

type detectResponse struct {
	Landmarks []RawLandmark `json:"landmarks"`
}

// NewHTTPProvider creates a new HTTP estimator client
func NewHTTPProvider(logger *logrus.Logger, config HTTPProviderConfig) *HTTPProvider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPProvider{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return "http"
}

// Initialize validates the estimator endpoint
func (p *HTTPProvider) Initialize() error {
	if p.config.Endpoint == "" {
		return errors.ErrProviderNotConfigured
	}

	u, err := url.Parse(p.config.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("invalid estimator endpoint", map[string]interface{}{
			"endpoint": p.config.Endpoint,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"endpoint":         p.config.Endpoint,
		"model_complexity": p.config.ModelComplexity,
	}).Info("HTTP pose provider initialized")

	return nil
}

// DetectPose sends the encoded image to the estimator and decodes the
// returned landmark list. An empty list means no person in the frame.
func (p *HTTPProvider) DetectPose(ctx context.Context, image []byte) ([]RawLandmark, error) {
	payload := detectRequest{
		Image:                  base64.StdEncoding.EncodeToString(image),
		ModelComplexity:        p.config.ModelComplexity,
		MinDetectionConfidence: p.config.MinDetectionConfidence,
		MinTrackingConfidence:  p.config.MinTrackingConfidence,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode estimator request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build estimator request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "estimator request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewEstimationFailed(fmt.Sprintf("estimator returned status %d", resp.StatusCode))
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}

	return decoded.Landmarks, nil
}
