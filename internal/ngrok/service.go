package ngrok

import (
	"context"
	"errors"
	"fmt"

	"crossfade/internal/config"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// ErrMissingAuthToken is returned when the tunnel is enabled without a token
var ErrMissingAuthToken = errors.New("ngrok auth token not found, set NGROK_AUTHTOKEN in .env or auth_token in the config")

// Service exposes the mixer to remote controllers through an ngrok tunnel
type Service struct {
	config *config.NgrokConfig
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
	logger *logrus.Logger
}

// NewService creates a new ngrok service instance. It returns nil when the
// tunnel is disabled; every method is safe on a nil service.
func NewService(cfg *config.NgrokConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AuthToken == "" {
		return nil, ErrMissingAuthToken
	}
	if logger == nil {
		logger = logrus.New()
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		agent:  agent,
		logger: logger,
	}, nil
}

// trafficPolicy puts an OAuth login in front of the tunnel
func trafficPolicy(provider string) string {
	return fmt.Sprintf(`
on_http_request:
  - actions:
      - type: oauth
        config:
          provider: %s
`, provider)
}

// StartTunnel forwards the public endpoint to localAddress
func (s *Service) StartTunnel(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil
	}

	s.logger.Info("Starting ngrok tunnel")

	var endpointOpts []ngrok.EndpointOption
	if s.config.Domain != "" {
		endpointOpts = append(endpointOpts, ngrok.WithURL(s.config.Domain))
	}
	if s.config.EnableAuth {
		endpointOpts = append(endpointOpts, ngrok.WithTrafficPolicy(trafficPolicy(s.config.AuthProvider)))
	}

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), endpointOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	s.tunnel = tunnel

	fields := logrus.Fields{
		"public_url": tunnel.URL().String(),
		"upstream":   localAddress,
	}
	if s.config.EnableAuth {
		fields["oauth_provider"] = s.config.AuthProvider
	}
	s.logger.WithFields(fields).Info("Ngrok tunnel active")
	return nil
}

// GetPublicURL returns the public URL of the tunnel, or "" when not running
func (s *Service) GetPublicURL() string {
	if s == nil || s.tunnel == nil {
		return ""
	}
	return s.tunnel.URL().String()
}

// Stop closes the tunnel
func (s *Service) Stop() error {
	if s == nil || s.tunnel == nil {
		return nil
	}
	s.logger.Info("Stopping ngrok tunnel")
	return s.tunnel.Close()
}
