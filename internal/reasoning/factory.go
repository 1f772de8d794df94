package reasoning

import (
	"fmt"
	"strings"

	"github.com/curatorhq/curator/internal/service"
)

// NewReasoner creates a reasoning client based on the provided configuration.
func NewReasoner(cfg Config) (service.Reasoner, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Provider)
	}
}
