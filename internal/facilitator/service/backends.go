package service

import (
	"github.com/tollgate-ai/tollgate/internal/config"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
)

// BuildBackends assembles the ordered backend list from the gateway policy.
// The policy names the order; "cdp" binds to the authenticated primary and
// every other name consumes the next configured fallback URL.
func BuildBackends(cfg config.Config, policy *config.PolicyHolder) []facilitatordomain.Facilitator {
	order := policy.Get().FacilitatorOrder
	fallbacks := cfg.Facilitator.FallbackURLs

	backends := make([]facilitatordomain.Facilitator, 0, len(order))
	nextFallback := 0
	for _, name := range order {
		if name == "cdp" {
			if cfg.Facilitator.CDPBaseURL == "" {
				continue
			}
			backend := facilitatordomain.Facilitator{
				Name:    "cdp",
				BaseURL: cfg.Facilitator.CDPBaseURL,
			}
			if cfg.Facilitator.CDPKeyID != "" && cfg.Facilitator.CDPKeySecret != "" {
				backend.AuthHeaders = CDPAuthHeaders(cfg.Facilitator.CDPKeyID, cfg.Facilitator.CDPKeySecret)
			}
			backends = append(backends, backend)
			continue
		}
		if nextFallback >= len(fallbacks) {
			continue
		}
		backends = append(backends, facilitatordomain.Facilitator{
			Name:    name,
			BaseURL: fallbacks[nextFallback],
		})
		nextFallback++
	}
	return backends
}
