package auth

import (
	"fmt"

	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/oracle"
)

// SetupGuard builds the guard described by cfg. sqliteStore backs the
// "sqlite" entitlement mode and may be nil otherwise. The returned stop
// function releases background resources.
func SetupGuard(cfg config.AuthConfig, sqliteStore EntitlementChecker) (*Guard, func(), error) {
	verifier, err := buildVerifier(cfg.Identity)
	if err != nil {
		return nil, nil, err
	}

	entitlements, err := buildEntitlements(cfg.Entitlement, sqliteStore)
	if err != nil {
		return nil, nil, err
	}

	stop := func() {}
	if cfg.Entitlement.CacheTTL > 0 && cfg.Entitlement.Mode != config.ModeStatic {
		cached := NewCachedEntitlements(entitlements, cfg.Entitlement.CacheTTL, config.DefaultCleanupInterval)
		entitlements = cached
		stop = cached.Stop
	}

	return NewGuard(verifier, entitlements), stop, nil
}

func buildVerifier(cfg config.IdentityConfig) (IdentityVerifier, error) {
	switch cfg.Mode {
	case config.ModeStatic:
		return NewStaticVerifier(cfg.Tokens), nil
	case config.ModeHTTP:
		client := oracle.NewClient(oracle.Identity, cfg.URL, cfg.APIKey, oracle.WithTimeout(cfg.Timeout))
		return NewHTTPVerifier(client), nil
	default:
		return nil, fmt.Errorf("unsupported identity mode %q", cfg.Mode)
	}
}

func buildEntitlements(cfg config.EntitlementConfig, sqliteStore EntitlementChecker) (EntitlementChecker, error) {
	switch cfg.Mode {
	case config.ModeStatic:
		return NewStaticEntitlements(cfg.Entitled), nil
	case config.ModeHTTP:
		client := oracle.NewClient(oracle.Entitlement, cfg.URL, cfg.APIKey, oracle.WithTimeout(cfg.Timeout))
		return NewHTTPEntitlements(client), nil
	case config.ModeSQLite:
		if sqliteStore == nil {
			return nil, fmt.Errorf("sqlite entitlement mode requires an open store")
		}
		return sqliteStore, nil
	default:
		return nil, fmt.Errorf("unsupported entitlement mode %q", cfg.Mode)
	}
}
