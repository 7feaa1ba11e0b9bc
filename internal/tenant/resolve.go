package tenant

import "github.com/matheus3301/clinichat/internal/config"

const DefaultName = "main"

// Resolve determines the active tenant name using precedence:
// 1. flagOverride (--tenant flag)
// 2. config.toml default_tenant
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultTenant != "" {
		return cfg.DefaultTenant
	}
	return DefaultName
}
