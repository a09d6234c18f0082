// internal/desktop/driver.go

// Package desktop selects and constructs the virtual desktop backend.
package desktop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/desktop/chromium"
	"github.com/xkilldash9x/operator-cli/internal/desktop/gateway"
)

// New builds the desktop driver named by cfg.Backend. The chromium backend
// launches a local browser immediately; the gateway backend defers all
// network traffic to the first driver call.
func New(ctx context.Context, cfg config.DesktopConfig, logger *zap.Logger) (schemas.DesktopDriver, error) {
	switch cfg.Backend {
	case config.BackendChromium:
		return chromium.New(ctx, cfg.Chromium, logger)
	case config.BackendGateway:
		return gateway.New(cfg.Gateway, logger)
	default:
		return nil, schemas.NewConfigurationError("desktop.backend",
			fmt.Sprintf("unknown desktop backend %q (supported: %s, %s)",
				cfg.Backend, config.BackendChromium, config.BackendGateway))
	}
}
