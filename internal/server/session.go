package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/actions"
	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/desktop"
	"github.com/xkilldash9x/operator-cli/internal/scaling"
)

// sessionCloseTimeout bounds how long a finished run may spend tearing
// down its desktop before the handle is abandoned.
const sessionCloseTimeout = 15 * time.Second

// DriverFactory provisions the desktop a run will control. It exists so
// tests can substitute an in-memory driver for a real backend.
type DriverFactory func(ctx context.Context, cfg config.DesktopConfig, logger *zap.Logger) (schemas.DesktopDriver, error)

// Session bundles everything one run needs to act on a desktop: the
// driver handle, the coordinate scaler derived from the real resolution,
// and the dispatcher that executes parsed actions. Each run owns exactly
// one session and closes it when the run ends.
type Session struct {
	ID         string
	Driver     schemas.DesktopDriver
	Scaler     *scaling.Scaler
	Dispatcher *actions.Dispatcher

	logger *zap.Logger
}

// NewSession provisions a desktop, measures it, and wires the scaling and
// dispatch machinery on top. The driver is closed again if any later step
// fails, so a non-nil error never leaks a desktop.
func NewSession(ctx context.Context, factory DriverFactory, cfg config.DesktopConfig, bounds schemas.ResolutionBounds, logger *zap.Logger) (*Session, error) {
	driver, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to provision desktop: %w", err)
	}

	resolution, err := driver.Resolution(ctx)
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to read desktop resolution: %w", err)
	}

	scaler, err := scaling.NewScaler(resolution, bounds, logger)
	if err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	return &Session{
		ID:         uuid.New().String(),
		Driver:     driver,
		Scaler:     scaler,
		Dispatcher: actions.NewDispatcher(driver, scaler, logger),
		logger:     logger,
	}, nil
}

// Created builds the announcement event for this session. It is always
// the first event a consumer sees on a run stream.
func (s *Session) Created() schemas.Event {
	return schemas.NewSandboxCreatedEvent(s.ID, s.Driver.StreamURL())
}

// Close releases the desktop behind the session. It uses its own timeout
// rather than the run context, which is usually already cancelled by the
// time teardown happens.
func (s *Session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()

	if err := s.Driver.Close(ctx); err != nil {
		s.logger.Warn("Failed to close desktop session",
			zap.String("sandbox_id", s.ID),
			zap.Error(err),
		)
	}
}
