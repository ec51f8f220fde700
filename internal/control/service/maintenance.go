package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/store"
)

// Maintenance — периодический фоновый свип поверх обязательного ленивого.
// Ленивый inline-свип гарантирует корректность («истёкшее перестаёт
// работать»), фоновый — детерминированное освобождение памяти под записи,
// которых больше никто не коснётся. Request path от него не зависит.
type Maintenance struct {
	store    *store.Store
	interval time.Duration
	logger   *zap.Logger
}

func NewMaintenance(st *store.Store, interval time.Duration, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		store:    st,
		interval: interval,
		logger:   logger.Named("maintenance"),
	}
}

// Run крутит свип до отмены контекста. Нулевой интервал выключает воркер.
func (m *Maintenance) Run(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("periodic sweep disabled, lazy sweep only")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("periodic sweep started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("periodic sweep stopped")
			return
		case <-ticker.C:
			res := m.store.Sweep()
			if res.AccessTokensReclaimed+res.SessionTokensReclaimed+res.SessionsTerminated > 0 {
				m.logger.Debug("sweep pass",
					zap.Int("access_tokens", res.AccessTokensReclaimed),
					zap.Int("session_tokens", res.SessionTokensReclaimed),
					zap.Int("sessions_terminated", res.SessionsTerminated))
			}
		}
	}
}
