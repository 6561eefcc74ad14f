package ports

import (
	"context"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Notifier presenta el resultado de un ciclo al usuario.
type Notifier interface {
	// NotifyCycle muestra las señales ejecutadas, saltadas y rechazadas.
	NotifyCycle(ctx context.Context, cycleID string, results []domain.SignalResult) error
}
