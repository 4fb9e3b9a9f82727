package director

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/chatstore/pkg/logger"
)

// RunRefreshSchedule reloads both caches on every tick of the cron
// expression until ctx is done. A failed refresh is logged and the previous
// cache contents stay in place.
func (d *Director) RunRefreshSchedule(ctx context.Context, expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid refresh cron expression %q", expr)
	}
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return fmt.Errorf("next refresh tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := d.Refresh(ctx); err != nil {
			logger.WarnCF("director", "Scheduled cache refresh failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		logger.DebugCF("director", "Cache refreshed", map[string]interface{}{"next_after": next.Format(time.RFC3339)})
	}
}
