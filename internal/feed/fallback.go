package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fallback asks Primary first and Secondary only when Primary fails or
// answers without coordinates.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *slog.Logger
}

// Fetch returns the first successful report. When both fail the error
// wraps both causes.
func (f *Fallback) Fetch(ctx context.Context) (*Position, error) {
	pos, err := f.Primary.Fetch(ctx)
	if err == nil {
		if pos.HasCoordinates() {
			return pos, nil
		}
		err = fmt.Errorf("primary feed: %w", ErrNoCoordinates)
	}
	if ctx.Err() != nil {
		return nil, err
	}

	f.Logger.Debug("primary position feed failed, trying secondary", "error", err)
	pos, err2 := f.Secondary.Fetch(ctx)
	if err2 == nil && !pos.HasCoordinates() {
		err2 = fmt.Errorf("secondary feed: %w", ErrNoCoordinates)
	}
	if err2 != nil {
		return nil, fmt.Errorf("all position feeds failed: %w", errors.Join(err, err2))
	}
	return pos, nil
}
