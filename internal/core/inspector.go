package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/spooler"
)

// ClassifyColor reads the color payload only when the driver marked it
// as populated. Drivers that leave the bit unset often default the
// payload to color whatever the user chose, so an unset bit yields
// ColorUnknown rather than trusting the payload.
func ClassifyColor(dm *spooler.DevMode) ColorState {
	if !dm.HasField(spooler.FieldColor) {
		return ColorUnknown
	}
	switch dm.Color {
	case spooler.ColorColor:
		return ColorColor
	case spooler.ColorMonochrome:
		return ColorMonochrome
	default:
		return ColorUnknown
	}
}

// Inspection is what the inspector learned about a paused job.
type Inspection struct {
	Pages int
	Color ColorState
	// Settled is false when the spooler still reported the job as
	// spooling after the last attempt.
	Settled bool
}

type Inspector struct {
	spooler  spooler.Spooler
	settle   time.Duration
	attempts int
	log      *zap.Logger
}

func NewInspector(sp spooler.Spooler, settle time.Duration, attempts int, log *zap.Logger) *Inspector {
	if attempts < 1 {
		attempts = 1
	}
	return &Inspector{
		spooler:  sp,
		settle:   settle,
		attempts: attempts,
		log:      log.Named("inspector"),
	}
}

// Inspect reads the job's page count and color mode. While the spooler
// is still writing the job it re-reads up to the configured number of
// attempts so the page count is final before pricing.
func (i *Inspector) Inspect(ctx context.Context, key JobKey) (*Inspection, error) {
	var info *spooler.JobInfo
	for attempt := 1; ; attempt++ {
		var err error
		info, err = i.spooler.Job(ctx, key.Printer, key.JobID)
		if err != nil {
			return nil, fmt.Errorf("failed to read job %s: %w", key, err)
		}
		if !info.Spooling || attempt >= i.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s still spooling: %w", key, ctx.Err())
		case <-time.After(i.settle):
		}
	}

	result := &Inspection{
		Pages:   info.TotalPages,
		Color:   ClassifyColor(info.DevMode),
		Settled: !info.Spooling,
	}
	if result.Pages < 0 {
		result.Pages = 0
	}

	fields := []zap.Field{
		zap.Stringer("job", key),
		zap.Int("pages", result.Pages),
		zap.Stringer("color", result.Color),
		zap.Bool("settled", result.Settled),
	}
	if info.DevMode != nil {
		fields = append(fields,
			zap.Int16("dm_color", info.DevMode.Color),
			zap.String("dm_fields", fmt.Sprintf("%#08x", info.DevMode.Fields)))
	} else {
		fields = append(fields, zap.Bool("dm_missing", true))
	}
	i.log.Debug("inspected job", fields...)
	if !result.Settled {
		i.log.Warn("job still spooling after inspection attempts, pricing current page count", zap.Stringer("job", key))
	}

	return result, nil
}
