package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// fpsStabilityThreshold is the maximum FPS standard deviation as a
// fraction of mean FPS for a stream to count as stable.
const fpsStabilityThreshold = 0.15

// WarmupStats contains statistics from the capture warm-up phase.
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	IsStable       bool
}

// Warmup consumes frames for the given duration to let the pipeline
// settle and to measure real delivery rate before a session goes live.
// It fails when the source delivers fewer than two frames, which is how
// an unavailable capture device surfaces at session start.
func Warmup(ctx context.Context, frames <-chan types.Frame, duration time.Duration) (*WarmupStats, error) {
	slog.Info("warming up capture", "duration", duration)

	startTime := time.Now()
	frameTimes := make([]time.Time, 0, 100)

	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

loop:
	for {
		select {
		case <-warmupCtx.Done():
			break loop

		case frame, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("capture closed during warm-up")
			}
			frameTimes = append(frameTimes, frame.Timestamp)
		}
	}

	elapsed := time.Since(startTime)

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("not enough frames during warm-up (got %d)", len(frameTimes))
	}

	stats := ComputeFPSStats(frameTimes, elapsed)

	slog.Info("capture warm-up complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		slog.Warn("capture FPS is unstable, preview cadence may drift",
			"fps_stddev", stats.FPSStdDev,
		)
	}

	return stats, nil
}

// ComputeFPSStats derives delivery-rate statistics from frame arrival
// timestamps.
func ComputeFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	if n == 0 || totalDuration <= 0 {
		return &WarmupStats{Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	if len(instantaneous) == 0 {
		return &WarmupStats{
			FramesReceived: n,
			Duration:       totalDuration,
			FPSMean:        fpsMean,
		}
	}

	fpsMin := instantaneous[0]
	fpsMax := instantaneous[0]
	for _, fps := range instantaneous {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
	}

	var sumSquares float64
	for _, fps := range instantaneous {
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	return &WarmupStats{
		FramesReceived: n,
		Duration:       totalDuration,
		FPSMean:        fpsMean,
		FPSStdDev:      fpsStdDev,
		FPSMin:         fpsMin,
		FPSMax:         fpsMax,
		IsStable:       fpsStdDev < fpsMean*fpsStabilityThreshold,
	}
}
