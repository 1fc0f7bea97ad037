package render

// The ETA estimator favors slight overestimation over false confidence:
// frame cost is non-uniform (denoising convergence varies with frame
// content), so a recency-weighted average plus a fixed safety buffer
// tracks drift without overreacting to single slow frames.

// EstimatorConfig holds the estimator's tuning knobs. The defaults are
// empirically chosen; treat them as configuration, not invariants.
type EstimatorConfig struct {
	// Window is the maximum number of inter-frame durations considered.
	Window int
	// Warmup is the minimum number of durations before estimating.
	Warmup int
	// SafetyFactor inflates the base estimate (1.25 = +25%).
	SafetyFactor float64
	// SlowFrameFactor is the threshold, as a multiple of the weighted
	// average, past which the current in-progress frame counts as slow.
	SlowFrameFactor float64
	// SlowFrameWeight scales the overrun added during query-time refinement.
	SlowFrameWeight float64
}

// DefaultEstimatorConfig returns the production tuning.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Window:          20,
		Warmup:          5,
		SafetyFactor:    1.25,
		SlowFrameFactor: 1.5,
		SlowFrameWeight: 0.5,
	}
}

// Estimator computes remaining-time estimates from frame-timing history.
// It is stateless; all inputs come in per call.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator builds an Estimator, zero-filling cfg with defaults.
func NewEstimator(cfg EstimatorConfig) Estimator {
	def := DefaultEstimatorConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = def.Warmup
	}
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = def.SafetyFactor
	}
	if cfg.SlowFrameFactor <= 0 {
		cfg.SlowFrameFactor = def.SlowFrameFactor
	}
	if cfg.SlowFrameWeight <= 0 {
		cfg.SlowFrameWeight = def.SlowFrameWeight
	}
	return Estimator{cfg: cfg}
}

// Config returns the effective tuning.
func (e Estimator) Config() EstimatorConfig { return e.cfg }

// WeightedAverage computes the linearly recency-weighted average of
// durations: entry i (1-based, oldest to newest) is weighted by i.
func (e Estimator) WeightedAverage(durations []float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	if len(durations) > e.cfg.Window {
		durations = durations[len(durations)-e.cfg.Window:]
	}

	var weightedSum, weightTotal float64
	for i, d := range durations {
		w := float64(i + 1)
		weightedSum += d * w
		weightTotal += w
	}
	return weightedSum / weightTotal
}

// Estimate returns the smoothed remaining-time estimate in seconds.
// ok is false during warmup (fewer than Warmup recorded durations).
func (e Estimator) Estimate(durations []float64, framesRemaining int, elapsedOnCurrent float64) (eta float64, ok bool) {
	if len(durations) < e.cfg.Warmup {
		return 0, false
	}
	if framesRemaining < 0 {
		framesRemaining = 0
	}

	avg := e.WeightedAverage(durations)
	base := avg*float64(framesRemaining) + elapsedOnCurrent
	eta = base * e.cfg.SafetyFactor
	if eta < 0 {
		eta = 0
	}
	return eta, true
}

// Refine adjusts a previously computed estimate at query time. When the
// current in-progress frame has already run longer than SlowFrameFactor
// times the average, part of the overrun is added; this dampens estimate
// stickiness between progress ticks without discarding the monitor's
// computation.
func (e Estimator) Refine(baseETA, avg, elapsedOnCurrent float64) float64 {
	if avg > 0 && elapsedOnCurrent > avg*e.cfg.SlowFrameFactor {
		refined := baseETA + (elapsedOnCurrent-avg)*e.cfg.SlowFrameWeight
		if refined < 0 {
			return 0
		}
		return refined
	}
	if baseETA < 0 {
		return 0
	}
	return baseETA
}
