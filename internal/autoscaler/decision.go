package autoscaler

import (
	"context"
	"time"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/ids"
	"github.com/cuemby/selfstart/internal/model"
)

// decisionTick evaluates every enabled scaling policy.
func (a *AutoScaler) decisionTick(ctx context.Context) {
	policies, err := a.store.ListScalingPolicies(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("decision loop: list policies failed")
		return
	}
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		a.evaluate(ctx, p)
	}
}

func (a *AutoScaler) evaluate(ctx context.Context, p *model.ScalingPolicy) {
	svc, err := a.store.GetService(ctx, p.ServiceName)
	if err != nil {
		a.logger.Warn().Err(err).Str("service", p.ServiceName).Msg("decision: service not found")
		return
	}

	// Step 1: cooldown.
	minCooldown := p.ScaleUpCooldown
	if p.ScaleDownCooldown < minCooldown {
		minCooldown = p.ScaleDownCooldown
	}
	if last := a.lastScalingAction(ctx, p.ServiceName); !last.IsZero() && time.Since(last) < minCooldown {
		return
	}

	// Step 2: sample window.
	points, err := a.store.ListMetrics(ctx, p.ServiceName)
	if err != nil || len(points) < p.EvaluationPeriods {
		return
	}
	window := points[len(points)-p.EvaluationPeriods:]

	// Step 3: arithmetic means.
	meanCPU, meanMem, meanNet := meansOf(window)

	finalCPU, finalMem, finalNet := meanCPU, meanMem, meanNet
	if p.EnablePrediction {
		predCPU := predict(cpuSeries(window), a.cfg.PredictionSamples)
		predMem := predict(memSeries(window), a.cfg.PredictionSamples)
		predNet := predict(netSeries(window), a.cfg.PredictionSamples)
		finalCPU = 0.7*meanCPU + 0.3*predCPU
		finalMem = 0.7*meanMem + 0.3*predMem
		finalNet = 0.7*meanNet + 0.3*predNet
	}

	// Step 5: direction. UP if any axis exceeds its up threshold; DOWN
	// only if every axis is below its down threshold; else NONE.
	direction := model.ScalingDirectionNone
	var trigger model.ScalingTrigger
	switch {
	case (finalCPU > p.CPUScaleUpThreshold || finalMem > p.MemoryScaleUpThreshold || finalNet > p.NetworkScaleUpThreshold) && svc.CurrentReplicas < p.MaxReplicas:
		direction = model.ScalingDirectionUp
		switch {
		case finalCPU > p.CPUScaleUpThreshold:
			trigger = model.ScalingTriggerCPU
		case finalMem > p.MemoryScaleUpThreshold:
			trigger = model.ScalingTriggerMemory
		default:
			trigger = model.ScalingTriggerNetwork
		}
	case finalCPU < p.CPUScaleDownThreshold && finalMem < p.MemoryScaleDownThreshold && finalNet < p.NetworkScaleDownThreshold && svc.CurrentReplicas > p.MinReplicas:
		direction = model.ScalingDirectionDown
		trigger = model.ScalingTriggerCPU
	default:
		return
	}

	from := svc.CurrentReplicas
	to := from + 1
	if direction == model.ScalingDirectionDown {
		to = from - 1
	}
	if to < p.MinReplicas {
		to = p.MinReplicas
	}
	if to > p.MaxReplicas {
		to = p.MaxReplicas
	}

	success := a.converge(ctx, svc, from, to)

	ev := &model.ScalingEvent{
		ID:           ids.NewULID(),
		ServiceName:  p.ServiceName,
		Direction:    direction,
		Trigger:      trigger,
		FromReplicas: from,
		ToReplicas:   to,
		Timestamp:    time.Now(),
		Success:      success,
	}
	// Stamp last_scaling_action only on success; on failure, the event
	// is recorded but the cooldown timer is left untouched so the next
	// cycle retries.
	if !success {
		ev.ErrorMessage = "convergence failed"
	}
	if err := a.store.AppendScalingEvent(ctx, ev); err != nil {
		a.logger.Warn().Err(err).Str("service", p.ServiceName).Msg("decision: append event failed")
		return
	}
	a.bus.Publish(hookbus.OnScalingEvent, ev)
	a.decisionCtr.WithLabelValues(string(direction)).Inc()
}

func meansOf(window []model.MetricsPoint) (cpu, mem, net float64) {
	var sumCPU, sumMem, sumNet float64
	for _, pt := range window {
		sumCPU += pt.CPUPercent
		sumMem += pt.MemoryPercent
		sumNet += maxFloat(pt.NetworkInMbps, pt.NetworkOutMbps)
	}
	n := float64(len(window))
	return sumCPU / n, sumMem / n, sumNet / n
}

func cpuSeries(window []model.MetricsPoint) []float64 {
	out := make([]float64, len(window))
	for i, pt := range window {
		out[i] = pt.CPUPercent
	}
	return out
}

func memSeries(window []model.MetricsPoint) []float64 {
	out := make([]float64, len(window))
	for i, pt := range window {
		out[i] = pt.MemoryPercent
	}
	return out
}

func netSeries(window []model.MetricsPoint) []float64 {
	out := make([]float64, len(window))
	for i, pt := range window {
		out[i] = maxFloat(pt.NetworkInMbps, pt.NetworkOutMbps)
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// predict computes a weighted moving average with linear weights 1..N
// over up to maxSamples of series, adds a linear trend (v_last -
// v_first)/N, and clamps the result to [0, +inf).
func predict(series []float64, maxSamples int) float64 {
	if len(series) == 0 {
		return 0
	}
	if maxSamples > 0 && len(series) > maxSamples {
		series = series[len(series)-maxSamples:]
	}
	n := len(series)

	var weightedSum float64
	var weightTotal float64
	for i, v := range series {
		w := float64(i + 1)
		weightedSum += v * w
		weightTotal += w
	}
	wma := weightedSum / weightTotal

	trend := (series[n-1] - series[0]) / float64(n)
	predicted := wma + 3*trend
	if predicted < 0 {
		predicted = 0
	}
	return predicted
}
