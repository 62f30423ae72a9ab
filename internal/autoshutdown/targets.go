package autoshutdown

import (
	"context"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/cuemby/selfstart/internal/model"
)

// labelTags is the container label autoshutdown reads for tag
// membership, mirroring discovery's selfstart.* label convention.
const labelTags = "selfstart.tags"

// targetSet applies a ContainerFilter to the current service list:
// include and tags are glob-matched with go-wildcard, exclude is
// applied last and always wins.
func targetSet(filter model.ContainerFilter, services []*model.Service) []*model.Service {
	var out []*model.Service
	for _, svc := range services {
		if !matchesInclude(filter, svc) {
			continue
		}
		if matchesAny(filter.Exclude, svc.Name) {
			continue
		}
		out = append(out, svc)
	}
	return out
}

func matchesInclude(filter model.ContainerFilter, svc *model.Service) bool {
	if len(filter.Include) == 0 && len(filter.Tags) == 0 {
		return true
	}
	if len(filter.Include) > 0 && matchesAny(filter.Include, svc.Name) {
		return true
	}
	if len(filter.Tags) > 0 && matchesAny(filter.Tags, serviceTags(svc)...) {
		return true
	}
	return false
}

func matchesAny(patterns []string, values ...string) bool {
	for _, p := range patterns {
		for _, v := range values {
			if wildcard.Match(p, v) {
				return true
			}
		}
	}
	return false
}

func serviceTags(svc *model.Service) []string {
	raw := svc.Labels[labelTags]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// isProtected evaluates the rule's protection predicates: an explicit
// is_protected label, minimum uptime, live connections, and outbound
// upload throughput when the rule opts into checking them.
func (a *AutoShutdown) isProtected(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) bool {
	if strings.EqualFold(svc.Labels["selfstart.is_protected"], "true") {
		return true
	}

	if rule.MinUptime > 0 {
		if status, err := a.store.GetContainerStatus(ctx, svc.Name); err == nil && status.StartedAt != nil {
			if time.Since(*status.StartedAt) < rule.MinUptime {
				return true
			}
		}
	}

	if rule.ProtectIfConnected && a.probe != nil && a.probe.ActiveConnections(svc.Name) > 0 {
		return true
	}

	if rule.ProtectIfUploading && a.uploadingByThroughput(ctx, rule, svc) {
		return true
	}
	return false
}

// uploadingByThroughput treats a service as "uploading" when its most
// recent outbound network sample exceeds 10x the rule's network
// threshold, mirroring the upstream heuristic that simulates an
// upload from network traffic rather than request-level tracking. A
// rule with no network threshold configured never protects this way.
func (a *AutoShutdown) uploadingByThroughput(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) bool {
	if rule.Thresholds.NetworkMbps <= 0 {
		return false
	}
	points, err := a.store.ListMetrics(ctx, svc.Name)
	if err != nil || len(points) == 0 {
		return false
	}
	latest := points[len(points)-1]
	return latest.NetworkOutMbps > rule.Thresholds.NetworkMbps*10
}
