// Package detect implements the conflict detector registry.
//
// Each detector is an independent strategy comparing the new disclosure
// against one slice of organization data. Detectors are registered via a
// compile-time list and run concurrently, each under its own timeout; one
// detector failing or timing out never blocks or corrupts the others.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-detect")

// Detector is one conflict detection strategy.
type Detector interface {
	// Type identifies the detector category.
	Type() domain.ConflictType

	// Detect compares the disclosure against the detector's data source and
	// returns zero or more candidates. Candidates below the no-match
	// confidence band must not be returned.
	Detect(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) ([]domain.ConflictCandidate, error)
}

// Registry runs a fixed set of detectors concurrently.
type Registry struct {
	detectors []Detector
	timeout   time.Duration
}

// NewRegistry creates a registry over the given detectors. timeout bounds
// each detector independently.
func NewRegistry(timeout time.Duration, detectors ...Detector) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{
		detectors: detectors,
		timeout:   timeout,
	}
}

// Detectors returns the registered detector types.
func (r *Registry) Detectors() []domain.ConflictType {
	out := make([]domain.ConflictType, len(r.detectors))
	for i, d := range r.detectors {
		out[i] = d.Type()
	}
	return out
}

type detectorOutput struct {
	typ        domain.ConflictType
	candidates []domain.ConflictCandidate
	err        error
}

// Run fans out every detector against the disclosure and collects the
// surviving candidates. Failures are isolated: an errored or timed-out
// detector is recorded in FailedDetectors and its partial results discarded,
// while the rest of the registry's results stand. Candidates are
// deduplicated by (type, matched entity), keeping the highest confidence.
func (r *Registry) Run(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) *domain.DetectionResult {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "detect.Run")
	span.SetAttributes(
		attribute.String("disclosure.id", d.ID),
		attribute.Int("detectors", len(r.detectors)),
	)
	defer span.End()

	outCh := make(chan detectorOutput, len(r.detectors))
	for _, det := range r.detectors {
		go r.runOne(ctx, det, d, org, outCh)
	}

	result := &domain.DetectionResult{
		DisclosureID: d.ID,
		OrgID:        d.OrgID,
	}

	var all []domain.ConflictCandidate
	for range r.detectors {
		out := <-outCh
		if out.err != nil {
			result.FailedDetectors = append(result.FailedDetectors, domain.DetectorFailure{
				Type:  out.typ,
				Error: out.err.Error(),
			})
			slog.Warn("detector failed",
				"detector", out.typ,
				"disclosure_id", d.ID,
				"error", out.err,
			)
			continue
		}
		result.CompletedDetectors = append(result.CompletedDetectors, out.typ)
		all = append(all, out.candidates...)
	}

	result.Candidates = Dedupe(all)
	result.ProcessMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("candidates", len(result.Candidates)),
		attribute.Int("failed", len(result.FailedDetectors)),
	)
	return result
}

// runOne executes a single detector under its own timeout, converting panics
// into detector failures.
func (r *Registry) runOne(ctx context.Context, det Detector, d *domain.Disclosure, org domain.OrganizationContext, outCh chan<- detectorOutput) {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			outCh <- detectorOutput{typ: det.Type(), err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	candidates, err := det.Detect(dctx, d, org)
	if err == nil && dctx.Err() != nil {
		err = dctx.Err()
	}
	outCh <- detectorOutput{typ: det.Type(), candidates: candidates, err: err}
}

// Dedupe collapses candidates sharing (type, normalized matched entity),
// keeping the highest-confidence one. Output order is deterministic:
// confidence descending, then type.
func Dedupe(candidates []domain.ConflictCandidate) []domain.ConflictCandidate {
	best := make(map[string]domain.ConflictCandidate, len(candidates))
	for _, c := range candidates {
		key := string(c.Type) + "|" + domain.NormalizeEntityName(c.MatchedEntity)
		if prev, ok := best[key]; !ok || c.Confidence > prev.Confidence {
			best[key] = c
		}
	}

	out := make([]domain.ConflictCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Type < out[j].Type
	})
	return out
}
