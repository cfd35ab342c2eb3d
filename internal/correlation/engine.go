package correlation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/metrics"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

// PointsPerDimension is the confidence contributed by each matching dimension.
const PointsPerDimension = 25

type Store interface {
	ListCorrelationCandidates(ctx context.Context, since time.Time) ([]models.Alert, error)
	ListCorrelations(ctx context.Context, status models.CorrelationStatus) ([]models.AlertCorrelation, error)
	ListCorrelationAlerts(ctx context.Context, correlationID string) ([]models.Alert, error)
	CreateCorrelation(ctx context.Context, c *models.AlertCorrelation, alertIDs []string) error
	AttachAlerts(ctx context.Context, correlationID string, alertIDs []string, confidence int, now time.Time) (int, error)
}

type Engine struct {
	store         Store
	publisher     events.Publisher
	logger        *zap.Logger
	lookback      time.Duration
	window        time.Duration
	minConfidence int
	now           func() time.Time
}

func NewEngine(store Store, cfg config.CorrelationConfig, publisher events.Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		store:         store,
		publisher:     publisher,
		logger:        logger.Named("correlation"),
		lookback:      cfg.Lookback,
		window:        cfg.TimeWindow,
		minConfidence: cfg.MinConfidence,
		now:           time.Now,
	}
}

// Result summarises one correlation pass.
type Result struct {
	Created  int `json:"created"`
	Extended int `json:"extended"`
	Attached int `json:"attached"`
}

// Run scans uncorrelated Active alerts. Candidates first extend Open
// correlations whose signature they match; the rest are grouped into new
// correlations. Stamped alerts are never candidates again, so a second run
// over the same alerts changes nothing.
func (e *Engine) Run(ctx context.Context) error {
	_, err := e.Correlate(ctx)
	return err
}

func (e *Engine) Correlate(ctx context.Context) (*Result, error) {
	now := e.now()
	result := &Result{}

	candidates, err := e.store.ListCorrelationCandidates(ctx, now.Add(-e.lookback))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	remaining, err := e.extend(ctx, candidates, now, result)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := e.group(ctx, remaining, now, result); err != nil {
		return result, err
	}

	if result.Created > 0 || result.Extended > 0 {
		e.logger.Info("Correlation pass finished",
			zap.Int("created", result.Created),
			zap.Int("extended", result.Extended),
			zap.Int("attached", result.Attached),
		)
	}
	return result, nil
}

type openGroup struct {
	correlation models.AlertCorrelation
	members     []models.Alert
	sig         signature
	added       []string
}

// extend attaches candidates to Open correlations and returns the candidates
// left over.
func (e *Engine) extend(ctx context.Context, candidates []models.Alert, now time.Time, result *Result) ([]models.Alert, error) {
	open, err := e.store.ListCorrelations(ctx, models.CorrelationStatusOpen)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return candidates, nil
	}

	groups := make([]*openGroup, 0, len(open))
	for _, c := range open {
		members, err := e.store.ListCorrelationAlerts(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		groups = append(groups, &openGroup{
			correlation: c,
			members:     members,
			sig:         e.memberSignature(members),
		})
	}
	// earliest incident wins ties
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].correlation.FirstDetectedAt.Before(groups[j].correlation.FirstDetectedAt)
	})

	var remaining []models.Alert
	for _, candidate := range candidates {
		var best *openGroup
		for _, g := range groups {
			if !e.fits(candidate, g.members, g.sig) {
				continue
			}
			if best == nil || g.sig.count() > best.sig.count() {
				best = g
			}
		}
		if best == nil || best.sig.score() < e.minConfidence {
			remaining = append(remaining, candidate)
			continue
		}
		best.members = append(best.members, candidate)
		best.added = append(best.added, candidate.ID)
	}

	for _, g := range groups {
		if len(g.added) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attached, err := e.store.AttachAlerts(ctx, g.correlation.ID, g.added, g.sig.score(), now)
		if errors.Is(err, database.ErrInvalidTransition) || errors.Is(err, database.ErrNotFound) {
			e.logger.Warn("Correlation closed during pass", zap.String("correlation_id", g.correlation.ID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if attached == 0 {
			continue
		}
		result.Extended++
		result.Attached += attached
		metrics.CorrelationsTotal.WithLabelValues("extended").Inc()
		e.publish(events.CorrelationExtended, map[string]interface{}{
			"correlation_id": g.correlation.ID,
			"alert_ids":      g.added,
		})
	}
	return remaining, nil
}

// group forms new correlations from the remaining candidates. The earliest
// unassigned alert seeds a group with its best-scoring partner; the matching
// dimensions of that pair become the group's signature, and every other
// candidate that matches the whole signature joins.
func (e *Engine) group(ctx context.Context, candidates []models.Alert, now time.Time, result *Result) error {
	assigned := make([]bool, len(candidates))

	for seed := range candidates {
		if assigned[seed] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		partner, sig := -1, signature{}
		for j := range candidates {
			if j == seed || assigned[j] {
				continue
			}
			s := e.pairSignature(candidates[seed], candidates[j])
			if s.count() > sig.count() {
				partner, sig = j, s
			}
		}
		if partner < 0 || sig.score() < e.minConfidence {
			continue
		}

		members := []int{seed, partner}
		in := map[int]bool{seed: true, partner: true}
		for changed := true; changed; {
			changed = false
			for j := range candidates {
				if in[j] || assigned[j] {
					continue
				}
				if e.fits(candidates[j], pick(candidates, members), sig) {
					members = append(members, j)
					in[j] = true
					changed = true
				}
			}
		}
		sort.Ints(members)

		group := pick(candidates, members)
		ids := make([]string, len(group))
		for i, a := range group {
			ids[i] = a.ID
		}

		correlation := &models.AlertCorrelation{
			Title:           title(group, sig),
			Severity:        maxSeverity(group),
			FirstDetectedAt: group[0].CreatedAt,
			Confidence:      sig.score(),
			Reason:          sig.reason(e.window, group[0].Resource),
			UpdatedAt:       now,
		}
		err := e.store.CreateCorrelation(ctx, correlation, ids)
		if errors.Is(err, database.ErrCorrelationTooSmall) {
			e.logger.Warn("Correlation candidates changed during pass", zap.Strings("alert_ids", ids))
			continue
		}
		if err != nil {
			return err
		}
		for _, m := range members {
			assigned[m] = true
		}

		result.Created++
		result.Attached += correlation.AlertCount
		metrics.CorrelationsTotal.WithLabelValues("created").Inc()
		e.logger.Info("Correlation created",
			zap.String("correlation_id", correlation.ID),
			zap.String("title", correlation.Title),
			zap.Int("alert_count", correlation.AlertCount),
			zap.Int("confidence", correlation.Confidence),
		)
		e.publish(events.CorrelationCreated, correlation)
	}
	return nil
}

func (e *Engine) publish(event string, payload interface{}) {
	if err := e.publisher.Publish(event, payload); err != nil {
		e.logger.Warn("Failed to publish event", zap.String("event", event), zap.Error(err))
	}
}

// signature is the set of dimensions two or more alerts agree on.
type signature struct {
	sameType     bool
	sameSeverity bool
	withinWindow bool
	sameResource bool
}

func (s signature) count() int {
	n := 0
	for _, ok := range []bool{s.sameType, s.sameSeverity, s.withinWindow, s.sameResource} {
		if ok {
			n++
		}
	}
	return n
}

func (s signature) score() int {
	score := s.count() * PointsPerDimension
	if score > 100 {
		return 100
	}
	return score
}

func (s signature) reason(window time.Duration, resource string) string {
	var parts []string
	if s.sameType {
		parts = append(parts, "same type")
	}
	if s.sameSeverity {
		parts = append(parts, "same severity")
	}
	if s.withinWindow {
		parts = append(parts, fmt.Sprintf("within %s window", formatWindow(window)))
	}
	if s.sameResource {
		parts = append(parts, fmt.Sprintf("same resource %s", resource))
	}
	return strings.Join(parts, ", ")
}

func (e *Engine) pairSignature(a, b models.Alert) signature {
	return signature{
		sameType:     strings.EqualFold(a.Type, b.Type),
		sameSeverity: a.Severity == b.Severity,
		withinWindow: absDuration(a.CreatedAt.Sub(b.CreatedAt)) <= e.window,
		sameResource: a.Resource != "" && a.Resource == b.Resource,
	}
}

// memberSignature returns the dimensions every member of a stored
// correlation agrees on.
func (e *Engine) memberSignature(members []models.Alert) signature {
	sig := signature{sameType: true, sameSeverity: true, withinWindow: true, sameResource: true}
	sorted := make([]models.Alert, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	first := sorted[0]
	if first.Resource == "" {
		sig.sameResource = false
	}
	for i, m := range sorted[1:] {
		if !strings.EqualFold(m.Type, first.Type) {
			sig.sameType = false
		}
		if m.Severity != first.Severity {
			sig.sameSeverity = false
		}
		if m.Resource != first.Resource {
			sig.sameResource = false
		}
		if m.CreatedAt.Sub(sorted[i].CreatedAt) > e.window {
			sig.withinWindow = false
		}
	}
	return sig
}

// fits reports whether candidate matches every dimension of sig against the
// group. The time dimension is satisfied by any member inside the window.
func (e *Engine) fits(candidate models.Alert, group []models.Alert, sig signature) bool {
	if len(group) == 0 || sig.count() == 0 {
		return false
	}
	ref := group[0]
	if sig.sameType && !strings.EqualFold(candidate.Type, ref.Type) {
		return false
	}
	if sig.sameSeverity && candidate.Severity != ref.Severity {
		return false
	}
	if sig.sameResource && (candidate.Resource == "" || candidate.Resource != ref.Resource) {
		return false
	}
	if sig.withinWindow {
		near := false
		for _, m := range group {
			if absDuration(candidate.CreatedAt.Sub(m.CreatedAt)) <= e.window {
				near = true
				break
			}
		}
		if !near {
			return false
		}
	}
	return true
}

func pick(alerts []models.Alert, idx []int) []models.Alert {
	out := make([]models.Alert, len(idx))
	for i, j := range idx {
		out[i] = alerts[j]
	}
	return out
}

func maxSeverity(alerts []models.Alert) models.Severity {
	severity := models.SeverityInfo
	for _, a := range alerts {
		severity = models.MaxSeverity(severity, a.Severity)
	}
	return severity
}

func title(group []models.Alert, sig signature) string {
	first := group[0]
	if sig.sameType {
		if sig.sameResource {
			return fmt.Sprintf("%s on %s", first.Type, first.Resource)
		}
		return first.Type
	}

	seen := map[string]bool{}
	var types []string
	for _, a := range group {
		if !seen[a.Type] {
			seen[a.Type] = true
			types = append(types, a.Type)
		}
	}
	t := "Correlated alerts: " + strings.Join(types, ", ")
	if sig.sameResource {
		t += " on " + first.Resource
	}
	return t
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func formatWindow(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d-minute", int(d/time.Minute))
	}
	return d.String()
}
