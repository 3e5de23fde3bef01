package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/store"
	"lumina-order-service/internal/util"

	"go.uber.org/zap"
)

// GenerationOrchestrator runs the end-to-end generation pipeline: load order
// and profile, invoke the model, validate the shape, render the document,
// upload the artifact, persist content, notify, advance state.
//
// Content is only persisted after rendering and upload both succeed; the
// single compensating action for any failure is the FAILED transition with
// the cause in the order's error log. No partial content survives.
type GenerationOrchestrator struct {
	store       Store
	model       ModelClient
	renderer    Renderer
	artifacts   ArtifactStore
	notifier    Notifier
	publisher   LifecyclePublisher
	locks       Locker // optional
	autoApprove bool
	logger      *zap.Logger
}

// NewGenerationOrchestrator creates the orchestrator. notifier, publisher,
// and locks may be nil; the corresponding steps are skipped.
func NewGenerationOrchestrator(
	st Store,
	model ModelClient,
	renderer Renderer,
	artifacts ArtifactStore,
	notifier Notifier,
	publisher LifecyclePublisher,
	locks Locker,
	autoApprove bool,
) *GenerationOrchestrator {
	return &GenerationOrchestrator{
		store:       st,
		model:       model,
		renderer:    renderer,
		artifacts:   artifacts,
		notifier:    notifier,
		publisher:   publisher,
		locks:       locks,
		autoApprove: autoApprove,
		logger:      util.GetLogger(),
	}
}

const generationLeaseTTL = 10 * time.Minute

// Run executes the pipeline for one order. Pipeline failures are converted
// into a FAILED order and returned wrapped in ErrGeneration; losing the
// final guarded write to a concurrent run is not a failure.
func (g *GenerationOrchestrator) Run(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "GenerationOrchestrator.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GenerationLatency.Observe(time.Since(start).Seconds())
	}()

	order, err := g.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return err
	}

	// Early guard; the final content write re-checks the same set
	// atomically, so this only saves wasted work.
	if !statusIn(order.Status, lifecycle.SourcesGeneration) {
		util.GenerationRunsTotal.WithLabelValues("conflict").Inc()
		return fmt.Errorf("%w: order %s is %s", ErrConflict, orderID, order.Status)
	}

	user, err := g.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %s", ErrNotFound, order.UserID)
		}
		return err
	}

	if g.locks != nil {
		acquired, err := g.locks.AcquireLock(ctx, "generate:"+orderID, generationLeaseTTL)
		if err != nil {
			g.logger.Warn("Generation lease unavailable, proceeding on status guard",
				zap.String("order_id", orderID), zap.Error(err))
		} else if !acquired {
			g.logger.Info("Generation already leased, skipping run",
				zap.String("order_id", orderID))
			util.GenerationRunsTotal.WithLabelValues("leased").Inc()
			return nil
		} else {
			defer func() {
				if err := g.locks.ReleaseLock(ctx, "generate:"+orderID); err != nil {
					g.logger.Warn("Failed to release generation lease", zap.Error(err))
				}
			}()
		}
	}

	content, err := g.produce(ctx, order, user)
	if err != nil {
		g.failOrder(ctx, order, err)
		util.GenerationRunsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	target := lifecycle.StatusAwaitingValidation
	if g.autoApprove {
		target = lifecycle.StatusCompleted
	}

	// Step 6: the sole persistence point of the pipeline.
	err = g.store.SetOrderContent(ctx, order.ID, content, lifecycle.SourcesGeneration, target)
	if errors.Is(err, store.ErrStaleStatus) {
		// A concurrent run or callback won the race. Abandon this result
		// without failing the order.
		g.logger.Info("Order left generation states mid-run, discarding result",
			zap.String("order_id", order.ID))
		util.GenerationRunsTotal.WithLabelValues("superseded").Inc()
		return nil
	}
	if err != nil {
		g.failOrder(ctx, order, fmt.Errorf("persisting content: %w", err))
		util.GenerationRunsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	order.Status = target
	order.GeneratedContent = content
	util.GenerationRunsTotal.WithLabelValues("success").Inc()
	g.logger.Info("Generation pipeline finished",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(target)))

	if g.publisher != nil {
		if err := g.publisher.PublishOrderGenerated(ctx, order); err != nil {
			g.logger.Error("Failed to publish ORDER_GENERATED event", zap.Error(err))
		}
	}
	g.notify(ctx, user.Email, "reading-ready", map[string]string{
		"order_number": order.OrderNumber,
		"name":         user.Name,
	})

	return nil
}

// produce runs the side-effect-free half of the pipeline: model call, shape
// validation, rendering, upload. It returns the complete content to persist.
func (g *GenerationOrchestrator) produce(ctx context.Context, order *models.Order, user *models.User) (*models.GeneratedContent, error) {
	profile := models.ClientProfile{Name: user.Name, Email: user.Email}

	result, err := g.model.Generate(ctx, profile, order)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	if err := validateResult(result); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &models.ReadingDocument{
		OrderNumber: order.OrderNumber,
		ClientName:  user.Name,
		Archetype:   result.Archetype,
		Reading:     result.Reading,
		Ritual:      result.Ritual,
		Analysis:    result.Analysis,
		GeneratedAt: now,
	}

	rendered, err := g.renderer.Render(ctx, "reading.html", doc)
	if err != nil {
		return nil, fmt.Errorf("rendering document: %w", err)
	}

	key := fmt.Sprintf("orders/%s/reading-r%d.html", order.OrderNumber, order.Revision)
	url, err := g.artifacts.Upload(ctx, order.ID, key, "text/html; charset=utf-8", rendered)
	if err != nil {
		return nil, fmt.Errorf("uploading artifact: %w", err)
	}

	return &models.GeneratedContent{
		Archetype:   result.Archetype,
		Reading:     result.Reading,
		Ritual:      result.Ritual,
		Analysis:    result.Analysis,
		DocumentURL: url,
		GeneratedAt: now,
	}, nil
}

// validateResult rejects a structurally incomplete model response before any
// further step runs.
func validateResult(r *models.GenerationResult) error {
	if r == nil {
		return errors.New("model returned empty response")
	}
	if r.Archetype == "" || r.Reading == "" {
		return errors.New("model response missing required narrative fields")
	}
	return nil
}

// failOrder is the compensating action for the whole pipeline.
func (g *GenerationOrchestrator) failOrder(ctx context.Context, order *models.Order, cause error) {
	g.logger.Error("Generation pipeline failed",
		zap.String("order_id", order.ID),
		zap.Error(cause))
	util.OrdersFailedTotal.WithLabelValues("generation").Inc()

	if err := g.store.FailOrder(ctx, order.ID, cause.Error()); err != nil {
		// The order may have reached a terminal state through another path;
		// nothing more to compensate.
		g.logger.Error("Failed to mark order FAILED",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return
	}
	if g.publisher != nil {
		if err := g.publisher.PublishOrderFailed(ctx, order, cause.Error()); err != nil {
			g.logger.Error("Failed to publish ORDER_FAILED event", zap.Error(err))
		}
	}
}

func (g *GenerationOrchestrator) notify(ctx context.Context, to, template string, payload map[string]string) {
	if g.notifier == nil || to == "" {
		return
	}
	if err := g.notifier.Send(ctx, to, template, payload); err != nil {
		util.NotificationsTotal.WithLabelValues("error").Inc()
		g.logger.Warn("Notification failed",
			zap.String("template", template),
			zap.Error(err))
		return
	}
	util.NotificationsTotal.WithLabelValues("sent").Inc()
}

func statusIn(s lifecycle.Status, set []lifecycle.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
