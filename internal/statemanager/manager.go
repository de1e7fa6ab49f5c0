package statemanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"ladder-bot-go/internal/metrics"
	"ladder-bot-go/internal/models"
	"ladder-bot-go/internal/oracle"
	"ladder-bot-go/internal/orders"
	"ladder-bot-go/internal/persistence"
	"ladder-bot-go/internal/risk"

	"go.uber.org/zap"
)

// ErrStopped is returned by DispatchEvent after Stop.
var ErrStopped = errors.New("state manager stopped")

// EventType defines the type of a normalized event
type EventType int

const (
	FillEvent EventType = iota
	PriceEvent
	RiskCheckEvent
	PlaceEvent
)

func (t EventType) String() string {
	switch t {
	case FillEvent:
		return "fill"
	case PriceEvent:
		return "price"
	case RiskCheckEvent:
		return "risk_check"
	case PlaceEvent:
		return "place"
	}
	return "unknown"
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Caller    string      // 为空时使用 StateManager 的默认身份
	Data      interface{} // FillEventData 或 oracle.Quote
}

// FillEventData identifies a filled order.
type FillEventData struct {
	OrderID string
}

// Processor is the part of the controller the event loop drives.
type Processor interface {
	HandleOrderFill(ctx context.Context, caller, orderID string) (orders.FillResult, error)
	UpdatePrice(ctx context.Context, caller string, q oracle.Quote) (risk.Outcome, error)
	CheckRisk(ctx context.Context) (risk.Outcome, error)
	PlaceLadderOrders(ctx context.Context, caller string) (models.PlacementReport, error)
}

// StateManager applies asynchronous fill and price events serially and persists
// state snapshots in a separate loop.
type StateManager struct {
	processor       Processor
	repo            persistence.StateRepository
	caller          string
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.BotState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. caller is the identity events are applied as.
func NewStateManager(processor Processor, repo persistence.StateRepository, caller string, bufferSize int, logger *zap.Logger) *StateManager {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		processor:       processor,
		repo:            repo,
		caller:          caller,
		eventChannel:    make(chan NormalizedEvent, bufferSize),
		persistenceChan: make(chan *models.BotState, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the event processing and persistence loops.
func (sm *StateManager) Start(ctx context.Context) {
	sm.wg.Add(2)
	go sm.eventLoop(ctx)
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop ends both loops and saves the last snapshot still queued.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.flushPending()
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// DispatchEvent queues an event. It blocks while the queue is full.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-sm.stopChan:
		return ErrStopped
	default:
	}
	select {
	case sm.eventChannel <- event:
		return nil
	case <-sm.stopChan:
		return ErrStopped
	}
}

// Persist queues a snapshot for saving. It never blocks: when the queue is full the
// oldest pending snapshot is dropped, since every snapshot supersedes the previous one.
// Register it with controller.OnStateChange.
func (sm *StateManager) Persist(state *models.BotState) {
	if state == nil {
		return
	}
	for {
		select {
		case sm.persistenceChan <- state:
			return
		default:
		}
		select {
		case <-sm.persistenceChan:
		default:
		}
	}
}

func (sm *StateManager) eventLoop(ctx context.Context) {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(ctx, event)
		case <-sm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			sm.save(stateToSave)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) flushPending() {
	var last *models.BotState
	for {
		select {
		case st := <-sm.persistenceChan:
			last = st
		default:
			if last != nil {
				sm.save(last)
			}
			return
		}
	}
}

func (sm *StateManager) save(st *models.BotState) {
	if sm.repo == nil {
		return
	}
	if err := sm.repo.SaveState(st); err != nil {
		sm.logger.Error("CRITICAL: Failed to save state", zap.Error(err))
	}
}

// processEvent applies one event. Errors are only logged: duplicate fills and stale
// quotes are absorbed here as no-ops.
func (sm *StateManager) processEvent(ctx context.Context, event NormalizedEvent) {
	caller := event.Caller
	if caller == "" {
		caller = sm.caller
	}

	result := "ok"
	switch event.Type {
	case FillEvent:
		data, ok := event.Data.(FillEventData)
		if !ok {
			sm.logger.Sugar().Warnf("Received FillEvent with unexpected data type: %T", event.Data)
			result = "malformed"
			break
		}
		res, err := sm.processor.HandleOrderFill(ctx, caller, data.OrderID)
		switch {
		case errors.Is(err, models.ErrUnknownOrder):
			sm.logger.Warn("Fill for unknown order ignored", zap.String("id", data.OrderID))
			result = "unknown"
		case err != nil:
			sm.logger.Error("Fill processing failed", zap.String("id", data.OrderID), zap.Error(err))
			result = "error"
		case res.Duplicate:
			sm.logger.Debug("Duplicate fill ignored", zap.String("id", data.OrderID))
			result = "duplicate"
		default:
			if res.RepostErr != nil {
				sm.logger.Warn("Repost failed after fill", zap.String("id", data.OrderID), zap.Error(res.RepostErr))
			}
			if res.FlipErr != nil {
				sm.logger.Warn("Flip order failed after fill", zap.String("id", data.OrderID), zap.Error(res.FlipErr))
			}
		}

	case PriceEvent:
		q, ok := event.Data.(oracle.Quote)
		if !ok {
			sm.logger.Sugar().Warnf("Received PriceEvent with unexpected data type: %T", event.Data)
			result = "malformed"
			break
		}
		out, err := sm.processor.UpdatePrice(ctx, caller, q)
		result = sm.riskResult(out, err)

	case RiskCheckEvent:
		out, err := sm.processor.CheckRisk(ctx)
		result = sm.riskResult(out, err)

	case PlaceEvent:
		report, err := sm.processor.PlaceLadderOrders(ctx, caller)
		switch {
		case errors.Is(err, models.ErrBudgetExceeded), errors.Is(err, models.ErrInvalidState):
			result = "skipped"
		case err != nil:
			sm.logger.Error("Ladder placement failed", zap.Error(err))
			result = "error"
		case report.Placed > 0:
			sm.logger.Info("Pending levels placed", zap.Int("placed", report.Placed), zap.Int("skipped", report.Skipped))
		}

	default:
		sm.logger.Sugar().Warnf("Received event with unknown type: %d", event.Type)
		result = "malformed"
	}

	metrics.Events.WithLabelValues(event.Type.String(), result).Inc()
}

func (sm *StateManager) riskResult(out risk.Outcome, err error) string {
	switch {
	case errors.Is(err, models.ErrStalePrice), errors.Is(err, models.ErrLowConfidence), errors.Is(err, oracle.ErrNoPrice):
		sm.logger.Debug("Risk evaluation skipped", zap.Error(err))
		return "skipped"
	case err != nil:
		sm.logger.Error("Risk evaluation failed", zap.String("outcome", string(out)), zap.Error(err))
		return "error"
	case out.Triggered():
		return string(out)
	}
	return "ok"
}
