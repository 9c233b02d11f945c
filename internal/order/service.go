package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/events"
	"github.com/kwesidev/backend-bundles/internal/history"
	"github.com/kwesidev/backend-bundles/internal/lock"
	"github.com/kwesidev/backend-bundles/internal/obs"
	"github.com/kwesidev/backend-bundles/internal/pricing"
)

var (
	// ErrOrderNotFound indicates the order does not exist or is not visible
	// to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrAlreadyProcessed indicates the order already left the pending state.
	ErrAlreadyProcessed = errors.New("order: already processed")
	// ErrProcessingLocked indicates another operator currently holds the
	// processing lock for the order.
	ErrProcessingLocked = errors.New("order: processing in flight")
	// ErrNoEntries indicates a submission without line items.
	ErrNoEntries = errors.New("order: at least one entry is required")
)

// PricingRejection carries every entry that could not be priced. Orders with
// any invalid entry are rejected wholesale.
type PricingRejection struct {
	InvalidEntries []pricing.EntryError
}

func (e *PricingRejection) Error() string {
	return fmt.Sprintf("order: %d entries could not be priced", len(e.InvalidEntries))
}

// ProfileSource resolves the pricing plan assigned to a customer.
type ProfileSource interface {
	GetAssignedProfile(ctx context.Context, userID string) (pricing.Profile, error)
}

// Store is the persistence contract the service needs.
type Store interface {
	CreateOrder(ctx context.Context, o Order, entries []Entry) error
	GetOrder(ctx context.Context, orderID string) (Order, []Entry, error)
	GetOrderForUser(ctx context.Context, orderID, userID string) (Order, []Entry, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, status string, limit, offset int) ([]Order, error)
	Count(ctx context.Context, status string) (int64, error)
	MarkProcessed(ctx context.Context, o Order, entries []Entry, hist history.Entry) error
}

// Service owns the order lifecycle: submission in pending state and the
// one-way transition to processed.
type Service struct {
	Profiles ProfileSource
	Orders   Store
	Locker   lock.Locker
	Bus      *events.Bus
	Log      zerolog.Logger
	LockTTL  time.Duration
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// EntryInput is one submitted line item.
type EntryInput struct {
	Number       string          `json:"number" validate:"required"`
	AllocationGB decimal.Decimal `json:"allocationGb" validate:"required"`
}

// SubmitInput is the order submission payload.
type SubmitInput struct {
	Entries []EntryInput `json:"entries" validate:"required,min=1,dive"`
}

// Submit validates and prices a new order, persisting it in pending state
// with the estimated cost captured from the caller's current plan. The plan
// name is snapshotted so later renames do not rewrite old orders.
func (s *Service) Submit(ctx context.Context, caller common.Identity, in SubmitInput) (Order, []Entry, error) {
	if len(in.Entries) == 0 {
		return Order{}, nil, ErrNoEntries
	}
	profile, err := s.Profiles.GetAssignedProfile(ctx, caller.UserID)
	if err != nil {
		s.countSubmission("rejected")
		return Order{}, nil, err
	}

	pricingEntries := make([]pricing.Entry, len(in.Entries))
	for i, entry := range in.Entries {
		pricingEntries[i] = pricing.Entry{Number: entry.Number, AllocationGB: entry.AllocationGB}
	}
	costs, validation := pricing.PriceEntries(profile, pricingEntries)
	if !validation.IsValid {
		s.countSubmission("rejected")
		if obs.PricingValidationFailures != nil {
			obs.PricingValidationFailures.Add(float64(len(validation.InvalidEntries)))
		}
		return Order{}, nil, &PricingRejection{InvalidEntries: validation.InvalidEntries}
	}

	now := s.now()
	o := Order{
		ID:                 uuid.NewString(),
		UserID:             caller.UserID,
		UserEmail:          caller.Email,
		UserName:           caller.Name,
		Status:             StatusPending,
		TotalCount:         len(in.Entries),
		TotalData:          decimal.Zero,
		Cost:               decimal.Zero,
		EstimatedCost:      pricing.SumCosts(costs),
		PricingProfileName: profile.Name,
		CreatedAt:          now,
	}
	entries := make([]Entry, len(in.Entries))
	for i, entry := range in.Entries {
		o.TotalData = o.TotalData.Add(entry.AllocationGB)
		entries[i] = Entry{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			Number:       entry.Number,
			AllocationGB: entry.AllocationGB,
			Status:       EntryPending,
			Cost:         costs[i],
		}
	}

	if err := s.Orders.CreateOrder(ctx, o, entries); err != nil {
		return Order{}, nil, err
	}
	s.countSubmission("accepted")
	s.emit(ctx, events.TopicOrderCreated, o, len(entries))
	return o, entries, nil
}

// EnsureOrderCosts finalizes the order total from its entries. Costs already
// committed at submission time are preserved; only missing values are filled
// from a fresh pricing pass against the caller's current plan.
func (s *Service) EnsureOrderCosts(ctx context.Context, o Order, entries []Entry, userID string) (Order, []Entry, error) {
	profile, err := s.Profiles.GetAssignedProfile(ctx, userID)
	if err != nil {
		return Order{}, nil, err
	}
	o, entries, _ = ensureCosts(profile, o, entries)
	return o, entries, nil
}

// ensureCosts applies the cost preservation rule. It returns the finalized
// order and entries plus a parallel slice marking entries that could neither
// reuse a stored cost nor be freshly priced.
func ensureCosts(profile pricing.Profile, o Order, entries []Entry) (Order, []Entry, []bool) {
	computedTotal := decimal.Zero
	failed := make([]bool, len(entries))
	out := make([]Entry, len(entries))
	for i, entry := range entries {
		computed, perr := pricing.PriceEntry(profile, pricing.Entry{
			Number:       entry.Number,
			AllocationGB: entry.AllocationGB,
		})
		if perr != nil {
			computed = decimal.Zero
		}
		computedTotal = computedTotal.Add(computed)

		final := entry
		if !entry.Cost.IsPositive() {
			final.Cost = computed
			failed[i] = perr != nil
		}
		out[i] = final
	}

	switch {
	case o.Cost.IsPositive():
		// honor the committed charge
	case o.EstimatedCost.IsPositive():
		o.Cost = o.EstimatedCost
	default:
		o.Cost = computedTotal
	}
	if !o.EstimatedCost.IsPositive() {
		o.EstimatedCost = computedTotal
	}
	return o, out, failed
}

// Process drives the pending to processed transition. At most one concurrent
// attempt succeeds; the loser observes ErrAlreadyProcessed or
// ErrProcessingLocked. History is written atomically with the status flip.
func (s *Service) Process(ctx context.Context, orderID string, operator common.Identity) (Order, []Entry, error) {
	start := time.Now()
	if s.Locker.R != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		lease, err := s.Locker.Acquire(ctx, "order:process:"+orderID, ttl)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				s.countConflict()
				return Order{}, nil, ErrProcessingLocked
			}
			return Order{}, nil, err
		}
		defer lease.Release(context.Background())
	}

	o, entries, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	if o.Status == StatusProcessed {
		s.countConflict()
		return Order{}, nil, ErrAlreadyProcessed
	}

	profile, err := s.Profiles.GetAssignedProfile(ctx, o.UserID)
	if err != nil {
		s.countProcessed("error")
		return Order{}, nil, err
	}
	o, entries, failed := ensureCosts(profile, o, entries)

	now := s.now()
	o.Status = StatusProcessed
	o.ProcessedBy = operator.UserID
	o.ProcessedAt = &now

	stats := make([]history.EntryStat, len(entries))
	for i := range entries {
		if failed[i] {
			entries[i].Status = EntryError
		} else {
			entries[i].Status = EntrySent
		}
		stats[i] = history.EntryStat{
			Number:       entries[i].Number,
			AllocationGB: entries[i].AllocationGB,
			Status:       entries[i].Status,
		}
	}
	hist := history.Derive(o.ID, o.UserID, operator.UserID, stats, now)

	if err := s.Orders.MarkProcessed(ctx, o, entries, hist); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			s.countConflict()
		} else {
			s.countProcessed("error")
		}
		return Order{}, nil, err
	}

	s.countProcessed("ok")
	s.countEntries(entries)
	if obs.OrderProcessDuration != nil {
		obs.OrderProcessDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	s.emit(ctx, events.TopicOrderProcessed, o, len(entries))
	return o, entries, nil
}

func (s *Service) emit(ctx context.Context, topic string, o Order, entryCount int) {
	if s.Bus == nil {
		return
	}
	payload := map[string]any{
		"orderId":    o.ID,
		"email":      o.UserEmail,
		"status":     o.Status,
		"totalCost":  o.Cost.StringFixed(2),
		"estimated":  o.EstimatedCost.StringFixed(2),
		"entryCount": entryCount,
	}
	if _, err := s.Bus.Emit(ctx, topic, o.ID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Str("order_id", o.ID).Msg("event emit failed")
	}
}

func (s *Service) countSubmission(result string) {
	if obs.OrdersSubmittedTotal != nil {
		obs.OrdersSubmittedTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countProcessed(result string) {
	if obs.OrdersProcessedTotal != nil {
		obs.OrdersProcessedTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countConflict() {
	if obs.OrderProcessConflicts != nil {
		obs.OrderProcessConflicts.Inc()
	}
	s.countProcessed("conflict")
}

func (s *Service) countEntries(entries []Entry) {
	if obs.OrderEntriesTotal == nil {
		return
	}
	for _, entry := range entries {
		obs.OrderEntriesTotal.WithLabelValues(entry.Status).Inc()
	}
}
