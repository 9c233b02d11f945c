package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/events"
	"github.com/kwesidev/backend-bundles/internal/history"
	"github.com/kwesidev/backend-bundles/internal/pricing"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stubProfiles struct {
	profile pricing.Profile
	err     error
	calls   int
}

func (s *stubProfiles) GetAssignedProfile(context.Context, string) (pricing.Profile, error) {
	s.calls++
	return s.profile, s.err
}

type memStore struct {
	orders  map[string]Order
	entries map[string][]Entry
	hist    map[string]history.Entry
}

func newMemStore() *memStore {
	return &memStore{
		orders:  map[string]Order{},
		entries: map[string][]Entry{},
		hist:    map[string]history.Entry{},
	}
}

func (m *memStore) CreateOrder(_ context.Context, o Order, entries []Entry) error {
	m.orders[o.ID] = o
	m.entries[o.ID] = append([]Entry(nil), entries...)
	return nil
}

func (m *memStore) GetOrder(_ context.Context, orderID string) (Order, []Entry, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, nil, ErrOrderNotFound
	}
	return o, append([]Entry(nil), m.entries[orderID]...), nil
}

func (m *memStore) GetOrderForUser(ctx context.Context, orderID, userID string) (Order, []Entry, error) {
	o, entries, err := m.GetOrder(ctx, orderID)
	if err != nil || o.UserID != userID {
		return Order{}, nil, ErrOrderNotFound
	}
	return o, entries, nil
}

func (m *memStore) ListForUser(_ context.Context, userID string, _, _ int) ([]Order, error) {
	out := []Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) CountForUser(ctx context.Context, userID string) (int64, error) {
	orders, _ := m.ListForUser(ctx, userID, 0, 0)
	return int64(len(orders)), nil
}

func (m *memStore) List(_ context.Context, status string, _, _ int) ([]Order, error) {
	out := []Order{}
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) Count(ctx context.Context, status string) (int64, error) {
	orders, _ := m.List(ctx, status, 0, 0)
	return int64(len(orders)), nil
}

func (m *memStore) MarkProcessed(_ context.Context, o Order, entries []Entry, hist history.Entry) error {
	existing, ok := m.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if existing.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	m.orders[o.ID] = o
	m.entries[o.ID] = append([]Entry(nil), entries...)
	if _, dup := m.hist[hist.ID]; !dup {
		m.hist[hist.ID] = hist
	}
	return nil
}

func tieredProfile() pricing.Profile {
	return pricing.Profile{
		ID:       uuid.NewString(),
		Name:     "Reseller Silver",
		IsTiered: true,
		IsActive: true,
		Tiers: []pricing.Tier{
			{DataGB: dec("1"), Price: dec("15.00")},
			{DataGB: dec("2"), Price: dec("25.00")},
			{DataGB: dec("5"), Price: dec("55.00")},
		},
	}
}

func newService(profiles ProfileSource, store Store) *Service {
	return &Service{Profiles: profiles, Orders: store}
}

func caller() common.Identity {
	return common.Identity{UserID: uuid.NewString(), Email: "ama@example.com", Name: "Ama Mensah", Roles: []string{"customer"}}
}

func operator() common.Identity {
	return common.Identity{UserID: uuid.NewString(), Email: "ops@example.com", Roles: []string{"admin"}}
}

func TestSubmitPricesAndPersistsPending(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)

	o, entries, err := svc.Submit(context.Background(), caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1")},
		{Number: "0241000002", AllocationGB: dec("2")},
	}})
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)
	require.True(t, o.EstimatedCost.Equal(dec("40.00")), "estimated = %s", o.EstimatedCost)
	require.True(t, o.Cost.IsZero())
	require.Equal(t, "Reseller Silver", o.PricingProfileName)
	require.Equal(t, 2, o.TotalCount)
	require.True(t, o.TotalData.Equal(dec("3")))
	require.Len(t, entries, 2)
	require.Equal(t, EntryPending, entries[0].Status)
	require.True(t, entries[0].Cost.Equal(dec("15.00")))
	require.True(t, entries[1].Cost.Equal(dec("25.00")))
	require.Len(t, store.orders, 1)
}

func TestSubmitRejectsUnassignedUser(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{err: pricing.ErrNoAssignment}, store)

	_, _, err := svc.Submit(context.Background(), caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1")},
	}})
	require.ErrorIs(t, err, pricing.ErrNoAssignment)
	require.Empty(t, store.orders)
}

func TestSubmitCollectsAllInvalidEntries(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)

	_, _, err := svc.Submit(context.Background(), caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1.5")},
		{Number: "0241000002", AllocationGB: dec("1")},
		{Number: "0241000003", AllocationGB: dec("3")},
	}})
	var rejection *PricingRejection
	require.ErrorAs(t, err, &rejection)
	require.Len(t, rejection.InvalidEntries, 2)
	require.Equal(t, "0241000001", rejection.InvalidEntries[0].Number)
	require.Equal(t, "0241000003", rejection.InvalidEntries[1].Number)
	require.Empty(t, store.orders, "rejected orders must never be persisted")
}

func TestSubmitRejectsEmptyOrder(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	_, _, err := svc.Submit(context.Background(), caller(), SubmitInput{})
	require.ErrorIs(t, err, ErrNoEntries)
}

func TestProcessTransitionsAndWritesHistory(t *testing.T) {
	store := newMemStore()
	profiles := &stubProfiles{profile: tieredProfile()}
	svc := newService(profiles, store)
	ctx := context.Background()

	submitted, _, err := svc.Submit(ctx, caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1")},
		{Number: "0241000002", AllocationGB: dec("2")},
	}})
	require.NoError(t, err)

	processed, entries, err := svc.Process(ctx, submitted.ID, operator())
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
	require.NotEmpty(t, processed.ProcessedBy)
	require.True(t, processed.Cost.Equal(dec("40.00")), "cost = %s", processed.Cost)

	sum := decimal.Zero
	for _, entry := range entries {
		require.Equal(t, EntrySent, entry.Status)
		sum = sum.Add(entry.Cost)
	}
	require.True(t, sum.Equal(processed.Cost), "entry costs must reconcile with order cost")
	require.Len(t, store.hist, 1)
	for _, h := range store.hist {
		require.Equal(t, 2, h.ValidCount)
		require.Equal(t, 0, h.InvalidCount)
		require.True(t, h.TotalGB.Equal(dec("3")))
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)
	ctx := context.Background()

	submitted, _, err := svc.Submit(ctx, caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1")},
	}})
	require.NoError(t, err)

	_, _, err = svc.Process(ctx, submitted.ID, operator())
	require.NoError(t, err)

	_, _, err = svc.Process(ctx, submitted.ID, operator())
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, store.hist, 1, "reprocessing must not duplicate history")
}

func TestProcessPreservesCommittedCost(t *testing.T) {
	store := newMemStore()
	profiles := &stubProfiles{profile: tieredProfile()}
	svc := newService(profiles, store)
	ctx := context.Background()
	owner := caller()

	o := Order{
		ID:            uuid.NewString(),
		UserID:        owner.UserID,
		Status:        StatusPending,
		Cost:          dec("42.00"),
		EstimatedCost: dec("42.00"),
		CreatedAt:     time.Now(),
	}
	entry := Entry{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		Number:       "0241000001",
		AllocationGB: dec("1"),
		Status:       EntryPending,
		Cost:         dec("42.00"),
	}
	require.NoError(t, store.CreateOrder(ctx, o, []Entry{entry}))

	// Tiers changed since submission; the quoted price must survive.
	profiles.profile.Tiers = []pricing.Tier{{DataGB: dec("1"), Price: dec("99.00")}}

	processed, entries, err := svc.Process(ctx, o.ID, operator())
	require.NoError(t, err)
	require.True(t, processed.Cost.Equal(dec("42.00")), "cost = %s", processed.Cost)
	require.True(t, entries[0].Cost.Equal(dec("42.00")))
}

func TestProcessAdoptsFreshCostWhenNoneCaptured(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)
	ctx := context.Background()
	owner := caller()

	o := Order{
		ID:        uuid.NewString(),
		UserID:    owner.UserID,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	entry := Entry{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		Number:       "0241000001",
		AllocationGB: dec("2"),
		Status:       EntryPending,
	}
	require.NoError(t, store.CreateOrder(ctx, o, []Entry{entry}))

	processed, entries, err := svc.Process(ctx, o.ID, operator())
	require.NoError(t, err)
	require.True(t, processed.Cost.Equal(dec("25.00")), "cost = %s", processed.Cost)
	require.True(t, entries[0].Cost.Equal(dec("25.00")))
	require.Equal(t, EntrySent, entries[0].Status)
}

func TestProcessFlagsUnpriceableEntriesAsError(t *testing.T) {
	store := newMemStore()
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)
	ctx := context.Background()
	owner := caller()

	o := Order{ID: uuid.NewString(), UserID: owner.UserID, Status: StatusPending, CreatedAt: time.Now()}
	entries := []Entry{
		{ID: uuid.NewString(), OrderID: o.ID, Number: "0241000001", AllocationGB: dec("1"), Status: EntryPending},
		{ID: uuid.NewString(), OrderID: o.ID, Number: "0241000002", AllocationGB: dec("7"), Status: EntryPending},
	}
	require.NoError(t, store.CreateOrder(ctx, o, entries))

	_, processedEntries, err := svc.Process(ctx, o.ID, operator())
	require.NoError(t, err)
	require.Equal(t, EntrySent, processedEntries[0].Status)
	require.Equal(t, EntryError, processedEntries[1].Status)

	for _, h := range store.hist {
		require.Equal(t, 1, h.ValidCount)
		require.Equal(t, 1, h.InvalidCount)
		require.True(t, h.TotalGB.Equal(dec("1")))
	}
}

func TestProcessAbortsWhenProfileVanished(t *testing.T) {
	store := newMemStore()
	profiles := &stubProfiles{profile: tieredProfile()}
	svc := newService(profiles, store)
	ctx := context.Background()
	owner := caller()

	o := Order{ID: uuid.NewString(), UserID: owner.UserID, Status: StatusPending, CreatedAt: time.Now()}
	require.NoError(t, store.CreateOrder(ctx, o, []Entry{
		{ID: uuid.NewString(), OrderID: o.ID, Number: "0241000001", AllocationGB: dec("1"), Status: EntryPending},
	}))

	profiles.err = pricing.ErrProfileNotFound
	_, _, err := svc.Process(ctx, o.ID, operator())
	require.ErrorIs(t, err, pricing.ErrProfileNotFound)

	stored, _, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status, "aborted transition must leave the order pending")
	require.Empty(t, store.hist)
}

func TestEnsureOrderCostsDeterministic(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	ctx := context.Background()
	owner := caller()

	o := Order{ID: uuid.NewString(), UserID: owner.UserID, Status: StatusPending}
	entries := []Entry{
		{ID: uuid.NewString(), Number: "0241000001", AllocationGB: dec("1")},
		{ID: uuid.NewString(), Number: "0241000002", AllocationGB: dec("5")},
	}

	first, firstEntries, err := svc.EnsureOrderCosts(ctx, o, entries, owner.UserID)
	require.NoError(t, err)
	second, secondEntries, err := svc.EnsureOrderCosts(ctx, o, entries, owner.UserID)
	require.NoError(t, err)

	require.True(t, first.Cost.Equal(second.Cost))
	require.True(t, first.Cost.Equal(dec("70.00")), "cost = %s", first.Cost)
	for i := range firstEntries {
		require.True(t, firstEntries[i].Cost.Equal(secondEntries[i].Cost))
	}
}

func TestProcessEmitsEvent(t *testing.T) {
	store := newMemStore()
	eventStore := &captureEventStore{}
	svc := newService(&stubProfiles{profile: tieredProfile()}, store)
	svc.Bus = &events.Bus{Store: eventStore}
	ctx := context.Background()

	submitted, _, err := svc.Submit(ctx, caller(), SubmitInput{Entries: []EntryInput{
		{Number: "0241000001", AllocationGB: dec("1")},
	}})
	require.NoError(t, err)

	_, _, err = svc.Process(ctx, submitted.ID, operator())
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderProcessed}, eventStore.topics)
}

func TestProcessMissingOrder(t *testing.T) {
	svc := newService(&stubProfiles{profile: tieredProfile()}, newMemStore())
	_, _, err := svc.Process(context.Background(), uuid.NewString(), operator())
	require.ErrorIs(t, err, ErrOrderNotFound)
}

type captureEventStore struct {
	topics []string
}

func (c *captureEventStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	c.topics = append(c.topics, topic)
	return events.DomainEvent{ID: uuid.NewString(), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}
