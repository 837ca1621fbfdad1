package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/repository"
	"github.com/shestoi/mimo-inventory/internal/repository/memory"
	"github.com/shestoi/mimo-inventory/internal/service"
	"github.com/shestoi/mimo-inventory/internal/service/mocks"
)

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []service.StockEvent
}

func (p *recordingPublisher) PublishStockEvent(_ context.Context, event service.StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo      *memory.MemoryRepository
	lookup    *catalog.MemoryLookup
	publisher *recordingPublisher
	svc       *service.InventoryService
	seeded    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memory.NewMemoryRepository()
	lookup := catalog.NewMemoryLookup()
	lookup.AddProduct(catalog.Product{ID: "plain", Name: "Mug"})
	lookup.AddProduct(catalog.Product{ID: "shirt", Name: "T-Shirt", HasVariants: true})
	lookup.AddVariant(catalog.Variant{ID: "shirt-m", ProductID: "shirt", Name: "M", SKU: "TS-M"})
	lookup.AddVariant(catalog.Variant{ID: "shirt-l", ProductID: "shirt", Name: "L", SKU: "TS-L"})
	lookup.AddProduct(catalog.Product{ID: "hoodie", Name: "Hoodie", HasVariants: true})
	lookup.AddVariant(catalog.Variant{ID: "hoodie-m", ProductID: "hoodie", Name: "M", SKU: "HD-M"})

	publisher := &recordingPublisher{}
	svc := service.NewInventoryService(repo, repo, lookup, publisher, zap.NewNop(), service.Options{
		MaxRetries:        3,
		LowStockThreshold: -1,
	})

	return &fixture{repo: repo, lookup: lookup, publisher: publisher, svc: svc}
}

// seed создаёт запись и при необходимости резерв requester
func (f *fixture) seed(t *testing.T, quantity int32, holds map[string]int32) repository.Inventory {
	t.Helper()
	ctx := context.Background()

	f.seeded++
	inv, err := f.svc.AddInventory(ctx, service.AddInventoryInput{
		ProductID:   "plain",
		WarehouseID: fmt.Sprintf("wh-%d", f.seeded),
		Quantity:    quantity,
		UpdatedBy:   "admin",
	})
	require.NoError(t, err)

	for requester, qty := range holds {
		_, err := f.svc.ReserveStock(ctx, inv.ID, requester, qty)
		require.NoError(t, err)
	}

	inv, err = f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) assertConsistent(t *testing.T, inventoryID string) {
	t.Helper()
	ctx := context.Background()

	inv, err := f.repo.GetByID(ctx, inventoryID)
	require.NoError(t, err)
	holds, err := f.repo.ListByInventory(ctx, inventoryID)
	require.NoError(t, err)

	var sum int32
	for _, h := range holds {
		assert.Positive(t, h.Quantity)
		sum += h.Quantity
	}
	assert.GreaterOrEqual(t, inv.ReservedQuantity, int32(0))
	assert.LessOrEqual(t, inv.ReservedQuantity, inv.Quantity)
	assert.Equal(t, inv.ReservedQuantity, sum, "sum of holds must equal reserved quantity")
}

func TestReserveStock_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve full quantity then another requester is rejected", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 10, nil)

		res, err := f.svc.ReserveStock(ctx, inv.ID, "A", 10)
		require.NoError(t, err)
		assert.Equal(t, int32(10), res.Quantity)

		got, err := f.svc.GetInventory(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(10), got.ReservedQuantity)
		assert.Equal(t, int32(0), got.Available())

		_, err = f.svc.ReserveStock(ctx, inv.ID, "B", 1)
		require.ErrorIs(t, err, service.ErrInsufficientStock)
		assert.False(t, errors.Is(err, service.ErrInventoryInvariantViolation))

		f.assertConsistent(t, inv.ID)
	})

	t.Run("cancel returns held units to free stock", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 10, map[string]int32{"A": 10})

		got, err := f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseCancel)
		require.NoError(t, err)
		assert.Equal(t, int32(10), got.Quantity)
		assert.Equal(t, int32(0), got.ReservedQuantity)

		_, err = f.svc.GetReservation(ctx, inv.ID, "A")
		require.ErrorIs(t, err, service.ErrReservationNotFound)

		f.assertConsistent(t, inv.ID)
	})

	t.Run("finalize consumes held units", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 10, map[string]int32{"A": 4})

		got, err := f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseFinalize)
		require.NoError(t, err)
		assert.Equal(t, int32(6), got.Quantity)
		assert.Equal(t, int32(0), got.ReservedQuantity)

		f.assertConsistent(t, inv.ID)
	})

	t.Run("growing an existing hold validates only the delta", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 5, map[string]int32{"A": 2})
		require.Equal(t, int32(2), inv.ReservedQuantity)

		res, err := f.svc.ReserveStock(ctx, inv.ID, "A", 5)
		require.NoError(t, err)
		assert.Equal(t, int32(5), res.Quantity)

		got, err := f.svc.GetInventory(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(5), got.ReservedQuantity)

		hold, err := f.svc.GetReservation(ctx, inv.ID, "A")
		require.NoError(t, err)
		assert.Equal(t, int32(5), hold.Quantity)

		f.assertConsistent(t, inv.ID)
	})

	t.Run("shrinking a hold always passes", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 5, map[string]int32{"A": 3, "B": 2})

		_, err := f.svc.ReserveStock(ctx, inv.ID, "A", 1)
		require.NoError(t, err)

		got, err := f.svc.GetInventory(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(3), got.ReservedQuantity)
		f.assertConsistent(t, inv.ID)
	})
}

func TestReserveStock_Boundaries(t *testing.T) {
	ctx := context.Background()

	t.Run("exact free capacity succeeds, one more fails", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 7, map[string]int32{"A": 3})

		_, err := f.svc.ReserveStock(ctx, inv.ID, "B", 5)
		require.ErrorIs(t, err, service.ErrInsufficientStock)

		_, err = f.svc.ReserveStock(ctx, inv.ID, "B", 4)
		require.NoError(t, err)
		f.assertConsistent(t, inv.ID)
	})

	t.Run("zero or negative target is rejected", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 7, map[string]int32{"A": 3})

		for _, qty := range []int32{0, -1} {
			_, err := f.svc.ReserveStock(ctx, inv.ID, "A", qty)
			require.ErrorIs(t, err, service.ErrInvalidQuantity)
		}

		hold, err := f.svc.GetReservation(ctx, inv.ID, "A")
		require.NoError(t, err)
		assert.Equal(t, int32(3), hold.Quantity)
		f.assertConsistent(t, inv.ID)
	})

	t.Run("empty requester is rejected", func(t *testing.T) {
		f := newFixture(t)
		inv := f.seed(t, 7, nil)

		_, err := f.svc.ReserveStock(ctx, inv.ID, "", 1)
		require.ErrorIs(t, err, service.ErrInvalidRequester)
	})

	t.Run("unknown inventory", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.ReserveStock(ctx, "missing", "A", 1)
		require.ErrorIs(t, err, service.ErrInventoryNotFound)
		assert.Contains(t, err.Error(), "missing")
	})
}

func TestReserveStock_IdempotentRepeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 10, nil)

	first, err := f.svc.ReserveStock(ctx, inv.ID, "A", 4)
	require.NoError(t, err)
	before, err := f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)

	second, err := f.svc.ReserveStock(ctx, inv.ID, "A", 4)
	require.NoError(t, err)
	after, err := f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(4), after.ReservedQuantity)
	assert.Equal(t, before.Version, after.Version, "repeated reserve must not write")
	f.assertConsistent(t, inv.ID)
}

func TestReleaseThenReserve_RestoresFreeCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 12, map[string]int32{"B": 2})

	_, err := f.svc.ReserveStock(ctx, inv.ID, "A", 5)
	require.NoError(t, err)
	held, err := f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseCancel)
	require.NoError(t, err)
	_, err = f.svc.ReserveStock(ctx, inv.ID, "A", 5)
	require.NoError(t, err)

	again, err := f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, held.Available(), again.Available())
	assert.Equal(t, held.Quantity, again.Quantity)
	f.assertConsistent(t, inv.ID)
}

func TestReleaseStock_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 10, map[string]int32{"A": 2})

	_, err := f.svc.ReleaseStock(ctx, inv.ID, "B", service.ReleaseCancel)
	require.ErrorIs(t, err, service.ErrReservationNotFound)

	_, err = f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseMode("refund"))
	require.ErrorIs(t, err, service.ErrInvalidReleaseMode)

	_, err = f.svc.ReleaseStock(ctx, "missing", "A", service.ReleaseFinalize)
	require.ErrorIs(t, err, service.ErrInventoryNotFound)

	// резерв не тронут ошибочными вызовами
	hold, err := f.svc.GetReservation(ctx, inv.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hold.Quantity)

	_, err = f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseFinalize)
	require.NoError(t, err)
	_, err = f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseFinalize)
	require.ErrorIs(t, err, service.ErrReservationNotFound)
}

func TestParseReleaseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    service.ReleaseMode
		wantErr bool
	}{
		{in: "cancel", want: service.ReleaseCancel},
		{in: "CANCEL", want: service.ReleaseCancel},
		{in: " finalize ", want: service.ReleaseFinalize},
		{in: "FINALIZE", want: service.ReleaseFinalize},
		{in: "", wantErr: true},
		{in: "refund", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := service.ParseReleaseMode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, service.ErrInvalidReleaseMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReleaseAllForRequester(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.seed(t, 10, map[string]int32{"A": 2, "B": 1})
	second := f.seed(t, 4, map[string]int32{"A": 4})

	released, err := f.svc.ReleaseAllForRequester(ctx, "A", service.ReleaseFinalize)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	got, err := f.svc.GetInventory(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(8), got.Quantity)
	assert.Equal(t, int32(1), got.ReservedQuantity)

	got, err = f.svc.GetInventory(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Quantity)
	assert.Equal(t, int32(0), got.ReservedQuantity)

	released, err = f.svc.ReleaseAllForRequester(ctx, "A", service.ReleaseFinalize)
	require.NoError(t, err)
	assert.Zero(t, released)

	f.assertConsistent(t, first.ID)
	f.assertConsistent(t, second.ID)
}

func TestReserveStock_ConcurrentRequestersNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 50, nil)

	const workers = 40
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.ReserveStock(ctx, inv.ID, fmt.Sprintf("user-%d", i), 2)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, service.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, succeeded)
	assert.Equal(t, workers-25, insufficient)

	got, err := f.svc.GetInventory(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(50), got.ReservedQuantity)
	f.assertConsistent(t, inv.ID)
}

func TestReserveRelease_RandomSequenceKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 20, nil)

	requesters := []string{"A", "B", "C"}
	// детерминированная последовательность вместо rand, чтобы тест был воспроизводим
	for step := 0; step < 200; step++ {
		requester := requesters[step%len(requesters)]
		switch step % 7 {
		case 0, 2, 4:
			_, err := f.svc.ReserveStock(ctx, inv.ID, requester, int32(step%9)+1)
			if err != nil {
				require.ErrorIs(t, err, service.ErrInsufficientStock)
			}
		case 1, 5:
			_, err := f.svc.ReleaseStock(ctx, inv.ID, requester, service.ReleaseCancel)
			if err != nil {
				require.ErrorIs(t, err, service.ErrReservationNotFound)
			}
		case 3:
			_, err := f.svc.ReleaseStock(ctx, inv.ID, requester, service.ReleaseFinalize)
			if err != nil {
				require.ErrorIs(t, err, service.ErrReservationNotFound)
			}
		case 6:
			current, err := f.svc.GetInventory(ctx, inv.ID)
			require.NoError(t, err)
			_, err = f.svc.UpdateInventory(ctx, inv.ID, current.Quantity+3, "restock")
			require.NoError(t, err)
		}
		f.assertConsistent(t, inv.ID)
	}
}

// flakyRepository отдаёт ErrVersionConflict на первые conflicts вызовов ApplyHold
type flakyRepository struct {
	*memory.MemoryRepository
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (r *flakyRepository) ApplyHold(ctx context.Context, change repository.HoldChange) (repository.Inventory, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.conflicts
	r.mu.Unlock()
	if fail {
		return repository.Inventory{}, repository.ErrVersionConflict
	}
	return r.MemoryRepository.ApplyHold(ctx, change)
}

func TestReserveStock_VersionConflicts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		conflicts int
		wantErr   error
		wantCalls int
	}{
		{name: "conflict then success", conflicts: 2, wantCalls: 3},
		{name: "retries exhausted", conflicts: 10, wantErr: service.ErrInventoryInvariantViolation, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewMemoryRepository()
			require.NoError(t, mem.Create(ctx, repository.Inventory{ID: "inv-1", ProductID: "plain", Quantity: 10}))
			repo := &flakyRepository{MemoryRepository: mem, conflicts: tt.conflicts}

			svc := service.NewInventoryService(repo, mem, catalog.NewMemoryLookup(), nil, zap.NewNop(),
				service.Options{MaxRetries: 3, LowStockThreshold: -1})

			_, err := svc.ReserveStock(ctx, "inv-1", "A", 4)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				got, getErr := mem.GetByID(ctx, "inv-1")
				require.NoError(t, getErr)
				assert.Equal(t, int32(0), got.ReservedQuantity)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, repo.calls)
		})
	}
}

func TestReserveStock_PublishesEvents(t *testing.T) {
	ctx := context.Background()

	repo := memory.NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, repository.Inventory{ID: "inv-1", ProductID: "plain", WarehouseID: "wh", Quantity: 5}))

	pub := mocks.NewEventPublisher(t)
	pub.On("PublishStockEvent", mock.Anything, mock.MatchedBy(func(e service.StockEvent) bool {
		return e.Type == service.EventStockReserved && e.InventoryID == "inv-1" &&
			e.RequesterID == "A" && e.Delta == 4 && e.Available == 1
	})).Return(nil).Once()
	pub.On("PublishStockEvent", mock.Anything, mock.MatchedBy(func(e service.StockEvent) bool {
		return e.Type == service.EventStockLow && e.Available == 1
	})).Return(errors.New("broker down")).Once()

	svc := service.NewInventoryService(repo, repo, catalog.NewMemoryLookup(), pub, zap.NewNop(),
		service.Options{LowStockThreshold: 2})

	// ошибка публикации не влияет на результат
	_, err := svc.ReserveStock(ctx, "inv-1", "A", 4)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int32(4), got.ReservedQuantity)
}

func TestReleaseStock_PublishesModeAndDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.seed(t, 10, map[string]int32{"A": 3})

	_, err := f.svc.ReleaseStock(ctx, inv.ID, "A", service.ReleaseFinalize)
	require.NoError(t, err)

	f.publisher.mu.Lock()
	last := f.publisher.events[len(f.publisher.events)-1]
	f.publisher.mu.Unlock()

	assert.Equal(t, service.EventStockReleased, last.Type)
	assert.Equal(t, service.ReleaseFinalize, last.ReleaseMode)
	assert.Equal(t, int32(-3), last.Delta)
	assert.Equal(t, int32(7), last.Quantity)
}
