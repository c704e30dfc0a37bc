package operator

import (
	"context"
	"sync"
	"testing"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStateRepository struct {
	sync.Mutex
	saved     []models.GridState
	loadState *models.GridState
	loadErr   error
}

func (m *mockStateRepository) SaveState(state *models.GridState) error {
	m.Lock()
	defer m.Unlock()
	m.saved = append(m.saved, *state)
	return nil
}

func (m *mockStateRepository) LoadState(symbol string, magic int64) (*models.GridState, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadState, m.loadErr
}

func (m *mockStateRepository) Close() error { return nil }

func testConfig() *models.Config {
	return &models.Config{
		Symbol:         "EURUSD",
		Magic:          777001,
		InitialLot:     0.1,
		LotMultiplier:  1.5,
		DistancePips:   50,
		MaxDrawdownPct: 20,
		Deviation:      20,
		RetryCount:     3,
		RetryDelayMs:   1,
	}
}

func testSim() *broker.Sim {
	sim := broker.NewSim()
	sim.AddSymbol(&models.SymbolInfo{
		Name:         "EURUSD",
		Digits:       5,
		Point:        0.00001,
		TradeAllowed: true,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
	})
	sim.SetAccount(10000, 10000)
	sim.SetTick("EURUSD", 1.10000, 1.10010)
	return sim
}

func TestStartGridPlacesBothLegs(t *testing.T) {
	sim := testSim()
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	msg, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, msg, "BuyStop 0.10 @ 1.1051")
	assert.Contains(t, msg, "SellStop 0.10 @ 1.095")

	require.Len(t, repo.saved, 1)
	assert.True(t, repo.saved[0].Initialized)

	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestStartGridOverrides(t *testing.T) {
	sim := testSim()
	sim.AddSymbol(&models.SymbolInfo{
		Name:         "GBPUSD",
		Digits:       5,
		Point:        0.00001,
		TradeAllowed: true,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
	})
	sim.SetTick("GBPUSD", 1.30000, 1.30010)
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "GBPUSD", 100, 0.2, 42)
	require.NoError(t, err)

	orders, err := sim.Orders("GBPUSD", 42)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, 0.2, o.Volume)
	}

	// the default grid is untouched
	orders, err = sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStartGridAlreadyRunning(t *testing.T) {
	sim := testSim()
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)

	msg, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, msg, "already running")

	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestStartGridTradeDisabled(t *testing.T) {
	sim := testSim()
	sim.AddSymbol(&models.SymbolInfo{Name: "EURUSD", Digits: 5, Point: 0.00001})
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestStartGridReportsRejectedLeg(t *testing.T) {
	sim := testSim()
	sim.ScriptSend(broker.RetNoMoney, broker.RetDone)
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	msg, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, msg, "BuyStop failed")
	assert.Contains(t, msg, "SellStop 0.10")
}

func TestStatusListsOrdersAndPositions(t *testing.T) {
	sim := testSim()
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)

	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	require.NoError(t, sim.Trigger(orders[0].Ticket))

	out, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "balance 10000.00")
	assert.Contains(t, out, "Pending Orders")
	assert.Contains(t, out, "Open Positions")
	assert.Contains(t, out, "Total")
}

func TestCloseAllResetsState(t *testing.T) {
	sim := testSim()
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)
	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	require.NoError(t, sim.Trigger(orders[0].Ticket))

	msg, report, err := svc.CloseAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "closed")
	assert.Len(t, report, 2)

	orders, err = sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	assert.Empty(t, orders)
	positions, err := sim.Positions("EURUSD", 777001)
	require.NoError(t, err)
	assert.Empty(t, positions)

	last := repo.saved[len(repo.saved)-1]
	assert.False(t, last.Initialized)
}

func TestCloseAllReportsFailures(t *testing.T) {
	sim := testSim()
	repo := &mockStateRepository{}
	svc := New(sim, repo, testConfig(), zap.NewNop().Sugar())

	_, err := svc.StartGrid(context.Background(), "", 0, 0, 0)
	require.NoError(t, err)
	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	require.NoError(t, sim.Trigger(orders[0].Ticket))

	sim.ScriptClose(broker.RetInvalid)
	msg, report, err := svc.CloseAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "partially")
	require.Len(t, report, 2)
	assert.Contains(t, report[0], "failed to close")
}
