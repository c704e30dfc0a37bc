package executor

import (
	"context"
	"testing"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *models.Config {
	return &models.Config{
		Symbol:       "EURUSD",
		Magic:        777001,
		RetryCount:   3,
		RetryDelayMs: 1,
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
		FillingModes: []models.FillingMode{models.FillingIOC, models.FillingFOK},
	})
	return sim
}

func stopRequest(volume, price float64) *broker.OrderRequest {
	return &broker.OrderRequest{
		Symbol: "EURUSD",
		Type:   models.BuyStop,
		Volume: volume,
		Price:  price,
		Magic:  777001,
	}
}

func TestSubmitSuccess(t *testing.T) {
	sim := testSim()
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))

	require.True(t, out.Success())
	assert.NotZero(t, out.Ticket)
	assert.Equal(t, 0.1, out.Volume)
	assert.Equal(t, 1, sim.SendCalls)
}

func TestSubmitNormalizesRequest(t *testing.T) {
	sim := testSim()
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.337500000001, 1.105004999))

	require.True(t, out.Success())
	assert.Equal(t, 0.33, out.Volume)

	orders, err := sim.Orders("EURUSD", 777001)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 0.33, orders[0].Volume)
	assert.Equal(t, 1.105, orders[0].Price)
}

func TestSubmitPicksFillingMode(t *testing.T) {
	sim := testSim()
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	req := stopRequest(0.1, 1.10500)
	out := exec.Submit(context.Background(), req)

	require.True(t, out.Success())
	// FOK preferred when supported
	assert.Equal(t, models.FillingFOK, req.Filling)
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	sim := testSim()
	sim.ScriptSend(broker.RetRequote, broker.RetDone)
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))

	require.True(t, out.Success())
	assert.Equal(t, 2, sim.SendCalls)
}

func TestSubmitExhaustsRetryBudget(t *testing.T) {
	sim := testSim()
	sim.ScriptSend(broker.RetTimeout, broker.RetTimeout, broker.RetTimeout)
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))

	assert.Equal(t, StatusTransient, out.Status)
	assert.Equal(t, 3, sim.SendCalls)
}

func TestSubmitHardRejectionSingleAttempt(t *testing.T) {
	sim := testSim()
	sim.ScriptSend(broker.RetNoMoney)
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))

	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, 1, sim.SendCalls)
	assert.NotEmpty(t, out.Reason)
}

func TestSubmitTransportFaultIsTransient(t *testing.T) {
	sim := testSim()
	sim.SetConnected(false)
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))

	assert.Equal(t, StatusTransient, out.Status)
	assert.Equal(t, 3, sim.SendCalls)
}

func TestSubmitHonorsContextCancel(t *testing.T) {
	sim := testSim()
	sim.SetConnected(false)
	cfg := testConfig()
	cfg.RetryDelayMs = 60_000
	exec := New(sim, cfg, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := exec.Submit(ctx, stopRequest(0.1, 1.10500))

	assert.Equal(t, StatusTransient, out.Status)
	assert.Equal(t, 1, sim.SendCalls)
}

func TestCancelMissingOrderIsRejected(t *testing.T) {
	sim := testSim()
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Cancel(context.Background(), 424242)

	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, 1, sim.CancelCalls)
}

func TestClosePosition(t *testing.T) {
	sim := testSim()
	sim.SetTick("EURUSD", 1.10400, 1.10410)
	exec := New(sim, testConfig(), zap.NewNop().Sugar())

	out := exec.Submit(context.Background(), stopRequest(0.1, 1.10500))
	require.True(t, out.Success())
	require.NoError(t, sim.Trigger(out.Ticket))

	positions, err := sim.Positions("EURUSD", 777001)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	closeOut := exec.ClosePosition(context.Background(), &positions[0], 20)
	require.True(t, closeOut.Success())

	positions, err = sim.Positions("EURUSD", 777001)
	require.NoError(t, err)
	assert.Empty(t, positions)
}
