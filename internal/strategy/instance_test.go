package strategy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plantctl/internal/config"
	plantlog "github.com/mattjoyce/plantctl/internal/log"
)

type constAlgo struct {
	out  float64
	gain int64
	flag bool
}

func (a *constAlgo) Produce(in Inputs) []float64 {
	out := make([]float64, len(in.Actuators))
	for i := range out {
		out[i] = a.out
	}
	return out
}

func newTestInstance(t *testing.T) (*Instance, *constAlgo) {
	t.Helper()
	algo := &constAlgo{out: 1, gain: 3, flag: true}
	inst, err := NewInstance("test", algo, []float64{40})
	require.NoError(t, err)
	require.NoError(t, inst.RegisterTunable("out", KindFloat, &algo.out))
	require.NoError(t, inst.RegisterTunable("gain", KindInt, &algo.gain))
	require.NoError(t, inst.RegisterTunable("flag", KindBool, &algo.flag))
	return inst, algo
}

func TestRegisterTunableSnapshotsCurrentValue(t *testing.T) {
	inst, _ := newTestInstance(t)

	tunables := inst.Tunables()
	require.Len(t, tunables, 4)
	assert.Equal(t, SetpointsTunable, tunables[0].Name)
	assert.Equal(t, []float64{40}, tunables[0].Value.FloatSeq())
	assert.Equal(t, "out", tunables[1].Name)
	assert.Equal(t, 1.0, tunables[1].Value.Float())
	assert.Equal(t, int64(3), tunables[2].Value.Int())
	assert.True(t, tunables[3].Value.Bool())
}

func TestRegisterTunableRejectsMismatch(t *testing.T) {
	inst, algo := newTestInstance(t)

	assert.ErrorIs(t, inst.RegisterTunable("out", KindFloat, &algo.out), ErrDuplicateTunable)
	assert.Error(t, inst.RegisterTunable("wrong", KindInt, &algo.out))
	var s string
	assert.Error(t, inst.RegisterTunable("str", KindFloat, &s))
}

func TestSetTunable(t *testing.T) {
	inst, algo := newTestInstance(t)

	require.NoError(t, inst.SetTunable("out", "1.5"))
	assert.Equal(t, 1.5, algo.out)
	v, ok := inst.Tunable("out")
	require.True(t, ok)
	assert.Equal(t, 1.5, v.Float())

	require.NoError(t, inst.SetTunable("gain", "9"))
	assert.Equal(t, int64(9), algo.gain)
}

func TestSetTunableCastErrorKeepsValue(t *testing.T) {
	inst, algo := newTestInstance(t)

	err := inst.SetTunable("flag", "notabool")
	var castErr *CastError
	require.ErrorAs(t, err, &castErr)
	assert.True(t, algo.flag)
	v, _ := inst.Tunable("flag")
	assert.True(t, v.Bool())
}

func TestSetTunableUnknown(t *testing.T) {
	inst, _ := newTestInstance(t)
	assert.ErrorIs(t, inst.SetTunable("missing", "1"), ErrUnknownTunable)
}

func TestSetpointsTunable(t *testing.T) {
	inst, _ := newTestInstance(t)

	require.NoError(t, inst.SetTunable(SetpointsTunable, "[35, 36]"))
	assert.Equal(t, []float64{35, 36}, inst.Setpoints())

	inst.SetSetpoints([]float64{50})
	assert.Equal(t, []float64{50}, inst.Setpoints())
}

// blockingAlgo holds Produce until release is closed.
type blockingAlgo struct {
	entered chan struct{}
	release chan struct{}
}

func (a *blockingAlgo) Produce(in Inputs) []float64 {
	close(a.entered)
	<-a.release
	return make([]float64, len(in.Actuators))
}

func TestTrySetTunableBusyDuringProduce(t *testing.T) {
	algo := &blockingAlgo{entered: make(chan struct{}), release: make(chan struct{})}
	inst, err := NewInstance("slow", algo, []float64{1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inst.Produce(Inputs{Actuators: []float64{0}, DT: time.Second})
	}()
	<-algo.entered

	assert.ErrorIs(t, inst.TrySetTunable(SetpointsTunable, "2"), ErrBusy)
	assert.ErrorIs(t, inst.TrySetSetpoints([]float64{2}), ErrBusy)
	assert.Equal(t, []float64{1}, inst.Setpoints())

	close(algo.release)
	wg.Wait()

	require.NoError(t, inst.TrySetTunable(SetpointsTunable, "2"))
	assert.Equal(t, []float64{2}, inst.Setpoints())
}

func TestNewInstanceRequiresLabel(t *testing.T) {
	_, err := NewInstance("", &constAlgo{}, nil)
	assert.Error(t, err)
}

func TestCatalogActivationIsExclusive(t *testing.T) {
	c := NewCatalog()
	a, err := NewInstance("A", &constAlgo{}, nil)
	require.NoError(t, err)
	b, err := NewInstance("B", &constAlgo{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Register(a))
	require.NoError(t, c.Register(b))
	assert.ErrorIs(t, c.Register(a), ErrDuplicateLabel)

	assert.Nil(t, c.Active())

	_, err = c.Activate("A")
	require.NoError(t, err)
	assert.True(t, c.IsActive("A"))

	got, err := c.Activate("B")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.True(t, c.IsActive("B"))
	assert.False(t, c.IsActive("A"))

	_, err = c.Activate("C")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.True(t, c.IsActive("B"))

	assert.Same(t, b, c.Deactivate())
	assert.Nil(t, c.Active())
	assert.Equal(t, []string{"A", "B"}, c.Labels())
}

func TestBuild(t *testing.T) {
	cat, err := Build([]config.StrategyConfig{
		{Label: "pid", Kind: KindPID, L: 9.02, T: 344.21, Setpoints: []float64{40}},
		{Label: "heater", Kind: KindPID, L: 2, T: 20, Td: 0.5, Unidirectional: true},
	}, plantlog.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"pid", "heater"}, cat.Labels())

	inst, ok := cat.Get("heater")
	require.True(t, ok)
	kd, ok := inst.Tunable("Kd")
	require.True(t, ok)
	assert.InDelta(t, 0.9*20/2*0.5, kd.Float(), 1e-12)

	_, err = Build([]config.StrategyConfig{{Label: "x", Kind: "fuzzy"}}, plantlog.Discard())
	assert.Error(t, err)
}
