package pvnet

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConf is small enough to keep graph construction fast in tests.
func testConf() Config {
	conf := DefaultConf(3, 4, 4, 10)
	conf.K = 8
	conf.FC = 16
	conf.BatchSize = 4
	return conf
}

func testState(conf Config, seed int64) []float32 {
	rnd := rand.New(rand.NewSource(seed))
	state := make([]float32, conf.Features*conf.Height*conf.Width)
	for i := range state {
		state[i] = rnd.Float32()
	}
	return state
}

func TestConfigValid(t *testing.T) {
	broken := []struct {
		name string
		mod  func(*Config)
	}{
		{"no filters", func(c *Config) { c.K = 0 }},
		{"narrow hidden", func(c *Config) { c.FC = 1 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"no features", func(c *Config) { c.Features = 0 }},
		{"tiny board", func(c *Config) { c.Height = 1 }},
		{"degenerate actions", func(c *Config) { c.ActionSpace = 1 }},
	}
	assert.NoError(t, testConf().Valid())
	for _, c := range broken {
		conf := testConf()
		c.mod(&conf)
		if conf.Valid() == nil {
			t.Errorf("%s: expected a validation error", c.name)
		}
	}
}

func TestMode(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("baseline", Baseline.String())
	assert.Equal("advanced", Advanced.String())
	assert.Equal(2, Baseline.ResidualBlocks())
	assert.Equal(5, Advanced.ResidualBlocks())
}

func TestLegalMask(t *testing.T) {
	mask := LegalMask([]int{1, 3, -1, 99}, 5)
	want := []float32{illegalLogit, 0, illegalLogit, 0, illegalLogit}
	assert.Equal(t, want, mask)
}

func TestUniform(t *testing.T) {
	u := Uniform{ActionSpace: 6}
	policy, value, err := u.Infer(nil, []int{0, 2, 4})
	require.NoError(t, err)
	assert.Zero(t, value)
	assert.Equal(t, []float32{1. / 3, 0, 1. / 3, 0, 1. / 3, 0}, policy)

	assert.NoError(t, HealthCheck(u, nil, []int{0, 2, 4}))
}

func TestLossesNaN(t *testing.T) {
	assert.False(t, Losses{Total: 1}.NaN())
	assert.True(t, Losses{Value: math32.NaN()}.NaN())
	assert.True(t, Losses{Threat: math32.Inf(1)}.NaN())
}

func TestInferencerPolicy(t *testing.T) {
	conf := testConf()
	net := New(conf)
	require.NoError(t, net.Init())

	inf, err := Infer(net, 1)
	require.NoError(t, err)
	defer inf.Close()
	assert.Equal(t, 1, inf.BatchSize())

	legal := []int{1, 3, 5}
	policy, value, err := inf.Infer(testState(conf, 1), legal)
	require.NoError(t, err)
	require.Len(t, policy, conf.ActionSpace)

	var sum float32
	isLegal := map[int]bool{1: true, 3: true, 5: true}
	for a, p := range policy {
		if !isLegal[a] {
			assert.InDelta(t, 0, p, 1e-6, "illegal action %d has probability %v", a, p)
		}
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-3)
	assert.True(t, value >= -1 && value <= 1, "value %v outside [-1, 1]", value)

	assert.NoError(t, HealthCheck(inf, testState(conf, 1), legal))
}

func TestInferencerTracksSource(t *testing.T) {
	conf := testConf()
	net := New(conf)
	require.NoError(t, net.Init())

	inf, err := Infer(net, 1)
	require.NoError(t, err)
	defer inf.Close()

	legal := []int{0, 1, 2}
	before, _, err := inf.Infer(testState(conf, 2), legal)
	require.NoError(t, err)

	// perturb the source and refresh; the clone must follow
	for _, node := range net.Model() {
		data := node.Value().Data().([]float32)
		for i := range data {
			data[i] += 0.05
		}
	}
	require.NoError(t, inf.WeightsFrom(net))
	after, _, err := inf.Infer(testState(conf, 2), legal)
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "refreshed weights should change the policy")
}

func trainingBatch(conf Config, advantages []float32) Batch {
	b := Batch{
		Advantages: advantages,
		Returns:    make([]float32, conf.BatchSize),
		Threat:     make([]float32, conf.BatchSize*conf.Height*conf.Width),
	}
	legalMask := LegalMask([]int{1, 3, 5}, conf.ActionSpace)
	for i := 0; i < conf.BatchSize; i++ {
		b.Planes = append(b.Planes, testState(conf, int64(i))...)
		b.Mask = append(b.Mask, legalMask...)

		action := make([]float32, conf.ActionSpace)
		action[1+2*(i%3)] = 1
		b.Actions = append(b.Actions, action...)

		material := make([]float32, MaterialClasses)
		material[i%MaterialClasses] = 1
		b.Material = append(b.Material, material...)
	}
	return b
}

func TestStepZeroAdvantage(t *testing.T) {
	conf := testConf()
	net := New(conf)
	require.NoError(t, net.Init())

	trainable, err := NewTrainable(net, 1e-4, 0.5)
	require.NoError(t, err)
	defer trainable.Close()

	ls, skipped, err := trainable.Step(trainingBatch(conf, make([]float32, conf.BatchSize)), 1e6)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, 1, trainable.Steps())

	// zero advantages null the policy gradient term exactly
	assert.InDelta(t, 0, ls.Policy, 1e-6)
	assert.False(t, ls.NaN())
	assert.True(t, ls.Entropy > 0, "entropy %v should be positive", ls.Entropy)
}

func TestStepsReadableDuringStep(t *testing.T) {
	conf := testConf()
	net := New(conf)
	require.NoError(t, net.Init())

	trainable, err := NewTrainable(net, 1e-4, 0.5)
	require.NoError(t, err)
	defer trainable.Close()

	// exploration decay polls the counter while the trainer steps
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if n := trainable.Steps(); n < 0 || n > 3 {
				t.Errorf("Steps() = %d mid-training", n)
				return
			}
		}
	}()
	for i := 0; i < 3; i++ {
		_, skipped, err := trainable.Step(trainingBatch(conf, make([]float32, conf.BatchSize)), 1e6)
		require.NoError(t, err)
		require.False(t, skipped)
	}
	<-done
	assert.Equal(t, 3, trainable.Steps())
}

func TestStepSkipsUnstableLoss(t *testing.T) {
	conf := testConf()
	net := New(conf)
	require.NoError(t, net.Init())

	trainable, err := NewTrainable(net, 1e-4, 0.5)
	require.NoError(t, err)
	defer trainable.Close()

	// an impossible threshold forces the skip path
	ls, skipped, err := trainable.Step(trainingBatch(conf, make([]float32, conf.BatchSize)), -1e9)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Zero(t, trainable.Steps(), "skipped steps must not count")
	assert.False(t, ls.NaN())
}

func TestNewTrainableRejects(t *testing.T) {
	conf := testConf()
	conf.FwdOnly = true
	fwd := New(conf)
	require.NoError(t, fwd.Init())
	_, err := NewTrainable(fwd, 1e-4, 0.5)
	assert.Error(t, err)

	_, err = NewTrainable(New(testConf()), 1e-4, 0.5)
	assert.Error(t, err, "uninitialized network")
}

func TestCheckpointRoundTrip(t *testing.T) {
	conf := testConf()
	path := filepath.Join(t.TempDir(), "checkpoint.gob")

	src := New(conf)
	require.NoError(t, src.Init())
	require.NoError(t, Save(path, src, Meta{Steps: 17, Games: 230}))

	dst := New(conf)
	require.NoError(t, dst.Init())
	meta, err := Load(path, dst)
	require.NoError(t, err)
	assert.Equal(t, 17, meta.Steps)
	assert.Equal(t, 230, meta.Games)
	assert.Equal(t, conf.Mode, meta.Mode)

	srcInf, err := Infer(src, 1)
	require.NoError(t, err)
	defer srcInf.Close()
	dstInf, err := Infer(dst, 1)
	require.NoError(t, err)
	defer dstInf.Close()

	legal := []int{1, 3, 5}
	wantPolicy, wantValue, err := srcInf.Infer(testState(conf, 7), legal)
	require.NoError(t, err)
	gotPolicy, gotValue, err := dstInf.Infer(testState(conf, 7), legal)
	require.NoError(t, err)

	assert.InDelta(t, wantValue, gotValue, 1e-5)
	for a := range wantPolicy {
		assert.InDelta(t, wantPolicy[a], gotPolicy[a], 1e-5, "action %d", a)
	}
}

func TestLoadRejectsArchitectureMismatch(t *testing.T) {
	conf := testConf()
	path := filepath.Join(t.TempDir(), "checkpoint.gob")

	src := New(conf)
	require.NoError(t, src.Init())
	require.NoError(t, Save(path, src, Meta{}))

	conf.Mode = Advanced
	dst := New(conf)
	require.NoError(t, dst.Init())

	_, err := Load(path, dst)
	var mismatch ArchitectureMismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Equal(t, Advanced, mismatch.Requested)
	assert.Equal(t, Baseline, mismatch.Found)
}
