// Package trainer runs the periodic A2C learner: sample stored trajectories,
// compute advantages against the current value estimates, take one combined
// optimizer step over the policy, value and auxiliary losses, and checkpoint
// on schedule. One iteration failing never stops the loop.
package trainer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/joviva/viloria-checkers-ai-sub002/game"
	"github.com/joviva/viloria-checkers-ai-sub002/pvnet"
	"github.com/joviva/viloria-checkers-ai-sub002/replay"
)

// Phase is the trainer's observable position in its iteration cycle.
type Phase int32

const (
	Idle Phase = iota
	Sampling
	ComputingAdvantages
	UpdatingModel
	Checkpointing
)

func (p Phase) String() string {
	switch p {
	case Sampling:
		return "sampling"
	case ComputingAdvantages:
		return "computing_advantages"
	case UpdatingModel:
		return "updating_model"
	case Checkpointing:
		return "checkpointing"
	}
	return "idle"
}

// Config tunes the training loop.
type Config struct {
	BatchSize int     // transitions per optimizer step
	Gamma     float32 // discount
	Lambda    float32 // GAE smoothing
	MaxLoss   float32 // stability guard threshold

	Interval  time.Duration // time between iterations
	SaveEvery int           // iterations between checkpoints
	MinGames  int           // stored games required before training starts

	CheckpointPath string

	PriorityReplay      bool
	PriorityTemperature float32
	RecentRatio         float32 // mixed sampling, when priority replay is off

	LossWindow int // rolling average width
}

// DefaultConfig returns the standard loop tuning.
func DefaultConfig(checkpointPath string) Config {
	return Config{
		BatchSize:           32,
		Gamma:               0.99,
		Lambda:              0.95,
		MaxLoss:             10.0,
		Interval:            60 * time.Second,
		SaveEvery:           10,
		MinGames:            8,
		CheckpointPath:      checkpointPath,
		PriorityReplay:      true,
		PriorityTemperature: 1.0,
		RecentRatio:         0.5,
		LossWindow:          100,
	}
}

// Valid reports the first problem with the configuration, or nil.
func (c Config) Valid() error {
	switch {
	case c.BatchSize < 1:
		return errors.Errorf("batch size %d < 1", c.BatchSize)
	case c.Gamma <= 0 || c.Gamma > 1:
		return errors.Errorf("gamma %v outside (0, 1]", c.Gamma)
	case c.Lambda < 0 || c.Lambda > 1:
		return errors.Errorf("lambda %v outside [0, 1]", c.Lambda)
	case c.MaxLoss <= 0:
		return errors.Errorf("max loss %v must be positive", c.MaxLoss)
	case c.Interval <= 0:
		return errors.Errorf("interval %v must be positive", c.Interval)
	case c.SaveEvery < 1:
		return errors.Errorf("save interval %d < 1", c.SaveEvery)
	case c.CheckpointPath == "":
		return errors.New("checkpoint path is empty")
	}
	return nil
}

// Trainer owns the learning side of the pipeline. Games is consulted at
// checkpoint time so curriculum progress persists; OnCheckpoint lets the
// session publish fresh inference weights after each save.
type Trainer struct {
	conf      Config
	store     *replay.Store
	trainable *pvnet.Trainable
	valuer    *pvnet.Inferencer

	Games        func() int
	OnCheckpoint func(pvnet.Meta)
	OnIteration  func(entropy, valueError, advSignAccuracy float32)

	phase      atomic.Int32
	iterations int
	skipped    int
	lastAdvAcc float32
	losses     []float32 // ring of recent totals
	lossNext   int
	lossFull   bool
	rnd        *rand.Rand
}

// New assembles a Trainer. valuer must be a forward-only clone of the
// trainable network sized to the training batch.
func New(conf Config, store *replay.Store, trainable *pvnet.Trainable, valuer *pvnet.Inferencer) (*Trainer, error) {
	if err := conf.Valid(); err != nil {
		return nil, errors.WithMessage(err, "trainer config")
	}
	if conf.LossWindow < 1 {
		conf.LossWindow = 100
	}
	return &Trainer{
		conf:      conf,
		store:     store,
		trainable: trainable,
		valuer:    valuer,
		losses:    make([]float32, conf.LossWindow),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Phase reports the current cycle position. Safe to call from any goroutine.
func (t *Trainer) Phase() Phase { return Phase(t.phase.Load()) }

// Steps reports applied optimizer steps.
func (t *Trainer) Steps() int { return t.trainable.Steps() }

// Run drives iterations until ctx is cancelled. Shutdown only happens
// between iterations, so a checkpoint mid-write is never abandoned.
func (t *Trainer) Run(ctx context.Context) error {
	klog.Infof("trainer started: interval=%s batch=%d gamma=%.2f lambda=%.2f", t.conf.Interval, t.conf.BatchSize, t.conf.Gamma, t.conf.Lambda)
	ticker := time.NewTicker(t.conf.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			klog.Infof("trainer stopping after %d iterations (%d skipped)", t.iterations, t.skipped)
			return nil
		case <-ticker.C:
			if err := t.iterate(); err != nil {
				klog.Errorf("training iteration failed: %v", err)
			}
		}
	}
}

// Iterate runs one training iteration immediately. Exposed for the session's
// forced-training path and for tests; Run calls it on the ticker.
func (t *Trainer) Iterate() error { return t.iterate() }

func (t *Trainer) iterate() error {
	defer t.phase.Store(int32(Idle))

	t.phase.Store(int32(Sampling))
	stats, err := t.store.Stats()
	if err != nil {
		return err
	}
	if stats.TotalGames < t.conf.MinGames {
		klog.V(1).Infof("holding training: %d/%d games stored", stats.TotalGames, t.conf.MinGames)
		return nil
	}
	trajs, err := t.sample(stats)
	if err != nil {
		if replay.IsUnderflow(err) {
			klog.V(1).Infof("holding training: %v", err)
			return nil
		}
		return err
	}

	t.phase.Store(int32(ComputingAdvantages))
	batch, err := t.buildBatch(trajs)
	if err != nil {
		// sampled games may still hold fewer transitions than a batch
		if replay.IsUnderflow(err) {
			klog.V(1).Infof("holding training: %v", err)
			return nil
		}
		return err
	}

	t.phase.Store(int32(UpdatingModel))
	losses, skip, err := t.trainable.Step(batch, t.conf.MaxLoss)
	if err != nil {
		return err
	}
	if skip {
		t.skipped++
		klog.Warningf("unstable loss %.3f exceeds %.1f, optimizer step skipped", losses.Total, t.conf.MaxLoss)
		return nil
	}

	t.iterations++
	t.recordLoss(losses.Total)
	if t.OnIteration != nil {
		t.OnIteration(losses.Entropy, losses.Value, t.lastAdvAcc)
	}
	klog.Infof("step %d: total=%.4f policy=%.4f value=%.4f entropy=%.4f material=%.4f threat=%.4f avg=%.4f",
		t.trainable.Steps(), losses.Total, losses.Policy, losses.Value, losses.Entropy, losses.Material, losses.Threat, t.averageLoss())

	if t.iterations%t.conf.SaveEvery == 0 {
		return t.checkpoint()
	}
	return nil
}

// sample draws enough trajectories to cover a batch of transitions, using
// the store's average game length as the sizing estimate.
func (t *Trainer) sample(stats replay.Stats) ([]*game.Trajectory, error) {
	perGame := stats.AverageMoves
	if perGame < 1 {
		perGame = 1
	}
	games := int(float64(t.conf.BatchSize)/perGame) + 1
	if games > stats.TotalGames {
		games = stats.TotalGames
	}
	if t.conf.PriorityReplay {
		return t.store.SamplePrioritized(games, t.conf.PriorityTemperature)
	}
	return t.store.SampleMixed(games, t.conf.RecentRatio)
}

type example struct {
	state     []float32
	legal     []int
	action    int
	ret       float32
	advantage float32
	value     float32
	material  []float32
	threatMap []float32
}

func (t *Trainer) buildBatch(trajs []*game.Trajectory) (pvnet.Batch, error) {
	if err := t.valuer.WeightsFrom(t.trainable.Net()); err != nil {
		return pvnet.Batch{}, err
	}

	var pool []example
	for _, traj := range trajs {
		values, err := t.evaluateValues(traj)
		if err != nil {
			return pvnet.Batch{}, err
		}
		returns, advantages := computeGAE(traj, values, t.conf.Gamma, t.conf.Lambda)
		for i, tr := range traj.Transitions {
			pool = append(pool, example{
				state:     tr.State,
				legal:     tr.Legal,
				action:    tr.Action,
				ret:       returns[i],
				advantage: advantages[i],
				value:     values[i],
				material:  materialTarget(tr.State),
				threatMap: threatTarget(tr.State),
			})
		}
	}
	b := t.conf.BatchSize
	if len(pool) < b {
		return pvnet.Batch{}, replay.UnderflowError{Have: len(pool), Want: b}
	}
	t.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	pool = pool[:b]

	adv := make([]float32, b)
	var signHits int
	for i, ex := range pool {
		adv[i] = ex.advantage
		if (ex.value >= 0) == (ex.ret >= 0) {
			signHits++
		}
	}
	t.lastAdvAcc = float32(signHits) / float32(b)
	normalizeAdvantages(adv)

	boardSize := game.Size * game.Size
	batch := pvnet.Batch{
		Planes:     make([]float32, 0, b*game.EncodedLen),
		Mask:       make([]float32, 0, b*game.ActionSpace),
		Actions:    make([]float32, b*game.ActionSpace),
		Advantages: adv,
		Returns:    make([]float32, b),
		Material:   make([]float32, 0, b*pvnet.MaterialClasses),
		Threat:     make([]float32, 0, b*boardSize),
	}
	for i, ex := range pool {
		batch.Planes = append(batch.Planes, ex.state...)
		batch.Mask = append(batch.Mask, pvnet.LegalMask(ex.legal, game.ActionSpace)...)
		batch.Actions[i*game.ActionSpace+ex.action] = 1
		batch.Returns[i] = ex.ret
		batch.Material = append(batch.Material, ex.material...)
		batch.Threat = append(batch.Threat, ex.threatMap...)
	}
	return batch, nil
}

// evaluateValues runs every state of a trajectory through the value head,
// padding the final chunk up to the valuer's batch size.
func (t *Trainer) evaluateValues(traj *game.Trajectory) ([]float32, error) {
	b := t.valuer.BatchSize()
	n := len(traj.Transitions)
	values := make([]float32, 0, n)
	for start := 0; start < n; start += b {
		planes := make([]float32, b*game.EncodedLen)
		masks := make([]float32, b*game.ActionSpace)
		count := 0
		for i := start; i < n && i < start+b; i++ {
			copy(planes[count*game.EncodedLen:], traj.Transitions[i].State)
			count++
		}
		chunk, err := t.valuer.Values(planes, masks)
		if err != nil {
			return nil, err
		}
		values = append(values, chunk[:count]...)
	}
	return values, nil
}

func (t *Trainer) checkpoint() error {
	t.phase.Store(int32(Checkpointing))
	meta := pvnet.Meta{Steps: t.trainable.Steps()}
	if t.Games != nil {
		meta.Games = t.Games()
	}
	if err := pvnet.Save(t.conf.CheckpointPath, t.trainable.Net(), meta); err != nil {
		return err
	}
	klog.Infof("checkpoint saved: %s (steps=%d games=%d)", t.conf.CheckpointPath, meta.Steps, meta.Games)
	if t.OnCheckpoint != nil {
		t.OnCheckpoint(meta)
	}
	return nil
}

func (t *Trainer) recordLoss(total float32) {
	t.losses[t.lossNext] = total
	t.lossNext = (t.lossNext + 1) % len(t.losses)
	if t.lossNext == 0 {
		t.lossFull = true
	}
}

func (t *Trainer) averageLoss() float32 {
	n := t.lossNext
	if t.lossFull {
		n = len(t.losses)
	}
	if n == 0 {
		return 0
	}
	var sum float32
	for _, l := range t.losses[:n] {
		sum += l
	}
	return sum / float32(n)
}
