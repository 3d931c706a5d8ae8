package viloria

import (
	"fmt"
	"path/filepath"
	"time"
)

// ConfigurationError reports an invalid hyperparameter or path at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
}

// Config is the validated startup configuration for a Session. Feature
// toggles are immutable after construction.
type Config struct {
	// Optimization hyperparameters.
	LearningRate     float64
	Gamma            float32
	GAELambda        float32
	BatchSize        int
	ValueLossCoef    float32
	EntropyCoef      float32
	AuxLossWeight    float32
	MaxGradNorm      float32
	MaxLossThreshold float32

	// Loop scheduling.
	TrainingInterval time.Duration
	SaveInterval     int // iterations between checkpoints
	MinTrainGames    int // stored games required before the first step

	// Feature toggles.
	UseAdvancedNetwork  bool
	UseCurriculum       bool
	UsePriorityReplay   bool
	PriorityTemperature float32
	RecentRatio         float32 // mixed sampling when priority replay is off

	// Storage.
	ReplayPath     string
	ReplayCapacity int
	CheckpointPath string

	// Self-play production. SelfPlayGames 0 disables the producer.
	SelfPlayGames    int
	SelfPlayInterval time.Duration
	MaxMoves         int
}

// DefaultConfig returns the standard tuning with storage under dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		LearningRate:        1e-4,
		Gamma:               0.99,
		GAELambda:           0.95,
		BatchSize:           32,
		ValueLossCoef:       0.5,
		EntropyCoef:         0.01,
		AuxLossWeight:       0.1,
		MaxGradNorm:         0.5,
		MaxLossThreshold:    10.0,
		TrainingInterval:    60 * time.Second,
		SaveInterval:        10,
		MinTrainGames:       8,
		UseAdvancedNetwork:  false,
		UseCurriculum:       true,
		UsePriorityReplay:   true,
		PriorityTemperature: 1.0,
		RecentRatio:         0.5,
		ReplayPath:          filepath.Join(dataDir, "replay.db"),
		ReplayCapacity:      10000,
		CheckpointPath:      filepath.Join(dataDir, "checkpoint.gob"),
		SelfPlayGames:       4,
		SelfPlayInterval:    30 * time.Second,
		MaxMoves:            200,
	}
}

// Valid reports the first invalid field as a ConfigurationError, or nil.
func (c Config) Valid() error {
	switch {
	case c.LearningRate <= 0:
		return ConfigurationError{"learning_rate", fmt.Sprintf("%v must be positive", c.LearningRate)}
	case c.Gamma <= 0 || c.Gamma > 1:
		return ConfigurationError{"gamma", fmt.Sprintf("%v outside (0, 1]", c.Gamma)}
	case c.GAELambda < 0 || c.GAELambda > 1:
		return ConfigurationError{"gae_lambda", fmt.Sprintf("%v outside [0, 1]", c.GAELambda)}
	case c.BatchSize < 1:
		return ConfigurationError{"batch_size", fmt.Sprintf("%d < 1", c.BatchSize)}
	case c.ValueLossCoef < 0:
		return ConfigurationError{"value_loss_coef", fmt.Sprintf("%v is negative", c.ValueLossCoef)}
	case c.EntropyCoef < 0:
		return ConfigurationError{"entropy_coef", fmt.Sprintf("%v is negative", c.EntropyCoef)}
	case c.AuxLossWeight < 0:
		return ConfigurationError{"aux_loss_weight", fmt.Sprintf("%v is negative", c.AuxLossWeight)}
	case c.MaxGradNorm <= 0:
		return ConfigurationError{"max_grad_norm", fmt.Sprintf("%v must be positive", c.MaxGradNorm)}
	case c.MaxLossThreshold <= 0:
		return ConfigurationError{"max_loss_threshold", fmt.Sprintf("%v must be positive", c.MaxLossThreshold)}
	case c.TrainingInterval <= 0:
		return ConfigurationError{"training_interval", fmt.Sprintf("%v must be positive", c.TrainingInterval)}
	case c.SaveInterval < 1:
		return ConfigurationError{"save_interval", fmt.Sprintf("%d < 1", c.SaveInterval)}
	case c.UsePriorityReplay && c.PriorityTemperature <= 0:
		return ConfigurationError{"priority_temperature", fmt.Sprintf("%v must be positive", c.PriorityTemperature)}
	case c.RecentRatio < 0 || c.RecentRatio > 1:
		return ConfigurationError{"recent_ratio", fmt.Sprintf("%v outside [0, 1]", c.RecentRatio)}
	case c.ReplayPath == "":
		return ConfigurationError{"replay_path", "is empty"}
	case c.CheckpointPath == "":
		return ConfigurationError{"checkpoint_path", "is empty"}
	case c.ReplayCapacity < 1:
		return ConfigurationError{"replay_capacity", fmt.Sprintf("%d < 1", c.ReplayCapacity)}
	case c.SelfPlayGames < 0:
		return ConfigurationError{"self_play_games", fmt.Sprintf("%d is negative", c.SelfPlayGames)}
	case c.SelfPlayGames > 0 && c.SelfPlayInterval <= 0:
		return ConfigurationError{"self_play_interval", fmt.Sprintf("%v must be positive", c.SelfPlayInterval)}
	case c.MaxMoves < 1:
		return ConfigurationError{"max_moves", fmt.Sprintf("%d < 1", c.MaxMoves)}
	}
	return nil
}
