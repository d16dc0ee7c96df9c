package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix starts the name of every environment variable that Load reads.
const EnvPrefix = "SOFTMMU_"

type envVar struct {
	name  string
	apply func(c *Config, value string) error
}

func uintVar(name string, field func(c *Config) *uint64) envVar {
	return envVar{name, func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return err
		}

		*field(c) = n

		return nil
	}}
}

func intVar(name string, field func(c *Config) *int) envVar {
	return envVar{name, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}

		*field(c) = n

		return nil
	}}
}

func boolVar(name string, field func(c *Config) *bool) envVar {
	return envVar{name, func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}

		*field(c) = b

		return nil
	}}
}

func stringVar(name string, field func(c *Config) *string) envVar {
	return envVar{name, func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func levelVars(prefix string, field func(c *Config) *LevelConfig) []envVar {
	return []envVar{
		intVar(prefix+"_CAPACITY", func(c *Config) *int {
			return &field(c).Capacity
		}),
		stringVar(prefix+"_POLICY", func(c *Config) *string {
			return &field(c).Policy
		}),
		intVar(prefix+"_SHARDS", func(c *Config) *int {
			return &field(c).NumShards
		}),
	}
}

// envVars lists the variables in the order they are applied. The policy of
// every level is set before the per-level policies.
func envVars() []envVar {
	vars := []envVar{
		stringVar("LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }),
		uintVar("RAM_BASE", func(c *Config) *uint64 { return &c.Memory.RAMBase }),
		uintVar("RAM_SIZE", func(c *Config) *uint64 { return &c.Memory.RAMSize }),
		uintVar("UNIT_SIZE", func(c *Config) *uint64 { return &c.Memory.UnitSize }),
		{"TLB_POLICY", func(c *Config, v string) error {
			c.TLB.L1.Policy = v
			c.TLB.L2.Policy = v
			c.TLB.L3.Policy = v

			return nil
		}},
	}

	vars = append(vars, levelVars("TLB_L1", func(c *Config) *LevelConfig { return &c.TLB.L1 })...)
	vars = append(vars, levelVars("TLB_L2", func(c *Config) *LevelConfig { return &c.TLB.L2 })...)
	vars = append(vars, levelVars("TLB_L3", func(c *Config) *LevelConfig { return &c.TLB.L3 })...)

	vars = append(vars,
		intVar("PREFETCH_BUDGET", func(c *Config) *int { return &c.TLB.PrefetchBudget }),
		intVar("PROMOTION_THRESHOLD", func(c *Config) *int { return &c.TLB.PromotionThreshold }),
		intVar("ADAPTATION_STEP", func(c *Config) *int { return &c.TLB.AdaptationStep }),
		uintVar("RANDOM_SEED", func(c *Config) *uint64 { return &c.TLB.RandomSeed }),
		boolVar("PREDICTION", func(c *Config) *bool { return &c.Predictor.Enabled }),
		intVar("PREDICTOR_CANDIDATES", func(c *Config) *int { return &c.Predictor.MaxCandidates }),
		intVar("PREDICTOR_ROWS", func(c *Config) *int { return &c.Predictor.MaxRows }),
		boolVar("STRICT_ALIGNMENT", func(c *Config) *bool { return &c.MMU.StrictAlignment }),
		intVar("MONITOR_PORT", func(c *Config) *int { return &c.Monitor.Port }),
		stringVar("RECORD_PATH", func(c *Config) *string { return &c.Recording.Path }),
	)

	return vars
}

// EnvNames lists the environment variables that override the configuration.
func EnvNames() []string {
	vars := envVars()

	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, EnvPrefix+v.name)
	}

	return names
}

// ApplyEnv overrides the settings that have a variable set in the
// environment that lookup reads.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	for _, v := range envVars() {
		name := EnvPrefix + v.name

		value, ok := lookup(name)
		if !ok {
			continue
		}

		err := v.apply(c, strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}

		files = []string{".env"}
	}

	err := godotenv.Load(files...)
	if err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}

	return nil
}
