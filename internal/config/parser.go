package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"adaptsched/internal/logging"
	"adaptsched/internal/task"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*Config, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, err
	}

	// Set KeyName for each task based on the YAML key
	for keyName, tc := range config.Tasks {
		tc.KeyName = keyName
		config.Tasks[keyName] = tc
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *Config) error {
	s := &config.Scheduler
	if s.Name == "" {
		return fmt.Errorf("scheduler name is required")
	}
	if s.Cores <= 0 {
		return fmt.Errorf("cores must be greater than 0")
	}
	if s.CoresPerSocket > 0 && s.Cores%s.CoresPerSocket != 0 {
		return fmt.Errorf("cores (%d) must be a multiple of cores_per_socket (%d)", s.Cores, s.CoresPerSocket)
	}
	if s.MaxT <= 0 {
		return fmt.Errorf("max_t must be greater than 0")
	}
	if s.UtilizationCeiling < 0 || s.UtilizationCeiling > 1 {
		return fmt.Errorf("utilization_ceiling must be within (0, 1]")
	}
	if s.TrustFloor < 0 || s.TrustFloor > 1 {
		return fmt.Errorf("trust_floor must be within [0, 1]")
	}

	for name, g := range config.Groups {
		if g.QuotaMS > 0 && g.PeriodMS <= 0 {
			return fmt.Errorf("group %s: quota_ms requires period_ms", name)
		}
		if g.PeriodMS > 0 && g.QuotaMS > g.PeriodMS {
			return fmt.Errorf("group %s: quota_ms exceeds period_ms", name)
		}
	}

	for name, tc := range config.Tasks {
		cls, ok := tc.ParsedClass()
		if !ok {
			return fmt.Errorf("task %s: unknown class %q", name, tc.Class)
		}
		if tc.Group != "" {
			if _, ok := config.Groups[tc.Group]; !ok {
				return fmt.Errorf("task %s: unknown group %q", name, tc.Group)
			}
		}
		if tc.Weight < 0 {
			return fmt.Errorf("task %s: weight must not be negative", name)
		}
		if tc.BurstMS <= 0 {
			return fmt.Errorf("task %s: burst_ms must be greater than 0", name)
		}
		if cls == task.ClassRealTime {
			if tc.DeadlineMS <= 0 || tc.BudgetMS <= 0 || tc.PeriodMS <= 0 {
				return fmt.Errorf("task %s: realtime class requires deadline_ms, budget_ms and period_ms", name)
			}
			if tc.BudgetMS > tc.PeriodMS {
				return fmt.Errorf("task %s: budget_ms exceeds period_ms", name)
			}
		}
	}

	return nil
}
