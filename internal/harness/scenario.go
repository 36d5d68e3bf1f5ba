package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/edgesync/internal/conflict"
	"github.com/roach88/edgesync/internal/record"
)

// Scenario is a scripted session against a fresh engine and in-memory
// authority. Steps run in order; assertions are evaluated afterwards.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Config overrides engine settings.
	Config ConfigOverrides `yaml:"config,omitempty"`

	// Seed writes server values before the first step.
	Seed []SeedEntity `yaml:"seed,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ConfigOverrides are the engine settings a scenario may change. The
// offline mode is always manual so passes only run from sync steps.
type ConfigOverrides struct {
	ConflictResolutionStrategy string            `yaml:"conflict_resolution_strategy,omitempty"`
	ConflictStrategies         map[string]string `yaml:"conflict_strategies,omitempty"`
	MaxRetries                 int               `yaml:"max_retries,omitempty"`
	MaxQueueSize               int               `yaml:"max_queue_size,omitempty"`
	BatchSize                  int               `yaml:"batch_size,omitempty"`
	PriorityLevels             int               `yaml:"priority_levels,omitempty"`
	CacheStrategy              string            `yaml:"cache_strategy,omitempty"`
}

// SeedEntity is a server value written as if another device made it.
type SeedEntity struct {
	EntityType string         `yaml:"entity_type"`
	EntityID   string         `yaml:"entity_id"`
	Device     string         `yaml:"device,omitempty"`
	Data       map[string]any `yaml:"data"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Register *RegisterStep `yaml:"register,omitempty"`
	Sync     *SyncStep     `yaml:"sync,omitempty"`
	Network  string        `yaml:"network,omitempty"`
	FailNext []string      `yaml:"fail_next,omitempty"`
	Resolve  *ResolveStep  `yaml:"resolve,omitempty"`
	Cleanup  *CleanupStep  `yaml:"cleanup,omitempty"`
	Fetch    *FetchStep    `yaml:"fetch,omitempty"`

	// Advance moves the scenario clock forward.
	Advance time.Duration `yaml:"advance,omitempty"`
}

// RegisterStep registers a local change.
type RegisterStep struct {
	EntityType  string         `yaml:"entity_type"`
	EntityID    string         `yaml:"entity_id"`
	Change      string         `yaml:"change"`
	Data        map[string]any `yaml:"data,omitempty"`
	Priority    *int           `yaml:"priority,omitempty"`
	BaseVersion *int64         `yaml:"base_version,omitempty"`

	// ExpectError is the error code the registration must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// SyncStep runs one pass and optionally checks its result.
type SyncStep struct {
	Expect *SyncExpect `yaml:"expect,omitempty"`
}

// SyncExpect lists result fields to check; unset fields are not checked.
type SyncExpect struct {
	Success           *bool  `yaml:"success,omitempty"`
	Reason            string `yaml:"reason,omitempty"`
	Processed         *int   `yaml:"processed,omitempty"`
	Succeeded         *int   `yaml:"succeeded,omitempty"`
	Failed            *int   `yaml:"failed,omitempty"`
	ConflictsDetected *int   `yaml:"conflicts_detected,omitempty"`
	ConflictsResolved *int   `yaml:"conflicts_resolved,omitempty"`
}

// ResolveStep settles a parked conflict.
type ResolveStep struct {
	Conflict    string `yaml:"conflict"`
	Winner      string `yaml:"winner"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CleanupStep removes completed records older than MaxAge.
type CleanupStep struct {
	MaxAge time.Duration `yaml:"max_age"`
	Expect *int          `yaml:"expect,omitempty"`
}

// FetchStep reads an entity through the engine's cache strategy.
type FetchStep struct {
	EntityType string         `yaml:"entity_type"`
	EntityID   string         `yaml:"entity_id"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	Absent     bool           `yaml:"absent,omitempty"`
}

// Network states a step may switch to.
const (
	NetworkOnline  = "online"
	NetworkLimited = "limited"
	NetworkOffline = "offline"
)

// action names the step's action, or "" when none or several are set.
func (s Step) action() string {
	var names []string
	if s.Register != nil {
		names = append(names, "register")
	}
	if s.Sync != nil {
		names = append(names, "sync")
	}
	if s.Network != "" {
		names = append(names, "network")
	}
	if len(s.FailNext) > 0 {
		names = append(names, "fail_next")
	}
	if s.Resolve != nil {
		names = append(names, "resolve")
	}
	if s.Cleanup != nil {
		names = append(names, "cleanup")
	}
	if s.Fetch != nil {
		names = append(names, "fetch")
	}
	if s.Advance != 0 {
		names = append(names, "advance")
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if st := s.Config.ConflictResolutionStrategy; st != "" {
		if _, err := conflict.ParseStrategy(st); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	for i, seed := range s.Seed {
		if seed.EntityType == "" || seed.EntityID == "" {
			return fmt.Errorf("seed[%d]: entity_type and entity_id are required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.action() {
	case "":
		return fmt.Errorf("exactly one action is required")
	case "register":
		r := step.Register
		if r.EntityType == "" || r.EntityID == "" {
			return fmt.Errorf("register: entity_type and entity_id are required")
		}
		if _, err := record.ParseChangeType(r.Change); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	case "network":
		switch step.Network {
		case NetworkOnline, NetworkLimited, NetworkOffline:
		default:
			return fmt.Errorf("network: unknown state %q", step.Network)
		}
	case "fail_next":
		for _, code := range step.FailNext {
			switch record.ErrorCode(code) {
			case record.CodeNetwork, record.CodeValidation:
			default:
				return fmt.Errorf("fail_next: unsupported error code %q", code)
			}
		}
	case "resolve":
		if step.Resolve.Conflict == "" {
			return fmt.Errorf("resolve: conflict is required")
		}
		if _, err := record.ParseResolution(step.Resolve.Winner); err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
	case "cleanup":
		if step.Cleanup.MaxAge < 0 {
			return fmt.Errorf("cleanup: max_age must be non-negative")
		}
	case "fetch":
		if step.Fetch.EntityType == "" || step.Fetch.EntityID == "" {
			return fmt.Errorf("fetch: entity_type and entity_id are required")
		}
	case "advance":
		if step.Advance < 0 {
			return fmt.Errorf("advance: duration must be positive")
		}
	}
	return nil
}
