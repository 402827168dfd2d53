package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
)

// Config models missionctl.yml.
type Config struct {
	Storage struct {
		Backend string `yaml:"backend"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`
	Events struct {
		BufferSize int    `yaml:"buffer_size"`
		Sink       string `yaml:"sink"`
	} `yaml:"events"`
	Billing struct {
		Tier  string `yaml:"tier"`
		Tiers []Tier `yaml:"tiers"`
	} `yaml:"billing"`
	Roster Roster `yaml:"roster"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// Tier is one billing plan.
type Tier struct {
	ID            string  `yaml:"id" json:"id"`
	Label         string  `yaml:"label" json:"label"`
	MonthlyBudget float64 `yaml:"monthly_budget_eur" json:"monthlyBudgetEur"`
	MaxAIs        int     `yaml:"max_ais" json:"maxAis"`
	DefaultAIs    int     `yaml:"default_ais" json:"defaultAis"`
}

// Roster is the fixed agent list used to seed the agents collection.
type Roster struct {
	Agents []RosterAgent `yaml:"agents"`
}

type RosterAgent struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Emoji string `yaml:"emoji" json:"emoji"`
	Role  string `yaml:"role" json:"role"`
	Focus string `yaml:"focus" json:"focus"`
}

// Has reports whether id (case-insensitive) is on the roster.
func (r Roster) Has(id string) bool {
	id = strings.ToLower(id)
	for _, a := range r.Agents {
		if strings.ToLower(a.ID) == id {
			return true
		}
	}
	return false
}

// TierByID falls back to the first configured tier when id is unknown.
func (c *Config) TierByID(id string) Tier {
	for _, t := range c.Billing.Tiers {
		if t.ID == id {
			return t
		}
	}
	if len(c.Billing.Tiers) > 0 {
		return c.Billing.Tiers[0]
	}
	return Tier{ID: "free", Label: "Free", MonthlyBudget: 2.5, MaxAIs: 2, DefaultAIs: 2}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config.storage.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	switch c.Events.Sink {
	case SinkJSONL, SinkSQLite:
	default:
		return fmt.Errorf("config.events.sink must be %q or %q", SinkJSONL, SinkSQLite)
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("config.events.buffer_size must be >= 0")
	}
	if len(c.Billing.Tiers) == 0 {
		return fmt.Errorf("config.billing.tiers is required")
	}
	seen := map[string]bool{}
	for _, t := range c.Billing.Tiers {
		if t.ID == "" {
			return fmt.Errorf("config.billing.tiers contains empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("billing tier %s defined twice", t.ID)
		}
		seen[t.ID] = true
		if t.MonthlyBudget < 0 {
			return fmt.Errorf("billing tier %s has negative monthly budget", t.ID)
		}
		if t.MaxAIs < 1 {
			return fmt.Errorf("billing tier %s must allow at least one AI", t.ID)
		}
	}
	if c.Billing.Tier != "" && !seen[c.Billing.Tier] {
		return fmt.Errorf("config.billing.tier %s not defined", c.Billing.Tier)
	}
	ids := map[string]bool{}
	for _, a := range c.Roster.Agents {
		if a.ID == "" {
			return fmt.Errorf("config.roster.agents contains empty id")
		}
		key := strings.ToLower(a.ID)
		if ids[key] {
			return fmt.Errorf("roster agent %s defined twice", a.ID)
		}
		ids[key] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionctl.yml")
}

// DataDir resolves storage.data_dir relative to the workspace.
func (c *Config) DataDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	dir := c.Storage.DataDir
	if dir == "" {
		dir = ".missionctl"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the parsed default template.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run mc init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config when the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// take the values from the default template.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadRoster reads a roster file, accepting either a bare agent list or a
// document with a top-level roster key.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, err
	}
	var wrapped struct {
		Roster Roster `yaml:"roster"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Roster.Agents) > 0 {
		return wrapped.Roster, nil
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err == nil && len(r.Agents) > 0 {
		return r, nil
	}
	var list []RosterAgent
	if err := yaml.Unmarshal(data, &list); err != nil {
		return Roster{}, fmt.Errorf("invalid roster yaml: %w", err)
	}
	return Roster{Agents: list}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Events.Sink == "" {
		cfg.Events.Sink = SinkJSONL
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 5000
	}
	if len(cfg.Billing.Tiers) == 0 {
		cfg.Billing.Tiers = defaultTiers()
	}
	if cfg.Billing.Tier == "" {
		cfg.Billing.Tier = cfg.Billing.Tiers[0].ID
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/v0"
	}
}

func defaultTiers() []Tier {
	return []Tier{
		{ID: "free", Label: "Free", MonthlyBudget: 2.5, MaxAIs: 2, DefaultAIs: 2},
		{ID: "pro", Label: "Pro", MonthlyBudget: 12.5, MaxAIs: 7, DefaultAIs: 7},
		{ID: "plus", Label: "Plus", MonthlyBudget: 50, MaxAIs: 12, DefaultAIs: 12},
		{ID: "max", Label: "Max", MonthlyBudget: 80, MaxAIs: 12, DefaultAIs: 12},
	}
}

const defaultTemplate = `storage:
  backend: file
  data_dir: .missionctl

events:
  buffer_size: 5000
  sink: jsonl

billing:
  tier: free
  tiers:
    - id: free
      label: Free
      monthly_budget_eur: 2.5
      max_ais: 2
      default_ais: 2
    - id: pro
      label: Pro
      monthly_budget_eur: 12.5
      max_ais: 7
      default_ais: 7
    - id: plus
      label: Plus
      monthly_budget_eur: 50
      max_ais: 12
      default_ais: 12
    - id: max
      label: Max
      monthly_budget_eur: 80
      max_ais: 12
      default_ais: 12

roster:
  agents:
    - id: main
      name: Atlas
      emoji: "🦞"
      role: Coordinator
      focus: Delegates, reviews, synthesizes
    - id: claude1
      name: Forge
      emoji: "🧠"
      role: Backend
      focus: APIs, data models, correctness
    - id: claude2
      name: Glass
      emoji: "🪟"
      role: Frontend
      focus: UI, components, UX
    - id: claude3
      name: Aegis
      emoji: "🛡️"
      role: Sec/DevOps
      focus: Security, CI/CD, hardening
    - id: tanel
      name: Plan
      emoji: "📌"
      role: PM
      focus: Milestones, acceptance criteria
    - id: gpt4test
      name: Probe
      emoji: "🧾"
      role: QA/Test
      focus: Test cases, repro, sanity checks

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
