package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/moisson/horosafe"
	"github.com/hazyhaar/moisson/registry/internal/browser"
)

// Config holds all moisson configuration.
type Config struct {
	// RegistryURL is the listing page of the certificate registry.
	RegistryURL string `yaml:"registry_url"`

	// RemoteURL connects to an external Chrome instead of launching one.
	RemoteURL string `yaml:"remote_url"`

	// Headful disables headless mode for interactive debugging.
	Headful bool `yaml:"headful"`

	// DownloadDir is where attachments and the manifest land.
	DownloadDir string `yaml:"download_dir"`

	// LedgerPath is the SQLite run-history database.
	LedgerPath string `yaml:"ledger_path"`

	// From/To bound the license start dates to process, inclusive,
	// as YYYY-MM-DD. Empty means unbounded on that side.
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// Label selects which download controls to fetch.
	Label string `yaml:"label"`

	// IDColumn and MinColumns describe the grid's row layout.
	IDColumn   int `yaml:"id_column"`
	MinColumns int `yaml:"min_columns"`

	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Selectors SelectorsConfig `yaml:"selectors"`
}

// TimeoutsConfig bounds each UI phase.
type TimeoutsConfig struct {
	Navigate time.Duration `yaml:"navigate"`
	Grid     time.Duration `yaml:"grid"`
	Search   time.Duration `yaml:"search"`
	Settle   time.Duration `yaml:"settle"`
	Detail   time.Duration `yaml:"detail"`
	Download time.Duration `yaml:"download"`
}

// SelectorsConfig names the registry UI's DOM hooks.
type SelectorsConfig struct {
	Grid        string `yaml:"grid"`
	Row         string `yaml:"row"`
	Cell        string `yaml:"cell"`
	Search      string `yaml:"search"`
	ExportLabel string `yaml:"export_label"`
}

const dateLayout = "2006-01-02"

func (c *Config) defaults() {
	if c.RegistryURL == "" {
		c.RegistryURL = "https://platform.prismabyrspo.org/certificate-registry/certified-growers"
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DownloadDir, "moisson.db")
	}
	if c.Label == "" {
		c.Label = "Audit Report"
	}
	if c.IDColumn == 0 {
		c.IDColumn = 5
	}
	if c.MinColumns <= 0 {
		c.MinColumns = 6
	}
}

// Validate checks the parts of the config that would otherwise fail
// halfway into a run.
func (c *Config) Validate() error {
	if err := horosafe.ValidateURL(c.RegistryURL); err != nil {
		return fmt.Errorf("config: registry_url: %w", err)
	}
	if _, err := c.DateRange(); err != nil {
		return err
	}
	return nil
}

// DateRange parses the From/To window.
func (c *Config) DateRange() (DateRange, error) {
	var r DateRange
	var err error
	if c.From != "" {
		r.From, err = time.Parse(dateLayout, c.From)
		if err != nil {
			return r, fmt.Errorf("config: from: %w", err)
		}
	}
	if c.To != "" {
		r.To, err = time.Parse(dateLayout, c.To)
		if err != nil {
			return r, fmt.Errorf("config: to: %w", err)
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, fmt.Errorf("config: to %s precedes from %s", c.To, c.From)
	}
	return r, nil
}

// browserConfig maps the config onto the browser session's knobs.
func (c *Config) browserConfig() browser.Config {
	return browser.Config{
		RegistryURL: c.RegistryURL,
		RemoteURL:   c.RemoteURL,
		Headful:     c.Headful,
		DownloadDir: c.DownloadDir,
		Timeouts: browser.Timeouts{
			Navigate: c.Timeouts.Navigate,
			Grid:     c.Timeouts.Grid,
			Search:   c.Timeouts.Search,
			Settle:   c.Timeouts.Settle,
			Detail:   c.Timeouts.Detail,
			Download: c.Timeouts.Download,
		},
		Selectors: browser.Selectors{
			Grid:        c.Selectors.Grid,
			Row:         c.Selectors.Row,
			Cell:        c.Selectors.Cell,
			Search:      c.Selectors.Search,
			ExportLabel: c.Selectors.ExportLabel,
		},
	}
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
