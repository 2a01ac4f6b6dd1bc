// Package command implements the command-execution channel: a fixed
// catalog of workers, the process runner, and the per-connection session
// that streams a worker's output back in order.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/coldvault/broker/internal/model"
)

// DefaultScripts maps every known command identifier to its worker script.
var DefaultScripts = map[string]string{
	"create_key":       "1create_key.py",
	"get_wallet":       "2get_wallet.py",
	"sign_hash":        "3test_sign_hash.py",
	"broadcast_tx":     "4broadcast_tx.py",
	"create_key_btc":   "1create_keybtc.py",
	"get_wallet_btc":   "2get_walletbtc.py",
	"sign_hash_btc":    "3test_sign_hashbtc.py",
	"broadcast_tx_btc": "4broadcast_txbtc.py",
}

// WorkerSpec describes how to launch the worker behind a command identifier.
type WorkerSpec struct {
	ID      string   `json:"id"`
	Script  string   `json:"script"`
	Program string   `json:"-"`
	Args    []string `json:"-"`
	Dir     string   `json:"-"`
	Env     []string `json:"-"`

	// ScriptPath is checked before spawning; empty when the worker is a
	// plain program.
	ScriptPath string `json:"-"`
}

// Override replaces how a known command is launched. Loaded from YAML.
type Override struct {
	Script  string   `yaml:"script"`
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

type overrideFile struct {
	Workers map[string]Override `yaml:"workers"`
}

// CatalogConfig holds the settings used to resolve worker specs.
type CatalogConfig struct {
	ScriptsDir      string
	Interpreter     string
	InterpreterArgs []string
}

// Catalog is the fixed set of command identifiers the broker accepts.
type Catalog struct {
	config    CatalogConfig
	overrides map[string]Override
}

// NewCatalog creates a catalog of the default workers.
func NewCatalog(config CatalogConfig) *Catalog {
	if config.Interpreter == "" {
		config.Interpreter = "python3"
	}
	if config.InterpreterArgs == nil {
		// Unbuffered output so lines stream as they are printed
		config.InterpreterArgs = []string{"-u"}
	}
	return &Catalog{
		config:    config,
		overrides: make(map[string]Override),
	}
}

// LoadOverrides reads a YAML file of per-command overrides. Overrides can
// only target identifiers already in the catalog.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workers file: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse workers file: %w", err)
	}

	for id, o := range file.Workers {
		if err := c.SetOverride(id, o); err != nil {
			return err
		}
	}
	return nil
}

// SetOverride replaces the launch settings of a known command.
func (c *Catalog) SetOverride(id string, o Override) error {
	if _, ok := DefaultScripts[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownCommand, id)
	}
	c.overrides[id] = o
	return nil
}

// Lookup resolves the worker for a command identifier.
func (c *Catalog) Lookup(id string) (WorkerSpec, bool) {
	script, ok := DefaultScripts[id]
	if !ok {
		return WorkerSpec{}, false
	}

	o := c.overrides[id]
	if o.Script != "" {
		script = o.Script
	}

	spec := WorkerSpec{
		ID:     id,
		Script: script,
		Dir:    c.config.ScriptsDir,
		Env:    o.Env,
	}

	if o.Program != "" {
		spec.Program = o.Program
		spec.Args = slices.Clone(o.Args)
		return spec, true
	}

	spec.ScriptPath = script
	if !filepath.IsAbs(script) {
		spec.ScriptPath = filepath.Join(c.config.ScriptsDir, script)
	}
	spec.Program = c.config.Interpreter
	spec.Args = append(slices.Clone(c.config.InterpreterArgs), spec.ScriptPath)
	spec.Args = append(spec.Args, o.Args...)
	return spec, true
}

// List returns every known worker, sorted by identifier.
func (c *Catalog) List() []WorkerSpec {
	ids := make([]string, 0, len(DefaultScripts))
	for id := range DefaultScripts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	specs := make([]WorkerSpec, 0, len(ids))
	for _, id := range ids {
		spec, _ := c.Lookup(id)
		specs = append(specs, spec)
	}
	return specs
}
