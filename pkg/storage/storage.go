// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"gopkg.in/yaml.v3"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	FootageDir string `yaml:"footageDir"`
	CacheDir   string `yaml:"cacheDir"`

	// Sync engine thresholds in milliseconds.
	HardSyncThresholdMs int `yaml:"hardSyncThresholdMs"`
	SoftSyncThresholdMs int `yaml:"softSyncThresholdMs"`

	// Per-handle timeout for segment loads and duration probes.
	LoadTimeoutSec int `yaml:"loadTimeoutSec"`

	HomeDir   string `yaml:"homeDir"`
	ConfigDir string
}

// Defaults.
const (
	defaultHardSyncThresholdMs = 200
	defaultSoftSyncThresholdMs = 50
	defaultLoadTimeoutSec      = 10
)

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.FootageDir == "" {
		env.FootageDir = filepath.Join(env.HomeDir, "footage")
	}
	if env.CacheDir == "" {
		env.CacheDir = filepath.Join(env.HomeDir, "cache")
	}
	if env.HardSyncThresholdMs == 0 {
		env.HardSyncThresholdMs = defaultHardSyncThresholdMs
	}
	if env.SoftSyncThresholdMs == 0 {
		env.SoftSyncThresholdMs = defaultSoftSyncThresholdMs
	}
	if env.LoadTimeoutSec == 0 {
		env.LoadTimeoutSec = defaultLoadTimeoutSec
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.FootageDir) {
		return nil, fmt.Errorf("footageDir '%v': %w", env.FootageDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.CacheDir) {
		return nil, fmt.Errorf("cacheDir '%v': %w", env.CacheDir, ErrPathNotAbsolute)
	}

	return &env, nil
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.CacheDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create cache directory: %v: %w", env.CacheDir, err)
	}
	return nil
}

// HardSyncThreshold in seconds.
func (env ConfigEnv) HardSyncThreshold() float64 {
	return float64(env.HardSyncThresholdMs) / 1000
}

// SoftSyncThreshold in seconds.
func (env ConfigEnv) SoftSyncThreshold() float64 {
	return float64(env.SoftSyncThresholdMs) / 1000
}

// LoadTimeout per-handle segment load timeout.
func (env ConfigEnv) LoadTimeout() time.Duration {
	return time.Duration(env.LoadTimeoutSec) * time.Second
}

// Disk calculates and caches usage of the footage volume.
type Disk struct {
	path      string
	usageFunc func(string) (*disk.UsageStat, error)

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

// NewDisk returns new Disk.
func NewDisk(footageDir string) *Disk {
	return &Disk{
		path:      footageDir,
		usageFunc: disk.Usage,
	}
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64
	Percent   int
	Free      int64
	Formatted string
}

// UsageCached returns cached value and its age.
func (d *Disk) UsageCached() (DiskUsage, time.Duration) {
	d.cacheLock.Lock()
	defer d.cacheLock.Unlock()

	return d.cache, time.Since(d.lastUpdate)
}

// Usage returns cached value if within maxAge.
// Will update and return new value if the cached value is too old.
func (d *Disk) Usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	// Still outdated.
	d.cacheLock.Unlock()

	updatedUsage, err := d.calculateUsage()
	if err != nil {
		return DiskUsage{}, err
	}

	d.cacheLock.Lock()
	d.cache = updatedUsage
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updatedUsage, nil
}

func (d *Disk) calculateUsage() (DiskUsage, error) {
	stat, err := d.usageFunc(d.path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage: %v: %w", d.path, err)
	}

	return DiskUsage{
		Used:      int64(stat.Used),
		Percent:   int(stat.UsedPercent),
		Free:      int64(stat.Free),
		Formatted: formatDiskUsage(float64(stat.Used)),
	}, nil
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func dirExist(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return true
}

// ConfigGeneral stores mutable player preferences and path.
type ConfigGeneral struct {
	Config map[string]string

	path string
	mu   sync.Mutex
}

// NewConfigGeneral return new general configuration.
func NewConfigGeneral(configDir string) (*ConfigGeneral, error) {
	general := ConfigGeneral{
		Config: map[string]string{},
		path:   filepath.Join(configDir, "general.json"),
	}

	if !dirExist(general.path) {
		if err := generateGeneralConfig(general.path); err != nil {
			return nil, fmt.Errorf("generate general.json: %w", err)
		}
	}

	file, err := os.ReadFile(general.path)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(file, &general.Config)
	if err != nil {
		return nil, err
	}

	return &general, nil
}

func generateGeneralConfig(path string) error {
	config := map[string]string{
		"layout":       "front,back",
		"playbackRate": "1",
	}
	c, _ := json.MarshalIndent(config, "", "    ")

	return os.WriteFile(path, c, 0o600)
}

// Get returns general config.
func (general *ConfigGeneral) Get() map[string]string {
	defer general.mu.Unlock()
	general.mu.Lock()
	return general.Config
}

// Set sets config and saves file.
func (general *ConfigGeneral) Set(newConfig map[string]string) error {
	general.mu.Lock()

	config, _ := json.MarshalIndent(newConfig, "", "    ")

	if err := os.WriteFile(general.path, config, 0o600); err != nil {
		general.mu.Unlock()
		return err
	}

	general.Config = newConfig

	general.mu.Unlock()
	return nil
}

// Layout returns the configured camera layout.
func (general *ConfigGeneral) Layout() []string {
	defer general.mu.Unlock()
	general.mu.Lock()

	layout := general.Config["layout"]
	if layout == "" {
		return nil
	}

	var cams []string
	for _, cam := range strings.Split(layout, ",") {
		if cam = strings.TrimSpace(cam); cam != "" {
			cams = append(cams, cam)
		}
	}
	return cams
}

// PlaybackRate returns the configured rate, or 1 if unset or invalid.
func (general *ConfigGeneral) PlaybackRate() float64 {
	defer general.mu.Unlock()
	general.mu.Lock()

	rate, err := strconv.ParseFloat(general.Config["playbackRate"], 64)
	if err != nil || rate <= 0 {
		return 1
	}
	return rate
}
