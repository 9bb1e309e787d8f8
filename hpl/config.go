// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package hpl

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EmissionEntry one step of the piecewise emission schedule. The entry with
// the greatest StartUnixTime not after the queried timestamp applies.
type EmissionEntry struct {
	StartUnixTime   uint64 `yaml:"startUnixTime"`
	EmissionsPerDay uint64 `yaml:"emissionsPerDay"`
}

// PercentEntry one step of a percent schedule, in hundredths of a percent.
type PercentEntry struct {
	StartUnixTime uint64 `yaml:"startUnixTime"`
	Percent       uint32 `yaml:"percent"`
}

// Config network-level parameters. Testing relaxes temporal checks and must
// be off in release deployments.
type Config struct {
	Testing bool `yaml:"testing"`

	// DelegatorRewardsPercent share of epoch emissions paid to delegators,
	// in hundredths of a percent (10000 = 100%).
	DelegatorRewardsPercent uint32 `yaml:"delegatorRewardsPercent"`

	EmissionSchedule   []EmissionEntry `yaml:"emissionSchedule"`
	HstPercentSchedule []PercentEntry  `yaml:"hstPercentSchedule"`
}

// MainnetConfig returns the built-in mainnet parameter set.
func MainnetConfig() *Config {
	return &Config{
		Testing:                 false,
		DelegatorRewardsPercent: 600, // 6%
		EmissionSchedule: []EmissionEntry{
			{StartUnixTime: 1690930800, EmissionsPerDay: 4_109_589_04109589},
			{StartUnixTime: 1754089200, EmissionsPerDay: 2_054_794_52054794},
		},
		HstPercentSchedule: []PercentEntry{
			{StartUnixTime: 1690930800, Percent: 3200}, // 32%
			{StartUnixTime: 1754089200, Percent: 0},
		},
	}
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if cfg.DelegatorRewardsPercent > 10000 {
		return nil, errors.New("delegatorRewardsPercent exceeds 100%")
	}
	return &cfg, nil
}

// EmissionsAt returns the per-epoch HNT emission in force at ts.
func (c *Config) EmissionsAt(ts uint64) uint64 {
	var emissions uint64
	for _, e := range c.EmissionSchedule {
		if e.StartUnixTime <= ts {
			emissions = e.EmissionsPerDay
		}
	}
	return emissions
}

// HstPercentAt returns the HST pool share in force at ts, in hundredths of a
// percent.
func (c *Config) HstPercentAt(ts uint64) uint32 {
	var percent uint32
	for _, e := range c.HstPercentSchedule {
		if e.StartUnixTime <= ts {
			percent = e.Percent
		}
	}
	return percent
}
