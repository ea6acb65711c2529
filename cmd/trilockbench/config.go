// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// config describes one trilockbench run: how many reader and writer
// goroutines contend for the lock (each writer takes intent, then write),
// how fast they arrive, how long the run lasts,
// and whether the per-CPU reader shard is enabled. A YAML file supplies
// the base configuration; flags override individual fields so a single
// checked-in workload file can be tweaked ad hoc from the command line.
type config struct {
	Readers      int           `yaml:"readers"`
	Writers      int           `yaml:"writers"`
	ArrivalRate  float64       `yaml:"arrival_rate_per_sec"`
	Duration     time.Duration `yaml:"duration"`
	Shard        bool          `yaml:"shard"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

func defaultConfig() config {
	return config{
		Readers:     16,
		Writers:     1,
		ArrivalRate: 500,
		Duration:    5 * time.Second,
		Shard:       false,
		MetricsAddr: "",
	}
}

// loadConfig reads cfgPath (if non-empty) as YAML over the defaults, then
// applies any flags the caller explicitly set on fs, so that
// `trilockbench -f workload.yaml --writers=4` overrides just one field.
func loadConfig(fs *pflag.FlagSet, cfgPath string) (config, error) {
	cfg := defaultConfig()
	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, err
		}
	}

	if fs.Changed("readers") {
		cfg.Readers, _ = fs.GetInt("readers")
	}
	if fs.Changed("writers") {
		cfg.Writers, _ = fs.GetInt("writers")
	}
	if fs.Changed("arrival-rate") {
		cfg.ArrivalRate, _ = fs.GetFloat64("arrival-rate")
	}
	if fs.Changed("duration") {
		cfg.Duration, _ = fs.GetDuration("duration")
	}
	if fs.Changed("shard") {
		cfg.Shard, _ = fs.GetBool("shard")
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = fs.GetString("metrics-addr")
	}
	return cfg, nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.Int("readers", 0, "number of concurrent reader goroutines")
	fs.Int("writers", 0, "number of concurrent writer goroutines")
	fs.Float64("arrival-rate", 0, "combined reader+writer arrivals per second")
	fs.Duration("duration", 0, "measured run duration")
	fs.Bool("shard", false, "enable the per-CPU reader shard")
	fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
}
