// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trilockbench drives synthetic read/write contention against a
// trilock.Lock and reports a phase-by-phase timing breakdown of the run.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arborstore/trilock"
	"github.com/arborstore/trilock/timing"
)

func main() {
	fs := pflag.NewFlagSet("trilockbench", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "f", "", "path to a YAML workload file")
	registerFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := loadConfig(fs, *cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "trilockbench:", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "trilockbench: zap setup:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func run(cfg config, logger *zap.Logger) error {
	lock := trilock.New()
	if cfg.Shard {
		lock.ShardAlloc()
	}

	metrics := trilock.NewMetrics("trilockbench")
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics); err != nil {
		return err
	}
	lock.SetMetrics(metrics)

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	timer := timing.NewFullTimer("trilockbench")
	timer.Push("warmup")

	var reads, writes, canceled int64
	limiter := rate.NewLimiter(rate.Limit(cfg.ArrivalRate), maxInt(1, int(cfg.ArrivalRate/10)))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	timer.Pop()
	timer.Push("measured")

	var wg sync.WaitGroup
	wg.Add(cfg.Readers + cfg.Writers)

	for i := 0; i < cfg.Readers; i++ {
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				if err := lock.LockRead(ctx, nil); err != nil {
					atomic.AddInt64(&canceled, 1)
					return
				}
				atomic.AddInt64(&reads, 1)
				time.Sleep(time.Duration(rand.Intn(50)) * time.Microsecond)
				lock.UnlockRead()
			}
		}()
	}

	for i := 0; i < cfg.Writers; i++ {
		go func() {
			defer wg.Done()
			tok := trilock.NewToken()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				if err := lock.LockIntent(ctx, nil, tok); err != nil {
					atomic.AddInt64(&canceled, 1)
					return
				}
				if err := lock.LockWrite(ctx, nil, tok); err != nil {
					lock.UnlockIntent(tok)
					atomic.AddInt64(&canceled, 1)
					return
				}
				atomic.AddInt64(&writes, 1)
				time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
				lock.UnlockWrite(tok)
				lock.UnlockIntent(tok)
			}
		}()
	}

	wg.Wait()
	timer.Pop()
	timer.Push("drain")
	if cfg.Shard {
		lock.ShardFree()
	}
	timer.Pop()
	timer.Finish()

	r, inten, w := lock.Counts()
	logger.Info("run complete",
		zap.Int64("reads", atomic.LoadInt64(&reads)),
		zap.Int64("writes", atomic.LoadInt64(&writes)),
		zap.Int64("canceled", atomic.LoadInt64(&canceled)),
		zap.Int("residual_reads", r),
		zap.Int("residual_intents", inten),
		zap.Int("residual_writes", w),
	)

	printer := timing.IntervalPrinter{}
	return printer.Print(os.Stdout, timer.Root())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
