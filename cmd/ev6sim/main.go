/*
 * EV6 - Composition root.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Command ev6sim wires one privileged/memory core per configured CPU:
// shared guest memory, TLB shards, the PAL vector table, the IPI
// manager, the memory-barrier coordinator, and the LL/SC reservation
// manager are constructed once; each CPU gets its own cpustate.State,
// mbox.MBox, and pal.Service bound to those shared services. Decoding
// and scheduling instructions onto this core is a separate, out-of-
// scope pipeline driver; this binary only stands the core up and
// serves the console.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"go.uber.org/zap"

	config "github.com/rcornwell/ev6/config/configparser"
	"github.com/rcornwell/ev6/emu/console"
	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/ipi"
	"github.com/rcornwell/ev6/emu/mbox"
	"github.com/rcornwell/ev6/emu/membarrier"
	"github.com/rcornwell/ev6/emu/memory"
	"github.com/rcornwell/ev6/emu/pal"
	"github.com/rcornwell/ev6/emu/reservation"
	"github.com/rcornwell/ev6/emu/tlb"
	logger "github.com/rcornwell/ev6/util/logger"
)

// cpuCore bundles the per-CPU pieces the composition root hands off to
// a (separately driven) instruction pipeline.
type cpuCore struct {
	State *cpustate.State
	MBox  *mbox.MBox
	PAL   *pal.Service
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optCPUs := getopt.IntLong("cpus", 'n', 0, "Number of CPUs (overrides config file)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*optConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading configuration:", err)
		os.Exit(1)
	}
	if *optCPUs > 0 {
		cfg.NumCPUs = *optCPUs
	}
	if *optLogFile != "" {
		cfg.LogFile = *optLogFile
	}

	var logFile *os.File
	if cfg.LogFile != "" {
		logFile, err = os.Create(cfg.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "creating log file:", err)
			os.Exit(1)
		}
		defer logFile.Close()
	} else {
		logFile = os.Stdout
	}

	log := logger.NewHandler(logFile, cfg.LogLevel, cfg.Debug)
	defer log.Sync()

	log.Info("ev6sim starting",
		zap.Int("cpus", cfg.NumCPUs),
		zap.Int("memory_bytes", cfg.MemoryBytes),
		zap.Uint64("pal_base", cfg.PALBase),
	)

	mem := memory.New(cfg.MemoryBytes)
	tlbMgr := tlb.New(cfg.NumCPUs)
	resv := reservation.New(cfg.NumCPUs)
	barrier := membarrier.New()
	ipiMgr := ipi.New(cfg.NumCPUs)
	astRouter := ipi.NewRouter()
	vectors := pal.NewVectorTable()
	pal.DefaultVectorOffsets(vectors)
	vectors.BindPALBase(cfg.PALBase)
	env := pal.NewEnvStore()
	for k, v := range cfg.EnvVars {
		env.Set(k, v)
	}

	con := console.New()

	activeCPUs := make([]int, cfg.NumCPUs)
	cores := make([]*cpuCore, cfg.NumCPUs)
	for i := 0; i < cfg.NumCPUs; i++ {
		activeCPUs[i] = i
		state := cpustate.New(i)
		state.PALBase = cfg.PALBase
		dispatch := fault.New()
		cores[i] = &cpuCore{
			State: state,
			MBox:  mbox.New(i, mem, tlbMgr, resv),
			PAL:   pal.New(i, state, mem, tlbMgr, resv, barrier, ipiMgr, astRouter, vectors, env, con, dispatch, activeCPUs),
		}
	}
	log.Info("CPU cores constructed", zap.Int("count", len(cores)))

	ln, err := net.Listen("tcp", cfg.ConsoleListen)
	if err != nil {
		log.Error("console listener failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("console listening", zap.String("addr", cfg.ConsoleListen))

	go acceptConsole(ln, con, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ln.Close()
	con.Detach()
}

func acceptConsole(ln net.Listener, con *console.Console, log *logger.LogHandler) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		log.Info("console connected", zap.String("remote", c.RemoteAddr().String()))
		con.Attach(c)
	}
}
