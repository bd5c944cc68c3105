// Copyright 2025 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// miracast-ctl is the Miracast source control daemon: it supervises
// wpa_supplicant on the P2P interface, forms Wi-Fi Display sessions with
// discovered peers and exposes the whole thing on the system bus.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl"
	"github.com/livekit/miracast-ctl/control"
	"github.com/livekit/miracast-ctl/eventloop"
	"github.com/livekit/miracast-ctl/service"
)

// displayPriority keeps session setup snappy even under load.
const displayPriority = -8

func main() {
	cfg := miracast.DefaultConfig()

	fs := flag.NewFlagSet("miracast-ctl", flag.ContinueOnError)
	fs.BoolVar(&cfg.Debug, "debug", false, "raise log severity to debug")
	fs.BoolVar(&cfg.Debug, "d", false, "raise log severity to debug (shorthand)")
	fs.BoolVar(&cfg.PrintVersion, "version", false, "print the version and exit")
	fs.BoolVar(&cfg.PrintVersion, "v", false, "print the version and exit (shorthand)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if cfg.PrintVersion {
		fmt.Printf("%d.%d\n", miracast.VersionMajor, miracast.VersionMinor)
		os.Exit(0)
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	logger.InitFromConfig(&logger.Config{Level: level}, "miracast-ctl")
	log := logger.GetLogger()

	// The supplicant and DHCP daemons are our children; reap whatever they
	// leave behind.
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		log.Warnw("failed to become a subreaper of our children", err)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, displayPriority); err != nil {
		log.Warnw("failed to raise process priority", err)
	}

	loop := eventloop.New(log)

	ctrl := control.NewController(log, loop)
	svc := service.NewService(log, loop, cfg, ctrl)
	ctrl.SetService(svc)

	if err := ctrl.Start(); err != nil {
		log.Errorw("failed to start control surface", err)
		os.Exit(1)
	}

	// The first signal shuts down cleanly with a short grace period; a
	// second one quits the loop right away.
	shuttingDown := false
	onSignal := func() {
		if shuttingDown {
			loop.Quit()
			return
		}
		shuttingDown = true
		log.Infow("shutting down")
		svc.Shutdown()
		loop.AfterFunc(cfg.ShutdownGrace, loop.Quit)
	}
	loop.AddSignal(unix.SIGINT, onSignal)
	loop.AddSignal(unix.SIGTERM, onSignal)

	loop.Run()

	ctrl.Stop()
}
