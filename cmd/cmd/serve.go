// Copyright © 2021 Jonathan Whitaker <jonathan@whitaker.io>

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ttg-go/ttg"
	"github.com/ttg-go/ttg/transport"
)

const (
	workerCountKey = "worker-count"
	debugKey       = "debug"
	traceKey       = "trace"
	profileKey     = "profile"
	selfAddrKey    = "self-addr"
	peerAddrsKey   = "peer-addrs"
	gracePeriodKey = "grace-period"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve - starts a ttg runtime based on the config in $HOME/.ttg.yaml",
	Long: `serve - starts a ttg runtime based on the config in $HOME/.ttg.yaml

	The following keys are read from $HOME/.ttg.yaml (or flags/env of the same name):

	worker-count: 0    # scheduler worker count, 0 defaults to one per hardware thread
	debug: false       # reserved key; serve does not read it
	trace: false       # reserved key; serve does not read it
	profile: false     # reserved key; serve does not read it
	self-addr: ""      # this rank's "host:port" for the TCP transport; empty runs single-rank
	peer-addrs: []     # every rank's "host:port", self-addr included, in any order
	grace-period: 10   # seconds to wait for Fence before Finalize runs anyway
	`,
	Run: func(cmd *cobra.Command, args []string) {
		workers := viper.GetInt(workerCountKey)
		gracePeriod := viper.GetInt64(gracePeriodKey)
		if gracePeriod == 0 {
			gracePeriod = 10
		}

		opts := []ttg.Option{ttg.WithWorkers(workers)}

		self := viper.GetString(selfAddrKey)
		peers := viper.GetStringSlice(peerAddrsKey)
		if self != "" && len(peers) > 0 {
			tr, err := transport.Bootstrap(self, peers)
			if err != nil {
				fmt.Printf("error bootstrapping transport [%v]\n", err)
				os.Exit(1)
			}
			opts = append(opts, ttg.WithTransport(tr))
		} else {
			opts = append(opts, ttg.WithTransport(transport.NewLocal()))
		}

		rt := ttg.NewRuntime(opts...)

		// serve wires a Runtime and its Transport from config only; the TT
		// graph itself has no declarative format in this spec, so callers
		// embedding this command are expected to register their TTs and call
		// rt.Initialize with their own seeds before Execute. This skeleton
		// runs whatever graph was registered before Execute was reached.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rt.Execute(ctx)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)
		<-quit

		fenceDone := make(chan error, 1)
		go func() { fenceDone <- rt.Fence() }()

		select {
		case err := <-fenceDone:
			if err != nil {
				fmt.Printf("error fencing runtime [%v]\n", err)
			}
		case <-time.After(time.Duration(gracePeriod) * time.Second):
			fmt.Println("grace period expired before fence completed")
		}

		if err := rt.Finalize(); err != nil {
			fmt.Printf("error finalizing runtime [%v]\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
