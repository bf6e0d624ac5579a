package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/bidiload/errext"
	"github.com/liuxd6825/bidiload/errext/exitcodes"
	"github.com/liuxd6825/bidiload/harness"
	"github.com/liuxd6825/bidiload/simbrowser"
)

const simShutdownTimeout = 5 * time.Second

// cmdSim handles the `bidiload sim` sub-command
type cmdSim struct {
	gs *globalState

	address string
}

func (c *cmdSim) run(_ *cobra.Command, _ []string) error {
	cfg, err := harness.GetConsolidatedConfig(c.gs.fs, c.gs.flags.configFilePath, c.gs.envVars)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	logger, err := newCategoryLogger(c.gs, cfg)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	ln, err := net.Listen("tcp", c.address)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.CannotStartSim)
	}

	sim := simbrowser.New(logger)
	mux := http.NewServeMux()
	mux.Handle("/session", sim)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(c.gs.ctx)
	defer cancel()
	sigC := make(chan os.Signal, 2)
	c.gs.signalNotify(sigC, os.Interrupt, syscall.SIGTERM)
	defer c.gs.signalStop(sigC)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case sig := <-sigC:
			c.gs.logger.WithField("sig", sig).Debug("Stopping the simulated browser")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), simShutdownTimeout)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		sim.Close()
		return err
	})

	fprintf(c.gs.stdOut, "%s listening on ws://%s/session\n", simbrowser.BrowserName, ln.Addr())

	if err := g.Wait(); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.CannotStartSim)
	}
	return nil
}

func getCmdSim(gs *globalState) *cobra.Command {
	c := &cmdSim{gs: gs}

	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve the simulated browser",
		Long: `Serve the simulated browser over WebDriver BiDi.

Every WebSocket connection to /session gets its own browser with a single
tab. Point "bidiload run --url" or any other BiDi client at it.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	simCmd.Flags().StringVarP(&c.address, "address", "a", "localhost:9222", "address to listen on")

	return simCmd
}
