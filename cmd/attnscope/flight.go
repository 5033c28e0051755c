package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/flight"
	"github.com/23skdu/attnscope/internal/logger"
)

func NewFlightServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flight-serve",
		Short: "Serve Arrow artifacts from a directory over Arrow Flight",
		Args:  cobra.NoArgs,
		RunE:  flightServeHandler,
	}
	cmd.Flags().String("dir", "", "Artifact directory (default: the data dir)")
	cmd.Flags().String("listen", net.JoinHostPort("0.0.0.0", strconv.Itoa(flight.DefaultPort)), "Address to listen on")
	return cmd
}

func flightServeHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		if dir, err = artifact.DataDir(cfg.DataDir); err != nil {
			return err
		}
	}
	listen, _ := cmd.Flags().GetString("listen")

	srv := flight.NewServer(flight.NewArtifactServer(dir))
	if err := srv.Init(listen); err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}

	log := logger.Log.With("flight")
	go func() {
		<-cmd.Context().Done()
		log.Info("Shutting down Flight server...")
		srv.Shutdown()
	}()

	log.Info("Serving artifacts over Flight", "addr", srv.Addr().String(), "dir", dir)
	return srv.Serve()
}
