// SPDX-License-Identifier: AGPL-3.0-only

// mls-chat is the chat binary: it either hosts a hub or joins one as a
// chat participant.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/joculatrix/mls-chat/client"
	"github.com/joculatrix/mls-chat/core/log"
	"github.com/joculatrix/mls-chat/server"
	"github.com/joculatrix/mls-chat/server/config"
	"github.com/joculatrix/mls-chat/view"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mls-chat",
		Short: "End to end protected group chat",
		Long: `mls-chat is a group chat whose messages are protected by a group key
agreement protocol.  One participant hosts the hub; everybody else joins
it.  The hub only moves opaque frames between participants and never
sees plaintext or key material.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newHostCommand())
	cmd.AddCommand(newJoinCommand())
	return cmd
}

func newHostCommand() *cobra.Command {
	var (
		configFile     string
		port           uint16
		size           int
		metricsAddress string
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a chat hub on this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.LoadFile(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
				}
			} else {
				cfg = &config.Config{
					Server: &config.Server{
						Address:        net.JoinHostPort("", strconv.Itoa(int(port))),
						MaxConnections: size,
						MetricsAddress: metricsAddress,
					},
				}
				if err = cfg.FixupAndValidate(); err != nil {
					return err
				}
			}
			return runHost(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "", "hub configuration file")
	cmd.Flags().Uint16VarP(&port, "port", "p", 34778, "network port to host on")
	cmd.Flags().IntVarP(&size, "size", "s", 32, "number of concurrent connections allowed")
	cmd.Flags().StringVar(&metricsAddress, "metrics", "", "optional address:port to serve Prometheus metrics on")
	return cmd
}

func runHost(cfg *config.Config) error {
	s, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start hub: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.Halt()
	}()

	s.Wait()
	return nil
}

func newJoinCommand() *cobra.Command {
	var (
		configFile string
		target     string
		port       uint16
		uid        string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Connect to an existing chat hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *client.Config
			var err error
			if configFile != "" {
				cfg, err = client.LoadFile(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
				}
			} else {
				cfg = &client.Config{
					Server: net.JoinHostPort(target, strconv.Itoa(int(port))),
					UserID: uid,
				}
				if err = cfg.FixupAndValidate(); err != nil {
					return err
				}
			}
			return runJoin(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "", "client configuration file")
	cmd.Flags().StringVarP(&target, "target", "t", "127.0.0.1", "IP address to connect to")
	cmd.Flags().Uint16VarP(&port, "port", "p", 34778, "network port to join on")
	cmd.Flags().StringVarP(&uid, "id", "i", "", "user id to identify with")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runJoin(cfg *client.Config) error {
	// Chat rendering owns stdout; logs go to a file or nowhere.
	if cfg.Logging.File == "" {
		cfg.Logging.Disable = true
	}
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}

	window := view.NewWindow(logBackend)
	controller, err := client.NewController(cfg, window, logBackend)
	if err != nil {
		return fmt.Errorf("unable to initialize controller: %v", err)
	}
	return controller.Run()
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
