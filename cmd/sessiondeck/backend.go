package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck"
	"pkt.systems/sessiondeck/internal/appconfig"
	"pkt.systems/sessiondeck/internal/backendgrpc"
	"pkt.systems/sessiondeck/internal/hoststore"
	"pkt.systems/sessiondeck/internal/sshbackend"
)

func newBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Run the privileged session backend",
	}
	cmd.AddCommand(newBackendServeCmd())
	return cmd
}

func newBackendServeCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve SSH sessions on the backend socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Backend.SocketPath = socketPath
			}
			hosts, err := hoststore.Open(ctx, cfg.Hosts.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = hosts.Close() }()

			server, err := sessiondeck.New(serverConfig(cfg), sessiondeck.ServerDeps{Servers: hosts, Logger: logger})
			if err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Stop(stopCtx)
			}()
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket", "", "override backend.socket_path")
	return cmd
}

func serverConfig(cfg appconfig.Config) sessiondeck.ServerConfig {
	return sessiondeck.ServerConfig{
		Listener: backendgrpc.Config{
			SocketPath:        cfg.Backend.SocketPath,
			KeepaliveInterval: time.Duration(cfg.Backend.KeepaliveIntervalSeconds) * time.Second,
			KeepaliveMisses:   cfg.Backend.KeepaliveMisses,
		},
		SSH: sshbackend.Config{
			KnownHostsPath:        cfg.Backend.KnownHostsPath,
			InsecureIgnoreHostKey: cfg.Backend.InsecureIgnoreHostKey,
			AgentSocket:           cfg.Backend.AgentSocket,
			TermType:              cfg.Backend.TermType,
			KeepAlive:             time.Duration(cfg.Backend.SSHKeepaliveSeconds) * time.Second,
			DialTimeout:           time.Duration(cfg.Backend.DialTimeoutSeconds) * time.Second,
		},
	}
}
