// Command evmux runs the evmux control server or sends it commands.
//
//	evmux [-S socket] server
//	evmux [-S socket] cmd [command ...]
//
// With no commands, cmd reads one command per line from standard input.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"evmux/client"
	"evmux/internal/config"
	"evmux/internal/logging"
	"evmux/server"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] server\n       %s [flags] cmd [command ...]\n\nflags:\n", os.Args[0], os.Args[0])
	pflag.PrintDefaults()
}

func main() {
	socket := pflag.StringP("socket", "S", "", "control socket path or tcp://host:port")
	level := pflag.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	notify := pflag.BoolP("notifications", "n", false, "print notifications received by cmd")
	timeout := pflag.DurationP("timeout", "t", 0, "give up on a silent server after this long")
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = usage
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Server.Socket = *socket
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "server":
		err = runServer(cfg, logger)
	case "cmd":
		var opts []client.Option
		opts = append(opts, client.WithLogger(logger), client.WithTimeout(*timeout))
		if *notify {
			opts = append(opts, client.WithNotifications(os.Stderr))
		}
		err = runCommands(cfg.Server.Socket, args[1:], opts)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, client.ErrCommandFailed) {
			logger.Error("evmux failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, logger *logging.Logger) error {
	s, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return err
	}
	return s.Run()
}

func runCommands(socket string, commands []string, opts []client.Option) error {
	if len(commands) == 0 {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				commands = append(commands, line)
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
	}
	return client.Run(socket, commands, os.Stdout, opts...)
}
