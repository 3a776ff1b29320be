package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/api"
	"github.com/kutluhann/decen-dht/config"
	"github.com/kutluhann/decen-dht/node"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <port> [bootstrapHost bootstrapPort]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	flag.Usage = usage
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory (default data_<port>)")
	flag.IntVar(&cfg.HTTPPort, "http", cfg.HTTPPort, "HTTP API port, 0 disables the API")
	flag.StringVar(&cfg.AdvertiseHost, "host", cfg.AdvertiseHost, "address advertised to peers")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.ReplicateChunks, "replicate", cfg.ReplicateChunks, "push chunks to peers that accept a store")
	flag.Parse()

	if err := parseArgs(cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}
	cfg.ConfigureLogging()

	n, err := node.New(cfg)
	if err != nil {
		logrus.Fatalf("FATAL: %v", err)
	}
	defer n.Close()

	go func() {
		if err := n.Start(); err != nil {
			logrus.Fatalf("[PeerServer] %v", err)
		}
	}()
	logrus.Infof("Node %s listening on %s", n.ID(), n.Self().Addr())

	var httpServer *api.HTTPServer
	if cfg.HTTPPort > 0 {
		httpServer = api.NewHTTPServer(n, cfg.HTTPPort)
		go func() {
			if err := httpServer.Start(); err != nil {
				logrus.Fatalf("HTTP server failed: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HasBootstrap() {
		if err := n.Bootstrap(ctx, cfg.BootstrapHost, cfg.BootstrapPort); err != nil {
			logrus.Errorf("[BOOTSTRAP] %v", err)
		}
	} else {
		logrus.Info("--> Running as the first node. Waiting for connections...")
	}

	runCLI(ctx, n)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}
	logrus.Info("Shutting down")
}

func parseArgs(cfg *config.Config, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return errors.New("expected <port> or <port> <bootstrapHost> <bootstrapPort>")
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q", args[0])
	}
	cfg.Port = port

	if len(args) == 3 {
		cfg.BootstrapHost = args[1]
		cfg.BootstrapPort, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid bootstrap port %q", args[2])
		}
	}
	return nil
}

// runCLI reads commands from stdin until exit, end of input followed by a
// signal, or a signal.
func runCLI(ctx context.Context, n *node.Node) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("commands: store <filePath> | get <fileId> <outputPath> | routes | files | exit")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// No terminal attached (launcher); keep serving.
				<-ctx.Done()
				return
			}
			if !handleCommand(ctx, n, strings.Fields(line)) {
				return
			}
		}
	}
}

func handleCommand(ctx context.Context, n *node.Node, fields []string) bool {
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "store":
		if len(fields) != 2 {
			fmt.Println("usage: store <filePath>")
			return true
		}
		fileID, err := n.StoreFile(ctx, fields[1])
		if err != nil {
			fmt.Printf("store failed: %v\n", err)
			return true
		}
		fmt.Printf("stored %s\nfile id: %s\n", fields[1], fileID)

	case "get":
		if len(fields) != 3 {
			fmt.Println("usage: get <fileId> <outputPath>")
			return true
		}
		if err := n.FetchFile(ctx, fields[1], fields[2]); err != nil {
			fmt.Printf("get failed: %v\n", err)
			return true
		}
		fmt.Printf("saved to %s\n", fields[2])

	case "routes":
		fmt.Print(n.Routes())

	case "files":
		files, err := n.Files()
		if err != nil {
			fmt.Printf("files failed: %v\n", err)
			return true
		}
		for _, f := range files {
			fmt.Printf("%s  chunks=%d owned=%t\n", f.FileID, f.Chunks, f.Owned)
		}

	case "exit", "quit":
		return false

	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return true
}
