package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// --- CONFIGURATION ---
const (
	StartHTTPPort = 8000        // Node 0 = 8000, Node 1 = 8001...
	StartPeerPort = 9000        // Node 0 = 9000, Node 1 = 9001...
	BootstrapHost = "127.0.0.1" // Node 0 is the bootstrap node
	ProjectRoot   = "../../"    // Path to the main.go file from here
	SimDir        = "sim_data"
)

var cmds []*exec.Cmd

func main() {
	nodeCount := flag.Int("nodes", 20, "how many nodes to launch")
	logLevel := flag.String("log-level", "info", "log level passed to every node")
	replicate := flag.Bool("replicate", false, "enable chunk replication on every node")
	flag.Parse()

	// Absolute path to main.go so the launcher runs from anywhere
	absRoot, _ := filepath.Abs(ProjectRoot)
	mainGoPath := filepath.Join(absRoot, "main.go")
	fmt.Printf("[Launcher] Target main.go: %s\n", mainGoPath)

	// Clean up previous run
	os.RemoveAll(SimDir)

	// Ctrl+C stops all nodes
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\n[Launcher] Stopping all nodes...")
		for _, cmd := range cmds {
			if cmd.Process != nil {
				cmd.Process.Signal(syscall.SIGTERM)
			}
		}
		time.Sleep(time.Second)
		os.Exit(0)
	}()

	fmt.Println("[Launcher] Starting bootstrap node...")
	startNode(0, mainGoPath, *logLevel, *replicate)

	// Wait for the bootstrap node to start up
	time.Sleep(2 * time.Second)

	for i := 1; i < *nodeCount; i++ {
		startNode(i, mainGoPath, *logLevel, *replicate)
		time.Sleep(500 * time.Millisecond) // Stagger start
	}

	fmt.Printf("\n[Launcher] Network is running with %d nodes.\n", *nodeCount)
	fmt.Printf("Bootstrap node API: http://localhost:%d/status\n", StartHTTPPort)
	fmt.Printf("Check '%s/node_N/node.log' for output.\n", SimDir)
	fmt.Println("Press Ctrl+C to stop.")

	select {}
}

func startNode(id int, mainGoPath, logLevel string, replicate bool) {
	httpPort := StartHTTPPort + id
	peerPort := StartPeerPort + id

	// Each node gets its own data directory (key, chunks, metadata)
	nodeDir := filepath.Join(SimDir, fmt.Sprintf("node_%d", id))
	if err := os.MkdirAll(nodeDir, 0755); err != nil {
		panic(err)
	}
	absNodeDir, _ := filepath.Abs(nodeDir)

	// go run main.go -http Y -data D [-replicate] <port> [host bootstrapPort]
	args := []string{
		"run",
		mainGoPath,
		"-http", strconv.Itoa(httpPort),
		"-data", filepath.Join(absNodeDir, "data"),
		"-log-level", logLevel,
	}
	if replicate {
		args = append(args, "-replicate")
	}
	args = append(args, strconv.Itoa(peerPort))
	if id > 0 {
		args = append(args, BootstrapHost, strconv.Itoa(StartPeerPort))
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = nodeDir

	logFile, _ := os.Create(filepath.Join(nodeDir, "node.log"))
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		panic(err)
	}

	cmds = append(cmds, cmd)
	fmt.Printf(" -> Node %d running (HTTP :%d / peer :%d)\n", id, httpPort, peerPort)
}
