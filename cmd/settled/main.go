package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/client"
	"github.com/Mindburn-Labs/helm/settlement/pkg/deploy"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "schemas":
		return runSchemasCmd(stdout, stderr)
	case "addresses":
		return runAddressesCmd(stdout)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "settled %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sSettlement node %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sEscrow anything. Release on proof.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  settled <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "NODE")
	printCommand(w, "serve", "Deploy the protocol and serve the read API (default)")
	printCommand(w, "health", "Check a running node (--addr)")

	printSection(w, "PROTOCOL")
	printCommand(w, "schemas", "List the schemas every node registers")
	printCommand(w, "addresses", "List the deterministic component addresses")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// runSchemasCmd deploys onto a scratch in-memory host and prints what the
// registry holds afterwards.
func runSchemasCmd(stdout, stderr io.Writer) int {
	ctx := context.Background()
	h := substrate.NewHost(substrate.NewMemoryBackend())
	p, err := deploy.New(ctx, h)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "deploy failed: %v\n", err)
		return 1
	}
	defer func() { _ = p.Close(ctx) }()

	schemas, err := substrate.Query(ctx, h, func(tx *substrate.Tx) ([]registry.Schema, error) {
		return p.Registry.Schemas(tx)
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "list schemas: %v\n", err)
		return 1
	}
	type row struct {
		UID     registry.SchemaUID `json:"uid"`
		Name    string             `json:"name"`
		Version string             `json:"version"`
		Owner   substrate.Address  `json:"owner"`
	}
	out := make([]row, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, row{UID: s.UID, Name: s.Name, Version: s.Version, Owner: s.Owner})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func runAddressesCmd(stdout io.Writer) int {
	for _, name := range deploy.Names() {
		_, _ = fmt.Fprintf(stdout, "%-28s %s\n", name, deploy.Addr(name))
	}
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "http://localhost:8080", "Base URL of the node")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	c := client.New(*addr, client.WithTimeout(5*time.Second))
	if err := c.Health(context.Background()); err != nil {
		_, _ = fmt.Fprintf(stderr, "%sHealth check failed:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
