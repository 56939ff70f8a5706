// Command mcloud-balancerctl is a minimal CLI for the reverse-proxy
// publish/unpublish surface, grounded on ficloud's "balancer set/remove"
// subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modera/mfcloud/transport/testclient"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "set":
		err = runSet(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "mcloud-balancerctl: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcloud-balancerctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: mcloud-balancerctl <command> [args]

Commands:
  set <domain> <app> <service>   Publish a service under a domain
  remove <domain>                Remove a domain's published destination

Connects to mcloudd at MCLOUD_ADDR (default ws://127.0.0.1:7080/ws).
`)
}

func addr() string {
	if v := os.Getenv("MCLOUD_ADDR"); v != "" {
		return v
	}
	return "ws://127.0.0.1:7080/ws"
}

func runSet(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <domain> <app> <service>")
	}
	domain, app, service := args[0], args[1], args[2]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := testclient.Dial(ctx, addr(), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ticketID, err := c.StartTask(ctx, "publish", []any{app, domain, service}, nil)
	if err != nil {
		return err
	}
	fmt.Printf("ticket %d: publishing %s.%s as %s\n", ticketID, service, app, domain)
	return nil
}

func runRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove <domain>")
	}
	domain := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := testclient.Dial(ctx, addr(), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ticketID, err := c.StartTask(ctx, "unpublish", []any{domain}, nil)
	if err != nil {
		return err
	}
	fmt.Printf("ticket %d: unpublishing %s\n", ticketID, domain)
	return nil
}
