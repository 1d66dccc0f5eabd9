// Command busctl operates a running event bus over its HTTP API.
//
//	busctl [--addr URL] health
//	busctl metrics
//	busctl schemas
//	busctl publish [--tenant T] [--source S] <event-type> [payload-json]
//	busctl replay [--types a,b] [--since YYYY-MM-DD] [--until YYYY-MM-DD] <tenant>
//	busctl dead-letters <tenant>
//	busctl process-dlq <tenant>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

var errUsage = errors.New("usage: busctl [--addr URL] <health|metrics|schemas|publish|replay|dead-letters|process-dlq> [args]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("busctl", flag.ContinueOnError)
	global.SetInterspersed(false)
	addr := global.String("addr", envOr("EVENTBUS_ADDR", "http://localhost:8080"), "event bus base URL")
	timeout := global.Duration("timeout", 30*time.Second, "request timeout")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}

	c := newClient(*addr, *timeout)
	cmd, rest := global.Arg(0), global.Args()[1:]

	var (
		body []byte
		err  error
	)
	switch cmd {
	case "health":
		body, _, err = c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	case "metrics":
		body, _, err = c.do(ctx, http.MethodGet, "/api/v1/metrics", nil)
	case "schemas":
		body, _, err = c.do(ctx, http.MethodGet, "/api/v1/schemas", nil)
	case "publish":
		body, err = publish(ctx, c, rest)
	case "replay":
		body, err = replay(ctx, c, rest)
	case "dead-letters":
		body, err = withTenant(rest, func(tenant string) ([]byte, error) {
			b, _, err := c.do(ctx, http.MethodGet, tenantPath(tenant, "/dead-letters"), nil)
			return b, err
		})
	case "process-dlq":
		body, err = withTenant(rest, func(tenant string) ([]byte, error) {
			b, _, err := c.do(ctx, http.MethodPost, tenantPath(tenant, "/dead-letters/process"), nil)
			return b, err
		})
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
	if err != nil {
		return err
	}
	return printJSON(out, body)
}

func publish(ctx context.Context, c *client, args []string) ([]byte, error) {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant ID")
	source := fs.String("source", "busctl", "event source")
	priority := fs.String("priority", "", "event priority")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < 1 {
		return nil, errors.New("publish: event type is required")
	}

	payload := map[string]any{}
	if fs.NArg() > 1 {
		if err := json.Unmarshal([]byte(fs.Arg(1)), &payload); err != nil {
			return nil, fmt.Errorf("publish: payload must be a JSON object: %w", err)
		}
	}

	// Duplicates answer 200, validation failures 422 with a reason.
	body, _, err := c.do(ctx, http.MethodPost, "/api/v1/events", map[string]any{
		"event_type": fs.Arg(0),
		"payload":    payload,
		"tenant_id":  *tenant,
		"source":     *source,
		"priority":   *priority,
	})
	return body, err
}

func replay(ctx context.Context, c *client, args []string) ([]byte, error) {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	types := fs.StringSlice("types", nil, "event types to replay")
	since := fs.String("since", "", "first day, YYYY-MM-DD")
	until := fs.String("until", "", "last day, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return withTenant(fs.Args(), func(tenant string) ([]byte, error) {
		b, _, err := c.do(ctx, http.MethodPost, tenantPath(tenant, "/replay"), map[string]any{
			"event_types": *types,
			"since":       *since,
			"until":       *until,
		})
		return b, err
	})
}

func withTenant(args []string, fn func(tenant string) ([]byte, error)) ([]byte, error) {
	if len(args) != 1 {
		return nil, errors.New("exactly one tenant ID is required")
	}
	return fn(args[0])
}

func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = w.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
