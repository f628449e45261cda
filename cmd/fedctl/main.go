package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// fedctl is a thin admin client for a running node. Every subcommand maps to
// one HTTP endpoint; output is the server's JSON, pretty-printed.

const usage = `usage: fedctl [-addr http://127.0.0.1:9090] <command> [args]

commands:
  status                     node status and peer summary
  peers [trust]              list peers, optionally filtered by trust level
  add-peer <endpoint>        fetch a manifest and register the peer
  verify <server-id>         run the challenge round trip against a peer
  block <server-id>          block a peer
  unblock <server-id>        unblock a peer (trust resets to unknown)
  sync <server-id>           pull new memories from a peer
  preview <server-id>        dry-run a sync without writing anything
  export [category]          export local memories as a signed bundle
  watch                      stream federation events until interrupted
`

func main() {
	addr := flag.String("addr", envOr("FEDCTL_ADDR", "http://127.0.0.1:9090"), "node base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	base := strings.TrimRight(*addr, "/")
	var err error

	switch args[0] {
	case "status":
		err = get(base + "/status")
	case "peers":
		target := base + "/peers"
		if len(args) > 1 {
			target += "?trust=" + url.QueryEscape(args[1])
		}
		err = get(target)
	case "add-peer":
		err = withArg(args, "endpoint", func(endpoint string) error {
			return post(base+"/peers", map[string]string{"endpoint": endpoint})
		})
	case "verify":
		err = withArg(args, "server-id", func(id string) error {
			return post(base+"/peers/"+id+"/verify", nil)
		})
	case "block":
		err = withArg(args, "server-id", func(id string) error {
			return post(base+"/peers/"+id+"/block", nil)
		})
	case "unblock":
		err = withArg(args, "server-id", func(id string) error {
			return post(base+"/peers/"+id+"/unblock", nil)
		})
	case "sync":
		err = withArg(args, "server-id", func(id string) error {
			return post(base+"/memories/sync/"+id, nil)
		})
	case "preview":
		err = withArg(args, "server-id", func(id string) error {
			return post(base+"/memories/sync/"+id+"/preview", map[string]any{"filters": map[string]any{}})
		})
	case "export":
		filters := map[string]any{}
		if len(args) > 1 {
			filters["category"] = args[1]
		}
		err = post(base+"/memories/export", map[string]any{"filters": filters})
	case "watch":
		err = watch(base)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "fedctl:", err)
		os.Exit(1)
	}
}

func withArg(args []string, name string, fn func(string) error) error {
	if len(args) < 2 {
		return fmt.Errorf("%s: %s required", args[0], name)
	}
	return fn(args[1])
}

func get(target string) error {
	resp, err := httpClient().Get(target)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(target string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(target, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return nil
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(os.Stdout)
	return err
}

// watch subscribes to the node's event stream and prints one line per event.
func watch(base string) error {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		conn.Close()
	}()

	for {
		var event struct {
			Type     string    `json:"type"`
			ServerID string    `json:"server_id"`
			Detail   string    `json:"detail"`
			At       time.Time `json:"at"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			return nil
		}
		line := event.At.Format(time.RFC3339) + "  " + event.Type
		if event.ServerID != "" {
			line += "  " + event.ServerID
		}
		if event.Detail != "" {
			line += "  " + event.Detail
		}
		fmt.Println(line)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
