// vksyncctl inspects sessions: daemon health, configuration and the local
// message log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/matheus3301/vksync/internal/config"
	"github.com/matheus3301/vksync/internal/daemon"
	"github.com/matheus3301/vksync/internal/session"
	"github.com/matheus3301/vksync/internal/store"
)

type options struct {
	session string
	config  string
	json    bool
	limit   int
	force   bool
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("vksyncctl", pflag.ContinueOnError)
	flags.StringVarP(&opts.session, "session", "s", "", "session name (overrides config default)")
	flags.StringVarP(&opts.config, "config", "c", "", "config file (default ~/.vksync/config.toml)")
	flags.BoolVar(&opts.json, "json", false, "output in JSON format")
	flags.IntVarP(&opts.limit, "limit", "n", 20, "maximum search results")
	flags.BoolVar(&opts.force, "force", false, "overwrite an existing config (config init)")
	flags.Usage = printUsage
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if opts.config == "" {
		opts.config = session.ConfigPath()
	}

	args := flags.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(opts)
	case "sessions":
		err = cmdSessions(opts)
	case "config":
		if len(args) < 2 {
			err = errors.New("usage: vksyncctl config <init|show>")
			break
		}
		err = cmdConfig(opts, args[1])
	case "search":
		if len(args) < 2 {
			err = errors.New("usage: vksyncctl search <text>")
			break
		}
		err = cmdSearch(opts, strings.Join(args[1:], " "))
	default:
		printUsage()
		err = fmt.Errorf("unknown command: %s", args[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: vksyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show daemon health and connection state")
	fmt.Fprintln(os.Stderr, "  sessions         List known sessions")
	fmt.Fprintln(os.Stderr, "  config init      Write a default config file")
	fmt.Fprintln(os.Stderr, "  config show      Print the effective config")
	fmt.Fprintln(os.Stderr, "  search <text>    Search the local message log")
}

func resolveSession(opts options) (string, error) {
	name := session.Resolve(opts.session)
	return name, session.ValidateName(name)
}

// serviceStatus is one health check result.
type serviceStatus struct {
	Service string
	State   string
	Resp    *healthpb.HealthCheckResponse
}

// probe checks every health service of the daemon behind socketPath.
func probe(ctx context.Context, socketPath string) ([]serviceStatus, error) {
	cc, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer func() { _ = cc.Close() }()

	client := healthpb.NewHealthClient(cc)
	var out []serviceStatus
	for _, svc := range []string{"", daemon.ServiceSession, daemon.ServiceRoster} {
		var md metadata.MD
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc}, grpc.Header(&md))
		if err != nil {
			return nil, err
		}
		st := serviceStatus{Service: svc, Resp: resp}
		if v := md.Get(daemon.StateHeader); len(v) > 0 {
			st.State = v[0]
		}
		out = append(out, st)
	}
	return out, nil
}

func cmdStatus(opts options) error {
	name, err := resolveSession(opts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	statuses, err := probe(ctx, session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot reach daemon for session %q: %w", name, err)
	}

	if opts.json {
		services := make(map[string]json.RawMessage, len(statuses))
		for _, s := range statuses {
			raw, err := protojson.Marshal(s.Resp)
			if err != nil {
				return err
			}
			key := s.Service
			if key == "" {
				key = "overall"
			}
			services[key] = raw
		}
		return outputJSON(map[string]any{
			"session":  name,
			"state":    statuses[0].State,
			"services": services,
		})
	}

	fmt.Printf("Session: %s\n", name)
	fmt.Printf("State:   %s\n", statuses[0].State)
	for _, s := range statuses[1:] {
		fmt.Printf("%-16s %s\n", s.Service, s.Resp.GetStatus())
	}
	return nil
}

func cmdSessions(opts options) error {
	names, err := session.List()
	if err != nil {
		return err
	}
	type row struct {
		Name    string `json:"name"`
		Running bool   `json:"running"`
		State   string `json:"state,omitempty"`
	}
	rows := make([]row, 0, len(names))
	for _, n := range names {
		r := row{Name: n}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if st, err := probe(ctx, session.SocketPath(n)); err == nil {
			r.Running = true
			r.State = st[0].State
		}
		cancel()
		rows = append(rows, r)
	}

	if opts.json {
		return outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, r := range rows {
		state := "stopped"
		if r.Running {
			state = "running, " + r.State
		}
		fmt.Printf("%-20s %s (%s)\n", r.Name, session.Dir(r.Name), state)
	}
	return nil
}

func cmdConfig(opts options, sub string) error {
	switch sub {
	case "init":
		if _, err := os.Stat(opts.config); err == nil && !opts.force {
			return fmt.Errorf("%s exists; use --force to overwrite", opts.config)
		}
		if err := config.Save(opts.config, config.Default()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", opts.config)
		return nil
	case "show":
		cfg, err := config.Load(opts.config)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "# %s not found, showing defaults\n", opts.config)
			cfg = config.Default()
		} else if err != nil {
			return err
		}
		if cfg.Account.AccessToken != "" {
			cfg.Account.AccessToken = "<redacted>"
		}
		if opts.json {
			return outputJSON(cfg)
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	default:
		return fmt.Errorf("unknown config subcommand: %s", sub)
	}
}

func cmdSearch(opts options, query string) error {
	name, err := resolveSession(opts)
	if err != nil {
		return err
	}
	db, err := store.OpenReadOnly(session.DBPath(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	msgs, err := db.SearchMessages(query, nil, opts.limit)
	if err != nil {
		return err
	}
	if opts.json {
		return outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range msgs {
		ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-14s %-8s %s\n", ts, m.Peer, m.Kind, oneLine(m.Body))
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
