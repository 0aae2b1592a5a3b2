package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hdds/internal/config"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

const usage = `usage: hdds-cli [-config file] <command> [flags]

commands:
  enqueue   submit commands for a datanode
  nodes     list node records known to the store
  confdoc   write the configuration documentation as XML
`

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatalf("%v", err)
		}
	}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "enqueue":
		enqueue(cfg, args)
	case "nodes":
		nodes(cfg, args)
	case "confdoc":
		if err := config.WriteDocs(os.Stdout); err != nil {
			fatalf("%v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func openStore(cfg *config.Config) store.Store {
	if cfg.Store.Backend == store.BackendMemory || cfg.Store.Backend == "" {
		fatalf("the memory store is private to the scm process; configure etcd or leveldb")
	}
	st, err := store.Open(cfg.Store, zap.NewNop())
	if err != nil {
		fatalf("open store: %v", err)
	}
	return st
}

func enqueue(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	node := fs.String("node", "", "Target datanode id")
	typ := fs.String("type", "", "Command type, e.g. closeContainer")
	count := fs.Int("n", 1, "Number of commands to submit")
	var kv argList
	fs.Var(&kv, "arg", "Command argument key=value (repeatable)")
	_ = fs.Parse(args)

	if *node == "" || *typ == "" {
		fs.Usage()
		os.Exit(2)
	}
	cmdType := model.CommandType(*typ)
	if !cmdType.Valid() {
		fatalf("unknown command type %q", *typ)
	}

	// 1. store shared with the scm
	st := openStore(cfg)
	defer st.Close()

	// 2. submit concurrently
	var wg sync.WaitGroup
	// at most 50 submissions in flight
	sem := make(chan struct{}, 50)
	var mu sync.Mutex
	failed := 0

	start := time.Now()
	for i := 0; i < *count; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			cmd := &model.Command{
				ID:        uuid.NewString(),
				NodeID:    *node,
				Type:      cmdType,
				Args:      kv.values(),
				CreatedAt: time.Now(),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.SubmitCommand(ctx, cmd); err != nil {
				fmt.Fprintf(os.Stderr, "submit %s: %v\n", cmd.ID, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			if *count == 1 {
				fmt.Printf("submitted %s %s for %s\n", cmd.Type, cmd.ID, cmd.NodeID)
			}
		}()
	}
	wg.Wait()

	// 3. summary
	if *count > 1 {
		fmt.Printf("submitted %d/%d commands for %s in %v\n", *count-failed, *count, *node, time.Since(start))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func nodes(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	state := fs.String("state", "", "Only show nodes in this state")
	_ = fs.Parse(args)

	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := st.ListNodes(ctx)
	if err != nil {
		fatalf("list nodes: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOST\tADDRESS\tSTATE\tLAYOUT\tLAST HEARTBEAT")
	for _, rec := range recs {
		if *state != "" && !strings.EqualFold(string(rec.State), *state) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Identity.ID, rec.Identity.HostName, rec.Identity.Address, rec.State, rec.Layout,
			rec.LastHeartbeat.Format(time.RFC3339))
	}
	_ = w.Flush()
}

// argList collects repeated -arg key=value flags.
type argList []string

func (a *argList) String() string { return strings.Join(*a, ",") }

func (a *argList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*a = append(*a, v)
	return nil
}

func (a argList) values() map[string]string {
	if len(a) == 0 {
		return nil
	}
	m := make(map[string]string, len(a))
	for _, kv := range a {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "hdds-cli: "+format+"\n", args...)
	os.Exit(1)
}
