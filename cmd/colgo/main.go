// Command colgo inspects and maintains colgo databases.
//
//	colgo [flags] create <path>
//	colgo [flags] objects <path>
//	colgo [flags] repair <path>
//	colgo [flags] backup <path> <store> <prefix>
//	colgo [flags] restore <store> <prefix> <path>
//	colgo [flags] clear-lock <path>
//
// A store is a local directory, s3://bucket/prefix or
// minio://endpoint/bucket/prefix.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	flag "github.com/spf13/pflag"

	"github.com/hupe1980/colgo"
	"github.com/hupe1980/colgo/config"
)

var (
	configFile = flag.StringP("config", "c", "", "YAML config file")
	logLevel   = flag.String("log-level", "", "override log.level")
	preload    = flag.Bool("preload", false, "materialize every object on open")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: colgo [flags] create|objects|repair|backup|restore|clear-lock args...")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "colgo:", err)
		os.Exit(1)
	}
}

func loadOptions() ([]colgo.Option, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *preload {
		cfg.Storage.Preload = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Options(), nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	opts, err := loadOptions()
	if err != nil {
		return err
	}

	cmd, args := args[0], args[1:]
	need := map[string]int{
		"create": 1, "objects": 1, "repair": 1, "clear-lock": 1,
		"backup": 3, "restore": 3,
	}
	n, ok := need[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", cmd, n, len(args))
	}

	switch cmd {
	case "create":
		db, err := colgo.Create(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		return db.Close()

	case "objects":
		db, err := colgo.Open(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		defer db.Close()
		return listObjects(db, out)

	case "repair":
		db, err := colgo.Open(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		defer db.Close()
		if !db.NeedsRepair() {
			fmt.Fprintln(out, "database is clean")
			return nil
		}
		if err := db.Repair(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "repaired")
		return nil

	case "backup":
		db, err := colgo.Open(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := openStore(ctx, args[1])
		if err != nil {
			return err
		}
		return db.Backup(ctx, store, args[2])

	case "restore":
		store, err := openStore(ctx, args[0])
		if err != nil {
			return err
		}
		db, err := colgo.Restore(ctx, store, args[1], args[2], opts...)
		if err != nil {
			return err
		}
		return db.Close()

	default: // clear-lock
		return colgo.ClearLockFile(args[0])
	}
}

type objectInfo struct {
	ID     colgo.ID `json:"id"`
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Flags  uint32   `json:"flags"`
	Domain colgo.ID `json:"domain,omitempty"`
	Range  colgo.ID `json:"range,omitempty"`
	Size   *int     `json:"size,omitempty"`
}

func listObjects(db *colgo.Database, out io.Writer) error {
	objs, err := db.Objects()
	if err != nil {
		return err
	}

	infos := make([]objectInfo, 0, len(objs))
	for _, obj := range objs {
		h := obj.Header()
		info := objectInfo{
			ID:     obj.ID(),
			Name:   obj.Name(),
			Kind:   h.Kind.String(),
			Flags:  uint32(h.Flags),
			Domain: h.Domain,
			Range:  h.Range,
		}
		if t, ok := obj.(*colgo.Table); ok {
			size := t.Size()
			info.Size = &size
		}
		infos = append(infos, info)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(infos)
}
