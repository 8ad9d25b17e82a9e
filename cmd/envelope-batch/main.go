// Command envelope-batch sends requests as one batch and prints the parsed envelopes.
//
//	envelope-batch -method POST -body userName=demo https://shop.example.com/item/v1/User/login https://shop.example.com/item/v1/Shop/getInfo
//
// Downloads are sent in parallel, each to the destination:
//
//	envelope-batch -download -dst /tmp/images https://cdn.example.com/a.png https://cdn.example.com/b.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	jsoniter "github.com/json-iterator/go"

	"github.com/keboola/go-envelope-client/pkg/batch"
	"github.com/keboola/go-envelope-client/pkg/client"
	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/destination"
	"github.com/keboola/go-envelope-client/pkg/dispatch"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// errFailed means that at least one request failed, the output has been printed.
var errFailed = errors.New("some requests failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flags := new(mainFlags)
	fs := flags.newFlagSet(os.Args[0])
	if err := flags.parse(fs, os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Validate has already checked the level and the reachability mode
	level, _ := cfg.SlogLevel()
	checker, _ := cfg.ReachabilityChecker()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d := dispatch.New(
		client.NewFromConfig(cfg, logger),
		dispatch.WithConfig(cfg),
		dispatch.WithLogger(logger),
		dispatch.WithReachability(checker),
	)

	if err := run(ctx, d, flags, os.Stdout); err != nil {
		if !errors.Is(err, errFailed) {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

// entry is one line of the output.
type entry struct {
	URL     string `json:"url"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"msg,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func run(ctx context.Context, d *dispatch.Dispatcher, flags *mainFlags, stdout io.Writer) error {
	dst, closeDst, err := destination.Parse(ctx, flags.destination)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDst(); err != nil {
			d.Logger().Warn("cannot close destination", "error", err)
		}
	}()

	schema := flags.schema.WithDefaults()
	defs := flags.definitions(dst)

	var results envelope.Results
	if flags.download {
		results = downloadAll(ctx, d, schema, defs)
	} else {
		results = batch.Do(ctx, d, schema, defs...)
	}

	entries := make([]entry, len(results))
	for i, result := range results {
		entries[i] = toEntry(flags.urls[i], result)
	}

	encoder := json.NewEncoder(stdout)
	if flags.pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("cannot encode output: %w", err)
	}

	if results.OKCount() != len(results) {
		return errFailed
	}
	return nil
}

// downloadAll starts all downloads, the results are in the order of the definitions.
func downloadAll(ctx context.Context, d *dispatch.Dispatcher, schema envelope.Schema, defs []request.Definition) envelope.Results {
	ops := make([]*dispatch.Operation, len(defs))
	for i, def := range defs {
		ops[i] = d.Send(ctx, def)
	}
	results := make(envelope.Results, len(ops))
	for i, op := range ops {
		results[i] = op.Result(schema)
	}
	return results
}

func toEntry(url string, result envelope.Result) entry {
	out := entry{URL: url, Code: result.Code, Message: result.Message, Payload: result.Payload}
	switch {
	case result.Err == nil:
		out.Status = "ok"
	case envelope.IsTransport(result.Err):
		out.Status = "transport"
	case envelope.IsParse(result.Err):
		out.Status = "parse"
	case envelope.IsBusiness(result.Err):
		out.Status = "business"
	default:
		out.Status = "error"
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	return out
}
