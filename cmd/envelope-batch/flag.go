package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

type mainFlags struct {
	method      string
	encoding    string
	bodies      bodiesFlag
	headers     bodiesFlag
	schema      envelope.Schema
	destination string
	download    bool
	pretty      bool
	urls        []string
}

// bodiesFlag collects repeated "key=value" flags.
type bodiesFlag map[string]string

func (b bodiesFlag) String() string {
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (b bodiesFlag) Set(value string) error {
	k, v, found := strings.Cut(value, "=")
	if !found || k == "" {
		return fmt.Errorf(`expected "key=value", found "%s"`, value)
	}
	b[k] = v
	return nil
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(fs.Output(), "Sends requests to the URLs as one batch and prints the parsed envelopes as JSON.")
	fmt.Fprintf(fs.Output(), "Reads environment variables with the %s_ prefix, for example %s_BATCH_CONCURRENCY.\n", config.EnvPrefix, config.EnvPrefix)
	fmt.Fprintf(fs.Output(), "Usage of %s: [flags] url...\n", fs.Name())
	fs.PrintDefaults()
}

// newFlagSet creates a flagSet that populates the mainFlags.
func (m *mainFlags) newFlagSet(programName string) *flag.FlagSet {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.Usage = func() { usage(fs) }

	defaults := envelope.DefaultSchema()
	m.bodies = make(bodiesFlag)
	m.headers = make(bodiesFlag)
	fs.StringVar(&m.method, "method", "GET", "HTTP method of the requests.")
	fs.StringVar(&m.encoding, "encoding", "url", `Encoding of the bodies: "url", "json" or "plist".`)
	fs.Var(m.bodies, "body", `Request body "key=value", can be repeated.`)
	fs.Var(m.headers, "header", `Request header "name=value", can be repeated.`)
	fs.StringVar(&m.schema.CodeField, "code-field", defaults.CodeField, "Name of the envelope code field.")
	fs.StringVar(&m.schema.MessageField, "msg-field", defaults.MessageField, "Name of the envelope message field.")
	fs.StringVar(&m.schema.PayloadField, "payload-field", defaults.PayloadField, "Name of the envelope payload field.")
	fs.IntVar(&m.schema.SuccessCode, "success-code", defaults.SuccessCode, "Envelope code of a successful response.")
	fs.BoolVar(&m.download, "download", false, "Download the URLs instead of parsing envelopes.")
	fs.StringVar(&m.destination, "dst", "", `Download destination: "temp", a directory or a bucket URL, for example "file:///tmp/downloads".`)
	fs.BoolVar(&m.pretty, "pretty", false, "Indent the JSON output.")
	return fs
}

// parse parses the arguments, without the program name.
func (m *mainFlags) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	m.urls = fs.Args()
	if len(m.urls) == 0 {
		return fmt.Errorf("at least one url is required")
	}
	if m.destination != "" && !m.download {
		return fmt.Errorf(`flag "-dst" requires "-download"`)
	}
	if _, err := request.ParseMethod(m.method); err != nil {
		return err
	}
	if _, err := m.requestEncoding(); err != nil {
		return err
	}
	return nil
}

func (m *mainFlags) requestEncoding() (request.Encoding, error) {
	switch strings.ToLower(m.encoding) {
	case "url":
		return request.EncodingURL, nil
	case "json":
		return request.EncodingJSON, nil
	case "plist":
		return request.EncodingPlist, nil
	default:
		return 0, fmt.Errorf(`encoding "%s" is not supported`, m.encoding)
	}
}

// definitions creates a request definition for each URL.
func (m *mainFlags) definitions(dst request.Destination) []request.Definition {
	method, _ := request.ParseMethod(m.method)
	encoding, _ := m.requestEncoding()

	bodies := make(map[string]any, len(m.bodies))
	for k, v := range m.bodies {
		bodies[k] = v
	}

	out := make([]request.Definition, len(m.urls))
	for i, url := range m.urls {
		def := request.New(url).WithMethod(method).WithEncoding(encoding).WithBodies(bodies).WithHeaders(m.headers)
		if m.download {
			def = def.WithDownload(request.Download{Destination: dst})
		}
		out[i] = def
	}
	return out
}
