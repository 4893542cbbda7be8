// Command h5coro reads datasets and attributes from local or S3 hosted
// HDF5 files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/h5coro/hdf5"
	"github.com/robert-malhotra/h5coro/internal/logging"
	"github.com/robert-malhotra/h5coro/internal/metrics"
)

type flags struct {
	config      string
	identity    string
	region      string
	endpoint    string
	col         int64
	start       int64
	num         int64
	meta        bool
	walk        bool
	stats       bool
	parallel    bool
	output      string
	logLevel    string
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*flags, []string, error) {
	var fl flags
	fs := pflag.NewFlagSet("h5coro", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: h5coro [flags] <file.h5|s3://bucket/key> [path ...]")
		fs.PrintDefaults()
	}
	fs.StringVar(&fl.config, "config", "", "YAML config file")
	fs.StringVar(&fl.identity, "identity", "", "credential identity for s3 URLs")
	fs.StringVar(&fl.region, "region", "", "object storage region")
	fs.StringVar(&fl.endpoint, "endpoint", "", "object storage endpoint")
	fs.Int64Var(&fl.col, "col", -1, "column to read from 2-D datasets, -1 for all")
	fs.Int64Var(&fl.start, "start", 0, "first row")
	fs.Int64Var(&fl.num, "num", -1, "number of rows, -1 for the rest")
	fs.BoolVar(&fl.meta, "meta", false, "print metadata only")
	fs.BoolVar(&fl.walk, "walk", false, "list every object in the file")
	fs.BoolVar(&fl.stats, "stats", false, "print cache statistics when done")
	fs.BoolVar(&fl.parallel, "parallel", false, "read all paths in one parallel batch")
	fs.StringVarP(&fl.output, "output", "o", "yaml", "output format: yaml or text")
	fs.StringVar(&fl.logLevel, "log-level", "", "log level, overrides the config file")
	fs.StringVar(&fl.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return nil, nil, errors.New("missing file URL")
	}
	if fl.output != "yaml" && fl.output != "text" {
		return nil, nil, fmt.Errorf("unknown output format %q", fl.output)
	}
	if !fl.walk && fs.NArg() < 2 {
		return nil, nil, errors.New("no dataset paths given")
	}
	return &fl, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fl, pos, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "h5coro:", err)
		return 2
	}

	if err := hdf5.InitLoggingFromConfig(fl.config, stderr); err != nil {
		fmt.Fprintln(stderr, "h5coro:", err)
		return 2
	}
	defer hdf5.ShutdownLogging()
	if fl.logLevel != "" {
		lvl, err := logging.ParseLevel(fl.logLevel)
		if err != nil {
			fmt.Fprintln(stderr, "h5coro:", err)
			return 2
		}
		logging.SetLevel(lvl)
	}
	log := logging.For("cli")

	if fl.metricsAddr != "" {
		metrics.InitRegistry()
		srv := &http.Server{Addr: fl.metricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "addr", fl.metricsAddr, "err", err)
			}
		}()
		defer srv.Close()
	}

	opts := []hdf5.Option{hdf5.WithConfigFile(fl.config)}
	if fl.identity != "" {
		opts = append(opts, hdf5.WithIdentity(fl.identity))
	}
	if fl.region != "" {
		opts = append(opts, hdf5.WithRegion(fl.region))
	}
	if fl.endpoint != "" {
		opts = append(opts, hdf5.WithEndpoint(fl.endpoint))
	}

	f, err := hdf5.Open(ctx, pos[0], opts...)
	if err != nil {
		log.Error("open failed", "url", pos[0], "kind", hdf5.ErrorKind(err), "err", err)
		return 1
	}
	defer f.Close()

	out := newPrinter(stdout, fl.output)
	code := 0
	switch {
	case fl.walk:
		code = walk(ctx, f, out)
	case fl.parallel:
		code = readBatch(ctx, f, fl, pos[1:], out, log)
	default:
		for _, p := range pos[1:] {
			if c := readOne(ctx, f, fl, p, out, log); c != 0 {
				code = c
			}
		}
	}

	if fl.stats {
		out.print("stats", map[string]any{"url": f.URL(), "cache": f.Stat(), "usage": f.Usage()})
	}
	if err := out.err; err != nil {
		fmt.Fprintln(stderr, "h5coro:", err)
		return 1
	}
	return code
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type record struct {
	Path   string     `yaml:"path"`
	Meta   *hdf5.Meta `yaml:"meta,omitempty"`
	Values []any      `yaml:"values,omitempty"`
	Error  string     `yaml:"error,omitempty"`
	Kind   string     `yaml:"kind,omitempty"`
	Target string     `yaml:"target,omitempty"`
}

func readOne(ctx context.Context, f *hdf5.File, fl *flags, p string, out *printer, log *logging.Logger) int {
	if fl.meta {
		m, err := f.Meta(ctx, p)
		if err != nil {
			return fail(out, log, p, err)
		}
		out.print(p, record{Path: p, Meta: &m})
		return 0
	}
	arr, m, err := f.Read(ctx, p, fl.col, fl.start, fl.num)
	if err != nil {
		return fail(out, log, p, err)
	}
	out.print(p, record{Path: p, Meta: &m, Values: arr.Values()})
	return 0
}

func readBatch(ctx context.Context, f *hdf5.File, fl *flags, paths []string, out *printer, log *logging.Logger) int {
	reqs := make([]hdf5.Request, len(paths))
	for i, p := range paths {
		reqs[i] = hdf5.Request{Path: p, Col: fl.col, StartRow: fl.start, NumRows: fl.num}
	}
	br := f.ReadParallelDetailed(ctx, reqs)
	log.Debug("batch finished", "batch", br.ID, "ok", len(br.Results), "failed", len(br.Errors))

	code := 0
	for _, p := range paths {
		if res, ok := br.Results[p]; ok {
			m := res.Meta
			out.print(p, record{Path: p, Meta: &m, Values: res.Array.Values()})
			continue
		}
		if err, ok := br.Errors[p]; ok {
			code = fail(out, log, p, err)
		}
	}
	return code
}

func walk(ctx context.Context, f *hdf5.File, out *printer) int {
	code := 0
	err := f.Walk(ctx, func(obj hdf5.Object, err error) error {
		rec := record{Path: obj.Path, Kind: obj.Kind, Meta: obj.Meta, Target: obj.Target}
		if err != nil {
			rec.Error = err.Error()
			code = 1
		}
		out.print(obj.Path, rec)
		return nil
	})
	if err != nil {
		out.print("walk", record{Path: "/", Error: err.Error()})
		return 1
	}
	return code
}

func fail(out *printer, log *logging.Logger, p string, err error) int {
	kind := hdf5.ErrorKind(err)
	log.Error("read failed", "path", p, "kind", kind, "err", err)
	out.print(p, record{Path: p, Kind: kind, Error: err.Error()})
	return 1
}

type printer struct {
	w      io.Writer
	format string
	enc    *yaml.Encoder
	err    error
}

func newPrinter(w io.Writer, format string) *printer {
	p := &printer{w: w, format: format}
	if format == "yaml" {
		p.enc = yaml.NewEncoder(w)
		p.enc.SetIndent(2)
	}
	return p
}

func (p *printer) print(label string, v any) {
	if p.err != nil {
		return
	}
	if p.enc != nil {
		p.err = p.enc.Encode(v)
		return
	}
	switch r := v.(type) {
	case record:
		var b strings.Builder
		fmt.Fprintf(&b, "%s", r.Path)
		if r.Kind != "" {
			fmt.Fprintf(&b, " [%s]", r.Kind)
		}
		if r.Meta != nil {
			fmt.Fprintf(&b, " %s %v", r.Meta.DatatypeName, r.Meta.Shape)
		}
		if r.Target != "" {
			fmt.Fprintf(&b, " -> %s", r.Target)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, " error: %s", r.Error)
		}
		if len(r.Values) > 0 {
			fmt.Fprintf(&b, " = %v", r.Values)
		}
		_, p.err = fmt.Fprintln(p.w, b.String())
	default:
		_, p.err = fmt.Fprintf(p.w, "%s: %+v\n", label, v)
	}
}
