package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	"quote-board-go/config"
	"quote-board-go/gateway"
	"quote-board-go/internal/container"
	"quote-board-go/quote"
	"quote-board-go/sim"
)

func main() {
	app := cli.NewApp()
	app.Name = "quoteboard"
	app.Usage = "Scrapes exchange-house quotes and serves them as a live board"
	app.Version = "1.0.0"

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the refresh engine and the web board",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "config, c",
					Usage:  "config file path",
					Value:  "configs/config.yaml",
					EnvVar: "QB_CONFIG",
				},
			},
			Action: serve,
		},
		{
			Name:  "extract",
			Usage: "run the quote pipeline once over a saved page or a live URL and print the result",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "config file path (built-in defaults when empty)", EnvVar: "QB_CONFIG"},
				cli.StringFlag{Name: "file, f", Usage: "saved page (.html is converted to text)"},
				cli.StringFlag{Name: "url, u", Usage: "page URL to fetch"},
				cli.StringFlag{Name: "proxy", Usage: "proxy prefix for --url"},
			},
			Action: extract,
		},
		{
			Name:  "simulate",
			Usage: "print simulated pages and the pipeline result for each tick",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "ticks, n", Usage: "number of ticks", Value: 5},
				cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 1},
			},
			Action: simulate,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	ctn, err := container.New(c.String("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := ctn.Build(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctn.Start(ctx); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	<-ctx.Done()
	return ctn.Stop()
}

func extract(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg = loaded
	}

	var text string
	switch {
	case c.String("file") != "":
		t, err := readPage(c.String("file"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		text = t
	case c.String("url") != "":
		src := cfg.Source
		client := &gateway.PageClient{
			URL:        c.String("url"),
			Proxy:      c.String("proxy"),
			UserAgent:  src.UserAgent,
			HTTPClient: gateway.NewDefaultHTTPClient(src.Timeout()),
			Retries:    src.Retries,
		}
		t, err := client.FetchPageText(context.Background())
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		text = t
	default:
		return cli.NewExitError("one of --file or --url is required", 2)
	}

	p, err := quote.NewPipeline(cfg.Spec())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return writeResult(os.Stdout, p.Run(text, cfg.Initial))
}

func simulate(c *cli.Context) error {
	cfg := config.Default()
	p, err := quote.NewPipeline(cfg.Spec())
	if err != nil {
		return err
	}
	gen := sim.NewGenerator(sim.Config{
		Seed:       c.Int64("seed"),
		DollarStep: cfg.Sim.DollarStep,
		RealStep:   cfg.Sim.RealStep,
	}, cfg.Initial)
	return runSimulation(os.Stdout, gen, p, cfg.Initial, c.Int("ticks"))
}

func runSimulation(w io.Writer, gen *sim.Generator, p *quote.Pipeline, initial quote.Snapshot, ticks int) error {
	prev := initial
	for i := 0; i < ticks; i++ {
		text, err := gen.FetchPageText(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# tick %d\n%s\n", i+1, text)
		res := p.Run(text, prev)
		if err := writeResult(w, res); err != nil {
			return err
		}
		prev = res.Snapshot
	}
	return nil
}

func readPage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		return gateway.ExtractText(f)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type resultOutput struct {
	Snapshot quote.Snapshot `json:"snapshot"`
	Changed  bool           `json:"changed"`
	Misses   []quote.Key    `json:"misses,omitempty"`
}

func writeResult(w io.Writer, res quote.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resultOutput{
		Snapshot: res.Snapshot,
		Changed:  res.Changed,
		Misses:   res.Misses(),
	})
}
