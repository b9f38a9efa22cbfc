// Package main provides fortune-sim, an offline tool for fairness research,
// reproducible draws and verifiable ticket handling.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/cory-johannsen/fortune/internal/observability"
	"github.com/cory-johannsen/fortune/internal/preset"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

func newApp(w io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "fairness research and reproducible draws for the fortune wheel"
	app.Writer = w
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose", Usage: "log every draw at debug level"},
	}
	app.CommandNotFound = func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "No such command: %s\n", cmd)
		os.Exit(1)
	}
	app.Commands = []cli.Command{
		researchCommand,
		drawCommand,
		keygenCommand,
		issueCommand,
		verifyCommand,
	}
	return app
}

var researchCommand = cli.Command{
	Name:      "research",
	Usage:     "Compare empirical dropout win rates with single-draw probabilities",
	ArgsUsage: "SCENARIOS.toml",
	Action:    research,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "scenario", Usage: "run only the named scenario"},
		cli.BoolFlag{Name: "json", Usage: "print reports as JSON"},
	},
}

var drawCommand = cli.Command{
	Name:      "draw",
	Usage:     "Draw a winner from a preset pool",
	ArgsUsage: "PRESET.(yaml|toml)",
	Action:    draw,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "mode", Value: "classic", Usage: "classic or dropout"},
		cli.Uint64Flag{Name: "seed", Usage: "seed for a reproducible draw; 0 draws from crypto/rand"},
		cli.IntFlag{Name: "rotations", Value: 5, Usage: "base rotations of the spin"},
		cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "spin duration"},
	},
}

var keygenCommand = cli.Command{
	Name:   "keygen",
	Usage:  "Generate a ticket issuer key pair",
	Action: keygen,
}

var issueCommand = cli.Command{
	Name:   "issue",
	Usage:  "Issue a verifiable ticket",
	Action: issue,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "key", Usage: "hex encoded issuer private key", EnvVar: "FORTUNE_TICKET_PRIVATE_KEY"},
		cli.StringFlag{Name: "context", Usage: "session id the ticket is bound to"},
	},
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "Verify a ticket and show the winner it selects",
	ArgsUsage: "TICKET.json",
	Action:    verify,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "pub", Usage: "hex encoded issuer public key"},
		cli.StringFlag{Name: "preset", Usage: "preset pool to select a winner from"},
	},
}

func logger(ctx *cli.Context) (*zap.Logger, error) {
	return observability.NewCLILogger(ctx.GlobalBool("verbose"))
}

func research(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("provide one scenario file")
	}
	scenarios, err := preset.LoadScenarios(ctx.Args().First())
	if err != nil {
		return err
	}

	type result struct {
		Scenario         string         `json:"scenario"`
		Iterations       int            `json:"iterations"`
		Tolerance        float64        `json:"tolerance"`
		MaxAbsDifference float64        `json:"maxAbsDifference"`
		Elapsed          string         `json:"elapsed"`
		Reports          []wheel.Report `json:"reports"`
	}
	var (
		results []result
		failed  []string
	)
	only := ctx.String("scenario")
	for _, s := range scenarios {
		if only != "" && s.Name != only {
			continue
		}
		start := time.Now()
		reports, err := wheel.ResearchDifference(s.Pool(), s.Iterations, s.Source())
		if err != nil {
			return fmt.Errorf("scenario %q: %w", s.Name, err)
		}
		worst := wheel.MaxAbsDifference(reports)
		if worst > s.Tolerance {
			failed = append(failed, s.Name)
		}
		results = append(results, result{
			Scenario:         s.Name,
			Iterations:       s.Iterations,
			Tolerance:        s.Tolerance,
			MaxAbsDifference: worst,
			Elapsed:          time.Since(start).Round(time.Millisecond).String(),
			Reports:          reports,
		})
	}
	if len(results) == 0 {
		return fmt.Errorf("no scenario named %q", only)
	}

	w := ctx.App.Writer
	if ctx.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Fprintf(w, "%s: %d iterations, max |diff| %.5f (tolerance %.5f) [%s]\n",
				r.Scenario, r.Iterations, r.MaxAbsDifference, r.Tolerance, r.Elapsed)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWEIGHT\tWINS\tEMPIRICAL\tTHEORETICAL\tDIFF")
			for _, rep := range r.Reports {
				fmt.Fprintf(tw, "%s\t%g\t%d\t%.5f\t%.5f\t%+.5f\n",
					rep.ID, rep.Weight, rep.WinsCount, rep.EmpiricalWinRate, rep.TheoreticalWinRate, rep.RelativeDifference)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("scenarios outside tolerance: %v", failed)
	}
	return nil
}

func draw(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("provide one preset file")
	}
	p, err := preset.Load(ctx.Args().First())
	if err != nil {
		return err
	}
	log, err := logger(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	seed := ctx.Uint64("seed")
	src := wheel.NewCryptoSource()
	if seed != 0 {
		src = wheel.NewSeededSource(seed)
	}
	drawer := wheel.NewLoggedDrawer(src, log)
	pool := p.Pool()
	w := ctx.App.Writer

	switch ctx.String("mode") {
	case "classic":
		var out wheel.SpinOutcome
		if seed != 0 {
			out, err = wheel.ReplaySpin(seed, pool, ctx.Int("rotations"), ctx.Duration("duration"))
		} else {
			out, err = classicSpin(drawer, pool, ctx.Int("rotations"), ctx.Duration("duration"))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "winner: %s\nrotation: %.4f degrees over %s\n", out.WinnerID, out.RotationDistance, out.Duration)
	case "dropout":
		order, err := drawer.EliminationQueue(pool)
		if err != nil {
			return err
		}
		for i, id := range order[:len(order)-1] {
			fmt.Fprintf(w, "round %d: %s eliminated\n", i+1, id)
		}
		fmt.Fprintf(w, "winner: %s\n", order.Winner())
	default:
		return fmt.Errorf("unknown mode %q: must be classic or dropout", ctx.String("mode"))
	}
	return nil
}

func classicSpin(d *wheel.Drawer, pool wheel.Pool, rotations int, duration time.Duration) (wheel.SpinOutcome, error) {
	winner, _, err := d.Select(pool)
	if err != nil {
		return wheel.SpinOutcome{}, err
	}
	slices, err := wheel.Slices(pool)
	if err != nil {
		return wheel.SpinOutcome{}, err
	}
	distance, err := wheel.DistanceToWinner(winner, slices, rotations, d.Source())
	if err != nil {
		return wheel.SpinOutcome{}, err
	}
	return wheel.SpinOutcome{WinnerID: winner, RotationDistance: distance, Duration: duration}, nil
}

func keygen(ctx *cli.Context) error {
	key, err := ticket.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "private: %s\npublic:  %s\n", ticket.PrivateKeyHex(key), ticket.PublicKeyHex(&key.PublicKey))
	return nil
}

func issue(ctx *cli.Context) error {
	key, err := ticket.PrivateKeyFromHex(ctx.String("key"))
	if err != nil {
		return err
	}
	log, err := logger(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	t, err := ticket.NewSigner(key, log).Issue(ctx.String("context"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func verify(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("provide one ticket file")
	}
	pub, err := ticket.PublicKeyFromHex(ctx.String("pub"))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	var t ticket.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decoding ticket: %w", err)
	}
	log, err := logger(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	v, err := ticket.NewVerifier(pub, 1, log)
	if err != nil {
		return err
	}
	vt, err := v.Check(t)
	if err != nil {
		return err
	}
	w := ctx.App.Writer
	fmt.Fprintf(w, "ticket %s valid: value %.17g\n", vt.ID, vt.Value)
	if path := ctx.String("preset"); path != "" {
		p, err := preset.Load(path)
		if err != nil {
			return err
		}
		winner, err := wheel.Select(p.Pool(), vt.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "winner: %s\n", winner)
	}
	return nil
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
