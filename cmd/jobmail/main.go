package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"jobmail/internal/app"
	"jobmail/internal/config"
	"jobmail/internal/logger"
	"jobmail/internal/trainer"
)

const usage = `Usage:
  jobmail <command> [flags]

Commands:
  sync           pull newly labelled mail into the record store
  train          run one local delta update
  remote-train   run one delta update through the remote build commands
  classify       label unread mail with the current model
  metrics        write date,label,count rows (-source verdicts|records)
  run            run a pipeline (-mode classify|local|remote|sync)
  explain        classify text from stdin and print the verdict
  report         send today's report to the admin chat
`

type Command struct {
	Name    string
	Mode    string
	Source  string
	Subject string
}

func parseCommand(args []string, stderr io.Writer) (Command, error) {
	if len(args) == 0 {
		return Command{}, errors.New("missing command")
	}
	cmd := Command{Name: args[0], Mode: app.ModeLocal, Source: app.SourceVerdicts}

	fs := flag.NewFlagSet("jobmail "+cmd.Name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch cmd.Name {
	case "sync", "train", "remote-train", "classify", "report":
	case "metrics":
		fs.StringVar(&cmd.Source, "source", cmd.Source, "Rows from verdicts (classified mail) or records (labelled training mail)")
	case "run":
		fs.StringVar(&cmd.Mode, "mode", cmd.Mode, "classify | local | remote | sync")
	case "explain":
		fs.StringVar(&cmd.Subject, "subject", "", "Optional subject prepended to the text")
	default:
		return Command{}, fmt.Errorf("unknown command %q", cmd.Name)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return Command{}, err
	}
	if fs.NArg() > 0 {
		return Command{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	switch {
	case cmd.Name == "metrics" && cmd.Source != app.SourceVerdicts && cmd.Source != app.SourceRecords:
		return Command{}, fmt.Errorf("-source must be %s or %s", app.SourceVerdicts, app.SourceRecords)
	case cmd.Name == "run" && !validMode(cmd.Mode):
		return Command{}, fmt.Errorf("-mode must be one of classify, local, remote, sync")
	}
	return cmd, nil
}

func validMode(m string) bool {
	switch m {
	case app.ModeClassify, app.ModeLocal, app.ModeRemote, app.ModeSync:
		return true
	}
	return false
}

func main() {
	cmd, err := parseCommand(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cmd, cfg, log); err != nil {
		log.Error("command failed", zap.String("command", cmd.Name), zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}

func execute(ctx context.Context, cmd Command, cfg *config.Config, log *zap.Logger) error {
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	switch cmd.Name {
	case "sync":
		res, err := a.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("synced: fetched=%d added=%d failed=%d\n", res.Fetched, res.Added, res.Failed)
	case "train":
		res, err := a.Train(ctx)
		if err != nil {
			return err
		}
		printTrain(res)
	case "remote-train":
		res, err := a.RemoteTrain(ctx)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Println("model is up to date")
		} else {
			fmt.Printf("published remote checkpoint: last_row_trained=%d\n", res.Total)
		}
	case "classify":
		rep, err := a.Classify(ctx)
		if err != nil {
			return err
		}
		fmt.Println(rep.String())
	case "metrics":
		rows, err := a.Metrics(ctx, cmd.Source)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", len(rows), cfg.MetricsCSVPath)
	case "run":
		return a.Run(ctx, cmd.Mode)
	case "explain":
		text, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		v, err := a.Explain(cmd.Subject, string(text))
		if err != nil {
			return err
		}
		fmt.Printf("label: %s\n", v.Label)
		fmt.Printf("predicted: %s (%.1f%%)\n", v.Predicted, v.Confidence*100)
		for _, l := range cfg.Labels {
			fmt.Printf("  %s: %.3f\n", l, v.Probabilities[l])
		}
		fmt.Printf("key phrases: %s\n", strings.Join(v.KeyPhrases, ", "))
	case "report":
		r, err := a.Reporter()
		if err != nil {
			return err
		}
		return r.Send(ctx)
	}
	return nil
}

func printTrain(res trainer.Result) {
	if res.Skipped {
		fmt.Printf("model is up to date (%d rows)\n", res.Total)
		return
	}
	fmt.Printf("trained: delta=%d anchors=%d epochs=%d last_row_trained=%d loss=%.4f\n",
		res.Delta, res.Anchors, res.Epochs, res.Total, res.FinalLoss)
}
