package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/programme-lv/grader/internal/classify"
	"github.com/programme-lv/grader/internal/compile"
	"github.com/programme-lv/grader/internal/grader"
	"github.com/programme-lv/grader/internal/procreg"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/report"
	"github.com/programme-lv/grader/internal/toolchain"
	"github.com/programme-lv/grader/internal/viewer"
	"github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cmd := &cli.Command{
		Name:  "grader",
		Usage: "interactive grading shell for programming lab submissions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "labdir",
				Aliases: []string{"d"},
				Value:   cwd,
				Usage:   "directory with compressed labs",
				Sources: cli.EnvVars("GRADER_LAB_DIR"),
			},
			&cli.StringFlag{
				Name:    "workdir",
				Aliases: []string{"w"},
				Value:   cwd,
				Usage:   "working directory for staging and running labs",
				Sources: cli.EnvVars("GRADER_WORK_DIR"),
			},
			&cli.StringFlag{
				Name:    "roster",
				Aliases: []string{"l"},
				Usage:   "file with student info",
				Sources: cli.EnvVars("GRADER_ROSTER"),
			},
			&cli.StringFlag{
				Name:    "student",
				Aliases: []string{"s"},
				Usage:   "student ID to start processing at",
			},
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "candidate input files for stdin redirection",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "re-extract labs even if already staged",
			},
			&cli.BoolFlag{
				Name:    "display",
				Aliases: []string{"y"},
				Usage:   "display student and submission info, then exit",
			},
			&cli.BoolFlag{
				Name:    "clean",
				Aliases: []string{"c"},
				Usage:   "delete all staged labs in the working directory, then exit",
			},
			&cli.StringFlag{
				Name:    "compiler",
				Aliases: []string{"p"},
				Value:   "g++",
				Usage:   "toolchain used for building submissions",
				Sources: cli.EnvVars("GRADER_COMPILER"),
			},
			&cli.StringFlag{
				Name:    "toolchains",
				Usage:   "TOML file with additional toolchain definitions",
				Sources: cli.EnvVars("GRADER_TOOLCHAINS"),
			},
			&cli.IntFlag{
				Name:  "parts",
				Value: classify.DefaultPartCapacity,
				Usage: "maximum number of compilation parts per submission",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("grader failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
	logger := slog.Default()

	labDir, err := filepath.Abs(cmd.String("labdir"))
	if err != nil {
		return err
	}
	workDir, err := filepath.Abs(cmd.String("workdir"))
	if err != nil {
		return err
	}
	rosterPath := cmd.String("roster")
	if rosterPath != "" {
		if rosterPath, err = filepath.Abs(rosterPath); err != nil {
			return err
		}
	}
	var inputs []string
	for _, in := range cmd.StringSlice("input") {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		inputs = append(inputs, abs)
	}

	registry := toolchain.NewRegistry()
	if path := cmd.String("toolchains"); path != "" {
		if err := registry.LoadFile(path); err != nil {
			return err
		}
	}
	tc, ok := registry.Get(cmd.String("compiler"))
	if !ok {
		return fmt.Errorf("unsupported compiler selected: %s", cmd.String("compiler"))
	}

	prompter := prompt.NewTerminal(os.Stdin, os.Stdout)
	procs := procreg.New()
	view := viewer.New(procs, logger)
	supervisor := compile.New(tc, prompter, inputs, logger)
	classifier := classify.New(tc, prompter, supervisor, view.Open, logger,
		classify.WithPartCapacity(int(cmd.Int("parts"))))

	cfg := grader.Config{
		LabDir:      labDir,
		WorkDir:     workDir,
		RosterPath:  rosterPath,
		StartAt:     cmd.String("student"),
		Overwrite:   cmd.Bool("force"),
		DisplayOnly: cmd.Bool("display"),
		Clean:       cmd.Bool("clean"),
	}

	if rosterPath != "" {
		fmt.Println("Grading Program (auto mode)")
	} else {
		fmt.Println("Grading Program (manual mode)")
	}

	g := grader.New(cfg, prompter, report.NewTerminal(os.Stdout), classifier, procs, logger)
	defer procs.KillAll()
	return g.Run()
}
