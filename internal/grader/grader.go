// Package grader sequences a grading session: for every student in
// the roster, stage the submission, walk it interactively and drive
// compilation, then clean up spawned processes before moving on.
package grader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/programme-lv/grader/internal/classify"
	"github.com/programme-lv/grader/internal/extract"
	"github.com/programme-lv/grader/internal/procreg"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/report"
	"github.com/programme-lv/grader/internal/roster"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	LabDir      string
	WorkDir     string
	RosterPath  string
	StartAt     string
	Overwrite   bool
	DisplayOnly bool
	Clean       bool
}

type Grader struct {
	cfg        Config
	prompter   prompt.Prompter
	gath       report.Gatherer
	extractor  *extract.Extractor
	classifier *classify.Classifier
	procs      *procreg.Registry
	logger     *slog.Logger
}

func New(cfg Config, prompter prompt.Prompter, gath report.Gatherer, classifier *classify.Classifier, procs *procreg.Registry, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{
		cfg:        cfg,
		prompter:   prompter,
		gath:       gath,
		extractor:  extract.New(cfg.WorkDir, cfg.Overwrite, logger),
		classifier: classifier,
		procs:      procs,
		logger:     logger,
	}
}

// Run processes the roster one student at a time. It returns normally
// both on completion and on an operator exit.
func (g *Grader) Run() error {
	studs, err := roster.Load(g.cfg.RosterPath, g.cfg.LabDir, g.cfg.StartAt)
	if err != nil {
		return err
	}

	if g.cfg.Clean {
		return g.clean(studs)
	}

	var missing []roster.Student
	for i := range studs {
		stud := &studs[i]

		if len(stud.Submissions) == 0 {
			g.gath.StartStudent(stud, -1)
			g.gath.NoSubmission(stud)
			missing = append(missing, *stud)
			continue
		}
		if g.cfg.DisplayOnly {
			g.gath.StartStudent(stud, -1)
			continue
		}

		exit, err := g.processStudent(stud)
		if err != nil {
			return err
		}
		if exit {
			g.procs.KillAll()
			return nil
		}
	}

	g.gath.MissingSubmissions(missing)
	g.gath.FinishSession()
	return nil
}

// processStudent walks every submission of one student. The operator
// can re-run a submission any number of times before moving on; exit
// propagates up and ends the whole session.
func (g *Grader) processStudent(stud *roster.Student) (exit bool, err error) {
	defer g.procs.KillAll()

	for i := range stud.Submissions {
		for {
			g.gath.StartStudent(stud, i)
			resp, err := g.prompter.Ask("RUN LAB? [y]es, [n]o, e[x]it:", []string{"y", "n", "x"})
			if err != nil {
				return false, fmt.Errorf("prompt for %s: %w", stud.ID, err)
			}
			if resp.Token == "x" {
				return true, nil
			}
			if resp.Token == "n" {
				break
			}

			staged, err := g.extractor.Extract(stud.Submissions[i], stud.ID)
			if err != nil || !staged {
				g.gath.StagingFailed(stud.ID, err)
				continue
			}
			g.gath.StagingOK(stud.ID)

			if err := g.classifier.Walk(g.extractor.StagingDir(stud.ID)); err != nil {
				return false, fmt.Errorf("classify %s: %w", stud.ID, err)
			}
		}
	}
	return false, nil
}

// clean removes every student's staging directory from the work
// directory. Staging directories are independent, so removal fans out.
func (g *Grader) clean(studs []roster.Student) error {
	g.logger.Info("cleaning workspace", "dir", g.cfg.WorkDir)

	eg := new(errgroup.Group)
	for _, s := range studs {
		dir := filepath.Join(g.cfg.WorkDir, s.ID)
		eg.Go(func() error {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return nil
			}
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove %s: %w", dir, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
