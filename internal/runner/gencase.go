package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/util"
)

// Particle counts outside this range get a warning.
const (
	lowParticleCount  = 300
	highParticleCount = 200000
)

var totalParticlesRe = regexp.MustCompile(`Total particles: (\d+) \(bound=`)

// GenCaseResult is the outcome of a successful GenCase run.
type GenCaseResult struct {
	TotalParticles int
	// Warning is set when the particle count looks suspicious.
	Warning string
	Detail  string
}

// GenCase runs the case generator and blocks until it exits. The next step
// depends on its result and it is short compared to a simulation.
func GenCase(ctx context.Context, launcher process.Launcher, c *model.Case, logger *slog.Logger) (GenCaseResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Executables.GenCase == "" {
		return GenCaseResult{}, fmt.Errorf("gencase executable: %w", ErrNotConfigured)
	}
	c.GenCaseDone = false

	outDir := util.OutDir(c.ProjectPath, c.ProjectName)
	spec := process.Spec{
		Path: c.Executables.GenCase,
		Args: []string{
			util.DefPath(c.ProjectPath, c.ProjectName),
			filepath.Join(outDir, c.ProjectName),
			"-save:+all",
		},
		Dir: c.ProjectPath,
	}
	logger.Info("Running GenCase", "command", spec.String())

	res, err := launcher.Run(ctx, spec)
	if err != nil {
		return GenCaseResult{}, fmt.Errorf("run gencase: %w", err)
	}

	if res.ExitCode == 0 {
		if total, ok := parseTotalParticles(res.Output); ok {
			out := GenCaseResult{TotalParticles: total, Detail: util.DetailSection(res.Output)}
			switch {
			case total < lowParticleCount:
				out.Warning = fmt.Sprintf("the number of particles is very low (%d), lower the dp to increase it", total)
			case total > highParticleCount:
				out.Warning = fmt.Sprintf("the number of particles is pretty high (%d) and it could take a lot of time to simulate", total)
			}
			if out.Warning != "" {
				logger.Warn("GenCase particle count", "total", total, "warning", out.Warning)
			}
			c.TotalParticles = total
			c.GenCaseDone = true
			logger.Info("GenCase done", "totalParticles", total)
			return out, nil
		}
	}

	return GenCaseResult{}, &ProcessError{
		Tool:     "GenCase",
		ExitCode: res.ExitCode,
		Detail:   genCaseDetail(outDir, c.ProjectName, res.Output, logger),
	}
}

func parseTotalParticles(output string) (int, bool) {
	m := totalParticlesRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// genCaseDetail prefers the tool's own <name>.out log over its stdout.
func genCaseDetail(outDir, name, output string, logger *slog.Logger) string {
	data, err := os.ReadFile(filepath.Join(outDir, name+".out"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Debug("GenCase log not readable", "error", err)
		}
		return util.DetailSection(output)
	}
	return util.DetailSection(string(data))
}
