package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/stream"
)

// Apply executes code-application plans against a sandbox Provider while
// emitting ordered progress events.
type Apply struct {
	logger *zap.Logger
}

// NewApply creates the pipeline.
func NewApply(logger *zap.Logger) *Apply {
	return &Apply{logger: logger.With(zap.String("component", "apply"))}
}

// Run applies the plan to the provider, emitting events in the order work
// occurs: start, then package/file/command progress, then exactly one of
// complete or error. A package-install failure is a warning and the run
// continues; a file-write failure ends the run with a terminal error event.
// Cancellation is checked between steps; an emit failure means the consumer
// is gone and stops the run without further events.
func (a *Apply) Run(ctx context.Context, provider sandbox.Provider, plan *ApplyPlan, emit func(stream.Event) error) {
	var results stream.Results
	results.FilesCreated = []string{}
	results.FilesUpdated = []string{}
	results.PackagesInstalled = []string{}

	if err := emit(stream.Start("Applying generated code", plan.Steps())); err != nil {
		return
	}

	step := 0

	// Packages install first so generated code can import them.
	if len(plan.Packages) > 0 {
		if a.aborted(ctx, emit) {
			return
		}
		step++
		if err := emit(stream.Step(fmt.Sprintf("Installing %d packages", len(plan.Packages)), step, plan.Packages)); err != nil {
			return
		}

		res, err := provider.InstallPackages(ctx, plan.Packages)
		switch {
		case err != nil:
			if emitErr := emit(stream.Warning(fmt.Sprintf("Package installation failed: %v", err))); emitErr != nil {
				return
			}
		case !res.Success:
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = fmt.Sprintf("npm install exited %d", res.ExitCode)
			}
			if emitErr := emit(stream.Warning("Package installation failed: " + msg)); emitErr != nil {
				return
			}
		default:
			results.PackagesInstalled = append(results.PackagesInstalled, plan.Packages...)
			if emitErr := emit(stream.PackageProgress(
				fmt.Sprintf("Installed %d packages", len(plan.Packages)), plan.Packages)); emitErr != nil {
				return
			}
		}
	}

	// Snapshot the working tree once up front to decide create vs update.
	existing := make(map[string]bool)
	if len(plan.Files) > 0 {
		paths, err := provider.ListFiles(ctx, "")
		if err != nil {
			a.logger.Warn("file listing failed, treating all writes as creates", zap.Error(err))
			if emitErr := emit(stream.Warning("Could not list existing files")); emitErr != nil {
				return
			}
		}
		for _, p := range paths {
			existing[p] = true
		}
	}

	if len(plan.Files) > 0 {
		if a.aborted(ctx, emit) {
			return
		}
		step++
		if err := emit(stream.Step(fmt.Sprintf("Writing %d files", len(plan.Files)), step, nil)); err != nil {
			return
		}

		for i, file := range plan.Files {
			if a.aborted(ctx, emit) {
				return
			}

			action := stream.ActionCreate
			if existing[file.Path] {
				action = stream.ActionUpdate
			}

			if err := emit(stream.FileProgress(i+1, len(plan.Files), file.Path, action)); err != nil {
				return
			}

			if err := provider.WriteFile(ctx, file.Path, file.Content); err != nil {
				a.logger.Error("file write failed", zap.String("path", file.Path), zap.Error(err))
				_ = emit(stream.Error(fmt.Sprintf("Failed to write %s: %v", file.Path, err)))
				return
			}

			if action == stream.ActionCreate {
				results.FilesCreated = append(results.FilesCreated, file.Path)
			} else {
				results.FilesUpdated = append(results.FilesUpdated, file.Path)
			}

			if err := emit(stream.FileComplete(file.Path, action)); err != nil {
				return
			}
		}
	}

	if len(plan.Commands) > 0 {
		if a.aborted(ctx, emit) {
			return
		}
		step++
		if err := emit(stream.Step(fmt.Sprintf("Running %d commands", len(plan.Commands)), step, nil)); err != nil {
			return
		}

		for i, cmd := range plan.Commands {
			if a.aborted(ctx, emit) {
				return
			}

			if err := emit(stream.CommandProgress(i+1, len(plan.Commands), cmd)); err != nil {
				return
			}

			res, err := provider.RunCommand(ctx, cmd)
			if err != nil {
				if emitErr := emit(stream.Warning(fmt.Sprintf("Command %q failed: %v", cmd, err))); emitErr != nil {
					return
				}
				continue
			}

			if res.Stdout != "" {
				if err := emit(stream.CommandOutput(cmd, res.Stdout, "stdout")); err != nil {
					return
				}
			}
			if res.Stderr != "" {
				if err := emit(stream.CommandOutput(cmd, res.Stderr, "stderr")); err != nil {
					return
				}
			}
			if err := emit(stream.CommandComplete(cmd, res.ExitCode)); err != nil {
				return
			}
		}
	}

	message := fmt.Sprintf("Applied %d files", len(results.FilesCreated)+len(results.FilesUpdated))
	_ = emit(stream.Complete(results, plan.Explanation, plan.Structure, message))
}

// aborted checks for cancellation between steps, emitting the terminal error
// event when the run's context is gone.
func (a *Apply) aborted(ctx context.Context, emit func(stream.Event) error) bool {
	if err := ctx.Err(); err != nil {
		_ = emit(stream.Error("Run cancelled: " + err.Error()))
		return true
	}
	return false
}
