package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/designsph/dsphcase/internal/export"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/runner"
	"github.com/designsph/dsphcase/internal/session"
)

// cancelWait bounds how long a cancelled run may take to report its end.
const cancelWait = 10 * time.Second

type command struct {
	name    string
	args    string
	help    string
	minArgs int
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"new", "<dir> [document.json]", "create an empty case, optionally from a host document snapshot, and save it", 1, cmdNew},
	{"import", "<def.xml> <dir>", "import a case definition XML and save it as a project", 2, cmdImport},
	{"add", "<dir> <object>...", "register host objects with the case", 2, cmdAdd},
	{"remove", "<dir> <object>...", "unregister objects from the case", 2, cmdRemove},
	{"fillbox", "<dir>", "add a fill box to the host document", 1, cmdFillBox},
	{"mk", "<dir> <object> <mk>", "set the mk of a registered object", 3, cmdMK},
	{"kind", "<dir> <object> <fluid|bound>", "set the kind of a registered object", 3, cmdKind},
	{"fill", "<dir> <object> <full|solid|face|wire>", "set the fill mode of a registered object", 3, cmdFill},
	{"order", "<dir> <object> <up|down>", "move an object in the export order", 3, cmdOrder},
	{"gencase", "<dir>", "save the project again, running GenCase", 1, cmdGenCase},
	{"run", "<dir>", "run the simulation and follow its progress", 1, cmdRun},
	{"export", "<dir>", "export the simulation output to VTK", 1, cmdExport},
	{"runs", "<dir>", "list the recorded tool runs of a project", 1, cmdRuns},
	{"status", "<dir>", "print the status of a project as JSON", 1, cmdStatus},
}

func usage(flags *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n\nCommands:\n", AppName)
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s\t%s\n", c.name, c.args, c.help)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flags.FlagUsages())
}

// runCommand executes one command and returns the process exit code.
func runCommand(ctx context.Context, args []string) int {
	name := strings.ToLower(args[0])
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if len(args)-1 < c.minArgs {
			fmt.Fprintf(os.Stderr, "usage: %s %s %s\n", AppName, c.name, c.args)
			return 2
		}
		start := time.Now()
		if err := c.run(ctx, args[1:]); err != nil {
			Logger.Error("Command failed", "command", c.name, "error", err, "duration", time.Since(start))
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		Logger.Info("Command complete", "command", c.name, "duration", time.Since(start))
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
	return 2
}

// onLoop runs fn on the event loop.
func onLoop(ctx context.Context, fn func() error) error {
	return sess.Do(ctx, fn)
}

// edit loads the project in dir, applies fn and saves it back.
func edit(ctx context.Context, dir string, fn func() error) error {
	return onLoop(ctx, func() error {
		if err := sess.Load(ctx, dir); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return save(ctx, dir)
	})
}

// save must run on the loop.
func save(ctx context.Context, dir string) error {
	res, err := sess.Save(ctx, dir)
	if err != nil {
		return err
	}
	printSave(res)
	return nil
}

func printSave(res session.SaveResult) {
	for _, w := range res.Warnings {
		fmt.Println("warning:", w)
	}
	switch {
	case res.GenCaseErr != nil:
		fmt.Println("GenCase failed:", res.GenCaseErr)
	case res.GenCase != nil:
		fmt.Printf("GenCase done: %d particles\n", res.GenCase.TotalParticles)
	}
}

func cmdNew(ctx context.Context, args []string) error {
	dir := args[0]
	return onLoop(ctx, func() error {
		if len(args) > 1 {
			if err := documents.Open(args[1]); err != nil {
				return fmt.Errorf("open host document: %w", err)
			}
		}
		sess.NewCase()
		return save(ctx, dir)
	})
}

func cmdImport(ctx context.Context, args []string) error {
	xmlPath, dir := args[0], args[1]
	return onLoop(ctx, func() error {
		sess.NewCase()
		res, err := sess.ImportXML(xmlPath)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			fmt.Println("import warning:", w)
		}
		fmt.Printf("imported %d objects from %s\n", len(res.Objects), xmlPath)
		return save(ctx, dir)
	})
}

func cmdAdd(ctx context.Context, args []string) error {
	return edit(ctx, args[0], func() error {
		res, err := sess.AddObjects(args[1:])
		if err != nil {
			return err
		}
		for _, name := range res.Added {
			fmt.Println("added", name)
		}
		for _, name := range res.Skipped {
			fmt.Println("skipped", name)
		}
		for _, name := range res.Collisions {
			fmt.Printf("warning: no free mk for %s, mk 0 assigned\n", name)
		}
		return nil
	})
}

func cmdRemove(ctx context.Context, args []string) error {
	return edit(ctx, args[0], func() error {
		removed := sess.Registry().RemoveObjects(args[1:])
		if len(removed) == 0 {
			return fmt.Errorf("none of %s is registered", strings.Join(args[1:], ", "))
		}
		for _, name := range removed {
			fmt.Println("removed", name)
		}
		return nil
	})
}

func cmdFillBox(ctx context.Context, args []string) error {
	return edit(ctx, args[0], func() error {
		name, err := sess.AddFillBox()
		if err != nil {
			return err
		}
		fmt.Println("added", name)
		return nil
	})
}

func cmdMK(ctx context.Context, args []string) error {
	mk, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid mk %q: %w", args[2], err)
	}
	return edit(ctx, args[0], func() error {
		return sess.Registry().SetMK(args[1], mk)
	})
}

func cmdKind(ctx context.Context, args []string) error {
	kind, err := model.ParseKind(args[2])
	if err != nil {
		return err
	}
	return edit(ctx, args[0], func() error {
		return sess.Registry().SetKind(args[1], kind)
	})
}

func cmdFill(ctx context.Context, args []string) error {
	fill, err := model.ParseFillMode(args[2])
	if err != nil {
		return err
	}
	return edit(ctx, args[0], func() error {
		return sess.Registry().SetFill(args[1], fill)
	})
}

func cmdOrder(ctx context.Context, args []string) error {
	return edit(ctx, args[0], func() error {
		var moved bool
		switch strings.ToLower(args[2]) {
		case "up":
			moved = sess.Registry().MoveUp(args[1])
		case "down":
			moved = sess.Registry().MoveDown(args[1])
		default:
			return fmt.Errorf("direction must be up or down, got %q", args[2])
		}
		if !moved {
			fmt.Println("order unchanged")
		}
		fmt.Println(strings.Join(sess.Registry().ExportList(), "\n"))
		return nil
	})
}

func cmdGenCase(ctx context.Context, args []string) error {
	return edit(ctx, args[0], func() error { return nil })
}

func cmdRun(ctx context.Context, args []string) error {
	dir := args[0]
	done := make(chan runner.Update, 1)
	last := -1
	err := onLoop(ctx, func() error {
		if err := sess.Load(ctx, dir); err != nil {
			return err
		}
		sess.OnRunUpdate(func(u runner.Update) {
			if u.State.Terminal() {
				select {
				case done <- u:
				default:
				}
				return
			}
			if u.ProgressKnown && int(u.Progress) != last {
				last = int(u.Progress)
				fmt.Printf("%5.1f%%  eta %s  particles out %d\n", u.Progress, u.ETA, u.ParticlesOut)
			}
		})
		return sess.RunSimulation(context.Background())
	})
	if err != nil {
		return err
	}

	var u runner.Update
	select {
	case u = <-done:
	case <-ctx.Done():
		fmt.Println("cancelling simulation")
		u, err = cancelAndWait(done, sess.CancelSimulation)
		if err != nil {
			return err
		}
	}
	fmt.Println("simulation", u.State)
	if u.State != runner.Complete {
		if u.Err != nil {
			return fmt.Errorf("simulation %s: %w", u.State, u.Err)
		}
		return fmt.Errorf("simulation %s", u.State)
	}
	return nil
}

func cmdExport(ctx context.Context, args []string) error {
	dir := args[0]
	done := make(chan export.Update, 1)
	err := onLoop(ctx, func() error {
		if err := sess.Load(ctx, dir); err != nil {
			return err
		}
		sess.OnExportUpdate(func(u export.Update) {
			if !u.Busy {
				select {
				case done <- u:
				default:
				}
				return
			}
			fmt.Println("exported", u.Progress)
		})
		return sess.Export(context.Background())
	})
	if err != nil {
		return err
	}

	var u export.Update
	select {
	case u = <-done:
	case <-ctx.Done():
		fmt.Println("cancelling export")
		u, err = cancelAndWait(done, sess.CancelExport)
		if err != nil {
			return err
		}
	}
	if u.ExitCode != 0 {
		return fmt.Errorf("export ended with exit code %d", u.ExitCode)
	}
	fmt.Println("export complete", u.Progress)
	return nil
}

// cancelAndWait cancels through the loop and waits for the final update.
func cancelAndWait[U any](done <-chan U, cancel func() bool) (U, error) {
	var zero U
	ctx, stop := context.WithTimeout(context.Background(), cancelWait)
	defer stop()
	if err := onLoop(ctx, func() error {
		cancel()
		return nil
	}); err != nil {
		return zero, err
	}
	select {
	case u := <-done:
		return u, nil
	case <-ctx.Done():
		return zero, errors.New("timed out waiting for cancellation")
	}
}

func cmdRuns(ctx context.Context, args []string) error {
	var runs []model.RunRecord
	err := onLoop(ctx, func() error {
		if err := sess.Load(ctx, args[0]); err != nil {
			return err
		}
		var err error
		runs, err = sess.Runs(ctx)
		return err
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tSTATE\tEXIT\tPROGRESS\tRUN ID")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Kind, r.State, r.ExitCode, r.Progress, r.RunID)
	}
	return w.Flush()
}

func cmdStatus(ctx context.Context, args []string) error {
	if err := onLoop(ctx, func() error { return sess.Load(ctx, args[0]) }); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sess.Snapshot())
}
