package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/appctx"
	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/output"
	"github.com/millrun/millrun/pkg/sched"
)

// NewRunCommand creates the "run" command: dispatch a job to the machine and
// stream it in the foreground until it finishes. Without an argument the
// highest-priority pending job is selected. Ctrl-C issues a feed hold: the
// job is paused at its bookmark and the queue is saved, ready for resume.
func NewRunCommand(bus *updateBus) *cobra.Command {
	return &cobra.Command{
		Use:     "run [job-id]",
		Short:   "Run a job in the foreground",
		GroupID: "jobs",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}

			// Subscribe before dispatch so a fast job cannot finish
			// between start and follow.
			updates, unsubscribe := bus.subscribe()
			defer unsubscribe()

			var target *job.Job
			if len(args) == 1 {
				if target, err = resolveJob(cmd, args[0]); err != nil {
					return err
				}
				if err := app.Scheduler.StartJob(target.ID); err != nil {
					return err
				}
			} else {
				if target, err = app.Scheduler.StartNext(); err != nil {
					return err
				}
				if target == nil {
					return fmt.Errorf("no pending jobs")
				}
			}
			return followJob(cmd, app, updates, target.ID)
		},
	}
}

// NewStartCommand creates the "start" command. Equivalent to "run" with a
// mandatory job id; kept as a separate verb to mirror the HTTP API.
func NewStartCommand(bus *updateBus) *cobra.Command {
	return &cobra.Command{
		Use:     "start <job-id>",
		Short:   "Start a specific pending job and stream it",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			target, err := resolveJob(cmd, args[0])
			if err != nil {
				return err
			}

			updates, unsubscribe := bus.subscribe()
			defer unsubscribe()

			if err := app.Scheduler.StartJob(target.ID); err != nil {
				return err
			}
			return followJob(cmd, app, updates, target.ID)
		},
	}
}

// NewResumeCommand creates the "resume" command: continue a paused job from
// its bookmark. The bookmarked line is re-sent, not skipped.
func NewResumeCommand(bus *updateBus) *cobra.Command {
	return &cobra.Command{
		Use:     "resume <job-id>",
		Short:   "Resume a paused job from its bookmark",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			target, err := resolveJob(cmd, args[0])
			if err != nil {
				return err
			}

			updates, unsubscribe := bus.subscribe()
			defer unsubscribe()

			line, err := app.Scheduler.ResumeJob(target.ID)
			if err != nil {
				return err
			}
			newOutput(cmd).Info(fmt.Sprintf("resuming %s from line %d", target.Name, line))
			return followJob(cmd, app, updates, target.ID)
		},
	}
}

// followJob renders scheduler updates for one job until it reaches a
// terminal state or is paused. SIGINT triggers a feed hold.
func followJob(cmd *cobra.Command, app *appctx.App, updates <-chan sched.Update, jobID string) error {
	out := newOutput(cmd)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	lastPct := -1
	for {
		select {
		case <-sigs:
			j, err := app.Scheduler.Job(jobID)
			if err != nil {
				return err
			}
			line := 0
			if j.LastCompletedLine != nil {
				line = *j.LastCompletedLine
			}
			if err := app.Scheduler.InterruptJob(jobID, line); err != nil {
				return err
			}
			if err := app.Scheduler.SaveQueue(); err != nil {
				return err
			}
			out.Warning(fmt.Sprintf("feed hold at line %d, resume with: %s resume %s", line, cliExecutable, shortID(jobID)))
			return nil

		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Job == nil || u.Job.ID != jobID {
				continue
			}
			switch u.Kind {
			case sched.UpdateProgress:
				renderProgress(out, u.Job, &lastPct)
			case sched.UpdateCompleted:
				out.Info(fmt.Sprintf("%s completed in %ds", u.Job.Name, u.Job.Duration))
				return nil
			case sched.UpdatePaused:
				out.Warning(fmt.Sprintf("%s paused at line %d", u.Job.Name, bookmark(u.Job)))
				return nil
			case sched.UpdateFailed:
				return fmt.Errorf("job %s failed: %s", u.Job.Name, u.Job.ErrorMessage)
			case sched.UpdateCancelled:
				out.Warning(fmt.Sprintf("%s cancelled", u.Job.Name))
				return nil
			}
		}
	}
}

// renderProgress emits one progress event per whole percent, not per line.
func renderProgress(out output.Output, j *job.Job, lastPct *int) {
	if j.TotalLines == 0 || j.LastCompletedLine == nil {
		return
	}
	pct := int(j.Progress * 100)
	if pct == *lastPct {
		return
	}
	*lastPct = pct
	out.Progress(*j.LastCompletedLine+1, j.TotalLines, j.Name)
}

func bookmark(j *job.Job) int {
	if j.LastCompletedLine == nil {
		return 0
	}
	return *j.LastCompletedLine
}
