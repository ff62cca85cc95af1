package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"

	"github.com/toolbar-labs/magic-tracker/api"
	"github.com/toolbar-labs/magic-tracker/auth/state"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lifecycle"
)

// DefaultExpiresIn is the access token lifetime assumed by login when the
// caller doesn't know it. An early expiry only costs a refresh.
const DefaultExpiresIn = 15 * time.Minute

const createSource = "magic-tracker-cli"

// Login stores the credentials issued by the sign-in page and prints the
// account they belong to.
func (a *App) Login(ctx context.Context, token, refreshToken string, expiresIn time.Duration) error {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	profile, err := a.session.SignIn(ctx, &state.Credentials{
		AccessToken:  token,
		RefreshToken: refreshToken,
		ExpiresAt:    a.clock.Now().Add(expiresIn),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(a.out, "Signed in as %s.\n", displayName(profile.User))
	return nil
}

// Logout forgets the credentials and the cached jobs.
func (a *App) Logout(ctx context.Context) {
	a.session.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out.")
}

// RefreshCredentials exchanges the refresh token right away.
func (a *App) RefreshCredentials(ctx context.Context) error {
	creds, err := a.creds.Refresh(ctx)
	if err != nil {
		if trace.IsNotFound(err) {
			return trace.NotFound("not signed in")
		}
		return trace.Wrap(err, "refresh failed, sign in again")
	}
	fmt.Fprintf(a.out, "Credentials refreshed, valid until %s.\n", creds.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// PrintStatus prints the session status.
func (a *App) PrintStatus(ctx context.Context) {
	status := a.session.Status(ctx)
	if !status.SignedIn {
		fmt.Fprintln(a.out, "Not signed in.")
		return
	}
	fmt.Fprintf(a.out, "Signed in as %s.\n", displayName(status.Profile.User))
	usage := status.Profile.Usage
	if usage.Limit > 0 {
		fmt.Fprintf(a.out, "Usage: %d of %d generations, %d left.\n", usage.Current, usage.Limit, usage.Remaining)
	}
	fmt.Fprintf(a.out, "Access token valid until %s.\n", status.ExpiresAt.Local().Format(time.RFC1123))
}

// PrintJobs prints the job list, from the cache unless refresh is set.
func (a *App) PrintJobs(ctx context.Context, refresh bool) error {
	var jobs []api.Job
	if refresh {
		var err error
		if jobs, err = a.jobs.Refresh(ctx); err != nil {
			return trace.Wrap(err)
		}
	} else {
		jobs = a.jobs.Get(ctx)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, "No jobs yet.")
		return nil
	}

	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{"ID", "Name", "Status", "Created", "URL"})
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoFormatHeaders(false)
	for _, j := range jobs {
		status := string(j.Status)
		if status == "" {
			status = "-"
		}
		table.Append([]string{j.ID, j.Name, status, j.CreatedAt.Local().Format("2006-01-02 15:04"), j.URL})
	}
	table.Render()
	return nil
}

// Create creates a job and follows it until it completes.
func (a *App) Create(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return trace.BadParameter("message must not be empty")
	}
	updates, unsubscribe := a.Subscribe()
	defer unsubscribe()

	if !a.controller.CreateJob(ctx, api.CreateJobRequest{Message: message, Source: createSource}) {
		return trace.Errorf("job was not created")
	}

	var lastProgress = -1
	for {
		st := a.controller.State()
		switch st.Phase {
		case lifecycle.PhaseTracking:
			if st.Progress != lastProgress {
				lastProgress = st.Progress
				fmt.Fprintf(a.out, "Generating... %d%%\n", st.Progress)
			}
			if st.LastError != nil {
				logger.Get(ctx).WithError(st.LastError).Debug("Status poll failed, retrying")
			}
		case lifecycle.PhaseCompleted:
			fmt.Fprintf(a.out, "Your Magic project is ready! %s\n", st.Job.URL)
			return nil
		case lifecycle.PhaseIdle:
			return trace.Errorf("tracking stopped before the job completed")
		}

		select {
		case <-updates:
		case <-a.process.Done():
			return trace.Wrap(context.Canceled)
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
}

func displayName(u api.User) string {
	name := u.DisplayName
	if name == "" {
		name = u.Name
	}
	if u.Email == "" {
		return name
	}
	if name == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", name, u.Email)
}

func promptSecret(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	result, err := prompt.Run()
	return strings.TrimSpace(result), trace.Wrap(err)
}

func promptText(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return trace.BadParameter("must not be empty")
			}
			return nil
		},
	}
	result, err := prompt.Run()
	return strings.TrimSpace(result), trace.Wrap(err)
}

// yesNo displays Y/N prompt
func yesNo(message string) bool {
	prompt := promptui.Prompt{
		Label:     message,
		IsConfirm: true,
	}
	result, err := prompt.Run()
	if err != nil {
		return false
	}
	return strings.EqualFold(result, "y")
}
