package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/toolbar-labs/magic-tracker/lib"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger.Init()
	app := kingpin.New("magic-tracker", "Creates Magic jobs and tracks them until they are ready.")

	path := app.Flag("config", "TOML config file path").
		Short('c').
		Default(DefaultConfigPath()).
		String()
	debug := app.Flag("debug", "Enable verbose logging to stderr").
		Short('d').
		Bool()

	app.Command("configure", "Prints an example .TOML configuration file.")
	app.Command("version", "Prints magic-tracker version and exits.")

	loginCmd := app.Command("login", "Stores the credentials issued by the sign-in page.")
	token := loginCmd.Flag("token", "Access token").Envar("MAGIC_TRACKER_TOKEN").String()
	refreshToken := loginCmd.Flag("refresh-token", "Refresh token").Envar("MAGIC_TRACKER_REFRESH_TOKEN").String()
	expiresIn := loginCmd.Flag("expires-in", "Access token lifetime").Default(DefaultExpiresIn.String()).Duration()

	logoutCmd := app.Command("logout", "Removes the credentials and the cached jobs.")
	yes := logoutCmd.Flag("yes", "Don't ask for confirmation").Short('y').Bool()

	app.Command("refresh", "Refreshes the access token.")
	app.Command("status", "Prints the session status.")

	jobsCmd := app.Command("jobs", "Lists the jobs.")
	refreshJobs := jobsCmd.Flag("refresh", "Bypass the cache").Short('r').Bool()

	createCmd := app.Command("create", "Creates a job and waits until it is ready.")
	message := createCmd.Arg("message", "What to generate").String()

	app.Command("start", "Resumes unfinished jobs and tracks them in the foreground.")

	selectedCmd, err := app.Parse(os.Args[1:])
	if err != nil {
		lib.Bail(err)
	}

	switch selectedCmd {
	case "configure":
		fmt.Print(exampleConfig)
		return
	case "version":
		lib.PrintVersion(os.Stdout, app.Name, Version, Gitref)
		return
	}

	a, err := setup(*path, *debug)
	if err != nil {
		lib.Bail(err)
	}
	defer a.Close()
	ctx := context.Background()

	switch selectedCmd {
	case "login":
		err = login(ctx, a, *token, *refreshToken, *expiresIn)
	case "logout":
		if *yes || yesNo("Sign out and forget the cached jobs") {
			a.Logout(ctx)
		}
	case "refresh":
		err = a.RefreshCredentials(ctx)
	case "status":
		a.PrintStatus(ctx)
	case "jobs":
		err = a.PrintJobs(ctx, *refreshJobs)
	case "create":
		err = create(ctx, a, *message)
	case "start":
		err = start(ctx, a)
	}
	if err != nil {
		lib.Bail(err)
	}
}

func setup(configPath string, debug bool) (*App, error) {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	logConfig := conf.Log
	if debug {
		logConfig.Severity = "debug"
	}
	if err = logger.Setup(logConfig); err != nil {
		return nil, trace.Wrap(err)
	}
	if debug {
		logger.Standard().Debugf("DEBUG logging enabled")
	}

	conf.DiagAddr = os.Getenv("DIAG_ADDR")
	return NewApp(*conf)
}

func login(ctx context.Context, a *App, token, refreshToken string, expiresIn time.Duration) error {
	var err error
	if token == "" {
		if token, err = promptSecret("Access token"); err != nil {
			return trace.Wrap(err)
		}
	}
	if refreshToken == "" {
		if refreshToken, err = promptSecret("Refresh token"); err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(a.Login(ctx, token, refreshToken, expiresIn))
}

func create(ctx context.Context, a *App, message string) error {
	if message == "" {
		var err error
		if message, err = promptText("What should Magic build"); err != nil {
			return trace.Wrap(err)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go lib.ServeSignals(ctx, a, shutdownTimeout)
	return trace.Wrap(a.Create(ctx, message))
}

func start(ctx context.Context, a *App) error {
	if a.conf.DiagAddr == "" {
		a.conf.DiagAddr = DefaultDiagAddr
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go lib.ServeSignals(ctx, a, shutdownTimeout)

	if err := a.Run(ctx); err != nil {
		return trace.Wrap(err)
	}
	logger.Standard().Info("Successfully shut down")
	return nil
}
