// imputectl is a command-line client for genotype-imputation servers. It
// keeps a local registry of known deployments and their reference-panel
// catalogs, and drives the remote job lifecycle: submit, poll, cancel,
// restart, download, plus the admin surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/statgen-tools/imputectl/internal/client"
	"github.com/statgen-tools/imputectl/internal/config"
	"github.com/statgen-tools/imputectl/internal/logging"
	"github.com/statgen-tools/imputectl/internal/registry"
)

const usage = `usage: imputectl [global flags] <command> [args]

Commands:
  job list <server>
  job get <server> <job-id>
  job submit <server> -refpanel <panel> -file <vcf> [flags]
  job cancel <server> <job-id>
  job restart <server> <job-id>
  job download <server> [-download-dir <dir>] <job-id>
  admin login <server> [-username <u>] [-password <p>]
  admin list-users <server>
  admin list-jobs <server> -state <filter> [-state <filter>...]
  admin kill-all <server>
  query server-info <server>
  server show
  server register <id> <url>
  version

Global flags:
  -config <path>      configuration file
  -data-dir <dir>     registry and token file directory (default: data)
  -token-file <path>  explicit token file
  -output <style>     pretty | json | minimal (default: pretty)
  -debug              dump request/response headers and bodies
  -non-interactive    never prompt; fail when no token is available
  -log-level <level>  debug | info | warn | error
  -log-json           JSON log output
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imputectl: %v\n", err)
		os.Exit(1)
	}
}

// app carries the resolved configuration and collaborators through one
// invocation.
type app struct {
	cfg    *config.Config
	creds  *client.CredentialStore
	reg    *registry.Registry
	output string
	out    io.Writer
}

func run() error {
	globals := flag.NewFlagSet("imputectl", flag.ExitOnError)
	globals.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	var (
		configFile     = globals.String("config", "", "Path to configuration file")
		dataDir        = globals.String("data-dir", "", "Directory for the server registry and token files")
		tokenFile      = globals.String("token-file", "", "Path to a text file containing the authentication token")
		output         = globals.String("output", "pretty", "Output format: pretty, json, or minimal")
		debug          = globals.Bool("debug", false, "Activates additional debug printing")
		nonInteractive = globals.Bool("non-interactive", false, "Never prompt for credentials")
		logLevel       = globals.String("log-level", "", "Log level: debug, info, warn, error")
		logJSON        = globals.Bool("log-json", false, "Output logs in JSON format")
	)
	if err := globals.Parse(os.Args[1:]); err != nil {
		return err
	}

	args := globals.Args()
	if len(args) == 0 {
		globals.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(&config.Config{
		ConfigFile:     *configFile,
		DataDir:        *dataDir,
		TokenFile:      *tokenFile,
		Debug:          *debug,
		NonInteractive: *nonInteractive,
		LogLevel:       *logLevel,
		LogJSON:        *logJSON,
	})
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogJSON)

	creds := client.NewCredentialStore(cfg.DataDir, cfg.TokenFile, !cfg.NonInteractive)
	a := &app{
		cfg:    cfg,
		creds:  creds,
		output: *output,
		out:    os.Stdout,
	}
	a.reg = registry.NewRegistry(cfg.DataDir, &catalogSource{app: a})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch args[0] {
	case "job":
		return a.runJob(ctx, args[1:])
	case "admin":
		return a.runAdmin(ctx, args[1:])
	case "query":
		return a.runQuery(ctx, args[1:])
	case "server":
		return a.runServer(ctx, args[1:])
	case "version":
		fmt.Printf("imputectl version %s\n", client.Version)
		return nil
	default:
		globals.Usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// catalogSource adapts the API client to the registry's refresh interface.
type catalogSource struct {
	app *app
}

func (s *catalogSource) ListRefpanels(ctx context.Context, server *registry.Server) ([]registry.CatalogEntry, error) {
	c := s.app.newClient(server, false)
	raw, err := c.ListRefpanels(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]registry.CatalogEntry, 0, len(raw))
	for _, entry := range raw {
		converted := registry.CatalogEntry{
			ID:          entry.ID,
			DisplayName: entry.DisplayName,
		}
		for _, pop := range entry.Populations {
			converted.Populations = append(converted.Populations, registry.Population{
				ID:          pop.ID,
				DisplayName: pop.DisplayName,
			})
		}
		entries = append(entries, converted)
	}
	return entries, nil
}

func (a *app) newClient(server *registry.Server, admin bool) *client.Client {
	opts := []client.Option{}
	if admin {
		opts = append(opts, client.WithAdmin())
	}
	if a.cfg.Debug {
		opts = append(opts, client.WithDebug())
	}
	return client.New(server.ID, server.URL, a.creds, opts...)
}

// resolveServer looks a server up by name and refreshes a stale catalog.
func (a *app) resolveServer(ctx context.Context, name string) (*registry.Server, error) {
	server, err := a.reg.GetServer(name)
	if err != nil {
		return nil, err
	}
	if _, err := a.reg.MaybeRefresh(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

func (a *app) runJob(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: imputectl job <list|get|submit|cancel|restart|download> <server> ...")
	}
	sub, serverName, rest := args[0], args[1], args[2:]

	server, err := a.resolveServer(ctx, serverName)
	if err != nil {
		return err
	}
	c := a.newClient(server, false)

	switch sub {
	case "list":
		jobs, err := c.ListJobs(ctx)
		if err != nil {
			return err
		}
		return a.render(jobs)
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: imputectl job get <server> <job-id>")
		}
		job, err := c.GetJob(ctx, rest[0])
		if err != nil {
			return err
		}
		return a.render(job)
	case "cancel":
		if len(rest) != 1 {
			return fmt.Errorf("usage: imputectl job cancel <server> <job-id>")
		}
		job, err := c.CancelJob(ctx, rest[0])
		if err != nil {
			return err
		}
		return a.render(job)
	case "restart":
		if len(rest) != 1 {
			return fmt.Errorf("usage: imputectl job restart <server> <job-id>")
		}
		result, err := c.RestartJob(ctx, rest[0])
		if err != nil {
			return err
		}
		return a.render(result)
	case "submit":
		return a.runSubmit(ctx, server, c, rest)
	case "download":
		fs := flag.NewFlagSet("job download", flag.ExitOnError)
		downloadDir := fs.String("download-dir", ".", "Directory used for file downloads")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: imputectl job download <server> [-download-dir <dir>] <job-id>")
		}
		files, err := c.Download(ctx, *downloadDir, fs.Arg(0), nil)
		if err != nil {
			return err
		}
		return a.render(files)
	default:
		return fmt.Errorf("unknown job subcommand: %s", sub)
	}
}

func (a *app) runSubmit(ctx context.Context, server *registry.Server, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("job submit", flag.ExitOnError)
	var files stringList
	fs.Var(&files, "file", "VCF file to upload; repeat for a multi-file upload")
	var (
		refpanel   = fs.String("refpanel", "", "Reference panel used for imputation")
		population = fs.String("population", "off", "Reference population for the allele frequency check")
		jobName    = fs.String("name", "", "Optional name for this job")
		build      = fs.String("build", "", "Data format (hg19 or hg38)")
		r2Filter   = fs.Float64("r2-filter", -1, "rsq filter (negative = unset)")
		phasing    = fs.String("phasing", "", "Phasing engine (eagle, beagle, no_phasing)")
		mode       = fs.String("mode", "", "imputation or qc_only")
		aes        = fs.Bool("aes-encryption", false, "Use AES 256 encryption for results")
		metaFile   = fs.Bool("meta-file", false, "Generate a meta-imputation file")
		password   = fs.String("password", "", "Enforce this password for result encryption")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *refpanel == "" || len(files) == 0 {
		return fmt.Errorf("job submit requires -refpanel and at least one -file")
	}

	panel, err := server.GetRefpanel(*refpanel)
	if err != nil {
		return err
	}
	pop, err := panel.GetPopulation(*population)
	if err != nil {
		return err
	}

	submission := client.JobSubmission{
		Refpanel:   panel.ID,
		Population: pop.ID,
		Files:      files,
		JobName:    *jobName,
		Build:      *build,
		Phasing:    *phasing,
		Mode:       *mode,
		Password:   *password,
	}
	if *r2Filter >= 0 {
		submission.R2Filter = r2Filter
	}
	if *aes {
		submission.AESEncryption = aes
	}
	if *metaFile {
		submission.MetaFile = metaFile
	}

	result, err := c.SubmitJob(ctx, submission, nil)
	if err != nil {
		return err
	}
	return a.render(result)
}

func (a *app) runAdmin(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: imputectl admin <login|list-users|list-jobs|kill-all> <server> ...")
	}
	sub, serverName, rest := args[0], args[1], args[2:]

	server, err := a.resolveServer(ctx, serverName)
	if err != nil {
		return err
	}
	c := a.newClient(server, true)

	switch sub {
	case "login":
		fs := flag.NewFlagSet("admin login", flag.ExitOnError)
		username := fs.String("username", "", "Username for the admin account")
		password := fs.String("password", "", "Password for the admin account")
		if err := fs.Parse(rest); err != nil {
			return err
		}

		user, pass := *username, *password
		if user == "" || pass == "" {
			user, pass, err = a.creds.PromptLogin()
			if err != nil {
				return err
			}
		}
		login, err := c.AdminLogin(ctx, user, pass)
		if err != nil {
			return err
		}
		if err := a.creds.StoreToken(server.ID, true, login.AccessToken); err != nil {
			return err
		}
		// The token itself stays out of the rendered output.
		login.AccessToken = ""
		return a.render(login)
	case "list-users":
		users, err := c.AdminListUsers(ctx)
		if err != nil {
			return err
		}
		return a.render(users)
	case "list-jobs":
		fs := flag.NewFlagSet("admin list-jobs", flag.ExitOnError)
		var states stringList
		fs.Var(&states, "state", "Job state filter (running-ltq, current, retired); repeatable")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if len(states) == 0 {
			return fmt.Errorf("admin list-jobs requires at least one -state filter")
		}
		filters := make([]client.ListState, len(states))
		for i, s := range states {
			filters[i] = client.ListState(s)
		}
		jobs, err := c.AdminListJobs(ctx, filters)
		if err != nil {
			return err
		}
		return a.render(jobs)
	case "kill-all":
		result, err := c.AdminKillAll(ctx)
		if err != nil {
			return err
		}
		return a.render(result)
	default:
		return fmt.Errorf("unknown admin subcommand: %s", sub)
	}
}

func (a *app) runQuery(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: imputectl query server-info <server>")
	}
	sub, serverName := args[0], args[1]

	server, err := a.resolveServer(ctx, serverName)
	if err != nil {
		return err
	}
	c := a.newClient(server, false)

	switch sub {
	case "server-info":
		info, err := c.GetServerInfo(ctx)
		if err != nil {
			return err
		}
		return a.render(info)
	default:
		return fmt.Errorf("unknown query subcommand: %s", sub)
	}
}

func (a *app) runServer(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: imputectl server <show|register> ...")
	}

	switch args[0] {
	case "show":
		servers, err := a.reg.GetAllServers()
		if err != nil {
			return err
		}
		out := make(map[string]any, len(servers))
		for id, server := range servers {
			out[id] = serverView(server)
		}
		return a.render(out)
	case "register":
		if len(args) != 3 {
			return fmt.Errorf("usage: imputectl server register <id> <url>")
		}
		server, err := a.reg.RegisterServer(args[1], args[2])
		if err != nil {
			return err
		}
		return a.render(serverView(server))
	default:
		return fmt.Errorf("unknown server subcommand: %s", args[0])
	}
}

// serverView flattens a registry server for display.
func serverView(server *registry.Server) map[string]any {
	panels := make(map[string]any, len(server.Refpanels))
	for id, panel := range server.Refpanels {
		populations := make(map[string]string, len(panel.Populations))
		for _, pop := range panel.Populations {
			populations[pop.ID] = pop.DisplayName
		}
		panels[id] = map[string]any{
			"aliases":     panel.Aliases,
			"populations": populations,
		}
	}
	return map[string]any{
		"url":          server.URL,
		"aliases":      server.Aliases,
		"last-updated": server.LastUpdated,
		"refpanels":    panels,
	}
}

// render is the single presentation dispatch for all command results.
func (a *app) render(v any) error {
	switch a.output {
	case "minimal":
		return a.renderMinimal(v)
	case "json", "pretty":
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to render result: %w", err)
		}
		fmt.Fprintln(a.out, string(data))
		return nil
	default:
		return fmt.Errorf("unknown output style: %s", a.output)
	}
}

// renderMinimal prints a one-line essential form per result: ids and states
// for jobs, paths for downloads, counts for the kill sweep. Anything else
// falls back to compact JSON.
func (a *app) renderMinimal(v any) error {
	switch r := v.(type) {
	case *client.Job:
		fmt.Fprintf(a.out, "%s %s\n", r.ID, r.State)
	case []client.Job:
		for _, job := range r {
			fmt.Fprintf(a.out, "%s %s\n", job.ID, job.State)
		}
	case client.SubmitResult:
		if r.ID != "" {
			fmt.Fprintln(a.out, r.ID)
		} else {
			fmt.Fprintf(a.out, "success=%t %s\n", r.Success, r.Message)
		}
	case []client.DownloadedFile:
		for _, file := range r {
			fmt.Fprintln(a.out, file.Path)
		}
	case client.KillAllResult:
		fmt.Fprintf(a.out, "killed=%d failed=%d\n", len(r.Killed), len(r.Failed))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to render result: %w", err)
		}
		fmt.Fprintln(a.out, string(data))
	}
	return nil
}

// stringList collects repeatable flag values.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}
