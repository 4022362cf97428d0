// Package cli implements the hemotrack subcommands
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gmsas95/hemotrack/internal/cloudsync"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/export"
	"github.com/gmsas95/hemotrack/internal/logging"
	"github.com/gmsas95/hemotrack/internal/onboarding"
	"github.com/gmsas95/hemotrack/internal/prophylaxis"
	"github.com/gmsas95/hemotrack/internal/remote"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var Version = "dev"

// Options are the global flags shared by every command
type Options struct {
	ConfigPath string
	DataDir    string
}

// env is what store-backed commands work with
type env struct {
	cfg    *config.Config
	st     *store.Store
	logger *zap.Logger
}

func openEnv(opts Options) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.DataDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(config.LoggingConfig{Level: "warn", Development: cfg.Logging.Development})
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store (stop the daemon first): %w", err)
	}
	return &env{cfg: cfg, st: st, logger: logging.WithStore(logger, st, zap.WarnLevel)}, nil
}

func (e *env) close() {
	e.logger.Sync()
	e.st.Close()
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// HandleOnboardCommand runs the setup wizard and writes the config file
func HandleOnboardCommand(opts Options) {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	dataDir := opts.DataDir
	wizard := onboarding.NewWizard(os.Stdin, os.Stdout, dataDir, logger)
	res, err := wizard.Run()
	exitOnError(err)

	st, err := store.New(res.Config)
	exitOnError(err)
	defer st.Close()

	path, err := onboarding.Save(res, st)
	exitOnError(err)
	exitOnError(onboarding.Summary(os.Stdout, res, path))
}

// HandleLoginCommand opens a session with the remote backend
func HandleLoginCommand(args []string, opts Options) {
	if len(args) < 1 {
		fmt.Println("Usage: hemotrack login <username>")
		os.Exit(1)
	}
	e, err := openEnv(opts)
	exitOnError(err)
	defer e.close()

	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	exitOnError(err)

	client := remote.NewClient(e.cfg.Remote, e.st, e.logger)
	sess, err := client.Login(context.Background(), args[0], string(pw))
	exitOnError(err)
	fmt.Printf("Logged in, session valid until %s\n", sess.Expiry.Local().Format(time.RFC1123))
}

// HandleLogoutCommand forgets the remote session
func HandleLogoutCommand(opts Options) {
	e, err := openEnv(opts)
	exitOnError(err)
	defer e.close()

	exitOnError(remote.NewClient(e.cfg.Remote, e.st, e.logger).Logout())
	fmt.Println("Logged out")
}

// HandleExportCommand writes a CSV table or an XLSX workbook
func HandleExportCommand(args []string, opts Options) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "Output file (csv defaults to stdout)")
	fs.Usage = PrintExportHelp
	fs.Parse(args)

	if fs.NArg() < 1 {
		PrintExportHelp()
		os.Exit(1)
	}
	format, tables := fs.Arg(0), fs.Args()[1:]

	e, err := openEnv(opts)
	exitOnError(err)
	defer e.close()

	path := *out
	if path == "" && format == "xlsx" {
		path = "hemotrack-" + time.Now().Format("20060102") + ".xlsx"
	}

	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		exitOnError(err)
		defer f.Close()
		w = f
	}

	counts, err := runExport(context.Background(), export.NewExporter(e.st, e.logger), format, tables, w)
	exitOnError(err)
	if path != "" {
		fmt.Printf("Wrote %s (%s)\n", path, formatCounts(counts))
	}
}

func runExport(ctx context.Context, exp *export.Exporter, format string, tables []string, w io.Writer) (map[string]int, error) {
	switch format {
	case "csv":
		if len(tables) != 1 {
			return nil, fmt.Errorf("csv export takes exactly one table, one of: %s", strings.Join(exp.Tables(), ", "))
		}
		n, err := exp.WriteCSV(ctx, w, tables[0])
		if err != nil {
			return nil, err
		}
		return map[string]int{tables[0]: n}, nil
	case "xlsx":
		return exp.WriteXLSX(ctx, w, tables)
	}
	return nil, fmt.Errorf("unknown export format %q, use csv or xlsx", format)
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, t := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s: %d", t, counts[t]))
	}
	return strings.Join(parts, ", ")
}

// HandleSyncCommand runs one sync pass or shows what is pending
func HandleSyncCommand(args []string, opts Options) {
	e, err := openEnv(opts)
	exitOnError(err)
	defer e.close()

	if !e.cfg.Sync.Enabled {
		fmt.Println("Sync is disabled. Set sync.enabled in the config file.")
		os.Exit(1)
	}
	mirror, err := cloudsync.NewMirror(e.cfg.Sync, e.logger)
	exitOnError(err)
	w := cloudsync.NewWorker(e.st, mirror, e.cfg.Sync.BatchSize, nil, e.logger)
	defer w.Close()

	ctx := context.Background()
	if len(args) > 0 && args[0] == "status" {
		pending, err := w.Pending(ctx)
		exitOnError(err)
		printPending(os.Stdout, pending)
		return
	}

	report, err := w.Run(ctx)
	if report != nil {
		printReport(os.Stdout, report)
	}
	exitOnError(err)
}

func printPending(out io.Writer, pending map[string]int64) {
	fmt.Fprintln(out, "Unsent rows:")
	for _, t := range sortedKeys(pending) {
		fmt.Fprintf(out, "  %-20s %d\n", t, pending[t])
	}
}

func printReport(out io.Writer, r *cloudsync.Report) {
	fmt.Fprintf(out, "Sync to %s: %d sent, %d failed in %s\n",
		r.Backend, r.Sent, r.Failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, t := range r.Tables {
		if t.Sent > 0 || t.Failed > 0 {
			fmt.Fprintf(out, "  %-20s %d sent, %d failed\n", t.Table, t.Sent, t.Failed)
		}
	}
}

// HandleRemindersCommand previews upcoming reminder instants
func HandleRemindersCommand(args []string, opts Options) {
	if len(args) == 0 || args[0] != "next" {
		fmt.Println("Usage: hemotrack reminders next [count]")
		os.Exit(1)
	}
	n := 5
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 1 || v > 52 {
			fmt.Println("count must be between 1 and 52")
			os.Exit(1)
		}
		n = v
	}

	e, err := openEnv(opts)
	exitOnError(err)
	defer e.close()

	loc, err := e.cfg.Location()
	exitOnError(err)

	var configs []store.ReminderConfig
	for _, mode := range []string{store.ModeWeekly, store.ModeInterval} {
		rc, err := e.st.ReminderByMode(context.Background(), mode)
		exitOnError(err)
		if rc != nil {
			configs = append(configs, *rc)
		}
	}
	exitOnError(printNext(os.Stdout, configs, time.Now(), loc, n))
}

func printNext(out io.Writer, configs []store.ReminderConfig, now time.Time, loc *time.Location, n int) error {
	if len(configs) == 0 {
		fmt.Fprintln(out, "No reminders configured")
		return nil
	}
	for i := range configs {
		rc := &configs[i]
		state := "enabled"
		if !rc.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "%s (%s, %s %d IU):\n", rc.Mode, state, rc.Drug, rc.DoseIU)

		policy, err := prophylaxis.PolicyFromConfig(rc, loc)
		if err != nil {
			return err
		}
		at := now
		for j := 0; j < n; j++ {
			at = policy.Next(at)
			fmt.Fprintf(out, "  %s\n", at.In(loc).Format("Mon 2006-01-02 15:04 MST"))
		}
	}
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	onStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// daemonHealth mirrors the /api/health response
type daemonHealth struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func probeDaemon(ctx context.Context, baseURL string) (*daemonHealth, error) {
	var h daemonHealth
	resp, err := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(3 * time.Second).
		R().
		SetContext(ctx).
		SetResult(&h).
		Get("/api/health")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("health check returned %s", resp.Status())
	}
	return &h, nil
}

func daemonURL(cfg *config.Config) string {
	host := cfg.Server.Address
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// HandleStatusCommand prints the configuration summary and whether the daemon answers
func HandleStatusCommand(opts Options) {
	cfg, err := config.Load(opts.ConfigPath, opts.DataDir)
	exitOnError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := probeDaemon(ctx, daemonURL(cfg))
	renderStatus(os.Stdout, cfg, h, err)
}

func renderStatus(out io.Writer, cfg *config.Config, h *daemonHealth, probeErr error) {
	row := func(label, value string) {
		fmt.Fprintln(out, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value))
	}

	fmt.Fprintln(out, titleStyle.Render("hemotrack "+Version))
	fmt.Fprintln(out)
	row("Config", cfg.Path())
	row("Data", cfg.Storage.DataDir)
	row("API", daemonURL(cfg))
	if probeErr != nil {
		row("Daemon", errStyle.Render("not running"))
	} else {
		row("Daemon", onStyle.Render(fmt.Sprintf("%s, version %s, up %s", h.Status, h.Version, h.Uptime)))
	}
	fmt.Fprintln(out)
	row("Timezone", cfg.Reminders.Timezone)
	row("Telegram", featureStatus(cfg.Channels.Telegram.Enabled)+detail(cfg.Channels.Telegram.Enabled, maskToken(cfg.Channels.Telegram.BotToken)))
	row("Discord", featureStatus(cfg.Channels.Discord.Enabled)+detail(cfg.Channels.Discord.Enabled, maskToken(cfg.Channels.Discord.Token)))
	row("Sync", featureStatus(cfg.Sync.Enabled)+detail(cfg.Sync.Enabled, cfg.Sync.Backend))
	row("Weather", featureStatus(cfg.Weather.Enabled))
	row("Devices", featureStatus(cfg.Device.Enabled)+detail(cfg.Device.Enabled, cfg.Device.Broker))
	row("Log upload", featureStatus(cfg.Remote.LogUploadEnabled))
	if cfg.Security.PasswordHash == "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, errStyle.Render("No API password set. Run: hemotrack onboard"))
	}
}

func featureStatus(enabled bool) string {
	if enabled {
		return onStyle.Render("enabled")
	}
	return offStyle.Render("disabled")
}

func detail(enabled bool, s string) string {
	if !enabled || s == "" {
		return ""
	}
	return " (" + s + ")"
}

// maskToken keeps the first and last four characters of a secret
func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
