// Package onboarding runs the first-run setup wizard
package onboarding

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const minPasswordLen = 8

// PermissionSetter persists the answers to the permission questions
type PermissionSetter interface {
	SetPermissions(p store.Permissions) error
}

// Wizard handles the interactive setup process
type Wizard struct {
	in      io.Reader
	reader  *bufio.Reader
	out     io.Writer
	logger  *zap.Logger
	dataDir string
}

// Result holds everything collected during setup
type Result struct {
	Config      *config.Config
	Permissions store.Permissions
}

// NewWizard creates a setup wizard reading answers from in. dataDir may be
// empty, in which case the first question asks for it.
func NewWizard(in io.Reader, out io.Writer, dataDir string, logger *zap.Logger) *Wizard {
	return &Wizard{
		in:      in,
		reader:  bufio.NewReader(in),
		out:     out,
		logger:  logger,
		dataDir: dataDir,
	}
}

// Run asks every question and returns the resulting configuration. Nothing is
// written until Save.
func (w *Wizard) Run() (*Result, error) {
	fmt.Fprint(w.out, SetupWizardWelcome)
	w.readLine()

	dataDir := w.dataDir
	if dataDir == "" {
		dataDir = w.ask("Where should hemotrack store its data?", config.DefaultDataDir())
	}

	cfg, err := config.Load(config.DefaultConfigPath(dataDir), dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	w.section("Step 1: API password")
	hash, err := w.askPassword()
	if err != nil {
		return nil, err
	}
	cfg.Security.PasswordHash = hash

	w.section("Step 2: Reminders")
	for {
		tz := w.ask("Time zone for reminders (IANA name)", cfg.Reminders.Timezone)
		if _, err := time.LoadLocation(tz); err != nil && tz != "Local" {
			fmt.Fprintf(w.out, "Unknown time zone %q\n", tz)
			continue
		}
		cfg.Reminders.Timezone = tz
		break
	}
	cfg.Reminders.LogInfusionOnYes = w.confirm("Log an infusion when you answer Yes to a reminder?", cfg.Reminders.LogInfusionOnYes)

	w.section("Step 3: Permissions")
	perms := store.Permissions{
		ExactAlarms:   w.confirm("Allow exact alarms for reminders?", true),
		Notifications: w.confirm("Allow notifications?", true),
		HealthData:    w.confirm("Allow step data from the health service?", false),
		Bluetooth:     w.confirm("Allow sensor devices?", false),
	}
	cfg.Reminders.ExactAlarms = perms.ExactAlarms

	w.section("Step 4: Optional integrations")
	if w.confirm("Enable Telegram reminders?", false) {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.BotToken = w.ask("Telegram bot token", "")
		for {
			id, err := strconv.ParseInt(w.ask("Telegram chat id", ""), 10, 64)
			if err == nil && id != 0 {
				cfg.Channels.Telegram.ChatID = id
				break
			}
			fmt.Fprintln(w.out, "Chat id must be a non-zero number")
		}
	}
	if url := w.ask("Cloud sync base URL (empty to skip)", ""); url != "" {
		cfg.Sync.Enabled = true
		cfg.Sync.Backend = "rest"
		cfg.Sync.REST.BaseURL = url
	}

	return &Result{Config: cfg, Permissions: perms}, nil
}

// Save writes the config file and stores the permissions
func Save(r *Result, perms PermissionSetter) (string, error) {
	path := r.Config.Path()
	if path == "" {
		path = config.DefaultConfigPath(r.Config.Storage.DataDir)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(r.Config)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	header := fmt.Sprintf("# hemotrack configuration\n# Generated on %s\n\n", time.Now().Format("2006-01-02"))
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}

	if err := perms.SetPermissions(r.Permissions); err != nil {
		return "", fmt.Errorf("failed to store permissions: %w", err)
	}
	return path, nil
}

// Summary renders the completion message for r
func Summary(out io.Writer, r *Result, configPath string) error {
	tmpl, err := template.New("complete").Parse(SetupCompleteMessage)
	if err != nil {
		return err
	}
	return tmpl.Execute(out, map[string]interface{}{
		"DataDir":     r.Config.Storage.DataDir,
		"ConfigPath":  configPath,
		"Timezone":    r.Config.Reminders.Timezone,
		"ExactAlarms": r.Permissions.ExactAlarms,
		"Telegram":    r.Config.Channels.Telegram.Enabled,
	})
}

func (w *Wizard) section(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, title)
	fmt.Fprintln(w.out, strings.Repeat("=", len(title)))
}

func (w *Wizard) readLine() string {
	line, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (w *Wizard) ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	if answer := w.readLine(); answer != "" {
		return answer
	}
	return def
}

func (w *Wizard) confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(w.out, "%s (%s): ", question, hint)
	switch strings.ToLower(w.readLine()) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}

// readSecret reads without echo on a terminal and falls back to a plain line
func (w *Wizard) readSecret(prompt string) string {
	fmt.Fprint(w.out, prompt)
	if f, ok := w.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(w.out)
		if err != nil {
			w.logger.Warn("Failed to read password", zap.Error(err))
			return ""
		}
		return string(b)
	}
	return w.readLine()
}

func (w *Wizard) askPassword() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		pw := w.readSecret("Choose a password for the local API: ")
		if len(pw) < minPasswordLen {
			fmt.Fprintf(w.out, "Password must be at least %d characters\n", minPasswordLen)
			continue
		}
		if w.readSecret("Repeat the password: ") != pw {
			fmt.Fprintln(w.out, "Passwords do not match")
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(hash), nil
	}
	return "", fmt.Errorf("no valid password after 3 attempts")
}

// CheckFirstRun reports whether dataDir has no config file yet
func CheckFirstRun(dataDir string) bool {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	_, err := os.Stat(config.DefaultConfigPath(dataDir))
	return os.IsNotExist(err)
}
