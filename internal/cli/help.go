package cli

import (
	"fmt"
	"sort"
)

// PrintExtendedHelp lists every subcommand
func PrintExtendedHelp() {
	fmt.Println(`hemotrack - hemophilia prophylaxis companion

Usage:
  hemotrack [flags] [command]

Commands:
  serve                     Run the daemon (default)
  onboard                   Run the setup wizard
  status                    Show configuration and daemon health
  login <username>          Open a session with the remote backend
  logout                    Forget the remote session
  export csv <table>        Export one table as CSV
  export xlsx [tables...]   Export tables as an XLSX workbook
  sync [status]             Run one cloud sync pass, or list unsent rows
  reminders next [count]    Preview upcoming reminders
  version                   Print the version

Flags:
  -config <path>            Path to config file
  -data <dir>               Path to data directory

Commands other than serve, status and version open the database
directly and need the daemon to be stopped.`)
}

// PrintExportHelp describes the export command
func PrintExportHelp() {
	fmt.Println(`Usage:
  hemotrack export [-o file] csv <table>
  hemotrack export [-o file] xlsx [tables...]

Tables:
  bleeding_events, infusion_events, reminder_configs, prophylaxis_responses,
  step_counts, weather_samples, heart_rate_samples, blood_oxygen_samples,
  skin_temperature_samples, app_logs, devices

CSV goes to stdout unless -o is given. XLSX defaults to
hemotrack-YYYYMMDD.xlsx in the current directory.`)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
