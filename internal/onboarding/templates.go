package onboarding

// SetupWizardWelcome is shown before the first question
const SetupWizardWelcome = `
╔════════════════════════════════════════════════════════════════╗
║                    Welcome to hemotrack                        ║
╚════════════════════════════════════════════════════════════════╝

hemotrack reminds you of prophylactic infusions, records bleeds and
infusions, and keeps an optional copy of your diary in the cloud.

This wizard writes a configuration file and records which features
you allow. Every answer can be changed later in the config file or
through the API.

Press Enter to continue...`

// SetupCompleteMessage is rendered with text/template once the config is written
const SetupCompleteMessage = `
╔════════════════════════════════════════════════════════════════╗
║                      Setup complete                            ║
╚════════════════════════════════════════════════════════════════╝

Data directory:  {{.DataDir}}
Config file:     {{.ConfigPath}}
Reminder zone:   {{.Timezone}}
Exact alarms:    {{if .ExactAlarms}}allowed{{else}}denied{{end}}
{{- if .Telegram}}
Telegram:        enabled
{{- end}}

Next steps:
  hemotrack serve            start the daemon
  hemotrack status           check that it is running

Configure your infusion schedule with:
  PUT /api/reminders/weekly  or  PUT /api/reminders/interval
`
