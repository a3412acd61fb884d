package statusagent

import _ "embed"

// statusScriptTemplate is the embedded cluster status query script.
//
//go:embed templates/check_status.sh.tmpl
var statusScriptTemplate string
