package dispatch

import _ "embed"

// submitScriptTemplate is the embedded cluster submission script.
//
//go:embed templates/submit_job.sh.tmpl
var submitScriptTemplate string
