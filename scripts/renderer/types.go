package renderer

// TemplateName represents a known template filename.
type TemplateName string

// Constants for known template filenames.
const (
	TplLayerBundle TemplateName = "layer_bundle.sh.tmpl"
	TplReport      TemplateName = "report.md.tmpl"
)

// LayerBundleData holds the data required by the TplLayerBundle template.
type LayerBundleData struct {
	InputDir  string
	OutputDir string
	// Files restricts the copy to these paths, relative to InputDir. Empty copies everything.
	Files []string
}

// HandlerResult is one row of the session report.
type HandlerResult struct {
	Name        string
	FunctionARN string
	Payload     string
	Error       string
}

// ReportData holds the data required by the TplReport template.
type ReportData struct {
	Stack    string
	Region   string
	Uploaded int
	Handlers []HandlerResult
}
