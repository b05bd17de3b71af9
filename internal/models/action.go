package models

// ActionKind names what a fetch step did or would have done
type ActionKind string

const (
	ActionClone         ActionKind = "clone"
	ActionCheckout      ActionKind = "checkout"
	ActionDownload      ActionKind = "download"
	ActionExtract       ActionKind = "extract"
	ActionSBOM          ActionKind = "sbom"
	ActionSkip          ActionKind = "skip"
	ActionUnimplemented ActionKind = "unimplemented"
)

// Action is one logged decision taken while resolving a reference
type Action struct {
	Kind    ActionKind `yaml:"kind"`
	Locator string     `yaml:"locator,omitempty"`
	Target  string     `yaml:"target,omitempty"`
	Detail  string     `yaml:"detail,omitempty"`
	DryRun  bool       `yaml:"dryRun,omitempty"`
}

// Recorder receives actions as they are decided
type Recorder interface {
	Record(Action)
}
