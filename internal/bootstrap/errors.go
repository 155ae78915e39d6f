package bootstrap

import "fmt"

// TemplateReadError indicates the baseline configuration template could not
// be read. The baseline is required, so this is fatal to startup.
type TemplateReadError struct {
	Path string
	Err  error
}

func (e *TemplateReadError) Error() string {
	return fmt.Sprintf("read config template %s: %v", e.Path, e.Err)
}

func (e *TemplateReadError) Unwrap() error { return e.Err }

// ConfigMergeError indicates the baseline and user startup configuration
// could not be combined into a single artifact.
type ConfigMergeError struct {
	Path string
	Err  error
}

func (e *ConfigMergeError) Error() string {
	return fmt.Sprintf("merge startup config %s: %v", e.Path, e.Err)
}

func (e *ConfigMergeError) Unwrap() error { return e.Err }

// ConfigDiskBuildError indicates the image builder rejected the merged
// artifact. This points at malformed configuration, not a transient
// condition, so it is never retried.
type ConfigDiskBuildError struct {
	ImagePath string
	Err       error
}

func (e *ConfigDiskBuildError) Error() string {
	return fmt.Sprintf("build config disk %s: %v", e.ImagePath, e.Err)
}

func (e *ConfigDiskBuildError) Unwrap() error { return e.Err }
