package constants

import "time"

const (
	Version        = `0.1.0`
	AppName        = `quill`
	ConfigFile     = `config`
	ConfigFileType = `yaml`
	ConfigDir      = `/.quill/`
	EnvPrefix      = `QUILL`

	// DefaultVolumeName is reserved for the default workspace root.
	DefaultVolumeName = `workspace`
	DefaultWorkspace  = `./workspace`
	DefaultAddr       = `:3001`

	// MaxFilenameBytes is the common filesystem limit for a single path segment.
	MaxFilenameBytes = 255
	MarkdownExt      = `.md`
	UntitledPrefix   = `Untitled`

	DefaultAutosaveDelay   = time.Second
	DefaultAutoRenameDelay = 1500 * time.Millisecond
	FlashDuration          = 1200 * time.Millisecond
)

// ImageTypes is the allow-list of image extensions served and imported
// alongside documents.
var ImageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".ico":  "image/x-icon",
}
