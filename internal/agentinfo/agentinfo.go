package agentinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile is the plugin manifest shipped next to the binary.
	ManifestFile = "agent.yaml"
	// EnvManifest names a manifest to use instead of searching for one.
	EnvManifest = "JKOOL_STREAMER_MANIFEST"
)

// Metadata captures static identifiers for the streamer.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	Version     string
}

// Builtin identifies builds that run without a manifest, such as go run or
// go install.
var Builtin = Metadata{
	Name:        "jKool Log Streamer",
	BinaryName:  "jkool-stream",
	Slug:        "jkool-log-streamer",
	Description: "Streams structured slog events to the jKool collector",
	Version:     "dev",
}

// Info describes the current streamer. InfoErr holds the reason Info fell
// back to Builtin after a manifest was found but could not be used.
var Info, InfoErr = defaultResolver().Resolve()

// Version returns the streamer semantic version.
func Version() string {
	return Info.Version
}

// UserAgent is sent with every HTTP request to the collector.
func UserAgent() string {
	return Info.Slug + "/" + Info.Version
}

// ClientID returns a fresh MQTT client identifier. Brokers drop the older
// session when two clients share an id, so every call is unique.
func ClientID() string {
	// MQTT 3.1 brokers may reject ids longer than 23 bytes.
	prefix := Info.Slug
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}

// Resolver locates and decodes the streamer manifest. Tests can override
// Lookup and ReadFile the same way as with config.Loader.
type Resolver struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
	// Dirs are searched in order for ManifestFile.
	Dirs []string
}

func defaultResolver() Resolver {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return Resolver{Lookup: os.LookupEnv, ReadFile: os.ReadFile, Dirs: dirs}
}

// Resolve returns the metadata of the manifest named by EnvManifest or, when
// unset, of the first ManifestFile found in Dirs. Without any manifest it
// returns Builtin. On error Builtin is returned alongside it.
func (r Resolver) Resolve() (Metadata, error) {
	if r.Lookup == nil {
		r.Lookup = os.LookupEnv
	}
	if r.ReadFile == nil {
		r.ReadFile = os.ReadFile
	}

	if path, ok := r.Lookup(EnvManifest); ok && strings.TrimSpace(path) != "" {
		return r.decode(strings.TrimSpace(path))
	}
	for _, dir := range r.Dirs {
		path := filepath.Join(dir, ManifestFile)
		meta, err := r.decode(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return meta, err
	}
	return Builtin, nil
}

func (r Resolver) decode(path string) (Metadata, error) {
	data, err := r.ReadFile(path)
	if err != nil {
		return Builtin, fmt.Errorf("agentinfo: read %s: %w", path, err)
	}
	meta, err := parseManifest(data)
	if err != nil {
		return Builtin, fmt.Errorf("agentinfo: %s: %w", path, err)
	}
	return meta, nil
}

type manifestDocument struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Slug        string `yaml:"slug"`
		Description string `yaml:"description"`
		Version     string `yaml:"version"`
	} `yaml:"metadata"`
	Spec struct {
		Entrypoint struct {
			Command string `yaml:"command"`
		} `yaml:"entrypoint"`
	} `yaml:"spec"`
}

func parseManifest(data []byte) (Metadata, error) {
	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("decode manifest: %w", err)
	}

	meta := Metadata{
		Name:        strings.TrimSpace(doc.Metadata.Name),
		Slug:        strings.TrimSpace(doc.Metadata.Slug),
		Description: strings.TrimSpace(doc.Metadata.Description),
		Version:     strings.TrimSpace(doc.Metadata.Version),
	}

	if meta.Version == "" {
		return Metadata{}, errors.New("metadata.version missing")
	}
	if meta.Slug == "" {
		return Metadata{}, errors.New("metadata.slug missing")
	}
	if meta.Name == "" {
		meta.Name = meta.Slug
	}
	if meta.Description == "" {
		meta.Description = meta.Name
	}

	meta.BinaryName = strings.TrimPrefix(strings.TrimSpace(doc.Spec.Entrypoint.Command), "./")
	if meta.BinaryName == "" {
		meta.BinaryName = meta.Slug
	}

	return meta, nil
}
