package dbconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyValueSource is the external configuration source consumed interface
// from spec §6: a "connection_strings" section plus an optional
// dedicated lookup for the default connection name. A YAML file backs
// the reference implementation (FileSource); any other source (env,
// a secrets manager) just needs to satisfy this interface.
type KeyValueSource interface {
	// ConnectionStrings returns the raw "connection_strings" section,
	// logical name -> connection string. May return nil/empty.
	ConnectionStrings() map[string]string
	// ConnectionStringByName performs the dedicated "connection-string"
	// lookup for a single key (e.g. a provider-specific secrets path).
	// ok is false when the source has no opinion on name.
	ConnectionStringByName(name string) (value string, ok bool)
}

// fileDocument is the on-disk shape a FileSource parses.
type fileDocument struct {
	ConnectionStrings map[string]string `yaml:"connectionStrings"`
}

// FileSource reads connection strings from a YAML file, the reference
// KeyValueSource implementation (spec §6's "key/value configuration
// source").
type FileSource struct {
	doc fileDocument
}

// NewFileSource parses path as YAML shaped like:
//
//	connectionStrings:
//	  defaultDatabase: "postgres://..."
//	  reporting: "postgres://..."
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbconfig: read connection string file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dbconfig: parse connection string file: %w", err)
	}
	return &FileSource{doc: doc}, nil
}

func (f *FileSource) ConnectionStrings() map[string]string {
	return f.doc.ConnectionStrings
}

// ConnectionStringByName has no dedicated-key behavior for a plain YAML
// file; every name is already covered by ConnectionStrings.
func (f *FileSource) ConnectionStringByName(string) (string, bool) {
	return "", false
}

// EnvSource resolves connection strings from environment variables
// named "DBEXEC_CONNECTIONSTRINGS__<NAME>", matching the
// double-underscore section-nesting convention used by
// oriys/nova/internal/config's LoadFromEnv.
type EnvSource struct {
	prefix string
}

// NewEnvSource returns an EnvSource using the given variable prefix
// (e.g. "DBEXEC").
func NewEnvSource(prefix string) *EnvSource {
	if prefix == "" {
		prefix = "DBEXEC"
	}
	return &EnvSource{prefix: prefix}
}

func (e *EnvSource) sectionPrefix() string {
	return e.prefix + "_CONNECTIONSTRINGS__"
}

func (e *EnvSource) ConnectionStrings() map[string]string {
	out := map[string]string{}
	prefix := e.sectionPrefix()
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.TrimPrefix(k, prefix)
		if name == "" || strings.TrimSpace(v) == "" {
			continue
		}
		out[name] = v
	}
	return out
}

func (e *EnvSource) ConnectionStringByName(name string) (string, bool) {
	v, ok := os.LookupEnv(e.prefix + "_CONNECTIONSTRING_" + strings.ToUpper(name))
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// LoadConnectionStrings implements the post-configure step from spec
// §4.2: merge the source's "connection_strings" section into opts,
// resolve opts.DefaultConnectionName through the source's dedicated
// lookup when present, and ignore blank values. Keys are matched and
// stored case-insensitively against whatever is already present in
// opts.ConnectionStrings. Idempotent: calling it twice with the same
// source produces the same map.
func LoadConnectionStrings(opts *DbOptions, source KeyValueSource) error {
	if opts.ConnectionStrings == nil {
		opts.ConnectionStrings = map[string]string{}
	}
	for name, value := range source.ConnectionStrings() {
		if strings.TrimSpace(value) == "" {
			continue
		}
		setCaseInsensitive(opts.ConnectionStrings, name, value)
	}
	if opts.DefaultConnectionName != "" {
		if value, ok := source.ConnectionStringByName(opts.DefaultConnectionName); ok && strings.TrimSpace(value) != "" {
			setCaseInsensitive(opts.ConnectionStrings, opts.DefaultConnectionName, value)
		}
	}
	return nil
}

// setCaseInsensitive overwrites the entry matching name case-insensitively
// if one exists, otherwise inserts name as given.
func setCaseInsensitive(m map[string]string, name, value string) {
	for k := range m {
		if strings.EqualFold(k, name) {
			m[k] = value
			return
		}
	}
	m[name] = value
}
