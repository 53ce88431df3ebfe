package config

import (
	"bytes"
	"io"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// EnvPrefix prefixes environment overrides, e.g. URSA_EXCHANGE_WANTTIMEOUT.
const EnvPrefix = "URSA"

// FromFile loads config from a specified file overriding defaults specified
// in the def parameter. If file does not exist or is empty defaults are
// assumed.
func FromFile(path string, def *Root) (*Root, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return FromReader(bytes.NewReader(nil), def)
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance, then applies environment
// overrides.
func FromReader(reader io.Reader, def *Root) (*Root, error) {
	cfg := *def
	if def.Logging.SubsystemLevels != nil {
		cfg.Logging.SubsystemLevels = make(map[string]string, len(def.Logging.SubsystemLevels))
		for k, v := range def.Logging.SubsystemLevels {
			cfg.Logging.SubsystemLevels[k] = v
		}
	}

	if _, err := toml.NewDecoder(reader).Decode(&cfg); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, xerrors.Errorf("processing env vars overrides: %s", err)
	}

	return &cfg, nil
}

var (
	valueLine  = regexp.MustCompile(`(?m)^(\s*)([A-Za-z0-9_"]+ = )`)
	headerLine = regexp.MustCompile(`(?m)^(\s*)\[`)
)

// ConfigComment encodes cfg as TOML with every value commented out, so the
// file documents the defaults without pinning them.
func ConfigComment(cfg interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(cfg); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}

	b := buf.Bytes()
	b = valueLine.ReplaceAll(b, []byte("$1#$2"))
	b = headerLine.ReplaceAll(b, []byte("$1#["))
	return b, nil
}
