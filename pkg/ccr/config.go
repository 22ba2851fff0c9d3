package ccr

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"ccr-client/internal/components/configutil"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultBaseUrl       = "http://chakra-project.org/ccr/"
	DefaultSessionCookie = "AURSID"
	DefaultUserAgent     = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Config holds every endpoint and table the client needs. Unset fields are filled in from
// DefaultConfig by WithDefaults and LoadConfig.
type Config struct {
	// BaseUrl is the root of the CCR, all other paths are relative to it.
	BaseUrl       string `json:"base_url" validate:"required,url"`
	RpcPath       string `json:"rpc_path" validate:"required"`
	PackagesPath  string `json:"packages_path" validate:"required"`
	SubmitPath    string `json:"submit_path" validate:"required"`
	SessionCookie string `json:"session_cookie" validate:"required"`
	UserAgent     string `json:"user_agent"`

	TimeoutSeconds int `json:"timeout_seconds" validate:"gte=0"`
	// RequestsPerSecond limits outgoing requests per client, a negative value disables the
	// limiter.
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`

	// Categories maps category names to the ids the service uses, entries given here are
	// merged over the default table.
	Categories map[string]int `json:"categories" validate:"required,dive,keys,required,endkeys,gt=0"`

	// DumpDir, when set, receives the full text of every HTTP exchange.
	DumpDir string `json:"dump_dir"`

	// Otlp is where SetupTelemetry exports report metrics, no endpoint means log/slog only.
	Otlp OtlpConfig `json:"otlp"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:           DefaultBaseUrl,
		RpcPath:           "rpc.php",
		PackagesPath:      "packages.php",
		SubmitPath:        "pkgsubmit.php",
		SessionCookie:     DefaultSessionCookie,
		UserAgent:         DefaultUserAgent,
		TimeoutSeconds:    30,
		RequestsPerSecond: 2,
		Categories:        DefaultCategories(),
	}
}

// WithDefaults returns a copy of `c` with every zero field taken from DefaultConfig.
func (c Config) WithDefaults() (Config, error) {
	out := c
	out.Categories = make(map[string]int, len(c.Categories))
	for name, id := range c.Categories {
		out.Categories[name] = id
	}
	err := mergo.Merge(&out, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}
	return out, nil
}

func (c Config) Validate() error {
	validate := validator.New()
	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid ccr config: %w", err)
	}
	parsed, err := url.Parse(c.BaseUrl)
	if err != nil {
		return fmt.Errorf("invalid ccr config: base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid ccr config: base_url must be http or https, got %q", parsed.Scheme)
	}
	return nil
}

// LoadConfig reads a json5 config file (and its .local override), fills in defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, fmt.Errorf("read ccr config: %w", err)
	}
	return completeConfig(config)
}

// FindConfig is LoadConfig for the first file called `name` in the working directory or any
// of its parents.
func FindConfig(name string) (Config, error) {
	config, err := configutil.ReadRecursively[Config](name)
	if err != nil {
		return Config{}, fmt.Errorf("find ccr config %s: %w", name, err)
	}
	return completeConfig(config)
}

func completeConfig(config Config) (Config, error) {
	config, err := config.WithDefaults()
	if err != nil {
		return Config{}, err
	}
	err = config.Validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) base() string {
	if strings.HasSuffix(c.BaseUrl, "/") {
		return c.BaseUrl
	}
	return c.BaseUrl + "/"
}

func (c Config) RpcUrl() string {
	return c.base() + c.RpcPath
}

func (c Config) PackagesUrl() string {
	return c.base() + c.PackagesPath
}

func (c Config) SubmitUrl() string {
	return c.base() + c.SubmitPath
}

// PackagePageUrl is the page of the package with the given id.
func (c Config) PackagePageUrl(id string) string {
	return c.PackagesUrl() + "?ID=" + url.QueryEscape(id)
}

// packageDir is "packages/<first two letters>/<name>/", where the service keeps uploads.
func (c Config) packageDir(name string) string {
	prefix := name
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return c.base() + "packages/" + prefix + "/" + name + "/"
}

// SourceUrl is the uploaded source tarball of a package.
func (c Config) SourceUrl(name string) string {
	return c.packageDir(name) + name + ".tar.gz"
}

// PkgbuildViewUrl is the html PKGBUILD viewer of a package.
func (c Config) PkgbuildViewUrl(name string) string {
	return c.base() + "pkgbuild_view.php?p=" + name
}

func (c Config) PkgbuildRawUrl(name string) string {
	return c.FileRawUrl(name, "PKGBUILD")
}

// FileRawUrl is any file from the extracted source tarball of a package, like a .install.
func (c Config) FileRawUrl(name, file string) string {
	return c.packageDir(name) + name + "/" + file
}
