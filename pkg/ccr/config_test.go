package ccr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	require.Equal(t, "http://chakra-project.org/ccr/rpc.php", config.RpcUrl())
	require.Equal(t, "http://chakra-project.org/ccr/packages.php", config.PackagesUrl())
	require.Equal(t, "http://chakra-project.org/ccr/pkgsubmit.php", config.SubmitUrl())
	require.Len(t, config.Categories, 19)
}

func TestWithDefaults(t *testing.T) {
	config, err := Config{
		BaseUrl:    "https://ccr.example.org/",
		Categories: map[string]int{"testing": 20},
	}.WithDefaults()
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	require.Equal(t, "https://ccr.example.org/", config.BaseUrl)
	require.Equal(t, "rpc.php", config.RpcPath)
	require.Equal(t, DefaultSessionCookie, config.SessionCookie)
	require.Equal(t, 30, config.TimeoutSeconds)
	require.Equal(t, float64(2), config.RequestsPerSecond)

	id, err := config.CategoryID("testing")
	require.NoError(t, err)
	require.Equal(t, 20, id)
	id, err = config.CategoryID("kde")
	require.NoError(t, err)
	require.Equal(t, 9, id)

	// the receiver is left alone
	original := Config{Categories: map[string]int{"a": 1}}
	_, err = original.WithDefaults()
	require.NoError(t, err)
	require.Len(t, original.Categories, 1)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "no base url", mutate: func(c *Config) { c.BaseUrl = "" }},
		{name: "not a url", mutate: func(c *Config) { c.BaseUrl = "chakra-project.org" }},
		{name: "wrong scheme", mutate: func(c *Config) { c.BaseUrl = "ftp://chakra-project.org/ccr/" }},
		{name: "no rpc path", mutate: func(c *Config) { c.RpcPath = "" }},
		{name: "no cookie", mutate: func(c *Config) { c.SessionCookie = "" }},
		{name: "negative timeout", mutate: func(c *Config) { c.TimeoutSeconds = -1 }},
		{name: "no categories", mutate: func(c *Config) { c.Categories = nil }},
		{name: "bad category id", mutate: func(c *Config) { c.Categories["broken"] = 0 }},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultConfig()
			test.mutate(&config)
			require.Error(t, config.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccr.json5")

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte(`{
		base_url: "http://localhost:8080/ccr",
		requests_per_second: 5,
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ccr.local.json5"), []byte(`{
		session_cookie: "CCRSID",
		categories: { testing: 20 },
	}`), 0600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/ccr", config.BaseUrl)
	require.Equal(t, "http://localhost:8080/ccr/rpc.php", config.RpcUrl())
	require.Equal(t, float64(5), config.RequestsPerSecond)
	require.Equal(t, "CCRSID", config.SessionCookie)
	require.Equal(t, "packages.php", config.PackagesPath)
	require.Contains(t, config.Categories, "testing")
	require.Contains(t, config.Categories, "lib32")

	require.NoError(t, os.WriteFile(path, []byte(`{ base_url: "ftp://nope/" }`), 0600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "packages", "cdrtools")
	require.NoError(t, os.MkdirAll(nested, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ccr_find_test.json5"), []byte(`{
		base_url: "https://ccr.example.org/",
		otlp: { http_endpoint: "http://127.0.0.1:4318" },
	}`), 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	config, err := FindConfig("ccr_find_test.json5")
	require.NoError(t, err)
	require.Equal(t, "https://ccr.example.org/", config.BaseUrl)
	require.Equal(t, "rpc.php", config.RpcPath)
	require.True(t, config.Otlp.Enabled())
	require.Equal(t, "http://127.0.0.1:4318", config.Otlp.HttpEndpoint)

	_, err = FindConfig("ccr_definitely_missing.json5")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestUrlHelpers(t *testing.T) {
	config := DefaultConfig()
	base := DefaultBaseUrl

	require.Equal(t, base+"packages/cd/cdrtools/cdrtools.tar.gz", config.SourceUrl("cdrtools"))
	require.Equal(t, base+"pkgbuild_view.php?p=cdrtools", config.PkgbuildViewUrl("cdrtools"))
	require.Equal(t, base+"packages/cd/cdrtools/cdrtools/PKGBUILD", config.PkgbuildRawUrl("cdrtools"))
	require.Equal(t, base+"packages/ls/ls++-git/ls++-git/ls++.install", config.FileRawUrl("ls++-git", "ls++.install"))
	require.Equal(t, base+"packages/x/x/x.tar.gz", config.SourceUrl("x"))
	require.Equal(t, base+"packages.php?ID=2745", config.PackagePageUrl("2745"))

	config.BaseUrl = "http://localhost/ccr"
	require.Equal(t, "http://localhost/ccr/packages.php?ID=3870", config.PackagePageUrl("3870"))
}

func TestCategories(t *testing.T) {
	config := DefaultConfig()

	id, err := config.CategoryID("lib32")
	require.NoError(t, err)
	require.Equal(t, 19, id)

	_, err = config.CategoryID("kde4")
	require.ErrorIs(t, err, ErrUnknownCategory)

	name, ok := config.CategoryName("9")
	require.True(t, ok)
	require.Equal(t, "kde", name)
	_, ok = config.CategoryName("99")
	require.False(t, ok)
	_, ok = config.CategoryName("nine")
	require.False(t, ok)

	names := config.CategoryNames()
	require.Len(t, names, 19)
	require.Equal(t, "none", names[0])
	require.Equal(t, "lib32", names[18])
}
