package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Search struct {
		Threshold float64 `mapstructure:"threshold"`
		Limit     int     `mapstructure:"limit"`
	} `mapstructure:"search"`
	Mongo struct {
		URI string `mapstructure:"uri"`
	} `mapstructure:"mongodb"`

	completed bool
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("search")
	fs.Float64Var(&o.Search.Threshold, "search.threshold", 0.3, "threshold")
	fs.IntVar(&o.Search.Limit, "search.limit", 5, "limit")
	fss.FlagSet("mongodb").StringVar(&o.Mongo.URI, "mongodb.uri", "mongodb://localhost:27017", "uri")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error { return nil }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApp_Precedence(t *testing.T) {
	t.Setenv("KB_SEARCH_LIMIT", "9")
	t.Setenv("MONGO_HOST", "db.internal")
	cfg := writeConfig(t, "search:\n  threshold: 0.5\n  limit: 7\nmongodb:\n  uri: mongodb://${MONGO_HOST}:27017\n")

	opts := &testOptions{}
	ran := false
	a := NewApp(
		WithName("kb-server"),
		WithOptions(opts),
		WithNoVersion(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{"--config", cfg, "--env-file", "", "--search.threshold", "0.8"})
	require.NoError(t, a.Command().Execute())

	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.InDelta(t, 0.8, opts.Search.Threshold, 1e-9, "flag beats file")
	assert.Equal(t, 9, opts.Search.Limit, "env beats file")
	assert.Equal(t, "mongodb://db.internal:27017", opts.Mongo.URI)
}

func TestApp_DefaultsWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	opts := &testOptions{}
	a := NewApp(WithName("kb-server"), WithOptions(opts), WithNoVersion())
	a.Command().SetArgs([]string{"--env-file", ""})
	require.NoError(t, a.Command().Execute())

	assert.InDelta(t, 0.3, opts.Search.Threshold, 1e-9)
	assert.Equal(t, 5, opts.Search.Limit)
}

func TestApp_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KB_MONGODB_URI=mongodb://from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("KB_MONGODB_URI") })

	opts := &testOptions{}
	a := NewApp(WithName("kb-server"), WithOptions(opts), WithNoVersion())
	a.Command().SetArgs([]string{})
	require.NoError(t, a.Command().Execute())

	assert.Equal(t, "mongodb://from-dotenv", opts.Mongo.URI)
}

func TestApp_EnvPrefix(t *testing.T) {
	assert.Equal(t, "KB", NewApp(WithName("kb-server")).EnvPrefix())
	assert.Equal(t, "SENTINEL_KB", NewApp(WithName("sentinel-kb")).EnvPrefix())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("KB_TEST_KEY", "secret")
	v := viper.New()
	v.Set("a", "${KB_TEST_KEY}")
	v.Set("b", "prefix-$KB_TEST_KEY")
	v.Set("c", "${KB_TEST_MISSING}")
	v.Set("d", 42)

	expandEnvVars(v)

	assert.Equal(t, "secret", v.GetString("a"))
	assert.Equal(t, "prefix-secret", v.GetString("b"))
	assert.Equal(t, "${KB_TEST_MISSING}", v.GetString("c"))
	assert.Equal(t, 42, v.GetInt("d"))
}
