package ccr_test

import (
	"context"
	"errors"
	"os"
	"testing"

	devenv "ccr-client/dev/env"
	"ccr-client/internal/components/telemetry"
	"ccr-client/pkg/ccr"

	"github.com/stretchr/testify/require"
)

func liveConfig(t *testing.T) (devenv.CcrTestConfig, ccr.Config) {
	t.Helper()

	testConfig, err := devenv.GetStateConfig[devenv.CcrTestConfig](devenv.CcrTestConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		t.Skipf("no dev/.state/%s, skipping live test", devenv.CcrTestConfigFile)
	}
	require.NoError(t, err)
	if testConfig.BaseUrl == "" {
		t.Skip("no base_url in live config, skipping live test")
	}

	config := ccr.DefaultConfig()
	config.BaseUrl = testConfig.BaseUrl
	if testConfig.DumpDir != "" {
		config.DumpDir, err = devenv.ResolvePath(testConfig.DumpDir)
		require.NoError(t, err)
	}
	return testConfig, config
}

func TestLiveQuery(t *testing.T) {
	testConfig, config := liveConfig(t)
	ctx := context.Background()

	client, err := ccr.NewClient(config, telemetry.SlogAPI{})
	require.NoError(t, err)

	if testConfig.SearchTerm != "" {
		results, err := client.Search(ctx, testConfig.SearchTerm)
		require.NoError(t, err)
		require.NotEmpty(t, results)
	}

	if testConfig.KnownPackage != "" {
		record, err := client.Info(ctx, testConfig.KnownPackage)
		require.NoError(t, err)
		require.Equal(t, testConfig.KnownPackage, record.Name)

		pageUrl, err := client.PackageUrl(ctx, testConfig.KnownPackage)
		require.NoError(t, err)
		require.Equal(t, config.PackagePageUrl(record.ID), pageUrl)
	}

	_, err = client.Info(ctx, "this-package-does-not-exist-in-the-ccr")
	require.ErrorIs(t, err, ccr.ErrPackageNotFound)

	latest, err := client.Latest(ctx, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(latest), ccr.DefaultLatest)
}

func TestLiveSession(t *testing.T) {
	testConfig, config := liveConfig(t)
	if testConfig.Username == "" || testConfig.Password == "" {
		t.Skip("no credentials in live config")
	}
	ctx := context.Background()

	session, err := ccr.Login(ctx, config, ccr.Credentials{
		Username: testConfig.Username,
		Password: testConfig.Password,
	}, telemetry.SlogAPI{})
	require.NoError(t, err)
	defer session.Close()

	_, err = ccr.Login(ctx, config, ccr.Credentials{
		Username: testConfig.Username,
		Password: testConfig.Password + "-wrong",
	}, telemetry.SlogAPI{})
	require.ErrorIs(t, err, ccr.ErrLoginFailed)

	target := testConfig.TargetPackage
	if target == "" {
		t.Skip("no target_package in live config, skipping mutating actions")
	}

	voted, err := session.CheckVote(ctx, target)
	require.NoError(t, err)
	if voted {
		require.NoError(t, session.Unvote(ctx, target))
		require.NoError(t, session.Vote(ctx, target))
	} else {
		require.NoError(t, session.Vote(ctx, target))
		require.NoError(t, session.Unvote(ctx, target))
	}

	require.NoError(t, session.Notify(ctx, target))
	require.NoError(t, session.Unnotify(ctx, target))

	record, err := session.Query().Info(ctx, target)
	require.NoError(t, err)
	if record.OutOfDate == "0" {
		require.NoError(t, session.Flag(ctx, target))
		require.NoError(t, session.Unflag(ctx, target))
	}

	if name, ok := config.CategoryName(record.CategoryID); ok {
		require.NoError(t, session.SetCategory(ctx, target, name))
	}
}
