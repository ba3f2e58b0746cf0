package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-sync/internal/pipeline"
)

type fakeApp struct {
	stats  pipeline.Stats
	err    error
	runs   int
	closed bool
}

func (f *fakeApp) Run(context.Context) (pipeline.Stats, error) {
	f.runs++
	return f.stats, f.err
}

func (f *fakeApp) Close() { f.closed = true }

func withFakeApp(t *testing.T, fake *fakeApp, factoryErr error) *string {
	t.Helper()
	orig := newApp
	var gotPath string
	newApp = func(_ context.Context, path string) (App, error) {
		gotPath = path
		if factoryErr != nil {
			return nil, factoryErr
		}
		return fake, nil
	}
	t.Cleanup(func() {
		newApp = orig
		cfgFile = ""
	})
	return &gotPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommandRunsAndCloses(t *testing.T) {
	fake := &fakeApp{stats: pipeline.Stats{Inserted: 2, Skipped: 1, Unchanged: 1}}
	path := withFakeApp(t, fake, nil)

	out, err := execute("sync", "--config", "testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "testdata/catalog.yaml", *path)
	assert.Equal(t, 1, fake.runs)
	assert.True(t, fake.closed)
	assert.Contains(t, out, "inserted=2 updated=0 skipped=1 unchanged=1")
}

func TestSyncCommandReportsRunError(t *testing.T) {
	fake := &fakeApp{err: errors.New("crawl category: boom")}
	withFakeApp(t, fake, nil)

	_, err := execute("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run sync")
}

func TestSyncCommandTreatsCancelAsClean(t *testing.T) {
	fake := &fakeApp{err: context.Canceled}
	withFakeApp(t, fake, nil)

	_, err := execute("sync")
	assert.NoError(t, err)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	withFakeApp(t, nil, errors.New("open state store: denied"))

	_, err := execute("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	assert.Error(t, err)
}
