package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/deployment"
	"ocm.software/open-component-model/contribution/registry"
	"ocm.software/open-component-model/contribution/storage/memory"
)

type fakeRegistration struct {
	name       string
	persistent bool
}

func (r *fakeRegistration) Name() string                  { return r.name }
func (r *fakeRegistration) SetPersistent(persistent bool) { r.persistent = persistent }
func (r *fakeRegistration) IsPersistent() bool            { return r.persistent }

// fakeRuntime records every call it receives and can be told to reject or fail names.
type fakeRuntime struct {
	mu       sync.Mutex
	calls    []string
	deployed map[string]bool
	reject   map[string]bool
	fail     map[string]error
	failStop map[string]error

	delay   time.Duration
	active  atomic.Int32
	overlap atomic.Bool

	// hold, if set, parks Deploy until it is closed. holding is signalled once Deploy parked.
	hold    chan struct{}
	holding chan struct{}
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		deployed: map[string]bool{},
		reject:   map[string]bool{},
		fail:     map[string]error{},
		failStop: map[string]error{},
	}
}

func (f *fakeRuntime) enter() func() {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	time.Sleep(f.delay)
	return func() { f.active.Add(-1) }
}

func (f *fakeRuntime) Deploy(_ context.Context, c *contribution.Contribution) (deployment.Registration, bool, error) {
	if f.hold != nil {
		f.holding <- struct{}{}
		<-f.hold
	}
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "deploy:"+c.Name)
	if err := f.fail[c.Name]; err != nil {
		return nil, false, err
	}
	if f.reject[c.Name] {
		return nil, false, nil
	}
	f.deployed[c.Name] = true
	return &fakeRegistration{name: c.ComponentName()}, true, nil
}

func (f *fakeRuntime) Undeploy(_ context.Context, c *contribution.Contribution) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "undeploy:"+c.Name)
	if err := f.failStop[c.Name]; err != nil {
		return err
	}
	delete(f.deployed, c.Name)
	return nil
}

func (f *fakeRuntime) IsDeployed(_ context.Context, c *contribution.Contribution) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployed[c.Name], nil
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// recordingStorage wraps a storage and appends removals to the runtime call log.
type recordingStorage struct {
	contribution.Storage
	rt *fakeRuntime
}

func (s *recordingStorage) Remove(ctx context.Context, c *contribution.Contribution) (bool, error) {
	s.rt.mu.Lock()
	s.rt.calls = append(s.rt.calls, "remove:"+c.Name)
	s.rt.mu.Unlock()
	return s.Storage.Remove(ctx, c)
}

func newReady(t *testing.T, rt deployment.RuntimeContext) (*coordinator.Coordinator, *memory.Storage) {
	t.Helper()
	store := memory.New()
	c := coordinator.New(rt, func(context.Context) (contribution.Storage, error) { return store, nil })
	require.NoError(t, c.Initialize(t.Context()))
	return c, store
}

func TestAddContribution(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	stored, ok, err := c.AddContribution(ctx, &contribution.Contribution{Name: "foo"})
	r.NoError(err)
	r.True(ok)
	r.Equal("foo", stored.Name)

	persisted, err := c.IsPersisted(ctx, "foo")
	r.NoError(err)
	r.True(persisted)

	installed, err := c.IsInstalled(ctx, stored)
	r.NoError(err)
	r.False(installed)
	r.Empty(rt.Calls())
}

func TestAddAndInstallContribution(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	stored, ok, err := c.AddAndInstallContribution(ctx, contribution.New("bar", []byte("<component/>")))
	r.NoError(err)
	r.True(ok)

	persisted, err := c.IsPersisted(ctx, "bar")
	r.NoError(err)
	r.True(persisted)
	installed, err := c.IsInstalled(ctx, stored)
	r.NoError(err)
	r.True(installed)

	t.Run("conflict installs nothing", func(t *testing.T) {
		_, ok, err := c.AddAndInstallContribution(ctx, contribution.New("bar", []byte("other")))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, rt.count("deploy:bar"))
	})

	t.Run("rejected deployment keeps record", func(t *testing.T) {
		rt.reject["rejected"] = true
		_, ok, err := c.AddAndInstallContribution(ctx, contribution.New("rejected", nil))
		require.NoError(t, err)
		assert.True(t, ok)
		persisted, err := c.IsPersisted(ctx, "rejected")
		require.NoError(t, err)
		assert.True(t, persisted)
	})

	t.Run("failed deployment keeps record", func(t *testing.T) {
		rt.fail["broken"] = errors.New("boom")
		_, ok, err := c.AddAndInstallContribution(ctx, contribution.New("broken", nil))
		require.ErrorContains(t, err, "boom")
		assert.True(t, ok)
		persisted, err := c.IsPersisted(ctx, "broken")
		require.NoError(t, err)
		assert.True(t, persisted)
	})
}

func TestAddContributionTwice(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	c, _ := newReady(t, newFakeRuntime())

	_, ok, err := c.AddContribution(ctx, contribution.New("foo", []byte("a")))
	r.NoError(err)
	r.True(ok)
	_, ok, err = c.AddContribution(ctx, contribution.New("foo", []byte("b")))
	r.NoError(err)
	r.False(ok)

	list, err := c.List(ctx)
	r.NoError(err)
	r.Len(list, 1)
	r.Equal("foo", list[0].Name)
	r.Equal([]byte("a"), list[0].Content)
}

func TestRemoveAndUninstallContribution(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c := coordinator.New(rt, nil, coordinator.WithStorage(&recordingStorage{Storage: memory.New(), rt: rt}))

	bar := contribution.New("bar", nil)
	_, ok, err := c.AddAndInstallContribution(ctx, bar)
	r.NoError(err)
	r.True(ok)

	removed, err := c.RemoveAndUninstallContribution(ctx, bar)
	r.NoError(err)
	r.True(removed)
	r.Equal([]string{"deploy:bar", "undeploy:bar", "remove:bar"}, rt.Calls())

	installed, err := c.IsInstalled(ctx, bar)
	r.NoError(err)
	r.False(installed)
	persisted, err := c.IsPersisted(ctx, "bar")
	r.NoError(err)
	r.False(persisted)

	t.Run("uninstall fault still removes", func(t *testing.T) {
		baz := contribution.New("baz", nil)
		_, _, err := c.AddAndInstallContribution(ctx, baz)
		require.NoError(t, err)
		rt.failStop["baz"] = errors.New("stuck")

		removed, err := c.RemoveAndUninstallContribution(ctx, baz)
		require.ErrorContains(t, err, "stuck")
		assert.True(t, removed)
		persisted, err := c.IsPersisted(ctx, "baz")
		require.NoError(t, err)
		assert.False(t, persisted)
	})

	t.Run("unknown contribution", func(t *testing.T) {
		removed, err := c.RemoveAndUninstallContribution(ctx, contribution.New("missing", nil))
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestRemoveContributionKeepsDeployment(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	foo := contribution.New("foo", nil)
	_, _, err := c.AddAndInstallContribution(ctx, foo)
	r.NoError(err)

	removed, err := c.RemoveContribution(ctx, foo)
	r.NoError(err)
	r.True(removed)

	installed, err := c.IsInstalled(ctx, foo)
	r.NoError(err)
	r.True(installed)
}

func TestUpdateContribution(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	_, ok, err := c.UpdateContribution(ctx, contribution.New("foo", []byte("v1")))
	r.NoError(err)
	r.False(ok)
	persisted, err := c.IsPersisted(ctx, "foo")
	r.NoError(err)
	r.False(persisted)

	_, _, err = c.AddContribution(ctx, contribution.New("foo", []byte("v1")))
	r.NoError(err)
	updated, ok, err := c.UpdateContribution(ctx, contribution.New("foo", []byte("v2")))
	r.NoError(err)
	r.True(ok)
	r.Equal([]byte("v2"), updated.Content)

	got, ok, err := c.Get(ctx, "foo")
	r.NoError(err)
	r.True(ok)
	r.Equal([]byte("v2"), got.Content)
	r.Empty(rt.Calls())
}

func TestUninitialized(t *testing.T) {
	ctx := t.Context()
	rt := newFakeRuntime()
	c := coordinator.New(rt, nil)
	foo := contribution.New("foo", nil)

	assert.False(t, c.Ready())

	_, err := c.List(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, _, err = c.Get(ctx, "foo")
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, _, err = c.AddContribution(ctx, foo)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, _, err = c.AddAndInstallContribution(ctx, foo)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, err = c.RemoveContribution(ctx, foo)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, _, err = c.UpdateContribution(ctx, foo)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, err = c.IsPersisted(ctx, "foo")
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, err = c.Start(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	_, err = c.Stop(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNotInitialized)
	assert.ErrorIs(t, c.Initialize(ctx), coordinator.ErrNoStorageFactory)
	assert.ErrorIs(t, c.Initialize(ctx), coordinator.ErrNotInitialized)

	// install and uninstall only talk to the runtime context
	installed, err := c.InstallContribution(ctx, foo)
	require.NoError(t, err)
	assert.True(t, installed)
	_, err = c.UninstallContribution(ctx, foo)
	require.NoError(t, err)
}

func TestInitializeAndShutdown(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	created := 0
	c := coordinator.New(newFakeRuntime(), func(context.Context) (contribution.Storage, error) {
		created++
		return memory.New(), nil
	})

	r.NoError(c.Initialize(ctx))
	r.NoError(c.Initialize(ctx))
	r.True(c.Ready())
	r.Equal(1, created)

	r.NoError(c.Shutdown(ctx))
	r.NoError(c.Shutdown(ctx))
	r.False(c.Ready())

	c.SetStorageFactory(func(context.Context) (contribution.Storage, error) {
		return nil, errors.New("no disk")
	})
	err := c.Initialize(ctx)
	r.ErrorContains(err, "no disk")
	r.False(c.Ready())
}

func TestStartSkipsDisabled(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	_, _, err := c.AddContribution(ctx, contribution.New("foo", nil))
	r.NoError(err)
	_, _, err = c.AddContribution(ctx, &contribution.Contribution{Name: "baz", Disabled: true})
	r.NoError(err)

	report, err := c.Start(ctx)
	r.NoError(err)
	r.Equal([]string{"foo"}, report.Succeeded)
	r.Equal([]string{"baz"}, report.Skipped)
	r.Zero(rt.count("deploy:baz"))

	report, err = c.Stop(ctx)
	r.NoError(err)
	r.Equal([]string{"foo"}, report.Succeeded)
	r.Zero(rt.count("undeploy:baz"))
}

func TestStartIsolatesFailures(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	rt := newFakeRuntime()
	c, _ := newReady(t, rt)

	for _, name := range []string{"a", "b", "c", "d"} {
		_, _, err := c.AddContribution(ctx, contribution.New(name, nil))
		r.NoError(err)
	}
	rt.fail["b"] = errors.New("b is broken")
	rt.reject["c"] = true

	report, err := c.Start(ctx)
	r.ErrorContains(err, "b is broken")
	r.Equal([]string{"a", "d"}, report.Succeeded)
	r.Equal([]string{"c"}, report.Rejected)
	r.Equal([]string{"b"}, report.Failed)
	r.Equal([]string{"deploy:a", "deploy:b", "deploy:c", "deploy:d"}, rt.Calls())

	rt.failStop["a"] = errors.New("a is stuck")
	report, err = c.Stop(ctx)
	r.ErrorContains(err, "a is stuck")
	r.Equal([]string{"b", "c", "d"}, report.Succeeded)
	r.Equal([]string{"a"}, report.Failed)
}

func TestInstallIsSerialized(t *testing.T) {
	ctx := t.Context()
	rt := newFakeRuntime()
	rt.delay = 5 * time.Millisecond
	c, _ := newReady(t, rt)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			contrib := contribution.New(string(rune('a'+i)), nil)
			if i%2 == 0 {
				_, _ = c.InstallContribution(ctx, contrib)
			} else {
				_, _ = c.UninstallContribution(ctx, contrib)
			}
		}()
	}
	wg.Wait()
	assert.False(t, rt.overlap.Load(), "install and uninstall ran concurrently")
	assert.Len(t, rt.Calls(), 8)
}

func TestReadsDuringInstall(t *testing.T) {
	ctx := t.Context()
	rt := newFakeRuntime()
	rt.hold = make(chan struct{})
	rt.holding = make(chan struct{}, 1)
	c, _ := newReady(t, rt)

	foo := contribution.New("foo", nil)
	_, _, err := c.AddContribution(ctx, foo)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.InstallContribution(ctx, foo)
		done <- err
	}()
	select {
	case <-rt.holding:
	case <-time.After(5 * time.Second):
		t.Fatal("install did not reach the runtime")
	}

	require.Eventually(t, func() bool {
		list, err := c.List(ctx)
		if err != nil || len(list) != 1 {
			return false
		}
		if _, ok, err := c.Get(ctx, "foo"); err != nil || !ok {
			return false
		}
		if persisted, err := c.IsPersisted(ctx, "foo"); err != nil || !persisted {
			return false
		}
		installed, err := c.IsInstalled(ctx, foo)
		return err == nil && !installed
	}, 2*time.Second, 10*time.Millisecond, "reads must not wait for an install in flight")

	close(rt.hold)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("install did not finish")
	}
	installed, err := c.IsInstalled(ctx, foo)
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestStartIsolatesPanics(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	reg := registry.New(
		registry.WithActivator(func(_ context.Context, c *contribution.Contribution) error {
			if c.Name == "b" {
				panic("bad descriptor")
			}
			return nil
		}),
		registry.WithDeactivator(func(_ context.Context, c *contribution.Contribution) error {
			if c.Name == "a" {
				panic("stuck component")
			}
			return nil
		}),
	)
	c, _ := newReady(t, reg)
	for _, name := range []string{"a", "b", "c"} {
		_, _, err := c.AddContribution(ctx, contribution.New(name, nil))
		r.NoError(err)
	}

	report, err := c.Start(ctx)
	r.ErrorIs(err, coordinator.ErrPanicked)
	r.ErrorContains(err, "bad descriptor")
	r.Equal([]string{"a", "c"}, report.Succeeded)
	r.Equal([]string{"b"}, report.Failed)
	_, live := reg.Lookup("b")
	r.False(live)

	// the install lock is released after a panic
	installed, err := c.InstallContribution(ctx, contribution.New("d", nil))
	r.NoError(err)
	r.True(installed)

	report, err = c.Stop(ctx)
	r.ErrorIs(err, coordinator.ErrPanicked)
	r.Equal([]string{"b", "c"}, report.Succeeded)
	r.Equal([]string{"a"}, report.Failed)
}

func TestStorageReadyGauge(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	metrics := prometheus.NewRegistry()
	r.NoError(coordinator.RegisterMetrics(metrics))

	c, _ := newReady(t, newFakeRuntime())
	r.Equal(1.0, gaugeValue(t, metrics, "contribution_storage_ready"))

	// constructing another coordinator does not report its state
	_ = coordinator.New(newFakeRuntime(), nil)
	r.Equal(1.0, gaugeValue(t, metrics, "contribution_storage_ready"))

	r.NoError(c.Shutdown(ctx))
	r.Equal(0.0, gaugeValue(t, metrics, "contribution_storage_ready"))
}

func gaugeValue(t *testing.T, gatherer prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.Len(t, family.GetMetric(), 1)
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestInstallWithRegistry(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	reg := registry.New()
	c, _ := newReady(t, reg)

	foo := contribution.New("foo", []byte("<component/>"))
	installed, err := c.InstallContribution(ctx, foo)
	r.NoError(err)
	r.True(installed)

	live, ok := reg.Lookup("foo")
	r.True(ok)
	r.True(live.IsPersistent())
	r.Equal("config:foo", live.Name())

	installed, err = c.InstallContribution(ctx, foo)
	r.NoError(err)
	r.False(installed)

	_, err = c.UninstallContribution(ctx, foo)
	r.NoError(err)
	deployed, err := c.IsInstalled(ctx, foo)
	r.NoError(err)
	r.False(deployed)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, coordinator.RegisterMetrics(reg))
	assert.Error(t, coordinator.RegisterMetrics(reg))
}
