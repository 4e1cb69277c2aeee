package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/emver"
	ferrors "git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
	"git.home.luguber.info/inful/applianced/internal/state"
)

// memoryRecord is an in-memory VersionRecord that counts checkpoints.
type memoryRecord struct {
	mu          sync.Mutex
	version     emver.Version
	checkpoints []string
}

func newMemoryRecord(v string) *memoryRecord {
	return &memoryRecord{version: emver.MustParse(v)}
}

func (r *memoryRecord) Current(context.Context) (emver.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, nil
}

func (r *memoryRecord) Checkpoint(_ context.Context, v emver.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = v
	r.checkpoints = append(r.checkpoints, v.String())
	return nil
}

func (r *memoryRecord) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version.String()
}

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKV() *memoryKV { return &memoryKV{data: map[string]string{}} }

func (kv *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *memoryKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return nil
}

func (kv *memoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

// recorder builds actions that log their invocation order.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recorder) action(name string) Action {
	return func(ctx context.Context, dev *Device) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		if err := r.fail[name]; err != nil {
			return err
		}
		return dev.KV.Set(ctx, "last", name)
	}
}

func chain(r *recorder, keys ...string) []Definition {
	defs := make([]Definition, 0, len(keys))
	for _, k := range keys {
		defs = append(defs, Define(k, "test step "+k, r.action(k)))
	}
	return defs
}

func v(s string) emver.Version { return emver.MustParse(s) }

func TestRegistry(t *testing.T) {
	noop := func(context.Context, *Device) error { return nil }

	t.Run("lookups follow registration", func(t *testing.T) {
		reg, err := NewRegistry(
			Define("0.1.0::0.1.1", "", noop),
			Define("0.1.1::0.1.2", "", noop),
		)
		require.NoError(t, err)

		step := reg.StepFor(v("0.1.0"), v("0.1.1"))
		require.True(t, step.IsSome())
		require.Equal(t, "0.1.0::0.1.1", step.Unwrap().Name())
		require.True(t, reg.StepFor(v("0.1.1"), v("0.1.0")).IsNone(), "no automatic inverse")

		all := reg.AllSteps()
		require.Len(t, all, 2)
		require.Equal(t, "0.1.1::0.1.2", all[1].Name())
		require.Equal(t, "0.1.2", reg.Latest().Unwrap().String())
	})

	t.Run("rejects invalid definitions", func(t *testing.T) {
		cases := map[string][]Definition{
			"duplicate pair":      {Define("0.1.0::0.1.1", "", noop), Define("0.1.0::0.1.1", "", noop)},
			"missing separator":   {Define("0.1.0->0.1.1", "", noop)},
			"malformed version":   {Define("0.1::0.1.1", "", noop)},
			"same version":        {Define("0.1.0::0.1.0", "", noop)},
			"implicit downgrade":  {Define("0.1.1::0.1.0", "", noop)},
			"downgrade goes up":   {Downgrade("0.1.0::0.1.1", "", noop)},
			"missing action":      {Define("0.1.0::0.1.1", "", nil)},
			"pre-release ordered": {Define("0.1.0::0.1.0-1", "", noop)},
		}
		for name, defs := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := NewRegistry(defs...)
				require.Error(t, err)
				require.ErrorIs(t, err, ErrInvalidRegistry)
			})
		}
	})

	t.Run("explicit downgrade is allowed", func(t *testing.T) {
		reg, err := NewRegistry(Downgrade("0.1.1::0.1.0", "", noop))
		require.NoError(t, err)
		require.True(t, reg.AllSteps()[0].Downgrade)
	})

	t.Run("MustRegistry panics on duplicates", func(t *testing.T) {
		require.Panics(t, func() {
			MustRegistry(Define("0.1.0::0.1.1", "", noop), Define("0.1.0::0.1.1", "", noop))
		})
	})
}

func TestResolve(t *testing.T) {
	r := &recorder{}
	reg := MustRegistry(chain(r, "0.1.0::0.1.1", "0.1.1::0.1.2")...)

	t.Run("linear chain", func(t *testing.T) {
		path, err := Resolve(v("0.1.0"), v("0.1.2"), reg)
		require.NoError(t, err)
		require.Len(t, path, 2)
		require.Equal(t, "0.1.0::0.1.1", path[0].Name())
		require.Equal(t, "0.1.1::0.1.2", path[1].Name())
		require.Equal(t, "0.1.0 -> 0.1.1 -> 0.1.2", path.String())
	})

	t.Run("already at target", func(t *testing.T) {
		path, err := Resolve(v("0.1.2"), v("0.1.2"), reg)
		require.NoError(t, err)
		require.Empty(t, path)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := Resolve(v("0.1.2"), v("9.9.9"), reg)
		require.ErrorIs(t, err, ErrNoMigrationPath)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryMigration))
	})

	t.Run("no inferred downgrade", func(t *testing.T) {
		_, err := Resolve(v("0.1.2"), v("0.1.0"), reg)
		require.ErrorIs(t, err, ErrNoMigrationPath)
	})

	t.Run("explicit downgrade edge", func(t *testing.T) {
		withDown := MustRegistry(append(chain(r, "0.1.0::0.1.1", "0.1.1::0.1.2"),
			Downgrade("0.1.2::0.1.0", "roll back", r.action("down")))...)
		path, err := Resolve(v("0.1.2"), v("0.1.0"), withDown)
		require.NoError(t, err)
		require.Len(t, path, 1)
		require.True(t, path[0].Downgrade)
	})

	t.Run("shortest path wins over linear walk", func(t *testing.T) {
		reg := MustRegistry(chain(r, "0.1.0::0.1.1", "0.1.1::0.1.2", "0.1.2::0.2.0", "0.1.0::0.2.0")...)
		path, err := Resolve(v("0.1.0"), v("0.2.0"), reg)
		require.NoError(t, err)
		require.Len(t, path, 1)
		require.Equal(t, "0.1.0::0.2.0", path[0].Name())
	})

	t.Run("ties prefer earliest registered edges", func(t *testing.T) {
		first := MustRegistry(chain(r, "0.1.0::0.1.1", "0.1.1::0.2.0", "0.1.0::0.1.5", "0.1.5::0.2.0")...)
		second := MustRegistry(chain(r, "0.1.0::0.1.5", "0.1.5::0.2.0", "0.1.0::0.1.1", "0.1.1::0.2.0")...)

		for i := 0; i < 5; i++ {
			path, err := Resolve(v("0.1.0"), v("0.2.0"), first)
			require.NoError(t, err)
			require.Equal(t, "0.1.0 -> 0.1.1 -> 0.2.0", path.String())

			path, err = Resolve(v("0.1.0"), v("0.2.0"), second)
			require.NoError(t, err)
			require.Equal(t, "0.1.0 -> 0.1.5 -> 0.2.0", path.String())
		}
	})
}

type progressLog struct {
	mu     sync.Mutex
	events []string
}

func (p *progressLog) RunStarted(_ string, path Path) { p.add("run " + path.String()) }
func (p *progressLog) StepStarted(_ string, s Step)   { p.add("start " + s.Name()) }
func (p *progressLog) StepCompleted(_ string, s Step, _ time.Duration) {
	p.add("done " + s.Name())
}
func (p *progressLog) StepFailed(_ string, s Step, _ error) { p.add("fail " + s.Name()) }
func (p *progressLog) RunFinished(_ string, v emver.Version, err error) {
	p.add(fmt.Sprintf("finished %s err=%t", v, err != nil))
}
func (p *progressLog) add(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()
	keys := []string{"0.1.0::0.1.1", "0.1.1::0.1.2", "0.1.2::0.1.3"}

	t.Run("failure keeps last checkpoint and resume applies the rest", func(t *testing.T) {
		r := &recorder{fail: map[string]error{"0.1.1::0.1.2": errors.New("disk full")}}
		record := newMemoryRecord("0.1.0")
		kv := newMemoryKV()
		progress := &progressLog{}
		m := NewMigrator(MustRegistry(chain(r, keys...)...), record, &Device{KV: kv}, WithObserver(progress))

		_, err := m.MigrateTo(ctx, v("0.1.3"))
		require.Error(t, err)

		var failed *StepFailedError
		require.True(t, errors.As(err, &failed))
		require.Equal(t, "0.1.1::0.1.2", failed.Step.Name())
		require.EqualError(t, failed.Cause, "disk full")
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryMigration))
		require.Equal(t, "0.1.1", record.get(), "record stays at step 1 target")
		require.Equal(t, []string{"0.1.0::0.1.1", "0.1.1::0.1.2"}, r.calls, "step 3 never ran")
		require.Equal(t, []string{
			"run 0.1.0 -> 0.1.1 -> 0.1.2 -> 0.1.3",
			"start 0.1.0::0.1.1", "done 0.1.0::0.1.1",
			"start 0.1.1::0.1.2", "fail 0.1.1::0.1.2",
			"finished 0.1.1 err=true",
		}, progress.events)

		delete(r.fail, "0.1.1::0.1.2")
		r.calls = nil
		got, err := m.MigrateTo(ctx, v("0.1.3"))
		require.NoError(t, err)
		require.Equal(t, "0.1.3", got.String())
		require.Equal(t, []string{"0.1.1::0.1.2", "0.1.2::0.1.3"}, r.calls)
		require.Equal(t, []string{"0.1.1", "0.1.2", "0.1.3"}, record.checkpoints)
	})

	t.Run("checkpoint precedes the next step", func(t *testing.T) {
		record := newMemoryRecord("0.1.0")
		var seen []string
		observe := func(context.Context, *Device) error {
			seen = append(seen, record.get())
			return nil
		}
		reg := MustRegistry(
			Define(keys[0], "", observe),
			Define(keys[1], "", observe),
			Define(keys[2], "", observe),
		)
		_, err := NewMigrator(reg, record, &Device{KV: newMemoryKV()}).MigrateTo(ctx, v("0.1.3"))
		require.NoError(t, err)
		require.Equal(t, []string{"0.1.0", "0.1.1", "0.1.2"}, seen)
	})

	t.Run("already at target has no side effects", func(t *testing.T) {
		r := &recorder{}
		record := newMemoryRecord("0.1.3")
		kv := newMemoryKV()
		m := NewMigrator(MustRegistry(chain(r, keys...)...), record, &Device{KV: kv})

		got, err := m.MigrateTo(ctx, v("0.1.3"))
		require.NoError(t, err)
		require.Equal(t, "0.1.3", got.String())
		require.Empty(t, record.checkpoints)
		require.Empty(t, r.calls)
		require.Empty(t, kv.data)

		got, err = NewExecutor(record, &Device{KV: kv}).Run(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, "0.1.3", got.String())
	})

	t.Run("dry run applies nothing", func(t *testing.T) {
		r := &recorder{}
		record := newMemoryRecord("0.1.0")
		progress := &progressLog{}
		m := NewMigrator(MustRegistry(chain(r, keys...)...), record, &Device{KV: newMemoryKV()}, WithDryRun(), WithObserver(progress))

		got, err := m.MigrateTo(ctx, v("0.1.3"))
		require.NoError(t, err)
		require.Equal(t, "0.1.0", got.String())
		require.Empty(t, r.calls)
		require.Empty(t, record.checkpoints)
		require.Empty(t, progress.events)
	})

	t.Run("path must start at the recorded version", func(t *testing.T) {
		r := &recorder{}
		reg := MustRegistry(chain(r, keys...)...)
		path, err := Resolve(v("0.1.1"), v("0.1.3"), reg)
		require.NoError(t, err)

		_, err = NewExecutor(newMemoryRecord("0.1.0"), &Device{KV: newMemoryKV()}).Run(ctx, path)
		require.ErrorIs(t, err, ErrPathMismatch)
		require.Empty(t, r.calls)
	})

	t.Run("panicking action is reported as a failed step", func(t *testing.T) {
		record := newMemoryRecord("0.1.0")
		reg := MustRegistry(Define(keys[0], "", func(context.Context, *Device) error { panic("boom") }))
		_, err := NewMigrator(reg, record, &Device{KV: newMemoryKV()}).MigrateTo(ctx, v("0.1.1"))

		var failed *StepFailedError
		require.True(t, errors.As(err, &failed))
		require.Contains(t, failed.Cause.Error(), "boom")
		require.Equal(t, "0.1.0", record.get())
	})

	t.Run("cancelled context stops between steps", func(t *testing.T) {
		r := &recorder{}
		record := newMemoryRecord("0.1.0")
		cctx, cancel := context.WithCancel(ctx)
		cancelling := func(c context.Context, d *Device) error {
			cancel()
			return r.action("first")(c, d)
		}
		reg := MustRegistry(Define(keys[0], "", cancelling), Define(keys[1], "", r.action("second")))

		_, err := NewMigrator(reg, record, &Device{KV: newMemoryKV()}).MigrateTo(cctx, v("0.1.2"))
		require.ErrorIs(t, err, ErrInterrupted)
		require.Equal(t, []string{"first"}, r.calls)
		require.Equal(t, "0.1.1", record.get())
	})

	t.Run("plan resolves without applying", func(t *testing.T) {
		r := &recorder{}
		record := newMemoryRecord("0.1.0")
		m := NewMigrator(MustRegistry(chain(r, keys...)...), record, &Device{KV: newMemoryKV()})

		path, err := m.Plan(ctx, v("0.1.3"))
		require.NoError(t, err)
		require.Len(t, path, 3)
		require.Empty(t, r.calls)
		require.Equal(t, "0.1.0", record.get())
	})
}

func TestMigratorsSharingAStateFile(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), state.DatabaseFile)

	var applied atomic.Int32
	slow := func(context.Context, *Device) error {
		applied.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	open := func(wait time.Duration) (*Migrator, *state.Store) {
		st, err := state.Open(dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		_, _, err = st.Seed(ctx, v("0.1.0"))
		require.NoError(t, err)
		reg := MustRegistry(Define("0.1.0::0.1.1", "slow", slow))
		return NewMigrator(reg, st.VersionRecord(), &Device{KV: st}).WithLockFile(dbPath, wait), st
	}

	t.Run("runs one at a time", func(t *testing.T) {
		first, _ := open(5 * time.Second)
		second, _ := open(5 * time.Second)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, m := range []*Migrator{first, second} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = m.MigrateTo(ctx, v("0.1.1"))
			}()
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		require.EqualValues(t, 1, applied.Load(), "the second run found the checkpoint and did nothing")
		current, err := second.Current(ctx)
		require.NoError(t, err)
		require.Equal(t, "0.1.1", current.String())
	})

	t.Run("contention is reported", func(t *testing.T) {
		held, err := lockfile.TryAcquire(dbPath)
		require.NoError(t, err)
		defer func() { _ = held.Release() }()

		m, _ := open(50 * time.Millisecond)
		_, err = m.MigrateTo(ctx, v("0.1.1"))
		require.ErrorIs(t, err, lockfile.ErrLockContention)
	})
}
