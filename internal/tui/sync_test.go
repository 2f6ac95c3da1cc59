package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/bundlesync/internal/domain"
)

type stubSyncer struct {
	result domain.SyncResult
	err    error
}

func (s stubSyncer) Run(ctx context.Context, onDone func()) (domain.SyncResult, error) {
	return s.result, s.err
}

func TestSyncModelProgress(t *testing.T) {
	ch := make(chan domain.SyncProgress, 1)
	m := NewSyncModel(context.Background(), stubSyncer{}, ch, "cdn.example.com")

	next, cmd := m.Update(SyncProgressMsg{Progress: domain.SyncProgress{
		Stage:    "downloading",
		Fraction: 0.5,
		Current:  "/ui/panel.prefab.unity3d",
		Done:     1,
		Total:    2,
	}})
	if cmd == nil {
		t.Fatal("progress update did not keep listening")
	}
	view := next.View()
	for _, want := range []string{"Downloading bundles", "1/2", "/ui/panel.prefab.unity3d", "50%"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	ch <- domain.SyncProgress{Stage: "done", Fraction: 1}
	msg := cmd()
	if p, ok := msg.(SyncProgressMsg); !ok || p.Progress.Stage != "done" {
		t.Errorf("listen cmd returned %#v", msg)
	}
}

func TestSyncModelDone(t *testing.T) {
	m := NewSyncModel(context.Background(), stubSyncer{}, nil, "")
	result := domain.SyncResult{Batch: 3, Downloaded: 2, Failed: []string{"/x.unity3d"}}

	next, cmd := m.Update(SyncDoneMsg{Result: result})
	if cmd == nil {
		t.Fatal("done did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("done cmd is not tea.Quit")
	}
	fm := next.(SyncModel)
	if !fm.Done || fm.Result.Downloaded != 2 {
		t.Errorf("model = %+v", fm)
	}
	if view := fm.View(); !strings.Contains(view, "2 of 3 bundles updated") || !strings.Contains(view, "1 failed") {
		t.Errorf("summary view:\n%s", view)
	}
}

func TestSyncModelCancel(t *testing.T) {
	m := NewSyncModel(context.Background(), stubSyncer{}, nil, "")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	fm := next.(SyncModel)
	if !fm.Cancelled {
		t.Error("q did not cancel")
	}
	if fm.ctx.Err() == nil {
		t.Error("context not cancelled")
	}

	next, _ = fm.Update(SyncDoneMsg{Err: context.Canceled})
	if view := next.View(); !strings.Contains(view, "sync stopped") {
		t.Errorf("view after cancel:\n%s", view)
	}
}

func TestRunSyncCmd(t *testing.T) {
	want := errors.New("boom")
	msg := runSyncCmd(context.Background(), stubSyncer{err: want})()
	done, ok := msg.(SyncDoneMsg)
	if !ok || !errors.Is(done.Err, want) {
		t.Errorf("runSyncCmd = %#v", msg)
	}
}

func TestChannelObserverDropsWhenFull(t *testing.T) {
	ch := make(chan domain.SyncProgress, 1)
	o := NewChannelObserver(ch)
	o.OnProgress(domain.SyncProgress{Stage: "a"})
	o.OnProgress(domain.SyncProgress{Stage: "b"}) // must not block
	if got := <-ch; got.Stage != "a" {
		t.Errorf("got %q", got.Stage)
	}
}
