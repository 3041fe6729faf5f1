package library

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"musik/internal/core"
	"musik/internal/paging"
)

func sortFixture() *fakeMusic {
	f := newFakeMusic()
	f.playing("cur")
	f.playlists = []core.Playlist{
		{ID: "p1", Name: "Road Trip", OwnerID: "me"},
		{ID: "p2", Name: "Chill Vibes", OwnerID: "friend", Collaborative: true},
		{ID: "p3", Name: "Someone Else", OwnerID: "friend"},
		{ID: "p4", Name: "Workout Mix", OwnerID: "me"},
	}
	f.tracks["p1"] = tracks("a", "b", "c", "cur", "d")
	f.tracks["p2"] = tracks("a", "b", "c")
	f.tracks["p3"] = tracks("cur")
	return f
}

func TestSorter_Load(t *testing.T) {
	f := sortFixture()
	var pages atomic.Int64
	sorter := NewSorter(f, Options{MaxInFlight: 2, OnPage: func(paging.PageEvent) { pages.Add(1) }}, zap.NewNop())

	view, err := sorter.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if view.User.ID != "me" || view.Partial {
		t.Errorf("Load() user = %q partial = %v", view.User.ID, view.Partial)
	}
	track, err := view.Current()
	if err != nil || track.ID != "cur" {
		t.Fatalf("Current() = %v, %v", track, err)
	}

	expected := []struct {
		id       string
		contains bool
	}{{"p1", true}, {"p2", false}, {"p4", false}}
	if len(view.Playlists) != len(expected) {
		t.Fatalf("editable playlists = %+v, expected %d", view.Playlists, len(expected))
	}
	for i, want := range expected {
		got := view.Playlists[i]
		if got.ID != want.id || !got.Checked || got.Contains != want.contains {
			t.Errorf("playlist %d = %+v, expected %s contains=%v", i, got, want.id, want.contains)
		}
	}
	if pages.Load() == 0 {
		t.Error("OnPage observer was never called")
	}
}

func TestSorter_LoadNothingPlaying(t *testing.T) {
	f := sortFixture()
	f.playback = nil
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := view.Current(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Current() error = %v, expected ErrNothingPlaying", err)
	}
	for _, p := range view.Playlists {
		if p.Checked {
			t.Errorf("playlist %s checked without a playing track", p.ID)
		}
	}
	if _, err := sorter.Add(context.Background(), view, "road trip"); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Add() error = %v, expected ErrNothingPlaying", err)
	}
}

func TestSorter_LoadMembershipFailure(t *testing.T) {
	f := sortFixture()
	f.failTracks["p2"] = true
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, p := range view.Playlists {
		if p.ID == "p2" && p.Checked {
			t.Error("playlist with a failing listing should stay unchecked")
		}
		if p.ID == "p1" && (!p.Checked || !p.Contains) {
			t.Errorf("p1 = %+v, expected checked and containing", p)
		}
	}
}

func TestSorter_AddAndRemove(t *testing.T) {
	ctx := context.Background()
	f := sortFixture()
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	playlist, err := sorter.Add(ctx, view, "chill")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if playlist.ID != "p2" {
		t.Errorf("Add() playlist = %s, expected p2", playlist.ID)
	}
	if got := f.tracks["p2"]; len(got) != 4 || got[3].ID != "cur" {
		t.Errorf("p2 tracks = %v, expected cur appended", trackIDs(got))
	}
	if entry, _ := sorter.Find(view, "chill"); !entry.Contains {
		t.Error("view not updated after Add()")
	}

	if _, err := sorter.Add(ctx, view, "Chill Vibes"); !errors.Is(err, ErrAlreadyInPlaylist) {
		t.Errorf("second Add() error = %v, expected ErrAlreadyInPlaylist", err)
	}

	// Duplicates are all removed.
	f.tracks["p2"] = append(f.tracks["p2"], track("cur"))
	if _, err := sorter.Remove(ctx, view, "chill vibes"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	for _, tr := range f.tracks["p2"] {
		if tr.ID == "cur" {
			t.Fatalf("p2 still holds cur after Remove(): %v", trackIDs(f.tracks["p2"]))
		}
	}
	if _, err := sorter.Remove(ctx, view, "chill vibes"); !errors.Is(err, ErrNotInPlaylist) {
		t.Errorf("second Remove() error = %v, expected ErrNotInPlaylist", err)
	}
}

func TestSorter_AddFailsWhenMembershipUnknown(t *testing.T) {
	ctx := context.Background()
	f := sortFixture()
	f.failTracks["p2"] = true
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := sorter.Add(ctx, view, "chill"); !errors.Is(err, paging.ErrPageFetchFailed) {
		t.Errorf("Add() error = %v, expected a page fetch failure", err)
	}
	if len(f.tracks["p2"]) != 3 {
		t.Errorf("p2 modified despite unknown membership: %v", trackIDs(f.tracks["p2"]))
	}
}

func TestSorter_AddSeesTrackAfterEpisodePage(t *testing.T) {
	ctx := context.Background()
	f := sortFixture()
	// The second page of two holds only episodes.
	f.tracks["p4"] = append(tracks("a", "b"), episode("e1"), episode("e2"), track("cur"))
	sorter := NewSorter(f, Options{MaxInFlight: 2}, zap.NewNop())

	view, err := sorter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, err := sorter.Find(view, "workout")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if entry.ID != "p4" || !entry.Checked || !entry.Contains {
		t.Errorf("entry = %+v, expected p4 checked and containing", entry)
	}

	if _, err := sorter.Add(ctx, view, "workout"); !errors.Is(err, ErrAlreadyInPlaylist) {
		t.Errorf("Add() error = %v, expected ErrAlreadyInPlaylist", err)
	}
	if got := f.tracks["p4"]; len(got) != 5 {
		t.Errorf("p4 tracks = %v, expected no duplicate", trackIDs(got))
	}
}

func TestSorter_NoMatch(t *testing.T) {
	f := sortFixture()
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := sorter.Add(context.Background(), view, "jazz"); !errors.Is(err, ErrNoPlaylistMatch) {
		t.Errorf("Add() error = %v, expected ErrNoPlaylistMatch", err)
	}
	// Read-only playlists are not candidates.
	if _, err := sorter.Find(view, "someone else"); !errors.Is(err, ErrNoPlaylistMatch) {
		t.Errorf("Find() error = %v, expected ErrNoPlaylistMatch", err)
	}
}

func TestSorter_CreateAndAdd(t *testing.T) {
	ctx := context.Background()
	f := sortFixture()
	sorter := NewSorter(f, Options{}, zap.NewNop())

	view, err := sorter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	created, err := sorter.CreateAndAdd(ctx, view, "Fresh Finds")
	if err != nil {
		t.Fatalf("CreateAndAdd() error = %v", err)
	}
	if created.OwnerID != "me" || created.Description != DefaultPlaylistDescription {
		t.Errorf("CreateAndAdd() = %+v", created)
	}
	if got := f.tracks[created.ID]; len(got) != 1 || got[0].ID != "cur" {
		t.Errorf("new playlist tracks = %v, expected [cur]", trackIDs(got))
	}
	entry, err := sorter.Find(view, "fresh finds")
	if err != nil || !entry.Contains {
		t.Errorf("Find() after CreateAndAdd() = %+v, %v", entry, err)
	}
}

func TestSorter_Skip(t *testing.T) {
	f := sortFixture()
	if err := NewSorter(f, Options{}, zap.NewNop()).Skip(context.Background()); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if f.skips != 1 {
		t.Errorf("skips = %d, expected 1", f.skips)
	}
}
