package fuse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeAPI struct {
	mu         sync.Mutex
	likeCalls  int
	shareCalls int
	likeErr    error
	outcome    LikeOutcome
}

func (f *fakeAPI) Like(_ context.Context, _ string) (*LikeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likeCalls++
	if f.likeErr != nil {
		return nil, f.likeErr
	}
	out := f.outcome
	return &out, nil
}

func (f *fakeAPI) ShareContact(_ context.Context, _ string, _ ContactCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareCalls++
	return nil
}

func TestRepeatLikeAnsweredFromCache(t *testing.T) {
	api := &fakeAPI{outcome: LikeOutcome{Message: "Session liked"}}
	tr := newTracker(api)

	first, err := tr.Like(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Like(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}

	if api.likeCalls != 1 {
		t.Fatalf("%d API calls, want 1", api.likeCalls)
	}
	if first != second {
		t.Fatal("repeat like did not return the cached outcome")
	}
	if !tr.Liked("s1") || tr.Liked("s2") {
		t.Fatal("liked bookkeeping wrong")
	}
}

func TestFailedLikeIsNotCached(t *testing.T) {
	api := &fakeAPI{likeErr: errors.New("boom")}
	tr := newTracker(api)

	if _, err := tr.Like(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
	if tr.Liked("s1") {
		t.Fatal("failed like was cached")
	}

	api.likeErr = nil
	api.outcome = LikeOutcome{Message: "Session liked"}
	if _, err := tr.Like(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if api.likeCalls != 2 {
		t.Fatalf("%d API calls, want 2 (retry after failure)", api.likeCalls)
	}
}

func TestShareContactMarksExchangedAndAllowsUpdates(t *testing.T) {
	api := &fakeAPI{}
	tr := newTracker(api)

	if tr.ContactExchanged("fm1") {
		t.Fatal("exchanged before any share")
	}
	if err := tr.ShareContact(context.Background(), "fm1", ContactCard{Whatsapp: "+31 6 1234"}); err != nil {
		t.Fatal(err)
	}
	if !tr.ContactExchanged("fm1") {
		t.Fatal("first share did not mark exchanged")
	}

	// Re-share is an update and still reaches the server.
	if err := tr.ShareContact(context.Background(), "fm1", ContactCard{Instagram: "@ana"}); err != nil {
		t.Fatal(err)
	}
	if api.shareCalls != 2 {
		t.Fatalf("%d share calls, want 2", api.shareCalls)
	}
}

// fuseServer emulates the like endpoint's get-or-create semantics for a
// single session between two users, keyed by token.
type fuseServer struct {
	mu    sync.Mutex
	likes map[string]bool
	fused bool
}

func (s *fuseServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/like/") {
			http.NotFound(w, r)
			return
		}
		user := strings.TrimPrefix(r.Header.Get("Authorization"), "Token ")

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.likes[user] {
			json.NewEncoder(w).Encode(map[string]any{"message": "Already liked"})
			return
		}
		s.likes[user] = true

		if len(s.likes) == 2 {
			s.fused = true
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(LikeOutcome{
				Message:      "Fuse Moment created!",
				FuseMoment:   true,
				FuseMomentID: "fm-1",
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(LikeOutcome{Message: "Session liked"})
	})
}

func TestMutualLikeCreatesFuseMomentOnce(t *testing.T) {
	state := &fuseServer{likes: make(map[string]bool)}
	srv := httptest.NewServer(state.handler())
	defer srv.Close()

	ana := newTracker(NewClient(srv.URL, "ana"))
	ben := newTracker(NewClient(srv.URL, "ben"))

	// First like: no fuse yet, and nothing reveals ben's state.
	out, err := ana.Like(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if out.FuseMoment {
		t.Fatal("fuse moment before mutuality")
	}

	// Second like completes the pair.
	out, err = ben.Like(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !out.FuseMoment || out.FuseMomentID != "fm-1" {
		t.Fatalf("mutual like outcome %+v", out)
	}

	// Ana's repeat like stays local and keeps her original outcome.
	out, err = ana.Like(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if out.FuseMoment {
		t.Fatal("cached outcome mutated")
	}
	if !state.fused {
		t.Fatal("server never fused")
	}
}

func TestListMoments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/fuse-moments/" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []Moment{{
				ID:          "fm-1",
				UserA:       MomentUser{Nickname: "ana"},
				UserB:       MomentUser{Nickname: "ben"},
				SummaryText: "Great conversation between ana and ben!",
				Session:     MomentOrigin{ID: "s1", TopicTag: "music"},
			}},
		})
	}))
	defer srv.Close()

	moments, err := NewClient(srv.URL, "ana").ListMoments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(moments) != 1 || moments[0].ID != "fm-1" || moments[0].Session.TopicTag != "music" {
		t.Fatalf("moments %+v", moments)
	}
}
