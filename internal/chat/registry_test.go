package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/mocks"
)

type fakeConn struct {
	id string

	mu    sync.Mutex
	texts []string
	jsons []any
	fail  error
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeConn) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.jsons = append(f.jsons, v)
	return nil
}

func TestRegistry_BroadcastRendersPerClassification(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)
	alice := &fakeConn{id: "alice"}
	bob := &fakeConn{id: "bob"}
	carol := &fakeConn{id: "carol"}

	// Given alice, a browser bob and a terminal carol
	r.Add("alice", alice, Browser)
	r.Add("bob", bob, Browser)
	r.Add("carol", carol, Terminal)

	// When alice says hi
	n := r.Broadcast(Envelope{User: "alice", Text: "hi"}, "alice")

	// Then bob gets the envelope and carol gets a plain line
	req.Equal(2, n)
	req.Equal([]any{Envelope{User: "alice", Text: "hi"}}, bob.jsons)
	req.Empty(bob.texts)
	req.Equal([]string{"alice: hi"}, carol.texts)
	req.Empty(carol.jsons)
	req.Empty(alice.texts)
	req.Empty(alice.jsons)
}

func TestRegistry_SystemNoticeIsBareForTerminals(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)
	term := &fakeConn{id: "t"}
	browser := &fakeConn{id: "b"}
	r.Add("dave", term, Terminal)
	r.Add("erin", browser, Browser)

	r.Broadcast(JoinNotice("frank"), "frank")

	req.Equal([]string{"🔹 frank joined the chat."}, term.texts)
	req.Equal([]any{Envelope{User: "system", Text: "🔹 frank joined the chat."}}, browser.jsons)
}

func TestRegistry_BroadcastSurvivesOneFailingRecipient(t *testing.T) {
	req := require.New(t)
	m := metrics.New()
	r := NewRegistry(nil, m)
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b", fail: errors.New("broken pipe")}
	c := &fakeConn{id: "c"}

	r.Add("a", a, Terminal)
	r.Add("b", b, Browser)
	r.Add("c", c, Terminal)

	n := r.Broadcast(Envelope{User: "zed", Text: "yo"}, "zed")

	req.Equal(2, n)
	req.Equal([]string{"zed: yo"}, a.texts)
	req.Equal([]string{"zed: yo"}, c.texts)
	req.Equal(uint64(1), m.Get(metrics.ChatBroadcastSendFail))
	req.Equal(uint64(2), m.Get(metrics.ChatBroadcastSendOK))
}

func TestRegistry_BroadcastWithMockRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	browser := mocks.NewMockSender(ctrl)
	terminal := mocks.NewMockSender(ctrl)
	browser.EXPECT().ID().Return("b").AnyTimes()
	terminal.EXPECT().ID().Return("t").AnyTimes()

	// Given the browser recipient fails and the terminal recipient succeeds
	browser.EXPECT().SendJSON(Envelope{User: "system", Text: "🔻 gil left the chat."}).
		Return(errors.New("send queue full")).Times(1)
	terminal.EXPECT().SendText("🔻 gil left the chat.").Return(nil).Times(1)

	r := NewRegistry(nil, nil)
	r.Add("b", browser, Browser)
	r.Add("t", terminal, Terminal)

	// When a leave notice goes to everyone
	n := r.BroadcastAll(LeaveNotice("gil"))

	// Then the terminal still got it
	require.Equal(t, 1, n)
}

func TestRegistry_DuplicateUsernames(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)
	first := &fakeConn{id: "1"}
	second := &fakeConn{id: "2"}
	other := &fakeConn{id: "3"}

	r.Add("sam", first, Terminal)
	r.Add("sam", second, Terminal)
	r.Add("max", other, Terminal)
	req.Equal([]string{"sam", "sam", "max"}, r.Usernames())

	// Remove by identity only drops the matching connection
	req.True(r.Remove(first))
	req.False(r.Remove(first))
	req.Equal([]string{"sam", "max"}, r.Usernames())

	r.Broadcast(Envelope{User: "max", Text: "still here?"}, "max")
	req.Empty(first.texts)
	req.Equal([]string{"max: still here?"}, second.texts)

	// Remove by username drops every match
	r.Add("sam", first, Terminal)
	req.Equal(2, r.RemoveByUsername("sam"))
	req.Equal([]string{"max"}, r.Usernames())
	req.Equal(1, r.Count())
}

func TestRegistry_BroadcastExcludesEverySessionWithThatName(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)
	a1 := &fakeConn{id: "a1"}
	a2 := &fakeConn{id: "a2"}
	b := &fakeConn{id: "b"}
	r.Add("a", a1, Terminal)
	r.Add("a", a2, Terminal)
	r.Add("b", b, Terminal)

	req.Equal(1, r.Broadcast(Envelope{User: "a", Text: "x"}, "a"))
	req.Empty(a1.texts)
	req.Empty(a2.texts)
}

func TestRegistry_ConcurrentAddRemoveBroadcast(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)

	// Given one session that stays registered throughout
	stable := &fakeConn{id: "stable"}
	r.Add("stable", stable, Terminal)

	// When sessions churn while others broadcast
	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("churn-%d", i)
			a := &fakeConn{id: name + "-a"}
			b := &fakeConn{id: name + "-b"}
			r.Add(name, a, Terminal)
			r.Add(name, b, Browser)
			r.Remove(a)
			r.RemoveByUsername(name)
		}(i)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("speaker-%d", i)
			r.Broadcast(Envelope{User: user, Text: "m"}, user)
		}(i)
	}
	wg.Wait()

	// Then the stable session got every broadcast exactly once
	want := make([]string, 0, workers)
	for i := 0; i < workers; i++ {
		want = append(want, fmt.Sprintf("speaker-%d: m", i))
	}
	stable.mu.Lock()
	got := append([]string(nil), stable.texts...)
	stable.mu.Unlock()
	req.ElementsMatch(want, got)
	req.Equal([]string{"stable"}, r.Usernames())
}

func TestRegistry_EmptyExcludeIsAUsername(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(nil, nil)
	anon := &fakeConn{id: "anon"}
	named := &fakeConn{id: "named"}
	r.Add("", anon, Terminal)
	r.Add("named", named, Terminal)

	req.Equal(1, r.Broadcast(Envelope{User: "", Text: "hi"}, ""))
	req.Empty(anon.texts)
	req.Equal([]string{": hi"}, named.texts)

	req.Equal(2, r.BroadcastAll(LeaveNotice("")))
	req.Equal([]string{"🔻  left the chat."}, anon.texts)
}

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want Classification
	}{
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", Browser},
		{"MOZILLA/5.0", Browser},
		{"Opera/9.80", Browser},
		{"something Edge/18", Browser},
		{"curl/8.0", Terminal},
		{"Go-http-client/1.1", Terminal},
		{"Python/3.11 websockets/12.0", Terminal},
		{"", Terminal},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ClassifyUserAgent(tc.ua), "ua=%q", tc.ua)
	}
}

func TestEnvelopeTerminalLine(t *testing.T) {
	require.Equal(t, "alice: hi", Envelope{User: "alice", Text: "hi"}.TerminalLine())
	require.Equal(t, "hello", SystemNotice("hello").TerminalLine())
	require.Equal(t, "🔻 x left the chat.", LeaveNotice("x").Text)
	require.Equal(t, "browser", Browser.String())
	require.Equal(t, "terminal", Terminal.String())
}
