package mediator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/companion/pkg/agent"
	"github.com/harun/companion/pkg/attachment"
	"github.com/harun/companion/pkg/conversation"
	"github.com/harun/companion/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type invokeCall struct {
	Prompt string
	Parts  []attachment.InlinePart
}

type fakeInvoker struct {
	mu     sync.Mutex
	calls  []invokeCall
	handle func(ctx context.Context, prompt string, parts []attachment.InlinePart) (agent.Reply, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, parts []attachment.InlinePart) (agent.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invokeCall{Prompt: prompt, Parts: parts})
	n := len(f.calls)
	f.mu.Unlock()

	if f.handle != nil {
		return f.handle(ctx, prompt, parts)
	}
	return agent.Reply{Text: fmt.Sprintf("reply-%d", n), Model: "text-1"}, nil
}

func (f *fakeInvoker) lastCall() invokeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	mediator *Mediator
	registry *session.Registry
	invoker  *fakeInvoker
	clock    *fakeClock
}

func newFixture(t *testing.T, maxHistory int) *fixture {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	registry := session.NewRegistry(session.Options{
		TTL:        30 * time.Minute,
		MaxHistory: maxHistory,
		Now:        clock.Now,
		Logger:     zerolog.Nop(),
	})
	invoker := &fakeInvoker{}

	m, err := New(Config{
		Registry: registry,
		Invoker:  invoker,
		Logger:   zerolog.Nop(),
		Now:      clock.Now,
	})
	require.NoError(t, err)

	return &fixture{mediator: m, registry: registry, invoker: invoker, clock: clock}
}

func TestNew(t *testing.T) {
	t.Run("should require a registry", func(t *testing.T) {
		_, err := New(Config{Invoker: &fakeInvoker{}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "registry")
	})

	t.Run("should require an invoker", func(t *testing.T) {
		_, err := New(Config{Registry: session.NewRegistry(session.Options{})})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invoker")
	})
}

func TestMediator_Chat(t *testing.T) {
	ctx := context.Background()

	t.Run("should start a new session on first message", func(t *testing.T) {
		f := newFixture(t, 20)

		res, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", Message: "Hello"})
		require.NoError(t, err)

		assert.NotEmpty(t, res.SessionID)
		assert.Equal(t, "text-1", res.Model)
		require.Len(t, res.History, 2)
		assert.Equal(t, conversation.RoleUser, res.History[0].Role)
		assert.Equal(t, "Hello", res.History[0].Content)
		assert.Equal(t, conversation.RoleAssistant, res.History[1].Role)
		assert.NotEmpty(t, res.History[1].Content)
		assert.Equal(t, res.Reply, res.History[1].Content)
	})

	t.Run("should issue distinct ids for new sessions", func(t *testing.T) {
		f := newFixture(t, 20)

		a, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", Message: "a"})
		require.NoError(t, err)
		b, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", Message: "b"})
		require.NoError(t, err)

		assert.NotEqual(t, a.SessionID, b.SessionID)
	})

	t.Run("should keep history bounded over many calls", func(t *testing.T) {
		f := newFixture(t, 20)

		var res *ChatResult
		var err error
		for i := 1; i <= 25; i++ {
			res, err = f.mediator.Chat(ctx, ChatRequest{
				OwnerID:   "1",
				SessionID: "S",
				Message:   fmt.Sprintf("message %d", i),
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(res.History), 20)
		}

		require.Len(t, res.History, 20)
		assert.Equal(t, "message 25", res.History[18].Content)
		assert.Equal(t, "reply-25", res.History[19].Content)
	})

	t.Run("should cap the transcript sent to the model", func(t *testing.T) {
		f := newFixture(t, 20)

		for i := 1; i <= 15; i++ {
			_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: fmt.Sprintf("m-%02d", i)})
			require.NoError(t, err)
		}

		p := f.invoker.lastCall().Prompt
		assert.Equal(t, 20, strings.Count(p, "\nUser: ")+strings.Count(p, "\nAssistant: "))
		assert.Contains(t, p, "User: m-15")
	})

	t.Run("should reject another owner and leave history alone", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "mine"})
		require.NoError(t, err)

		_, err = f.mediator.Chat(ctx, ChatRequest{OwnerID: "2", SessionID: "S", Message: "theirs"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPermission)
		assert.ErrorIs(t, err, session.ErrOwnershipViolation)

		snap, err := f.registry.Get("S", "1")
		require.NoError(t, err)
		require.Len(t, snap.History, 2)
		assert.Equal(t, "mine", snap.History[0].Content)
		assert.Len(t, f.invoker.calls, 1)
	})

	t.Run("should reject an empty message without side effects", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "   "})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, f.registry.Count())
		assert.Empty(t, f.invoker.calls)
	})

	t.Run("should reject a missing owner", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{Message: "hi"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("should reject malformed session ids", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "a\nb", Message: "hi"})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, f.registry.Count())
	})

	t.Run("should treat an expired session as new", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "first"})
		require.NoError(t, err)
		_, err = f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "second"})
		require.NoError(t, err)

		f.clock.Advance(31 * time.Minute)

		res, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "Still there?"})
		require.NoError(t, err)

		assert.Equal(t, "S", res.SessionID)
		require.Len(t, res.History, 2)
		assert.Equal(t, "Still there?", res.History[0].Content)
	})

	t.Run("should recreate a session that expired during the model call", func(t *testing.T) {
		f := newFixture(t, 20)
		f.invoker.handle = func(context.Context, string, []attachment.InlinePart) (agent.Reply, error) {
			f.clock.Advance(time.Hour)
			return agent.Reply{Text: "late reply", Model: "text-1"}, nil
		}

		res, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:   "1",
			SessionID: "S",
			Message:   "slow question",
			Metadata:  map[string]string{"plan": "pro"},
		})
		require.NoError(t, err)

		assert.Equal(t, "S", res.SessionID)
		require.Len(t, res.History, 2)
		assert.Equal(t, "slow question", res.History[0].Content)
		assert.Equal(t, "late reply", res.History[1].Content)

		snap, err := f.registry.Get("S", "1")
		require.NoError(t, err)
		assert.Equal(t, "pro", snap.Metadata["plan"])
	})

	t.Run("should bootstrap client history only once", func(t *testing.T) {
		f := newFixture(t, 20)

		clientHistory := []conversation.ClientTurn{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
			{Role: "bogus", Content: "treated as user"},
			{Role: "user", Content: "  "},
		}

		res, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:       "1",
			SessionID:     "S",
			Message:       "now",
			ClientHistory: clientHistory,
		})
		require.NoError(t, err)

		require.Len(t, res.History, 5)
		assert.Equal(t, "earlier question", res.History[0].Content)
		assert.Equal(t, conversation.RoleUser, res.History[2].Role)
		assert.Equal(t, "now", res.History[3].Content)

		res, err = f.mediator.Chat(ctx, ChatRequest{
			OwnerID:       "1",
			SessionID:     "S",
			Message:       "again",
			ClientHistory: []conversation.ClientTurn{{Role: "user", Content: "injected"}},
		})
		require.NoError(t, err)

		require.Len(t, res.History, 7)
		for _, turn := range res.History {
			assert.NotEqual(t, "injected", turn.Content)
		}
	})

	t.Run("should include context and metadata in the prompt", func(t *testing.T) {
		f := newFixture(t, 20)

		res, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:       "owner-7",
			Message:       "where am I?",
			Route:         " /settings ",
			ScreenContext: "profile form",
			Metadata:      map[string]string{"locale": "en-GB"},
		})
		require.NoError(t, err)

		p := f.invoker.lastCall().Prompt
		assert.Contains(t, p, "- Route: /settings")
		assert.Contains(t, p, "- Screen context: profile form")
		assert.Contains(t, p, "- Owner: owner-7")
		assert.Contains(t, p, "locale: en-GB")
		assert.Contains(t, p, "User: where am I?")

		assert.Equal(t, "/settings", res.Route)
		assert.Equal(t, "profile form", res.ScreenContext)
		assert.Equal(t, "/settings", res.History[0].Route)
	})

	t.Run("should merge metadata across turns", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "a",
			Metadata: map[string]string{"plan": "free", "locale": "en"}})
		require.NoError(t, err)
		_, err = f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "b",
			Metadata: map[string]string{"plan": "pro"}})
		require.NoError(t, err)

		snap, err := f.registry.Get("S", "1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"plan": "pro", "locale": "en"}, snap.Metadata)
	})

	t.Run("should pass a valid attachment to the invoker", func(t *testing.T) {
		f := newFixture(t, 20)

		_, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:    "1",
			Message:    "what is this?",
			Attachment: &Attachment{DataBase64: base64.StdEncoding.EncodeToString([]byte("png-bytes")), MIMEType: "image/png"},
		})
		require.NoError(t, err)

		call := f.invoker.lastCall()
		require.Len(t, call.Parts, 1)
		assert.Equal(t, "image/png", call.Parts[0].MIMEType)
		assert.Equal(t, []byte("png-bytes"), call.Parts[0].Data)
		assert.Contains(t, call.Prompt, "an image from the user is included")
	})

	t.Run("should drop an oversized attachment and still reply", func(t *testing.T) {
		f := newFixture(t, 20)
		payload := base64.StdEncoding.EncodeToString(make([]byte, 2_000_000))

		res, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:    "1",
			Message:    "look at this",
			Attachment: &Attachment{DataBase64: payload},
		})
		require.NoError(t, err)

		assert.NotEmpty(t, res.Reply)
		call := f.invoker.lastCall()
		assert.Empty(t, call.Parts)
		assert.Contains(t, call.Prompt, "- Attachment: none")
	})

	t.Run("should drop an undecodable attachment and still reply", func(t *testing.T) {
		f := newFixture(t, 20)

		res, err := f.mediator.Chat(ctx, ChatRequest{
			OwnerID:    "1",
			Message:    "look",
			Attachment: &Attachment{DataBase64: "%%% not base64 %%%"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, res.Reply)
		assert.Empty(t, f.invoker.lastCall().Parts)
	})

	t.Run("should surface exhaustion once and keep only the user turn", func(t *testing.T) {
		f := newFixture(t, 20)
		f.invoker.handle = func(context.Context, string, []attachment.InlinePart) (agent.Reply, error) {
			return agent.Reply{}, &agent.InvocationError{Attempts: 3, Last: errors.New("quota exhausted on text-3")}
		}

		_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "S", Message: "anyone?"})
		require.Error(t, err)

		assert.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, agent.ErrAllModelsFailed)
		assert.Contains(t, err.Error(), "quota exhausted on text-3")

		snap, err := f.registry.Get("S", "1")
		require.NoError(t, err)
		require.Len(t, snap.History, 1)
		assert.Equal(t, conversation.RoleUser, snap.History[0].Role)
	})
}

// vision-first ordering through a real invoker
type scriptedProvider struct {
	answers map[string]string
}

func (p *scriptedProvider) Generate(_ context.Context, request agent.GenerateRequest) (*agent.GenerateResponse, error) {
	text, ok := p.answers[request.Model]
	if !ok {
		return nil, fmt.Errorf("%s unavailable", request.Model)
	}
	return &agent.GenerateResponse{Text: text}, nil
}

func (p *scriptedProvider) Provider() string {
	return "scripted"
}

type scriptedCreator struct {
	provider agent.LLMProvider
}

func (c *scriptedCreator) NewProvider(string) (agent.LLMProvider, error) {
	return c.provider, nil
}

func TestMediator_ChatWithInvoker(t *testing.T) {
	variants := []agent.Variant{
		{ID: "vision-1", Provider: "scripted", Capability: agent.CapabilityVision, Rank: 1},
		{ID: "text-1", Provider: "scripted", Capability: agent.CapabilityText, Rank: 1},
	}

	newMediator := func(t *testing.T, answers map[string]string) *Mediator {
		inv, err := agent.NewInvoker(agent.InvokerConfig{
			Variants:  variants,
			Providers: &scriptedCreator{provider: &scriptedProvider{answers: answers}},
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		m, err := New(Config{
			Registry: session.NewRegistry(session.Options{Logger: zerolog.Nop()}),
			Invoker:  inv,
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)
		return m
	}

	t.Run("should answer an image with the vision model", func(t *testing.T) {
		m := newMediator(t, map[string]string{"vision-1": "I see a cat", "text-1": "text only"})

		res, err := m.Chat(context.Background(), ChatRequest{
			OwnerID:    "1",
			Message:    "what is this?",
			Attachment: &Attachment{DataBase64: base64.StdEncoding.EncodeToString([]byte("jpeg"))},
		})
		require.NoError(t, err)
		assert.Equal(t, "vision-1", res.Model)
	})

	t.Run("should use a text model when the attachment is dropped", func(t *testing.T) {
		m := newMediator(t, map[string]string{"vision-1": "I see a cat", "text-1": "text only"})

		res, err := m.Chat(context.Background(), ChatRequest{
			OwnerID:    "1",
			Message:    "what is this?",
			Attachment: &Attachment{DataBase64: base64.StdEncoding.EncodeToString(make([]byte, 2_000_000))},
		})
		require.NoError(t, err)
		assert.Equal(t, "text-1", res.Model)
	})

	t.Run("should fall back from vision to text", func(t *testing.T) {
		m := newMediator(t, map[string]string{"text-1": "text only"})

		res, err := m.Chat(context.Background(), ChatRequest{
			OwnerID:    "1",
			Message:    "what is this?",
			Attachment: &Attachment{DataBase64: base64.StdEncoding.EncodeToString([]byte("jpeg"))},
		})
		require.NoError(t, err)
		assert.Equal(t, "text-1", res.Model)
	})

	t.Run("should surface the last failure when all fail", func(t *testing.T) {
		m := newMediator(t, nil)

		_, err := m.Chat(context.Background(), ChatRequest{OwnerID: "1", Message: "hi"})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Contains(t, err.Error(), "text-1 unavailable")
	})
}

func TestMediator_ChatConcurrent(t *testing.T) {
	f := newFixture(t, 200)
	ctx := context.Background()

	_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "1", SessionID: "shared", Message: "opening"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mediator.Chat(ctx, ChatRequest{
				OwnerID:   "1",
				SessionID: "shared",
				Message:   fmt.Sprintf("concurrent %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mediator.Chat(ctx, ChatRequest{OwnerID: "2", SessionID: "shared", Message: "intruder"})
			assert.ErrorIs(t, err, ErrPermission)
		}()
	}
	wg.Wait()

	snap, err := f.registry.Get("shared", "1")
	require.NoError(t, err)
	assert.Len(t, snap.History, 42)

	users := 0
	for _, turn := range snap.History {
		assert.NotEqual(t, "intruder", turn.Content)
		if turn.Role == conversation.RoleUser {
			users++
		}
	}
	assert.Equal(t, 21, users)
}
