package completion

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/ashureev/ragstream/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	chunks  []*Chunk
	err     error
	gotMsgs []Message
}

func (p *scriptedProvider) CreateStream(_ context.Context, _ string, messages []Message) iter.Seq2[*Chunk, error] {
	p.gotMsgs = messages
	return func(yield func(*Chunk, error) bool) {
		for _, c := range p.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
	failAt int // 1-based index of the send that fails; 0 never fails
}

func (s *recordingSink) Send(_ context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 >= s.failAt {
		return errors.New("connection reset")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func newSession(model string) *domain.Session {
	s := domain.NewSession("s1", domain.Identity{ID: 1, Username: "u"})
	s.SetQuery("q", model, true, nil)
	return s
}

func TestRelay_ForwardsInArrivalOrder(t *testing.T) {
	provider := &scriptedProvider{chunks: []*Chunk{
		{Reasoning: "think-1"},
		{Reasoning: "think-2", Content: "A"},
		{Content: "B"},
		{},
		{Content: "C", Usage: &domain.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}},
	}}
	sink := &recordingSink{}
	sess := newSession("m")

	err := NewRelay(provider, nil).Stream(context.Background(), sess, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"reasoning_chunk", "reasoning_chunk", "chunk", "chunk", "chunk", "complete"}, sink.types())
	assert.Equal(t, protocol.ReasoningChunk("think-2"), sink.events[1])
	assert.Equal(t, protocol.Chunk("A"), sink.events[2])
	assert.Equal(t, "ABC", sess.Answer())
	assert.Equal(t, "think-1think-2", sess.Reasoning())
	require.NotNil(t, sess.Usage)
	assert.Equal(t, 8, sess.Usage.TotalTokens)
}

func TestRelay_ProviderFailureMidStream(t *testing.T) {
	provider := &scriptedProvider{
		chunks: []*Chunk{{Content: "partial "}, {Content: "answer"}},
		err:    errors.New("upstream 502"),
	}
	sink := &recordingSink{}
	sess := newSession("m")

	err := NewRelay(provider, nil).Stream(context.Background(), sess, nil, sink)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.EqualError(t, perr.Err, "upstream 502")
	assert.Equal(t, []string{"chunk", "chunk", "error"}, sink.types())
	assert.Equal(t, protocol.Error("upstream 502"), sink.events[2])
	assert.Equal(t, "partial answer", sess.Answer(), "sent output is kept")
	assert.Nil(t, sess.Usage)
}

func TestRelay_SinkFailureIsDisconnect(t *testing.T) {
	provider := &scriptedProvider{chunks: []*Chunk{{Content: "1"}, {Content: "2"}, {Content: "3"}, {Content: "4"}}}
	sink := &recordingSink{failAt: 3}
	sess := newSession("m")

	err := NewRelay(provider, nil).Stream(context.Background(), sess, nil, sink)

	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	assert.Equal(t, []string{"chunk", "chunk"}, sink.types())
	assert.Equal(t, "123", sess.Answer(), "attempted chunk is accounted")
}

func TestRelay_CancelledContextIsDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{
		chunks: []*Chunk{{Content: "x"}},
		err:    context.Canceled,
	}
	sink := &recordingSink{}
	cancel()

	err := NewRelay(provider, nil).Stream(ctx, newSession("m"), nil, sink)

	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	assert.NotContains(t, sink.types(), "error")
	assert.NotContains(t, sink.types(), "complete")
}

func TestBuildMessages(t *testing.T) {
	history := []domain.Turn{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
	}
	msgs := BuildMessages("SYS", history, "now")

	assert.Equal(t, []Message{
		{Role: "system", Content: "SYS"},
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "now"},
	}, msgs)
}
