package service

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testChat  = int64(-1001)
	testAdmin = int64(1)
)

type serviceFixture struct {
	svc       *ModerationService
	reviewUC  *usecase.ReviewUsecase
	historyUC *usecase.HistoryUsecase
	throttle  *usecase.Throttle
	platform  *mockPlatform
	model     *mockModel
	history   *mockHistoryRepo
	config    *mockConfigRepo
	publisher *mockPublisher
}

func newServiceFixture(t *testing.T, reply string) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		platform:  &mockPlatform{members: map[int64]domain.Member{}},
		model:     &mockModel{reply: reply},
		history:   &mockHistoryRepo{},
		config:    newMockConfigRepo(),
		publisher: &mockPublisher{},
	}
	f.config.admins[testChat] = []int64{testAdmin}

	bufferUC, err := usecase.NewBufferUsecase(context.Background(), &mockStateRepo{}, nil)
	require.NoError(t, err)
	f.historyUC = usecase.NewHistoryUsecase(f.history, usecase.DefaultHistoryConfig())
	moderationUC := usecase.NewModerationUsecase(
		f.config,
		f.model,
		f.historyUC,
		usecase.NewContextBuilderUsecase(f.config, nil),
		usecase.NewFilterUsecase(nil, nil),
		usecase.NewPromptAssembler(usecase.PromptConfig{}),
		usecase.NewResponsePolicy(nil, 0),
		usecase.ModerationConfig{
			DefaultAPIKey: "key",
			Retry:         usecase.RetryConfig{Timeout: time.Second, MaxAttempts: 1},
		},
		nil,
	)
	f.reviewUC = usecase.NewReviewUsecase(newMockKV(), f.platform, f.publisher, f.config, usecase.DefaultReviewConfig(), nil)
	dispatcher := NewActionDispatcher(f.platform, f.publisher, DefaultKickUnbanDelay, nil)
	f.throttle = usecase.NewThrottle(usecase.ThrottleConfig{})

	f.svc = NewModerationService(
		bufferUC, f.historyUC, moderationUC, f.reviewUC,
		f.config, f.platform, f.publisher, dispatcher, f.throttle,
		Config{BatchSize: 3, FlushAfter: time.Minute},
		nil,
	)
	return f
}

func message(id, userID int64, text string) domain.BufferedMessage {
	return domain.BufferedMessage{
		MessageID: id,
		ChatID:    testChat,
		UserID:    userID,
		Text:      text,
		Timestamp: time.Now(),
		Username:  "member",
	}
}

func TestChatQueue_CoalescesTriggers(t *testing.T) {
	q := NewChatQueue()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32
	fn := func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(started)
			<-release
		}
		return nil
	}

	q.Trigger(ctx, 1, fn, nil)
	<-started
	assert.True(t, q.Busy(1))
	for i := 0; i < 3; i++ {
		ran, err := q.Run(ctx, 1, fn)
		require.NoError(t, err)
		assert.False(t, ran)
	}
	close(release)
	q.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.False(t, q.Busy(1))
}

func TestChatQueue_ChatsRunIndependently(t *testing.T) {
	q := NewChatQueue()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	q.Trigger(ctx, 1, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	ran, err := q.Run(ctx, 2, func(ctx context.Context) error { return errors.New("boom") })
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")

	close(release)
	q.Wait()
}

func TestFlush_BasicModeration(t *testing.T) {
	f := newServiceFixture(t, `{"r":[{"mid":10,"c":1,"rr":0,"a":2}]}`)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "spam link")))
	assert.Zero(t, f.model.callCount(), "a single message waits for the scheduler")

	require.NoError(t, f.svc.Flush(ctx, testChat))

	deletes := f.platform.find("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, int64(10), deletes[0].msgID)
	assert.Empty(t, f.platform.find("send"))
	assert.Empty(t, f.svc.PendingMessages(testChat))

	entries := f.history.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SenderUser, entries[0].Sender)
	require.NotNil(t, entries[0].Decision)
	assert.Equal(t, domain.ActionDelete, entries[0].Decision.Kind())
	assert.Equal(t, 1, f.publisher.count(domain.EventModerationAction))
}

func TestHandleMessage_DuplicateIgnored(t *testing.T) {
	f := newServiceFixture(t, `{"r":[]}`)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "hi")))
	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "hi")))
	assert.Len(t, f.svc.PendingMessages(testChat), 1)
}

func TestHandleMessage_MentionTriggersReply(t *testing.T) {
	f := newServiceFixture(t, `{"r":[{"mid":7,"c":2,"rr":1,"t":"Hello there"}]}`)
	ctx := context.Background()

	m := message(7, 5, "@warden hi")
	m.MentionsBot = true
	require.NoError(t, f.svc.HandleMessage(ctx, m))
	f.svc.Wait()

	sends := f.platform.find("send")
	require.Len(t, sends, 1)
	assert.Equal(t, "Hello there", sends[0].text)
	assert.Equal(t, int64(7), sends[0].replyTo)
	assert.Equal(t, 1, f.publisher.count(domain.EventAgentResponse))

	entries := f.history.all()
	require.Len(t, entries, 2)
	assert.True(t, entries[1].IsBot())
	assert.Equal(t, "Hello there", entries[1].Message.Text)
}

func TestHandleMessage_FullBufferTriggersBatch(t *testing.T) {
	f := newServiceFixture(t, `{"r":[]}`)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, f.svc.HandleMessage(ctx, message(id, 5, "msg")))
	}
	f.svc.Wait()

	assert.Equal(t, 1, f.model.callCount())
	assert.Empty(t, f.svc.PendingMessages(testChat))
	assert.Len(t, f.history.all(), 3)
}

func TestFlush_FailedBatchKeepsMessages(t *testing.T) {
	f := newServiceFixture(t, "")
	f.model.set("", &domain.ProviderError{StatusCode: http.StatusBadRequest, Err: errors.New("bad request")})
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "hello")))
	err := f.svc.Flush(ctx, testChat)

	require.Error(t, err)
	assert.Len(t, f.svc.PendingMessages(testChat), 1)
	assert.Empty(t, f.history.all())

	f.model.set(`{"r":[]}`, nil)
	require.NoError(t, f.svc.Flush(ctx, testChat))
	assert.Empty(t, f.svc.PendingMessages(testChat))
}

func TestFlush_DisabledChatDiscardsBatch(t *testing.T) {
	f := newServiceFixture(t, `{"r":[]}`)
	f.config.configs[testChat] = &domain.ChatConfig{ChatID: testChat, Enabled: false}
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "hello")))
	require.NoError(t, f.svc.Flush(ctx, testChat))

	assert.Zero(t, f.model.callCount())
	assert.Empty(t, f.svc.PendingMessages(testChat))
}

func TestFlush_ActionsAgainstAdminsDropped(t *testing.T) {
	f := newServiceFixture(t, `{"r":[{"mid":10,"c":1,"a":3,"t":"quiet","d":10},{"mid":11,"c":1,"a":1,"t":"careful","tu":1}]}`)
	ctx := context.Background()

	admin := message(10, 9, "I run this place")
	admin.IsAdmin = true
	require.NoError(t, f.svc.HandleMessage(ctx, admin))
	require.NoError(t, f.svc.HandleMessage(ctx, message(11, 5, "hey")))
	require.NoError(t, f.svc.Flush(ctx, testChat))

	assert.Empty(t, f.platform.ops())
}

func TestReviewFlow_ApproveOnce(t *testing.T) {
	f := newServiceFixture(t, `{"r":[{"mid":10,"c":1,"a":6,"t":"crypto scam"}]}`)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "free coins")))
	require.NoError(t, f.svc.Flush(ctx, testChat))

	assert.Equal(t, []string{"prompt"}, f.platform.ops(), "ban waits for approval")
	reviewID := pendingReviewID(t, f.publisher)

	entries := f.history.all()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Decision, "a ban awaiting review is not recorded as applied")

	text, err := f.svc.HandleReviewDecision(ctx, testChat, reviewID, 99, true)
	require.NoError(t, err)
	assert.Equal(t, "Only chat admins can decide reviews.", text)
	assert.Empty(t, f.platform.find("ban"))

	text, err = f.svc.HandleReviewDecision(ctx, testChat, reviewID, testAdmin, true)
	require.NoError(t, err)
	assert.Equal(t, "Approved: ban applied.", text)

	text, err = f.svc.HandleReviewDecision(ctx, testChat, reviewID, testAdmin, true)
	require.NoError(t, err)
	assert.Equal(t, "This review was already handled.", text)

	bans := f.platform.find("ban")
	require.Len(t, bans, 1)
	assert.Equal(t, int64(5), bans[0].userID)
	assert.Len(t, f.platform.find("delete_prompt"), 1)
	assert.Equal(t, 1, f.publisher.count(domain.EventReviewResolved))
}

func TestReviewFlow_Reject(t *testing.T) {
	f := newServiceFixture(t, `{"r":[{"mid":10,"c":1,"a":5,"t":"flooding"}]}`)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleMessage(ctx, message(10, 5, "aaaa")))
	require.NoError(t, f.svc.Flush(ctx, testChat))
	reviewID := pendingReviewID(t, f.publisher)

	text, err := f.svc.HandleReviewDecision(ctx, testChat, reviewID, testAdmin, false)
	require.NoError(t, err)
	assert.Equal(t, "Rejected, no action taken.", text)
	assert.Empty(t, f.platform.find("kick"))

	text, err = f.svc.HandleReviewDecision(ctx, testChat, "unknown", testAdmin, true)
	require.NoError(t, err)
	assert.Equal(t, "This review no longer exists.", text)
}

func pendingReviewID(t *testing.T, p *mockPublisher) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Kind == domain.EventReviewPrompt {
			rec, ok := e.Payload.(*domain.ReviewRecord)
			require.True(t, ok)
			return rec.ID
		}
	}
	t.Fatal("no review prompt published")
	return ""
}

func TestFlushDue(t *testing.T) {
	f := newServiceFixture(t, `{"r":[]}`)
	ctx := context.Background()
	now := time.Now()
	f.svc.now = func() time.Time { return now }

	old := message(1, 5, "old")
	old.Timestamp = now.Add(-2 * time.Minute)
	old.ChatID = 100
	fresh := message(2, 5, "fresh")
	fresh.Timestamp = now.Add(-10 * time.Second)

	require.NoError(t, f.svc.HandleMessage(ctx, old))
	require.NoError(t, f.svc.HandleMessage(ctx, fresh))

	assert.Equal(t, 1, f.svc.FlushDue(ctx))
	f.svc.Wait()

	assert.Empty(t, f.svc.PendingMessages(100))
	assert.Len(t, f.svc.PendingMessages(testChat), 1)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newServiceFixture(t, `{"r":[]}`)
	ctx := context.Background()

	old := message(1, 5, "old")
	old.Timestamp = time.Now().Add(-time.Hour)
	require.NoError(t, f.svc.HandleMessage(ctx, old))

	s := NewScheduler(f.svc, f.reviewUC, f.historyUC, f.throttle, SchedulerConfig{
		FlushInterval:       5 * time.Millisecond,
		ReviewSweepInterval: 5 * time.Millisecond,
		CleanupInterval:     5 * time.Millisecond,
	}, nil)
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return len(f.svc.PendingMessages(testChat)) == 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
