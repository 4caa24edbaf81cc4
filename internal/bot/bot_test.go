package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commit365/chatzipper/internal/digest"
	"github.com/commit365/chatzipper/internal/store"
)

const groupChat = int64(-100500)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	deleted  []tgbotapi.DeleteMessageConfig
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopOnce sync.Once
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if mc, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, mc)
	}
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if dc, ok := c.(tgbotapi.DeleteMessageConfig); ok {
		f.deleted = append(f.deleted, dc)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.stopOnce.Do(func() { close(f.updates) })
}

func (f *fakeAPI) textsSentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, mc := range f.sent {
		if mc.ChatID == chatID {
			out = append(out, mc.Text)
		}
	}
	return out
}

func (f *fakeAPI) deletions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeSummarizer struct {
	mu     sync.Mutex
	result string
	calls  int
}

func (s *fakeSummarizer) Summarize(_ context.Context, _ []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, nil
}

type fixture struct {
	api    *fakeAPI
	bot    *Bot
	store  *store.Store
	sum    *fakeSummarizer
	cancel context.CancelFunc
	done   chan struct{}
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sum := &fakeSummarizer{result: "the gist of it"}
	svc := digest.New(st, sum, digest.Settings{
		MessageLimit:   limit,
		TimeWindow:     24 * time.Hour,
		AllowedChatIDs: []int64{groupChat},
	})

	api := newFakeAPI()
	b := New(api, svc, Options{
		Username:       "chatzipper_bot",
		AllowedChatIDs: []int64{groupChat},
		MessageLimit:   limit,
		NoticeTTL:      10 * time.Millisecond,
		PollTimeout:    1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	fx := &fixture{api: api, bot: b, store: st, sum: sum, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("bot did not stop")
		}
	})
	return fx
}

func groupMessage(msgID int, userID int64, text string) tgbotapi.Update {
	return chatMessage(msgID, groupChat, userID, text)
}

func chatMessage(msgID int, chatID, userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: msgID,
		From:      &tgbotapi.User{ID: userID, UserName: "user", FirstName: "User"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Date:      int(time.Now().Unix()),
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := text
		if i := strings.IndexByte(text, ' '); i > 0 {
			cmd = text[:i]
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func awaitText(t *testing.T, api *fakeAPI, chatID int64, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, text := range api.textsSentTo(chatID) {
			if strings.Contains(text, substr) {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "expected a message to chat %d containing %q", chatID, substr)
}

func TestStartCommand(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- groupMessage(1, 5, "/start")

	awaitText(t, fx.api, groupChat, "I help you catch up")
}

func TestUnknownCommand(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- groupMessage(1, 5, "/frobnicate")

	awaitText(t, fx.api, groupChat, "I don't recognize that command")
}

func TestChatzip_UnauthorizedChat(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- chatMessage(1, -999, 5, "/chatzip")

	awaitText(t, fx.api, int64(-999), "only available in specific group chats")
}

func TestChatzip_CaughtUp(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- groupMessage(1, 5, "/chatzip")

	awaitText(t, fx.api, groupChat, "you're all caught up")
}

func TestGroupNoticeSelfDestructs(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- groupMessage(1, 5, "/start")

	awaitText(t, fx.api, groupChat, "I help you catch up")
	require.Eventually(t, func() bool {
		return fx.api.deletions() > 0
	}, 3*time.Second, 5*time.Millisecond, "expected the group notice to be deleted")
}

func TestTextMessage_StoredWithoutOffer(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- groupMessage(1, 9, "hello there")

	require.Eventually(t, func() bool {
		n, err := fx.store.MessageCount(context.Background())
		return err == nil && n == 1
	}, 3*time.Second, 5*time.Millisecond)

	// below the threshold: no offer is sent
	assert.Empty(t, fx.api.textsSentTo(9))
}

func TestTextMessage_UnauthorizedChatIgnored(t *testing.T) {
	fx := newFixture(t, 5)

	fx.api.updates <- chatMessage(1, -999, 9, "should be dropped")
	fx.api.updates <- groupMessage(2, 9, "should be stored")

	require.Eventually(t, func() bool {
		n, err := fx.store.MessageCount(context.Background())
		return err == nil && n == 1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestOfferFlow(t *testing.T) {
	fx := newFixture(t, 2)

	// three messages from user 9 build user 5's backlog
	fx.api.updates <- groupMessage(1, 9, "one")
	fx.api.updates <- groupMessage(2, 9, "two")
	fx.api.updates <- groupMessage(3, 9, "three")

	require.Eventually(t, func() bool {
		n, err := fx.store.MessageCount(context.Background())
		return err == nil && n == 3
	}, 3*time.Second, 5*time.Millisecond)

	fx.api.updates <- groupMessage(4, 5, "/chatzip")

	// group notice plus DM offer
	awaitText(t, fx.api, groupChat, "check your DMs")
	awaitText(t, fx.api, int64(5), "Would you like a summary?")
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: userID, UserName: "user", FirstName: "User"},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 777,
				Chat:      &tgbotapi.Chat{ID: userID},
			},
		},
	}
}

func TestCallback_YesDeliversSummary(t *testing.T) {
	fx := newFixture(t, 2)

	fx.api.updates <- groupMessage(1, 9, "one")
	fx.api.updates <- groupMessage(2, 9, "two")
	fx.api.updates <- groupMessage(3, 9, "three")
	require.Eventually(t, func() bool {
		n, err := fx.store.MessageCount(context.Background())
		return err == nil && n == 3
	}, 3*time.Second, 5*time.Millisecond)

	fx.api.updates <- callbackUpdate(5, "summary_yes")

	awaitText(t, fx.api, int64(5), "Here's your summary:")
	awaitText(t, fx.api, int64(5), "the gist of it")

	// the keyboard message is cleaned up
	require.Eventually(t, func() bool {
		return fx.api.deletions() > 0
	}, 3*time.Second, 5*time.Millisecond)
}

func TestCallback_YesWhenCaughtUp(t *testing.T) {
	fx := newFixture(t, 50)

	fx.api.updates <- callbackUpdate(5, "summary_yes")

	awaitText(t, fx.api, int64(5), "You're already caught up!")
}

func TestCallback_No(t *testing.T) {
	fx := newFixture(t, 2)

	fx.api.updates <- callbackUpdate(5, "summary_no")

	awaitText(t, fx.api, int64(5), declineText)
}

func TestStatusTracksUpdates(t *testing.T) {
	fx := newFixture(t, 5)

	assert.True(t, fx.bot.LastUpdateAt().IsZero())

	fx.api.updates <- groupMessage(1, 9, "hello")

	require.Eventually(t, func() bool {
		return !fx.bot.LastUpdateAt().IsZero()
	}, 3*time.Second, 5*time.Millisecond)

	st := fx.bot.Status()
	assert.Equal(t, "chatzipper_bot", st.Username)
	assert.False(t, st.LastUpdateAt.IsZero())
}
