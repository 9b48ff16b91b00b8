package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
)

type fakeBot struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.Recipient()]; err != nil {
		return nil, err
	}
	if f.sent == nil {
		f.sent = map[string][]string{}
	}
	f.sent[to.Recipient()] = append(f.sent[to.Recipient()], what.(string))
	return &tele.Message{ID: len(f.sent[to.Recipient()])}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ChatIDs: []int64{1}}, logx.Nop())
	require.Error(t, err)

	_, err = New(Config{Token: "t"}, logx.Nop())
	require.Error(t, err)
}

func TestSink_SendFanout(t *testing.T) {
	bot := &fakeBot{fail: map[string]error{"2": errors.New("chat not found")}}
	s := &Sink{cfg: Config{ChatIDs: []int64{1, 2, 3}}, log: logx.Nop(), bot: bot}

	err := s.Send(context.Background(), kit.Message{Title: "Date night <3", Body: "Tomorrow & forever", Priority: 8})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 2")

	require.Len(t, bot.sent["1"], 1)
	require.Len(t, bot.sent["3"], 1)
	assert.Equal(t, "❗ <b>Date night &lt;3</b>\nTomorrow &amp; forever", bot.sent["1"][0])
}

func TestSink_SendEmpty(t *testing.T) {
	bot := &fakeBot{}
	s := &Sink{cfg: Config{ChatIDs: []int64{1}}, log: logx.Nop(), bot: bot}
	require.NoError(t, s.Send(context.Background(), kit.Message{}))
	assert.Empty(t, bot.sent)
}

func TestSplitTelegramText(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		assert.Equal(t, []string{"hi"}, splitTelegramText("hi", 10, tele.ModeDefault))
	})

	t.Run("prefers newline", func(t *testing.T) {
		s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
		got := splitTelegramText(s, 10, tele.ModeDefault)
		assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
	})

	t.Run("no tag split in html", func(t *testing.T) {
		s := "aaaaaaaa<b>x</b>"
		got := splitTelegramText(s, 10, tele.ModeHTML)
		require.NotEmpty(t, got)
		assert.Equal(t, "aaaaaaaa", got[0])
		assert.Equal(t, s, strings.Join(got, ""))
	})

	t.Run("no entity split in html", func(t *testing.T) {
		s := "aaaaaaaa&amp;bbb"
		got := splitTelegramText(s, 10, tele.ModeHTML)
		assert.Equal(t, []string{"aaaaaaaa", "&amp;bbb"}, got)
	})

	t.Run("escaped body at the boundary", func(t *testing.T) {
		const limit = 100
		body := strings.Repeat("a", limit-11) + "&" + strings.Repeat("b", 50)
		got := splitTelegramText(formatHTML(kit.Message{Title: "T", Body: body}), limit, tele.ModeHTML)
		require.Greater(t, len(got), 1)
		for _, chunk := range got {
			if i := strings.LastIndex(chunk, "&"); i >= 0 {
				assert.Contains(t, chunk[i:], ";", "chunk ends inside an entity: %q", chunk)
			}
		}
		assert.Equal(t, "<b>T</b>\n"+strings.Replace(body, "&", "&amp;", 1), strings.Join(got, ""))
	})

	t.Run("hard split keeps runes", func(t *testing.T) {
		s := strings.Repeat("💕", 25)
		got := splitTelegramText(s, 10, tele.ModeDefault)
		require.Len(t, got, 3)
		assert.Equal(t, s, strings.Join(got, ""))
	})
}
