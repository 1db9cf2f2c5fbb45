package notification

import (
	"context"
	"log"
	"strconv"

	"trisplits/pkg/model"
	"trisplits/pkg/pubsub"
	"trisplits/pkg/results"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nikoksr/notify"
)

type ChatLister interface {
	ListChats() ([]string, error)
}

type BoardSource interface {
	Board(ctx context.Context) (model.RaceResultBoard, error)
}

// Manager announces race lifecycle transitions to registered Telegram
// chats; when a race finishes, the final results board goes with it.
type Manager struct {
	ctx    context.Context
	bot    *tgbotapi.BotAPI
	chats  ChatLister
	boards BoardSource
}

func NewManager(ctx context.Context, bot *tgbotapi.BotAPI, chats ChatLister, boards BoardSource) *Manager {
	return &Manager{
		ctx:    ctx,
		bot:    bot,
		chats:  chats,
		boards: boards,
	}
}

func (m *Manager) Start(raceSub *pubsub.Subscription[model.Race]) {
	go func() {
		for {
			select {
			case <-m.ctx.Done():
				raceSub.Cancel()
				return
			case r, ok := <-raceSub.C:
				if !ok {
					return
				}
				m.handleTransition(r)
			}
		}
	}()
}

func (m *Manager) handleTransition(r model.Race) {
	switch r.Status {
	case model.StatusStarted:
		m.announce("Race started", "The race on "+r.Date+" is under way.")
	case model.StatusFinished:
		board, err := m.boards.Board(m.ctx)
		if err != nil {
			log.Printf("error fetching board for announcement: %s", err.Error())
			return
		}
		text, err := results.Export(board, results.FormatText)
		if err != nil {
			log.Printf("error rendering board for announcement: %s", err.Error())
			return
		}
		m.announce("Race finished, final results:", text)
	}
}

func (m *Manager) announce(subject, message string) {
	chats, err := m.chats.ListChats()
	if err != nil {
		log.Printf("error listing notification chats: %s", err.Error())
		return
	}
	if len(chats) == 0 {
		return
	}
	log.Printf("sending %q to %d telegram chats\n", subject, len(chats))

	tg := Telegram{}
	tg.SetClient(m.bot)
	for _, chat := range chats {
		chatID, _ := strconv.ParseInt(chat, 0, 64)
		tg.AddReceivers(chatID)
	}

	n := notify.NewWithServices(&tg)
	if err := n.Send(m.ctx, subject, message); err != nil {
		log.Printf("error notifying chats: %s", err.Error())
	}
}
