package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trisplits/pkg/boardstore"
	"trisplits/pkg/hub"
	"trisplits/pkg/ledger"
	"trisplits/pkg/model"
	"trisplits/pkg/notification"
	"trisplits/pkg/pubsub"
	"trisplits/pkg/race"
	"trisplits/pkg/remote"
	"trisplits/pkg/results"
	"trisplits/pkg/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// standard olympic-distance course, meters per segment
var defaultDistances = map[model.Segment]float64{
	model.SegmentSwim:  1500,
	model.SegmentCycle: 40000,
	model.SegmentRun:   10000,
}

type rosterSource struct {
	roster []model.Participant
}

func (rs rosterSource) Roster() []model.Participant {
	return rs.roster
}

func main() {
	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	store, err := boardstore.NewManager(os.Getenv("TIMING_DB"))
	if err != nil {
		log.Panic(err)
	}

	roster, err := store.FetchRoster()
	if err != nil {
		log.Panic(err)
	}
	log.Printf("loaded %d participants", len(roster))

	statuses := pubsub.NewPubSub[model.Race]()
	bibs := make([]string, 0, len(roster))
	for _, p := range roster {
		bibs = append(bibs, p.BibNumber)
	}
	raceMgr := race.NewManager(model.Race{
		Date:             time.Now().Format("2006-01-02"),
		Status:           model.StatusNotStarted,
		BibNumbers:       bibs,
		SegmentDistances: defaultDistances,
	}, statuses)

	snapshots := pubsub.NewPubSub[model.LedgerSnapshot]()
	led := ledger.New(raceMgr, snapshots)

	hubMgr := hub.NewManager(raceMgr, led, rosterSource{roster: roster})
	go hubMgr.Serve(ctx)

	domain := os.Getenv("HUB_DOMAIN")
	if domain == "" {
		domain = "http://localhost:8080"
	}
	client := remote.NewClient(domain)
	cache := pubsub.NewPubSub[model.LedgerSnapshot]()
	sync := syncer.New(ctx, client, raceMgr, cache)
	defer sync.Close()

	boards := pubsub.NewPubSub[model.RaceResultBoard]()
	resMgr := results.NewManager(
		ctx,
		roster,
		raceMgr.Race(),
		store,
		boards,
		statuses.Subscribe(race.PubSubStatusTopic),
		sync.Subscribe(),
	)

	// notifications are optional; without a token the hub still runs
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			log.Panic(err)
		}
		bot.Debug = false
		nm := notification.NewManager(ctx, bot, store, resMgr)
		nm.Start(statuses.Subscribe(race.PubSubStatusTopic))
	}

	log.Println("timing service running. Press Ctrl-C to stop it")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// lock the main thread until we receive a signal
	<-sigs

	cancel()
	if err := store.Close(); err != nil {
		log.Printf("error closing store: %s", err.Error())
	}
}
