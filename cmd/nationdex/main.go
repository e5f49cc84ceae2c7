package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/Aram-Development/Nationdex/internal/bot"
	"github.com/Aram-Development/Nationdex/internal/catcher"
	"github.com/Aram-Development/Nationdex/internal/config"
	"github.com/Aram-Development/Nationdex/internal/gateway"
	"github.com/Aram-Development/Nationdex/internal/ledger"
	"github.com/Aram-Development/Nationdex/internal/metrics"
	"github.com/Aram-Development/Nationdex/internal/promocode"
	"github.com/Aram-Development/Nationdex/internal/spawner"
	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
	"github.com/Aram-Development/Nationdex/internal/trade"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	writeConfig := flag.Bool("write-config", false, "write a default config file and exit")
	seedPath := flag.String("seed", "", "seed the species catalog from a JSON file and exit")
	devGuild := flag.String("dev-guild", "", "register commands on one guild only (instant propagation, for development)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if *writeConfig {
		if err := config.WriteDefault(*configPath); err != nil {
			fatal(log, "failed to write config", err)
		}
		log.Info("wrote default config", "path", *configPath)
		return
	}

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.NewManager(*configPath, log)
	if err != nil {
		fatal(log, "failed to load config", err)
	}

	st, err := store.OpenSQLite(cfg.Current().DatabasePath)
	if err != nil {
		fatal(log, "failed to open database", err)
	}
	defer st.Close()

	if *seedPath != "" {
		if err := seedSpecies(st, *seedPath, log); err != nil {
			fatal(log, "failed to seed species", err)
		}
		return
	}

	var met *metrics.Metrics
	if cfg.Current().Prometheus.Enabled {
		met = metrics.New(nil)
		srv := metrics.Serve(cfg.Current().Prometheus.Host, cfg.Current().Prometheus.Port, log)
		defer srv.Close()
		log.Info("metrics endpoint up", "addr", srv.Addr)
	}

	session, err := discordgo.New("Bot " + cfg.Current().DiscordToken)
	if err != nil {
		fatal(log, "failed to create session", err)
	}
	session.ShardCount = cfg.Current().ShardCount
	session.ShardID = cfg.Current().ShardId
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		fatal(log, "failed to open gateway connection", err)
	}
	defer session.Close()

	appId := session.State.User.ID

	msgr := gateway.NewRetrying(
		gateway.NewDiscord(session),
		cfg.Current().Spawn.PostRetries,
		2*time.Second,
		log,
		met,
	)

	ledg := ledger.New(st, log)
	sched := spawner.New(st, msgr, spawnPolicy(cfg), announcer(cfg), nil, log, met)
	verif := catcher.New(st, catchCooldown(cfg), nil, log, met)
	trades := trade.New(st, tradeOptions(cfg), log, met)
	promos := promocode.New(st, nil, log, met)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.RunSweeper(ctx, cfg.Current().Spawn.SweepEvery.Duration)
	go trades.RunJanitor(ctx, cfg.Current().Trade.SweepEvery.Duration)

	teardown, err := bot.Setup(session, appId, *devGuild, msgr, cfg, sched, verif, ledg, trades, promos, st, log)
	if err != nil {
		fatal(log, "failed to setup bot", err)
	}
	defer teardown()

	log.Info("bot is running", "bot", cfg.Current().BotName, "shard", cfg.Current().ShardId)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			_ = cfg.Reload()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}

// Tunable getters read the live config so SIGHUP reloads apply without
// a restart.

func spawnPolicy(cfg *config.Manager) func() spawner.Policy {
	return func() spawner.Policy {
		c := cfg.Current()
		return spawner.Policy{
			MessageThreshold: c.Spawn.MessageThreshold,
			IntervalMin:      c.Spawn.IntervalMin.Duration,
			IntervalMax:      c.Spawn.IntervalMax.Duration,
			CatchExpiry:      c.Catch.Expiry.Duration,
			SpawnChannels:    c.Spawn.Channels,
		}
	}
}

func catchCooldown(cfg *config.Manager) func() time.Duration {
	return func() time.Duration {
		return cfg.Current().Catch.Cooldown.Duration
	}
}

func tradeOptions(cfg *config.Manager) func() trade.Options {
	return func() trade.Options {
		c := cfg.Current()
		return trade.Options{
			Timeout:    c.Trade.Timeout.Duration,
			AllowGifts: c.Trade.AllowGifts,
		}
	}
}

// announcer renders the spawn message. The species name never appears
// in it; guessing the name is the game.
func announcer(cfg *config.Manager) func(species.Definition) string {
	return func(def species.Definition) string {
		c := cfg.Current()
		msg := "A wild {collectible} appeared!"
		if len(c.Catch.SpawnMsgs) > 0 {
			msg = c.Catch.SpawnMsgs[int(time.Now().UnixNano())%len(c.Catch.SpawnMsgs)]
		}
		return strings.ReplaceAll(msg, "{collectible}", c.CollectibleName)
	}
}

func seedSpecies(st *store.SQLite, path string, log *slog.Logger) error {
	defs, err := species.LoadDefinitionsFromJSON(path)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, d := range defs {
		if err := st.UpsertSpecies(ctx, d); err != nil {
			return fmt.Errorf("upsert %s: %w", d.Key, err)
		}
	}
	log.Info("seeded species catalog", "count", len(defs))
	return nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
