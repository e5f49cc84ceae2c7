// Package bot wires the spawn-catch-trade core to Discord: message
// events feed the spawn scheduler and catch verifier, slash commands
// drive trades, the collection view and promo code redemption.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Aram-Development/Nationdex/internal/catcher"
	"github.com/Aram-Development/Nationdex/internal/config"
	"github.com/Aram-Development/Nationdex/internal/gateway"
	"github.com/Aram-Development/Nationdex/internal/ledger"
	"github.com/Aram-Development/Nationdex/internal/promocode"
	"github.com/Aram-Development/Nationdex/internal/ratelimit"
	"github.com/Aram-Development/Nationdex/internal/spawner"
	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
	"github.com/Aram-Development/Nationdex/internal/trade"
)

// SpeciesReader resolves species for display and rarity labelling.
type SpeciesReader interface {
	SpeciesById(ctx context.Context, id species.Id) (species.Definition, error)
	EnabledSpecies(ctx context.Context) ([]species.Definition, error)
}

type module struct {
	s       *discordgo.Session
	appId   string
	msgr    gateway.Messenger
	cfg     *config.Manager
	sched   *spawner.Scheduler
	verif   *catcher.Verifier
	ledg    *ledger.Ledger
	trades  *trade.Orchestrator
	promos  *promocode.Service
	catalog SpeciesReader
	cmdLim  *ratelimit.Limiter
	log     *slog.Logger

	mu  sync.Mutex
	rng *mrand.Rand
}

// Setup registers the slash commands and event handlers. The returned
// teardown removes the handlers.
func Setup(
	session *discordgo.Session,
	appId, scopeGuild string,
	msgr gateway.Messenger,
	cfg *config.Manager,
	sched *spawner.Scheduler,
	verif *catcher.Verifier,
	ledg *ledger.Ledger,
	trades *trade.Orchestrator,
	promos *promocode.Service,
	catalog SpeciesReader,
	log *slog.Logger,
) (func(), error) {
	if log == nil {
		log = slog.Default()
	}
	m := &module{
		s:       session,
		appId:   appId,
		msgr:    msgr,
		cfg:     cfg,
		sched:   sched,
		verif:   verif,
		ledg:    ledg,
		trades:  trades,
		promos:  promos,
		catalog: catalog,
		cmdLim:  ratelimit.NewLimiter(2*time.Second, 2*time.Second, nil),
		log:     log,
		rng:     mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}

	created, err := session.ApplicationCommandBulkOverwrite(appId, scopeGuild, commandDefs())
	if err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}
	for _, c := range created {
		log.Info("command active", "name", c.Name)
	}

	removeMsg := session.AddHandler(m.onMessage)
	removeInter := session.AddHandler(m.onInteraction)

	return func() {
		removeMsg()
		removeInter()
	}, nil
}

func (m *module) onMessage(s *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Author == nil || mc.Author.Bot || mc.GuildID == "" {
		return
	}
	ev := gateway.Event{
		UserId:    mc.Author.ID,
		GuildId:   mc.GuildID,
		ChannelId: mc.ChannelID,
		MessageId: mc.ID,
		Text:      mc.Content,
		Timestamp: mc.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	ctx := context.Background()
	sp, err := m.sched.HandleActivity(ctx, ev.GuildId, ev.ChannelId, ev.Timestamp)
	if err != nil {
		m.log.Error("spawn decision failed", "channel", ev.ChannelId, "err", err)
	}
	if sp != nil {
		// the triggering message is not a guess for its own spawn
		return
	}

	m.handleGuess(ctx, ev)
}

// handleGuess treats a channel message as a catch guess when the
// channel has a live spawn.
func (m *module) handleGuess(ctx context.Context, ev gateway.Event) {
	guess := strings.TrimSpace(ev.Text)
	if guess == "" {
		return
	}

	pending, err := m.sched.PendingSpawn(ctx, ev.ChannelId)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Error("pending spawn lookup failed", "channel", ev.ChannelId, "err", err)
		}
		return
	}

	out, err := m.verif.Attempt(ctx, pending.Id, ev.UserId, guess, ev.Timestamp)
	if err != nil {
		m.log.Error("catch attempt failed", "spawn", pending.Id, "user", ev.UserId, "err", err)
		m.reply(ev.ChannelId, "Something went wrong, try again later.")
		return
	}

	cfg := m.cfg.Current()
	switch out.Result {
	case catcher.Caught:
		m.announceCatch(ctx, ev, pending, out, guess, cfg)
	case catcher.WrongName:
		if out.FirstMiss {
			m.reply(ev.ChannelId, m.renderTemplate(cfg.Catch.WrongMsgs, ev.UserId, "", guess, cfg.CollectibleName))
		}
	case catcher.AlreadyResolved:
		m.reply(ev.ChannelId, m.renderTemplate(cfg.Catch.SlowMsgs, ev.UserId, "", guess, cfg.CollectibleName))
	case catcher.Expired:
		m.reply(ev.ChannelId, m.renderTemplate(cfg.Catch.SlowMsgs, ev.UserId, "", guess, cfg.CollectibleName))
	case catcher.OnCooldown:
		// silent: cooldown spam would drown the channel
	}
}

// announceCatch marks the win in the channel: a ✅ on the winning guess,
// the announcement edited so latecomers see the spawn is gone, and the
// caught message as a rarity-colored embed.
func (m *module) announceCatch(ctx context.Context, ev gateway.Event, sp store.Spawn, out catcher.Outcome, guess string, cfg *config.Config) {
	if err := m.msgr.AddReaction(ctx, ev.ChannelId, ev.MessageId, "✅"); err != nil {
		m.log.Warn("failed to react to catch", "err", err)
	}

	def, derr := m.catalog.SpeciesById(ctx, out.Instance.SpeciesId)
	name := def.Name
	if derr != nil {
		name = "Unknown"
	}

	if sp.MessageId != "" {
		edited := m.renderTemplate(cfg.Catch.SpawnMsgs, ev.UserId, name, "", cfg.CollectibleName)
		edited += fmt.Sprintf("\n*Caught by <@%s>*", ev.UserId)
		if err := m.msgr.EditMessage(ctx, ev.ChannelId, sp.MessageId, edited); err != nil {
			m.log.Warn("failed to retire announcement", "spawn", sp.Id, "err", err)
		}
	}

	msg := m.renderTemplate(cfg.Catch.CaughtMsgs, ev.UserId, name, guess, cfg.CollectibleName)
	msg += fmt.Sprintf("\n`ATK %+d · HP %+d · id %s`", out.Instance.Attack, out.Instance.Health, shortId(out.Instance.Id))

	tier := m.rarityOf(ctx, def)
	embed := &discordgo.MessageEmbed{
		Description: msg,
		Color:       species.ColorForTier(tier),
		Footer:      &discordgo.MessageEmbedFooter{Text: tier.String()},
	}
	if _, err := m.s.ChannelMessageSendEmbed(ev.ChannelId, embed); err != nil {
		logREST(m.log, "catch announcement failed", err)
	}
}

// rarityOf classifies a species against the current enabled catalog.
func (m *module) rarityOf(ctx context.Context, def species.Definition) species.RarityTier {
	defs, err := m.catalog.EnabledSpecies(ctx)
	if err != nil || len(defs) == 0 {
		return species.TierCommon
	}
	return species.NewPicker(defs, nil).Tier(def)
}

func (m *module) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "collection":
		m.handleCollection(s, i)
	case "balance":
		m.handleBalance(s, i)
	case "redeem":
		m.handleRedeem(s, i)
	case "trade":
		m.handleTrade(s, i)
	}
}

func (m *module) handleCollection(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userId, ok := m.guardGuild(s, i)
	if !ok {
		return
	}

	ctx := context.Background()
	instances, err := m.ledg.Collection(ctx, userId, 25)
	if err != nil {
		m.log.Error("collection load failed", "user", userId, "err", err)
		respondEphemeral(s, i, "Error loading your collection.")
		return
	}
	if len(instances) == 0 {
		respondEphemeral(s, i, "Your collection is empty. Catch something first!")
		return
	}

	desc := strings.Builder{}
	for _, inst := range instances {
		name := m.speciesName(ctx, inst.SpeciesId)
		lock := ""
		if inst.LockedBy != "" {
			lock = " 🔒"
		}
		fmt.Fprintf(&desc, "`%s` **%s** ATK %+d · HP %+d%s\n",
			shortId(inst.Id), name, inst.Attack, inst.Health, lock)
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s's collection", displayName(i)),
		Description: desc.String(),
		Color:       0x3498DB,
	}
	respondEmbedEphemeral(s, i, embed)
}

func (m *module) handleBalance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userId, ok := m.guardGuild(s, i)
	if !ok {
		return
	}

	acct, err := m.ledg.Account(context.Background(), userId)
	if err != nil {
		m.log.Error("account load failed", "user", userId, "err", err)
		respondEphemeral(s, i, "Error loading your balance.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("You have **%d** coins.", acct.Balance))
}

func (m *module) handleRedeem(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userId, ok := m.guardGuild(s, i)
	if !ok {
		return
	}
	if !m.cfg.Current().Promocodes.Enabled {
		respondEphemeral(s, i, "Promo codes are disabled.")
		return
	}

	var raw string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "code" {
			raw = opt.StringValue()
		}
	}

	ctx := context.Background()
	inst, credits, err := m.promos.Redeem(ctx, userId, raw, time.Now())
	if err != nil {
		respondEphemeral(s, i, redeemFailureMessage(err))
		return
	}

	parts := []string{"✅ Code redeemed!"}
	if inst != nil {
		parts = append(parts, fmt.Sprintf("You received **%s** (`%s`).",
			m.speciesName(ctx, inst.SpeciesId), shortId(inst.Id)))
	}
	if credits > 0 {
		parts = append(parts, fmt.Sprintf("**%d** coins added.", credits))
	}
	respondEphemeral(s, i, strings.Join(parts, " "))
}

func (m *module) handleTrade(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userId, ok := m.guardGuild(s, i)
	if !ok {
		return
	}

	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	ctx := context.Background()
	now := time.Now()

	switch sub.Name {
	case "start":
		var other string
		for _, o := range sub.Options {
			if o.Name == "user" {
				other = o.UserValue(nil).ID
			}
		}
		if _, err := m.trades.Begin(ctx, userId, other, now); err != nil {
			respondEphemeral(s, i, tradeFailureMessage(err))
			return
		}
		respond(s, i, fmt.Sprintf("<@%s> and <@%s> started a trade. Use `/trade add` to offer, `/trade confirm` to agree.",
			userId, other))

	case "add", "remove":
		var instArg string
		for _, o := range sub.Options {
			if o.Name == "instance" {
				instArg = strings.TrimSpace(o.StringValue())
			}
		}
		t, err := m.trades.SessionFor(ctx, userId)
		if err != nil {
			respondEphemeral(s, i, "You have no open trade. Start one with `/trade start`.")
			return
		}
		instId, err := m.resolveInstanceArg(ctx, userId, instArg)
		if err != nil {
			respondEphemeral(s, i, "That doesn't match any collectible in your collection.")
			return
		}
		if sub.Name == "add" {
			err = m.trades.AddOffer(ctx, t.Id, userId, instId, now)
		} else {
			err = m.trades.RemoveOffer(ctx, t.Id, userId, instId, now)
		}
		if err != nil {
			respondEphemeral(s, i, tradeFailureMessage(err))
			return
		}
		respond(s, i, m.renderTrade(ctx, t.Id))

	case "confirm":
		t, err := m.trades.SessionFor(ctx, userId)
		if err != nil {
			respondEphemeral(s, i, "You have no open trade.")
			return
		}
		result, err := m.trades.Confirm(ctx, t.Id, userId, now)
		if err != nil {
			respondEphemeral(s, i, tradeFailureMessage(err))
			return
		}
		if result.State == store.TradeCompleted {
			respond(s, i, "🤝 Trade completed!")
			return
		}
		respond(s, i, fmt.Sprintf("<@%s> confirmed. Waiting for the other side.", userId))

	case "cancel":
		t, err := m.trades.SessionFor(ctx, userId)
		if err != nil {
			respondEphemeral(s, i, "You have no open trade.")
			return
		}
		if err := m.trades.Cancel(ctx, t.Id, userId, now); err != nil {
			respondEphemeral(s, i, tradeFailureMessage(err))
			return
		}
		respond(s, i, "Trade cancelled. All offers released.")

	case "show":
		t, err := m.trades.SessionFor(ctx, userId)
		if err != nil {
			respondEphemeral(s, i, "You have no open trade.")
			return
		}
		respond(s, i, m.renderTrade(ctx, t.Id))
	}
}

// resolveInstanceArg accepts a full instance id or the short prefix
// shown in /collection.
func (m *module) resolveInstanceArg(ctx context.Context, userId, arg string) (string, error) {
	if arg == "" {
		return "", store.ErrNotFound
	}
	instances, err := m.ledg.Collection(ctx, userId, 200)
	if err != nil {
		return "", err
	}
	for _, inst := range instances {
		if inst.Id == arg || strings.HasPrefix(inst.Id, arg) {
			return inst.Id, nil
		}
	}
	return "", store.ErrNotFound
}

func (m *module) renderTrade(ctx context.Context, tradeId string) string {
	t, err := m.trades.Session(ctx, tradeId)
	if err != nil {
		return "Trade not found."
	}

	b := strings.Builder{}
	fmt.Fprintf(&b, "**Trade** (%s)\n", t.State)
	for _, p := range t.Participants {
		check := "⬜"
		if p.Confirmed {
			check = "✅"
		}
		fmt.Fprintf(&b, "%s <@%s>:", check, p.UserId)
		n := 0
		for _, o := range t.Offers {
			if o.UserId != p.UserId {
				continue
			}
			if inst, err := m.ledg.Collection(ctx, p.UserId, 200); err == nil {
				for _, it := range inst {
					if it.Id == o.InstanceId {
						fmt.Fprintf(&b, " **%s**(`%s`)", m.speciesName(ctx, it.SpeciesId), shortId(it.Id))
					}
				}
			}
			n++
		}
		if n == 0 {
			b.WriteString(" nothing offered")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *module) speciesName(ctx context.Context, id species.Id) string {
	def, err := m.catalog.SpeciesById(ctx, id)
	if err != nil {
		return "Unknown"
	}
	return def.Name
}

func (m *module) renderTemplate(templates []string, userId, ballName, wrong, collectible string) string {
	tpl := "{user}"
	if len(templates) > 0 {
		m.mu.Lock()
		tpl = templates[m.rng.Intn(len(templates))]
		m.mu.Unlock()
	}
	r := strings.NewReplacer(
		"{user}", fmt.Sprintf("<@%s>", userId),
		"{ball}", ballName,
		"{wrong}", wrong,
		"{collectible}", collectible,
	)
	return r.Replace(tpl)
}

func (m *module) reply(channelId, content string) {
	if _, err := m.s.ChannelMessageSend(channelId, content); err != nil {
		logREST(m.log, "reply failed", err)
	}
}

// guardGuild validates guild context and applies the command throttle.
func (m *module) guardGuild(s *discordgo.Session, i *discordgo.InteractionCreate) (string, bool) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "Use this command in a server!")
		return "", false
	}
	userId := ""
	if i.Member != nil && i.Member.User != nil {
		userId = i.Member.User.ID
	} else if i.User != nil {
		userId = i.User.ID
	}
	if userId == "" {
		return "", false
	}
	if ok, rem := m.cmdLim.AllowUser(i.GuildID, userId); !ok {
		respondEphemeral(s, i, fmt.Sprintf("⏳ Slow down, try again in %s.", rem.Round(time.Second)))
		return "", false
	}
	return userId, true
}

func redeemFailureMessage(err error) string {
	switch {
	case errors.Is(err, promocode.ErrBadCode):
		return "❌ That code doesn't look right. Letters, numbers, `_` and `-` only."
	case errors.Is(err, store.ErrUnknownCode):
		return "❌ Unknown code."
	case errors.Is(err, store.ErrCodeExpired):
		return "❌ That code has expired."
	case errors.Is(err, store.ErrCodeDepleted):
		return "❌ That code has no uses left."
	case errors.Is(err, store.ErrAlreadyRedeemed):
		return "❌ You already redeemed that code."
	default:
		return "Something went wrong, try again later."
	}
}

func tradeFailureMessage(err error) string {
	switch {
	case errors.Is(err, trade.ErrSelfTrade):
		return "You can't trade with yourself."
	case errors.Is(err, trade.ErrBusy):
		return "One of you is already in a trade."
	case errors.Is(err, trade.ErrEmptyTrade):
		return "One side hasn't offered anything yet."
	case errors.Is(err, store.ErrAlreadyLocked):
		return "That collectible is already locked in another trade."
	case errors.Is(err, store.ErrNotOwned):
		return "You don't own that collectible."
	case errors.Is(err, store.ErrDuplicate):
		return "That collectible is already offered."
	case errors.Is(err, store.ErrTradeClosed):
		return "That trade is already closed."
	case errors.Is(err, store.ErrNotParticipant):
		return "You're not part of that trade."
	case errors.Is(err, store.ErrOwnershipConflict):
		return "The trade couldn't complete safely and was cancelled."
	default:
		return "Something went wrong, try again later."
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	})
	if err != nil {
		logREST(slog.Default(), "respond failed", err)
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logREST(slog.Default(), "respond failed", err)
	}
}

func respondEmbedEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logREST(slog.Default(), "respond failed", err)
	}
}

func displayName(i *discordgo.InteractionCreate) string {
	if i.Member != nil {
		if i.Member.Nick != "" {
			return i.Member.Nick
		}
		if i.Member.User != nil {
			return i.Member.User.Username
		}
	}
	if i.User != nil {
		return i.User.Username
	}
	return "Unknown"
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func logREST(log *slog.Logger, msg string, err error) {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		log.Warn(msg, "code", rerr.Message.Code, "discord_msg", rerr.Message.Message)
		return
	}
	log.Warn(msg, "err", err)
}
