package bot

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/conversation"
	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/messaging"
	"DiscordContextBot/internal/relay"
)

// inlineQueue holds one channel's pending triggers. Unbounded: a burst queues
// up and drains serially, delaying responses instead of dropping them.
type inlineQueue struct {
	items  []*discordgo.Message
	signal chan struct{}
}

// inlineEngine serialises inline responses per channel: a FIFO queue plus a
// lazily created worker per channel, with idle eviction so quiet channels do
// not hold goroutines.
type inlineEngine struct {
	bot *Bot

	mu     sync.Mutex
	queues map[string]*inlineQueue
	closed bool
	wg     sync.WaitGroup

	handle func(*discordgo.Message)
}

func newInlineEngine(b *Bot) *inlineEngine {
	e := &inlineEngine{
		bot:    b,
		queues: make(map[string]*inlineQueue),
	}
	e.handle = e.process
	return e
}

// Enqueue admits a triggering message to its channel queue, spawning a worker
// when the channel has none.
func (e *inlineEngine) Enqueue(channelID string, m *discordgo.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	queue, ok := e.queues[channelID]
	if !ok {
		queue = &inlineQueue{signal: make(chan struct{}, 1)}
		e.queues[channelID] = queue
		e.wg.Add(1)
		go e.worker(channelID, queue)
	}
	// Append under the lock so the idle-exit check cannot orphan the message
	queue.items = append(queue.items, m)
	select {
	case queue.signal <- struct{}{}:
	default:
	}
}

// Close stops accepting work and waits for in-flight responses.
func (e *inlineEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *inlineEngine) worker(channelID string, queue *inlineQueue) {
	defer e.wg.Done()
	idle := time.NewTimer(config.InlineWorkerIdleSeconds * time.Second)
	defer idle.Stop()

	for {
		if m := e.pop(queue); m != nil {
			e.handle(m)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(config.InlineWorkerIdleSeconds * time.Second)
			continue
		}
		select {
		case <-e.bot.shutdownCtx.Done():
			e.deregister(channelID)
			return
		case <-queue.signal:
		case <-idle.C:
			// Only exit with an empty queue; a racing enqueue keeps
			// the worker alive for one more cycle
			e.mu.Lock()
			if len(queue.items) == 0 {
				delete(e.queues, channelID)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			idle.Reset(config.InlineWorkerIdleSeconds * time.Second)
		}
	}
}

func (e *inlineEngine) pop(queue *inlineQueue) *discordgo.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(queue.items) == 0 {
		return nil
	}
	m := queue.items[0]
	queue.items = queue.items[1:]
	return m
}

func (e *inlineEngine) deregister(channelID string) {
	e.mu.Lock()
	delete(e.queues, channelID)
	e.mu.Unlock()
}

func (e *inlineEngine) process(m *discordgo.Message) {
	defer recoverWorker("inline worker")
	b := e.bot

	placeholder := b.safeReply(m.ChannelID, m, "Thinking...")
	if placeholder == nil {
		return
	}

	effective := b.inlineCfg.EffectiveConfig(m.GuildID, m.ChannelID)
	window, err := collectWindow(&sessionFetcher{b.session}, m, effective.ContextMessages, effective.UserContextMessages)
	if err != nil {
		logging.Error("Window collection failed in %s: %v", m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "Something went wrong reading the channel history.")
		return
	}

	b.backfillMembers(m.GuildID, window)

	records := b.convertWindow(m.GuildID, window)
	if len(records) == 0 {
		b.editOrDrop(m.ChannelID, placeholder.ID, "I could not read anything useful from this channel.")
		return
	}

	b.updateChannelIndex(m.GuildID, m.ChannelID)
	bundle, err := b.buildBundle(b.shutdownCtx, m.GuildID, m.ChannelID, records, records)
	if err != nil {
		logging.Error("Context assembly failed in %s: %v", m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "Something went wrong assembling the context.")
		return
	}

	cfg := b.config.Load()
	model := cfg.ModelForType(effective.ModelType)
	req := b.completionRequest(model, bundle)

	if !effective.UseStreaming {
		text, err := b.llm.Complete(b.shutdownCtx, req)
		if err != nil {
			logging.Error("LLM completion failed in %s: %v", m.ChannelID, err)
			b.editOrDrop(m.ChannelID, placeholder.ID, "The model is unavailable right now, try again shortly.")
			return
		}
		ids := b.sendPlainResponse(m.ChannelID, placeholder.ID, b.sanitizer(m.GuildID, bundle.Users)(text))
		b.persistOwnMessages(m.GuildID, m.ChannelID, ids)
		return
	}

	stream, err := b.llm.Stream(b.shutdownCtx, req)
	if err != nil {
		logging.Error("LLM stream failed in %s: %v", m.ChannelID, err)
		b.editOrDrop(m.ChannelID, placeholder.ID, "The model is unavailable right now, try again shortly.")
		return
	}
	showThinking := cfg.ShowThinking && effective.ModelType == "think"
	result, err := b.relay.Run(b.shutdownCtx, stream, relay.Options{
		ChannelID:     m.ChannelID,
		PlaceholderID: placeholder.ID,
		Model:         model,
		ShowThinking:  showThinking,
		Plain:         !showThinking,
		MaxMessages:   config.DefaultInlineMaxMessages,
		TokenLimit:    cfg.GetModelTokenLimit(model),
		Sanitize:      b.sanitizer(m.GuildID, bundle.Users),
	})
	if err != nil {
		logging.Error("Stream relay failed in %s: %v", m.ChannelID, err)
		return
	}
	b.persistOwnMessages(m.GuildID, m.ChannelID, result.MessageIDs)
}

// sendPlainResponse replaces the placeholder with the first chunk and sends
// the rest as follow-ups, honouring the message ceiling.
func (b *Bot) sendPlainResponse(channelID, placeholderID, text string) []string {
	chunks := relay.SplitMessage(text, config.MaxDiscordMessageLength)
	if len(chunks) == 0 {
		chunks = []string{"..."}
	}
	if len(chunks) > config.DefaultInlineMaxMessages {
		chunks = chunks[:config.DefaultInlineMaxMessages]
		chunks[len(chunks)-1] = relay.TruncateAtBoundary(chunks[len(chunks)-1], config.MaxDiscordMessageLength)
	}

	ids := []string{placeholderID}
	b.editOrDrop(channelID, placeholderID, chunks[0])
	for _, chunk := range chunks[1:] {
		sent, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		})
		if err != nil {
			logging.Warn("Could not send response chunk in %s: %v", channelID, err)
			break
		}
		ids = append(ids, sent.ID)
	}
	return ids
}

// backfillMembers ensures every window author is present in the user index,
// fetching unseen members from the gateway.
func (b *Bot) backfillMembers(guildID string, window []*discordgo.Message) {
	seen := make(map[string]bool)
	var facts []index.UserFacts
	for _, msg := range window {
		if msg.Author == nil || seen[msg.Author.ID] {
			continue
		}
		seen[msg.Author.ID] = true
		if entry, err := b.index.GetUser(guildID, msg.Author.ID); err == nil && entry != nil {
			continue
		}
		fact := index.UserFacts{
			UserID:      msg.Author.ID,
			Username:    msg.Author.Username,
			DisplayName: msg.Author.GlobalName,
			AvatarURL:   msg.Author.AvatarURL(""),
			IsBot:       msg.Author.Bot,
		}
		if member, err := b.session.GuildMember(guildID, msg.Author.ID); err == nil && member.Nick != "" {
			fact.DisplayName = member.Nick
		}
		facts = append(facts, fact)
	}
	if len(facts) > 0 {
		if err := b.index.BulkUpdateUsers(guildID, facts, false); err != nil {
			logging.Warn("Member backfill failed for guild %s: %v", guildID, err)
		}
	}
}

// convertWindow converts the collected Discord messages through the
// extraction and validity gate, dropping self-bot messages whose text is
// empty (embed-only chunks carry nothing useful as context).
func (b *Bot) convertWindow(guildID string, window []*discordgo.Message) []messaging.ConversationMessage {
	var records []messaging.ConversationMessage
	for _, msg := range window {
		if msg.Author == nil {
			continue
		}
		msg.GuildID = guildID
		record := b.conversations.Convert(msg)
		if !conversation.IsValidContextMessage(record) {
			continue
		}
		if record.IsSelfBotResponse && strings.TrimSpace(record.TextContent()) == "" {
			continue
		}
		records = append(records, *record)
	}
	return records
}

// historyFetcher is the slice of the Discord API the window collector needs.
type historyFetcher interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error)
}

type sessionFetcher struct {
	session *discordgo.Session
}

func (f *sessionFetcher) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error) {
	return f.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID)
}

// collectWindow builds the ephemeral context for one inline trigger: the
// trigger itself, the author's last N messages, the last M general messages,
// the transitive reply closure, and stitched multi-chunk bot responses. The
// result is chronological with the trigger last.
func collectWindow(fetcher historyFetcher, trigger *discordgo.Message, generalCount, authorCount int) ([]*discordgo.Message, error) {
	pool, err := fetcher.ChannelMessages(trigger.ChannelID, config.InlineHistoryBatchSize, "", "", "")
	if err != nil {
		return nil, err
	}
	// Newest first from the API; flip to chronological
	sortChronological(pool)
	if !containsID(pool, trigger.ID) {
		pool = append(pool, trigger)
	}

	selected := map[string]bool{trigger.ID: true}
	pickTail(pool, selected, authorCount, func(m *discordgo.Message) bool {
		return m.Author != nil && trigger.Author != nil && m.Author.ID == trigger.Author.ID
	})
	pickTail(pool, selected, generalCount, func(m *discordgo.Message) bool { return true })

	// Transitive reply closure with a bounded fetch-until-found loop
	for attempt := 0; attempt < config.InlineMaxFetchAttempts; attempt++ {
		missing := missingReferences(pool, selected)
		if len(missing) == 0 {
			break
		}
		if len(pool) == 0 {
			break
		}
		batch, err := fetcher.ChannelMessages(trigger.ChannelID, config.InlineHistoryBatchSize, pool[0].ID, "", "")
		if err != nil || len(batch) == 0 {
			break
		}
		pool = append(pool, batch...)
		sortChronological(pool)
	}
	// Whatever resolved inside the pool joins the window; references that
	// were never found stay missing and fall back to snippet annotations
	resolveReferences(pool, selected)

	stitchBotMessages(pool, selected)

	var window []*discordgo.Message
	for _, m := range pool {
		if selected[m.ID] {
			window = append(window, m)
		}
	}
	return window, nil
}

// pickTail marks the newest count pool messages matching pred.
func pickTail(pool []*discordgo.Message, selected map[string]bool, count int, pred func(*discordgo.Message) bool) {
	taken := 0
	for i := len(pool) - 1; i >= 0 && taken < count; i-- {
		if !pred(pool[i]) {
			continue
		}
		if !selected[pool[i].ID] {
			selected[pool[i].ID] = true
		}
		taken++
	}
}

func missingReferences(pool []*discordgo.Message, selected map[string]bool) []string {
	byID := make(map[string]bool, len(pool))
	for _, m := range pool {
		byID[m.ID] = true
	}
	var missing []string
	for _, m := range pool {
		if !selected[m.ID] || m.MessageReference == nil {
			continue
		}
		ref := m.MessageReference.MessageID
		if ref != "" && !byID[ref] {
			missing = append(missing, ref)
		}
	}
	return missing
}

// resolveReferences closes the window over reply targets found in the pool.
func resolveReferences(pool []*discordgo.Message, selected map[string]bool) {
	byID := make(map[string]*discordgo.Message, len(pool))
	for _, m := range pool {
		byID[m.ID] = m
	}
	for changed := true; changed; {
		changed = false
		for _, m := range pool {
			if !selected[m.ID] || m.MessageReference == nil {
				continue
			}
			if ref, ok := byID[m.MessageReference.MessageID]; ok && !selected[ref.ID] {
				selected[ref.ID] = true
				changed = true
			}
		}
	}
}

// stitchBotMessages reassembles split bot responses: for every selected bot
// message, adjacent pool neighbours by the same author within the stitch
// window join the selection.
func stitchBotMessages(pool []*discordgo.Message, selected map[string]bool) {
	window := config.InlineStitchWindowSeconds * time.Second
	for i, m := range pool {
		if !selected[m.ID] || m.Author == nil || !m.Author.Bot {
			continue
		}
		for j := i + 1; j < len(pool); j++ {
			prev, next := pool[j-1], pool[j]
			if next.Author == nil || next.Author.ID != m.Author.ID {
				break
			}
			if next.Timestamp.Sub(prev.Timestamp) > window {
				break
			}
			selected[next.ID] = true
		}
		for j := i - 1; j >= 0; j-- {
			prev, cur := pool[j], pool[j+1]
			if prev.Author == nil || prev.Author.ID != m.Author.ID {
				break
			}
			if cur.Timestamp.Sub(prev.Timestamp) > window {
				break
			}
			selected[prev.ID] = true
		}
	}
}

func sortChronological(pool []*discordgo.Message) {
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Timestamp.Before(pool[j].Timestamp)
	})
}

func containsID(pool []*discordgo.Message, id string) bool {
	for _, m := range pool {
		if m.ID == id {
			return true
		}
	}
	return false
}
