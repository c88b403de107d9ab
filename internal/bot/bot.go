// Package bot wires the Discord gateway to the triage, chatbot and inline
// subsystems: session lifecycle, event classification, background maintenance
// timers and the administrative slash commands.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fsnotify/fsnotify"

	"DiscordContextBot/internal/botconfig"
	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/conversation"
	"DiscordContextBot/internal/index"
	"DiscordContextBot/internal/llm"
	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/mediacache"
	"DiscordContextBot/internal/ocr"
	"DiscordContextBot/internal/patterns"
	"DiscordContextBot/internal/processors"
	"DiscordContextBot/internal/relay"
	"DiscordContextBot/internal/storage"
	"DiscordContextBot/internal/uploader"
)

// Bot is the process root: it owns the Discord session and every subsystem.
type Bot struct {
	session    *discordgo.Session
	config     atomic.Pointer[config.Config]
	configPath string

	files         *storage.FileStore
	keys          *storage.APIKeyManager
	archive       *storage.ChunkArchive
	index         *index.Manager
	chatbotCfg    *botconfig.ChatbotConfigStore
	inlineCfg     *botconfig.InlineConfigStore
	conversations *conversation.Store
	media         *mediacache.Cache
	matcher       *patterns.Matcher
	ocrPipeline   *ocr.Pipeline
	llm           *llm.Client
	docs          *processors.DocumentProcessor
	relay         *relay.Relay
	inline        *inlineEngine

	healthServer   *http.Server
	startTime      time.Time
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup

	pruneMu    sync.Mutex
	lastPruned map[string]time.Time
}

// NewBot builds the bot and all its subsystems from the loaded configuration.
func NewBot(cfg *config.Config, configPath string) (*Bot, error) {
	if err := storage.InitializeAllTables(context.Background(), cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	files := storage.NewFileStore(cfg.DataDir)
	keys := storage.NewAPIKeyManager(cfg.DatabaseURL)
	chatbotCfg := botconfig.NewChatbotConfigStore(files)

	matcher, err := patterns.NewMatcher(files, cfg.PatternsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern rulebook: %w", err)
	}

	media, err := mediacache.New(files, uploader.FromConfig(cfg.MediaServices))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media cache: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	b := &Bot{
		session:        session,
		configPath:     configPath,
		files:          files,
		keys:           keys,
		archive:        storage.NewChunkArchive(cfg.DatabaseURL),
		index:          index.NewManager(files),
		chatbotCfg:     chatbotCfg,
		inlineCfg:      botconfig.NewInlineConfigStore(files),
		conversations:  conversation.NewStore(files, chatbotCfg),
		media:          media,
		matcher:        matcher,
		llm:            llm.NewClient(cfg, keys),
		docs:           processors.NewDocumentProcessor(),
		startTime:      time.Now(),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		lastPruned:     make(map[string]time.Time),
	}
	b.config.Store(cfg)
	b.relay = relay.New(&relay.SessionSurface{Session: session}, b.archive)
	b.inline = newInlineEngine(b)

	if cfg.OCR.Enabled {
		b.ocrPipeline = ocr.NewPipeline(
			ocr.NewTesseract(cfg.OCR.TesseractPath),
			&ocrResponder{bot: b},
			cfg.OCR.QueueSize,
			cfg.OCR.WorkerCount,
		)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onMessageUpdate)
	session.AddHandler(b.onMessageDelete)
	session.AddHandler(b.onInteractionCreate)

	b.setupHealthServer()
	return b, nil
}

// Start opens the gateway connection and launches the background loops.
func (b *Bot) Start() error {
	go func() {
		if err := b.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Health server error: %v", err)
		}
	}()

	go b.watchConfig()

	b.wg.Add(1)
	go b.pruneLoop()

	cfg := b.config.Load()
	if cfg.AutoRestart.Enabled {
		// Not tracked by the WaitGroup: the loop itself calls Stop
		go b.restartLoop()
	}

	return b.session.Open()
}

// Stop shuts the subsystems down, flushing pending state.
func (b *Bot) Stop() error {
	b.shutdownCancel()
	b.inline.Close()
	if b.ocrPipeline != nil {
		b.ocrPipeline.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logging.Warn("Timeout waiting for background loops, proceeding with shutdown")
	}

	if err := b.media.Close(); err != nil {
		logging.Error("Failed to flush media cache: %v", err)
	}
	if b.healthServer != nil {
		if err := b.healthServer.Close(); err != nil {
			logging.Error("Failed to close health server: %v", err)
		}
	}
	if err := b.keys.Close(); err != nil {
		logging.Error("Failed to close API key manager: %v", err)
	}
	if err := storage.CloseDatabase(); err != nil {
		logging.Error("Failed to close database: %v", err)
	}
	return b.session.Close()
}

// watchConfig reloads the YAML configuration when the file changes. The new
// config is swapped atomically; subsystems read it per operation.
func (b *Bot) watchConfig() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("Could not create config watcher: %v", err)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("Could not close config watcher: %v", err)
		}
	}()

	path := b.configPath
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := watcher.Add(path); err != nil {
		logging.Error("Could not watch config file: %v", err)
		return
	}

	for {
		select {
		case <-b.shutdownCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			logging.Info("Config file modified, reloading")
			newCfg, err := config.LoadConfig(b.configPath)
			if err != nil {
				logging.Error("Failed to reload config: %v", err)
				continue
			}
			b.config.Store(newCfg)
			if err := b.matcher.Reload(); err != nil {
				logging.Error("Failed to reload pattern rulebook: %v", err)
			}
			logging.Info("Config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Config watcher error: %v", err)
		}
	}
}

// pruneLoop runs periodic history pruning, media expiry sweeps and stale-user
// cleanup for every chatbot channel.
func (b *Bot) pruneLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-b.shutdownCtx.Done():
			return
		case <-ticker.C:
			b.runMaintenance()
		}
	}
}

func (b *Bot) runMaintenance() {
	now := time.Now()
	byGuild := make(map[string][]botconfig.ChannelRef)
	for _, ref := range b.chatbotCfg.EnabledChannels() {
		byGuild[ref.GuildID] = append(byGuild[ref.GuildID], ref)
	}

	horizon := config.DefaultUserCleanupHorizonHours * time.Hour
	for guildID, refs := range byGuild {
		for _, ref := range refs {
			cfg := b.chatbotCfg.ChannelConfig(ref.GuildID, ref.ChannelID)
			if !cfg.AutoPruneEnabled || !b.pruneDue(ref, cfg.PruneIntervalHours, now) {
				continue
			}
			dropped, err := b.conversations.PruneChannel(ref.GuildID, ref.ChannelID)
			if err != nil {
				logging.Error("Prune failed for %s/%s: %v", ref.GuildID, ref.ChannelID, err)
				continue
			}
			if dropped > 0 {
				logging.Info("Pruned %d messages from %s/%s", dropped, ref.GuildID, ref.ChannelID)
			}
		}

		// One cleanup per guild over the union of every channel's
		// references, so channels cannot wipe each other's index entries
		if referenced := b.guildReferencedUsers(guildID, refs); referenced != nil {
			if removed, err := b.index.ContextualCleanup(guildID, referenced); err == nil && removed > 0 {
				logging.Info("Removed %d unreferenced users from guild %s index", removed, guildID)
			}
		}
		if removed, err := b.index.CleanupStaleUsers(guildID, horizon); err == nil && removed > 0 {
			logging.Info("Removed %d stale users from guild %s index", removed, guildID)
		}
	}
	if removed := b.media.PruneExpired(); removed > 0 {
		logging.Info("Dropped %d expired media cache entries", removed)
	}
}

// guildReferencedUsers unions the referenced-user sets of every chatbot
// channel in a guild: history authors, reply targets and mentions, plus pin
// authors. Returns nil when any channel fails to read, so cleanup is skipped
// rather than run against a partial set.
func (b *Bot) guildReferencedUsers(guildID string, refs []botconfig.ChannelRef) map[string]bool {
	referenced := make(map[string]bool)
	for _, ref := range refs {
		if err := b.conversations.ReferencedUserIDs(ref.GuildID, ref.ChannelID, referenced); err != nil {
			logging.Warn("Reference collection failed for %s/%s: %v", ref.GuildID, ref.ChannelID, err)
			return nil
		}
		pins, err := b.index.GetPinnedMessages(ref.GuildID, ref.ChannelID)
		if err != nil {
			logging.Warn("Pin index read failed for %s/%s: %v", ref.GuildID, ref.ChannelID, err)
			return nil
		}
		for _, pin := range pins {
			referenced[pin.UserID] = true
		}
	}
	return referenced
}

// pruneDue reports whether a channel's prune interval has elapsed since its
// last prune, recording now as the new prune time when it has.
func (b *Bot) pruneDue(ref botconfig.ChannelRef, intervalHours int, now time.Time) bool {
	if intervalHours < 1 {
		intervalHours = 1
	}
	key := ref.GuildID + "/" + ref.ChannelID
	b.pruneMu.Lock()
	defer b.pruneMu.Unlock()
	if last, ok := b.lastPruned[key]; ok && now.Sub(last) < time.Duration(intervalHours)*time.Hour {
		return false
	}
	b.lastPruned[key] = now
	return true
}

// restartLoop re-execs the process with its original arguments once uptime
// crosses the configured threshold.
func (b *Bot) restartLoop() {
	cfg := b.config.Load()
	interval := time.Duration(cfg.AutoRestart.CheckIntervalMins) * time.Minute
	if interval <= 0 {
		interval = config.DefaultRestartCheckMinutes * time.Minute
	}
	threshold := time.Duration(cfg.AutoRestart.UptimeThresholdHrs) * time.Hour
	if threshold <= 0 {
		threshold = config.DefaultRestartThresholdHours * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.shutdownCtx.Done():
			return
		case <-ticker.C:
			if time.Since(b.startTime) < threshold {
				continue
			}
			logging.Info("Uptime threshold reached, restarting")
			if err := b.Stop(); err != nil {
				logging.Error("Shutdown before restart failed: %v", err)
			}
			exe, err := os.Executable()
			if err != nil {
				logging.Error("Could not resolve executable for restart: %v", err)
				os.Exit(0)
			}
			if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
				logging.Error("Exec failed during restart: %v", err)
				os.Exit(0)
			}
		}
	}
}

func (b *Bot) setupHealthServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.healthCheckHandler)
	mux.HandleFunc("/", b.healthCheckHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	b.healthServer = &http.Server{Addr: ":" + port, Handler: mux}
}

func (b *Bot) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q,"discord_connected":%t,"uptime":%q}`,
		time.Now().UTC().Format(time.RFC3339),
		b.session != nil && b.session.DataReady,
		time.Since(b.startTime).String(),
	)
}

func (b *Bot) selfID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}
