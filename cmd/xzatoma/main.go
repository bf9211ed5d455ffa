// Command xzatoma is a terminal-native, autonomous coding agent: a CLI that
// drives an LLM through a tool-calling loop against the local filesystem,
// shell, and web, with explicit safety modes and an optional subagent
// orchestrator for delegated work.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xzatoma/xzatoma/internal/agent"
	"github.com/xzatoma/xzatoma/internal/config"
	"github.com/xzatoma/xzatoma/internal/conversation"
	"github.com/xzatoma/xzatoma/internal/provider"
	"github.com/xzatoma/xzatoma/internal/quota"
	"github.com/xzatoma/xzatoma/internal/shell"
	"github.com/xzatoma/xzatoma/internal/store"
	"github.com/xzatoma/xzatoma/internal/tool"
	"github.com/xzatoma/xzatoma/internal/toolexec"
	"github.com/xzatoma/xzatoma/internal/validator"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	args := os.Args[1:]
	sub := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "chat":
		runChat(args)
	case "run":
		runOneShot(args)
	case "auth":
		runAuth(args)
	case "models":
		runModels(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected chat, run, auth, or models)\n", sub)
		os.Exit(2)
	}
}

// --- shared setup ---

func loadConfigAndCreds() (*config.Config, *config.Credentials) {
	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}
	return cfg, creds
}

// buildProviderRegistry wires one Factory per configured provider, selected
// by its configured kind (spec.md's provider-adapter boundary).
func buildProviderRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	reg := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		apiKey := creds.GetAPIKey(name)
		switch pc.KindOrDefault() {
		case "vllm":
			reg.RegisterFactory(name, provider.NewVLLMFactory(name, pc.Endpoint, apiKey))
		case "anthropic":
			reg.RegisterFactory(name, provider.NewAnthropicFactory(name, pc.Endpoint, apiKey))
		case "zen":
			reg.RegisterFactory(name, provider.NewZenFactory(name, apiKey, pc.Endpoint))
		case "mock":
			reg.RegisterFactory(name, provider.NewMockFactory(name, "mock response"))
		default:
			reg.RegisterFactory(name, provider.NewOllamaFactory(name, pc.Endpoint))
		}
	}
	return reg
}

func resolveProvider(cfg *config.Config, name string) config.ProviderConfig {
	if name == "" {
		name = cfg.DefaultProvider
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: provider %q not found\n", name)
		os.Exit(1)
	}
	return pcfg
}

func openWebCache(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "xzatoma.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}

// --- session: holds every piece main.go wires together for one run ---

// session bundles the registry, shared executor state, and mutable
// mode/safety settings for one chat (or single-shot) invocation.
type session struct {
	cfg          *config.Config
	creds        *config.Credentials
	registry     *tool.Registry
	webCache     *store.Cache
	sh           *shell.Shell
	fileTracker  *toolexec.FileReadTracker
	scratchpad   *toolexec.Scratchpad
	providerReg  *provider.Registry
	prov         provider.Provider
	providerName string
	model        string
	mode         tool.ChatMode
	safetyMode   validator.Mode
	subagentsOn  bool
	quotaTracker *quota.Tracker
	conv         *conversation.Conversation
	sessionID    string
}

func newSession(cfg *config.Config, creds *config.Credentials, providerName string) *session {
	providerCfg := resolveProvider(cfg, providerName)
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}

	providerReg := buildProviderRegistry(cfg, creds)
	prov, err := providerReg.Create(providerName, providerCfg.Model, provider.Options{Temperature: providerCfg.Temperature})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}

	webCache := openWebCache(cfg)
	sh := shell.New("", shell.DefaultBlockFuncs())
	fileTracker := toolexec.NewFileReadTracker()
	pad := &toolexec.Scratchpad{}

	safetyMode := parseSafetyMode(cfg.Safety.ModeOrDefault())
	qt := quota.NewTracker(quota.Limits{
		MaxExecutions: cfg.Quota.MaxExecutions,
		MaxTokens:     cfg.Quota.MaxTokens,
		MaxDuration:   time.Duration(cfg.Quota.MaxDurationSec) * time.Second,
	})

	sess := &session{
		cfg:          cfg,
		creds:        creds,
		registry:     tool.NewRegistry(0),
		webCache:     webCache,
		sh:           sh,
		fileTracker:  fileTracker,
		scratchpad:   pad,
		providerReg:  providerReg,
		prov:         prov,
		providerName: providerName,
		model:        providerCfg.Model,
		mode:         tool.Write,
		safetyMode:   safetyMode,
		subagentsOn:  true,
		quotaTracker: qt,
		sessionID:    store.NewSortableID(),
	}

	sess.registerStaticTools()
	sess.reconfigureShell()
	sess.reconfigureSubagent()

	sess.conv = conversation.New(agent.BuildSystemPrompt(sess.model))
	sess.conv.SetMaxTokens(cfg.Agent.MaxTokensOrDefault())
	sess.conv.SetSummaryModel(cfg.Agent.SummaryModel)
	return sess
}

func parseSafetyMode(s string) validator.Mode {
	switch s {
	case "restricted_autonomous":
		return validator.RestrictedAutonomous
	case "full_autonomous":
		return validator.FullAutonomous
	default:
		return validator.Interactive
	}
}

// registerStaticTools registers every tool whose handler never needs to be
// rebuilt when mode/safety settings change.
func (s *session) registerStaticTools() {
	readHandler := toolexec.NewReadHandler(s.fileTracker)
	must(s.registry.Register(toolexec.NewReadTool(), readHandler.Handle))

	editHandler := toolexec.NewEditHandler(s.fileTracker)
	must(s.registry.Register(toolexec.NewEditTool(), editHandler.Handle))

	must(s.registry.Register(toolexec.NewGrepTool(), toolexec.MakeGrepHandler()))
	must(s.registry.Register(toolexec.NewGitStatusTool(), toolexec.MakeGitStatusHandler()))
	must(s.registry.Register(toolexec.NewGitDiffTool(), toolexec.MakeGitDiffHandler()))
	must(s.registry.Register(toolexec.NewWebFetchTool(), toolexec.MakeWebFetchHandler(s.webCache)))

	exaKey := s.creds.GetAPIKey("exa_ai")
	must(s.registry.Register(toolexec.NewWebSearchTool(), toolexec.MakeWebSearchHandler(s.webCache, exaKey, "")))

	must(s.registry.Register(toolexec.NewTodoWriteTool(), toolexec.MakeTodoWriteHandler(s.scratchpad)))

	must(s.registry.Register(toolexec.NewListDirectoryTool(), toolexec.MakeListDirectoryHandler()))
	must(s.registry.Register(toolexec.NewFindPathTool(), toolexec.MakeFindPathHandler()))
	must(s.registry.Register(toolexec.NewFileMetadataTool(), toolexec.MakeFileMetadataHandler()))
	must(s.registry.Register(toolexec.NewCreateDirectoryTool(), toolexec.MakeCreateDirectoryHandler()))
	must(s.registry.Register(toolexec.NewDeletePathTool(), toolexec.MakeDeletePathHandler()))
	must(s.registry.Register(toolexec.NewCopyPathTool(), toolexec.MakeCopyPathHandler()))
	must(s.registry.Register(toolexec.NewMovePathTool(), toolexec.MakeMovePathHandler()))
}

// reconfigureShell rebuilds the Shell tool's handler against the current
// safety mode. Called at startup and after /safe or /yolo.
func (s *session) reconfigureShell() {
	v := validator.New(s.safetyMode, validator.ShellDenyFuncs())
	handler := toolexec.NewShellHandler(s.sh, v, confirmOnStdin, s.webCache)
	must(s.registry.Register(toolexec.NewShellTool(), handler.Handle))
}

// reconfigureSubagent rebuilds the subagent/parallel_subagent tools' handler
// against the current mode's view. Called at startup and after /mode.
func (s *session) reconfigureSubagent() {
	view := s.registry.BuildForMode(s.mode)
	handler := toolexec.NewSubAgentHandler(s.prov, view, s.quotaTracker, s.webCache, s.sessionID, 0, s.cfg.Agent.MaxDepthOrDefault())
	must(s.registry.Register(toolexec.NewSubAgentTool(), handler.Handle))
	must(s.registry.Register(toolexec.NewParallelSubAgentTool(), toolexec.MakeParallelSubAgentHandler(handler)))
}

// view returns the tool view the root agent should dispatch against right
// now: mode-filtered, and additionally stripped of the delegation tools
// themselves when the operator has turned subagents off.
func (s *session) view() *tool.View {
	base := s.registry.BuildForMode(s.mode)
	if s.subagentsOn {
		return base
	}
	restricted, err := base.Restrict(nil, false)
	if err != nil {
		return base
	}
	return restricted
}

func must(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func confirmOnStdin(_ context.Context, command, reason string) bool {
	fmt.Printf("\nConfirm command? %s\nReason: %s\n[y/N] ", command, reason)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

func (s *session) close() {
	s.prov.Close()
	if s.webCache != nil {
		s.webCache.Close()
	}
}

// --- chat (interactive REPL) ---

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	flagSession := fs.String("session", "", "resume a session by ID")
	fs.StringVar(flagSession, "s", "", "resume a session by ID")
	flagList := fs.Bool("list", false, "list sessions")
	fs.BoolVar(flagList, "l", false, "list sessions")
	flagContinue := fs.Bool("continue", false, "continue most recent session")
	fs.BoolVar(flagContinue, "c", false, "continue most recent session")
	flagProvider := fs.String("provider", "", "provider to use (default: config default_provider)")
	fs.Parse(args)

	cfg, creds := loadConfigAndCreds()

	if *flagList {
		listSessions(openWebCache(cfg))
		return
	}

	sess := newSession(cfg, creds, *flagProvider)
	defer sess.close()

	sess.sessionID, sess.conv = resolveSession(*flagSession, *flagContinue, sess.webCache, sess.model)
	sess.conv.SetMaxTokens(cfg.Agent.MaxTokensOrDefault())
	sess.conv.SetSummaryModel(cfg.Agent.SummaryModel)
	if sess.webCache != nil {
		if err := sess.webCache.CreateSession(sess.sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to record session")
		}
	}
	sess.reconfigureSubagent() // parentID depends on sessionID

	fmt.Printf("xzatoma — provider=%s model=%s session=%s\n", sess.providerName, sess.model, sess.sessionID)
	fmt.Println("Type /exit to quit, /help for commands.")

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleSlashCommand(sess, line) {
				return
			}
			continue
		}

		runTurn(sess, line)
	}
}

func handleSlashCommand(sess *session, line string) (exit bool) {
	parts := strings.Fields(line)
	cmd := parts[0]
	var arg string
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Println("/mode planning|write   /safe   /yolo   /subagents on|off   /context   /model <name>   /exit")

	case "/mode":
		switch arg {
		case "planning":
			sess.mode = tool.Planning
		case "write":
			sess.mode = tool.Write
		default:
			fmt.Println("usage: /mode planning|write")
			return false
		}
		sess.reconfigureSubagent()
		fmt.Printf("mode set to %s\n", arg)

	case "/safe":
		sess.safetyMode = validator.Interactive
		sess.reconfigureShell()
		fmt.Println("safety mode: interactive (every command confirmed, deny-listed commands rejected)")

	case "/yolo":
		sess.safetyMode = validator.FullAutonomous
		sess.reconfigureShell()
		fmt.Println("safety mode: full_autonomous (deny-listed commands only)")

	case "/subagents":
		switch arg {
		case "on":
			sess.subagentsOn = true
		case "off":
			sess.subagentsOn = false
		default:
			fmt.Println("usage: /subagents on|off")
			return false
		}
		fmt.Printf("subagents: %v\n", sess.subagentsOn)

	case "/context":
		info := sess.conv.GetContextInfo()
		usage := sess.conv.ProviderUsage()
		fmt.Printf("messages=%d used=%d max=%d remaining=%d utilization=%.1f%% headroom=%.2f provider_total_tokens=%d\n",
			info.MessageCount, info.Used, info.Max, info.Remaining, info.Percentage, info.Headroom, usage.TotalTokens)

	case "/model":
		if arg == "" {
			fmt.Println("usage: /model <name>")
			return false
		}
		sess.model = arg
		prov, err := sess.providerReg.Create(sess.providerName, sess.model, provider.Options{})
		if err != nil {
			fmt.Printf("Error switching model: %v\n", err)
			return false
		}
		sess.prov.Close()
		sess.prov = prov
		sess.reconfigureSubagent()
		fmt.Printf("model set to %s\n", sess.model)

	default:
		fmt.Printf("unknown command: %s (try /help)\n", cmd)
	}
	return false
}

func runTurn(sess *session, userInput string) {
	sess.conv.Append(provider.Message{Role: "user", Content: userInput, CreatedAt: time.Now()})
	persistMessage(sess, "user", userInput, nil, "")

	maxBudget := sess.cfg.Agent.MaxTokensOrDefault()
	sess.conv.Prune(int(float64(maxBudget)*sess.cfg.Agent.PruneThresholdOrDefault()), sess.cfg.Agent.MinRetainTurnsOrDefault(), nil)

	ctx := context.Background()
	err := agent.ProcessTurn(ctx, agent.ProcessTurnOptions{
		Provider: sess.prov,
		View:     sess.view(),
		History:  sess.conv.Messages(),
		OnMessage: func(msg provider.Message) {
			sess.conv.Append(msg)
			persistAgentMessage(sess, msg)
		},
		OnDelta: func(evt provider.StreamEvent) {
			if evt.Type == provider.EventContentDelta {
				fmt.Print(evt.Content)
			}
		},
		OnUsage: func(in, out int) {
			sess.conv.UpdateFromProviderUsage(in, out)
		},
		Scratchpad:    sess.scratchpad,
		Quota:         sess.quotaTracker,
		MaxToolRounds: sess.cfg.Agent.MaxToolRoundsOrDefault(),
		Depth:         0,
	})
	fmt.Println()
	if err != nil {
		fmt.Printf("\n[error] %v\n", err)
	}

	if info := sess.conv.GetContextInfo(); info.Max > 0 && info.Percentage >= sess.cfg.Agent.WarningThresholdOrDefault()*100 {
		fmt.Printf("[context] %.0f%% of the %d-token budget used (%d remaining) — consider /context or starting a fresh session\n",
			info.Percentage, info.Max, info.Remaining)
	}
}

func persistMessage(sess *session, role, content string, toolCalls []provider.ToolCall, toolCallID string) {
	if sess.webCache == nil {
		return
	}
	var tc []byte
	if len(toolCalls) > 0 {
		if b, err := marshalToolCalls(toolCalls); err == nil {
			tc = b
		}
	}
	sess.webCache.SaveMessage(sess.sessionID, store.SessionMessage{
		Role:       role,
		Content:    content,
		ToolCalls:  tc,
		ToolCallID: toolCallID,
		CreatedAt:  time.Now(),
	})
}

func persistAgentMessage(sess *session, msg provider.Message) {
	if sess.webCache == nil {
		return
	}
	var tc []byte
	if len(msg.ToolCalls) > 0 {
		if b, err := marshalToolCalls(msg.ToolCalls); err == nil {
			tc = b
		}
	}
	sess.webCache.SaveMessage(sess.sessionID, store.SessionMessage{
		Role:         msg.Role,
		Content:      msg.Content,
		Reasoning:    msg.Reasoning,
		ToolCalls:    tc,
		ToolCallID:   msg.ToolCallID,
		CreatedAt:    time.Now(),
		InputTokens:  msg.InputTokens,
		OutputTokens: msg.OutputTokens,
	})
}

// --- run (single-shot) ---

func runOneShot(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flagPlan := fs.String("plan", "", "run a read-only planning prompt")
	flagPrompt := fs.String("prompt", "", "run a prompt with full tool access")
	flagProvider := fs.String("provider", "", "provider to use")
	fs.Parse(args)

	prompt := *flagPrompt
	planMode := false
	if *flagPlan != "" {
		prompt = *flagPlan
		planMode = true
	}
	if prompt == "" {
		fmt.Println("usage: xzatoma run --plan \"...\" | --prompt \"...\"")
		os.Exit(2)
	}

	cfg, creds := loadConfigAndCreds()
	sess := newSession(cfg, creds, *flagProvider)
	defer sess.close()

	if planMode {
		sess.mode = tool.Planning
	}
	sess.reconfigureSubagent()

	sess.conv.Append(provider.Message{Role: "user", Content: prompt, CreatedAt: time.Now()})

	// No operator to prompt in single-shot mode, so auto-prune proactively
	// once utilization crosses the configured threshold (spec.md §4.1).
	sess.conv.AutoSummarize(sess.cfg.Agent.AutoSummaryThresholdOrDefault()*100, sess.cfg.Agent.MinRetainTurnsOrDefault(), nil)

	ctx := context.Background()
	err := agent.ProcessTurn(ctx, agent.ProcessTurnOptions{
		Provider: sess.prov,
		View:     sess.view(),
		History:  sess.conv.Messages(),
		OnMessage: func(msg provider.Message) {
			sess.conv.Append(msg)
			if msg.Role == "assistant" && msg.Content != "" {
				fmt.Println(msg.Content)
			}
		},
		OnUsage: func(in, out int) {
			sess.conv.UpdateFromProviderUsage(in, out)
		},
		Scratchpad:    sess.scratchpad,
		Quota:         sess.quotaTracker,
		MaxToolRounds: sess.cfg.Agent.MaxToolRoundsOrDefault(),
		Depth:         0,
	})
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		os.Exit(1)
	}
}

// --- auth ---

func runAuth(args []string) {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	flagProvider := fs.String("provider", "", "provider name to authenticate")
	fs.Parse(args)

	if *flagProvider == "" {
		fmt.Println("usage: xzatoma auth --provider <name>")
		os.Exit(2)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key for %s: ", *flagProvider)
	reader := bufio.NewReader(os.Stdin)
	key, _ := reader.ReadString('\n')
	key = strings.TrimSpace(key)
	if key == "" {
		fmt.Println("no key entered, aborting")
		os.Exit(1)
	}

	creds.SetAPIKey(*flagProvider, key)
	if err := config.SaveCredentials(creds); err != nil {
		fmt.Printf("Error saving credentials: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("credentials saved for %s\n", *flagProvider)
}

// --- models ---

func runModels(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: xzatoma models {list|info|current|set} ...")
		os.Exit(2)
	}

	cfg, creds := loadConfigAndCreds()
	reg := buildProviderRegistry(cfg, creds)

	switch args[0] {
	case "list":
		ctx := context.Background()
		tagged := reg.ListAllModels(ctx, provider.Options{})
		for _, t := range tagged {
			fmt.Printf("%s\t%s\n", t.ProviderName, t.Model.Name)
		}

	case "current":
		fmt.Printf("provider=%s model=%s\n", cfg.DefaultProvider, cfg.Providers[cfg.DefaultProvider].Model)

	case "info":
		if len(args) < 2 {
			fmt.Println("usage: xzatoma models info <provider>")
			os.Exit(2)
		}
		pc, ok := cfg.Providers[args[1]]
		if !ok {
			fmt.Printf("provider %q not configured\n", args[1])
			os.Exit(1)
		}
		fmt.Printf("provider=%s kind=%s endpoint=%s model=%s temperature=%v\n",
			args[1], pc.KindOrDefault(), pc.Endpoint, pc.Model, pc.Temperature)

	case "set":
		fmt.Println("models set is not supported from the CLI; edit config.toml's providers.<name>.model")

	default:
		fmt.Printf("unknown models subcommand: %s\n", args[0])
		os.Exit(2)
	}
}

// --- session persistence helpers ---

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	defer db.Close()
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := strings.ReplaceAll(s.Preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}

func resolveSession(flagSession string, flagContinue bool, db *store.Cache, model string) (string, *conversation.Conversation) {
	switch {
	case flagSession != "":
		if db != nil {
			ok, err := db.SessionExists(flagSession)
			if err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		return flagSession, loadConversation(flagSession, db, model)

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		return id, loadConversation(id, db, model)

	default:
		return store.NewSortableID(), conversation.New(agent.BuildSystemPrompt(model))
	}
}

func loadConversation(sessionID string, db *store.Cache, model string) *conversation.Conversation {
	conv := conversation.New(agent.BuildSystemPrompt(model))
	if db == nil {
		return conv
	}
	stored, err := db.LoadMessages(sessionID)
	if err != nil {
		fmt.Printf("Warning: failed to load session history: %v\n", err)
		return conv
	}
	conv.AppendAll(store.ToProviderMessages(stored))
	return conv
}

func marshalToolCalls(tcs []provider.ToolCall) ([]byte, error) {
	return json.Marshal(tcs)
}
