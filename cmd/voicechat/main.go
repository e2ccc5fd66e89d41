package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rg1989/local-ai-voice-chat/internal/capture"
	"github.com/rg1989/local-ai-voice-chat/internal/config"
	"github.com/rg1989/local-ai-voice-chat/internal/controller"
	"github.com/rg1989/local-ai-voice-chat/internal/observability"
	"github.com/rg1989/local-ai-voice-chat/internal/playback"
	"github.com/rg1989/local-ai-voice-chat/internal/prefs"
	"github.com/rg1989/local-ai-voice-chat/internal/restapi"
	"github.com/rg1989/local-ai-voice-chat/internal/wsclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := prefs.NewStore(cfg.PrefsDBPath)
	if err != nil {
		log.Fatalf("prefs store init failed: %v", err)
	}
	defer store.Close()

	saved, err := store.Load()
	if err != nil {
		log.Fatalf("prefs load failed: %v", err)
	}

	var micDevice capture.Device
	if recorder, err := capture.DetectRecorder(cfg.RecorderCommand); err != nil {
		log.Printf("microphone unavailable: %v (text input still works)", err)
		micDevice = unavailableDevice{err: err}
	} else {
		micDevice = recorder
	}
	mic := capture.NewSession(micDevice, cfg.CaptureSampleRate, cfg.CaptureChunkMS)

	var speaker playback.Player
	if player, err := playback.DetectPlayer(cfg.PlayerCommand); err != nil {
		log.Printf("audio output unavailable: %v (responses will be text only)", err)
		speaker = unavailablePlayer{err: err}
	} else {
		speaker = player
	}
	queue := playback.NewQueue(speaker, metrics)

	// The controller and the socket reference each other: the socket
	// delivers inbound events to the controller, and the controller sends
	// commands through the socket. Bind the controller late.
	var ctrl *controller.Controller
	client := wsclient.New(wsclient.Options{
		URL:            cfg.WebSocketURL(),
		ReconnectDelay: cfg.ReconnectDelay,
		Metrics:        metrics,
		Handler: func(msg any) {
			ctrl.HandleMessage(msg)
		},
		OnOpen: func() {
			log.Printf("connected to %s", cfg.WebSocketURL())
			ctrl.HandleOpen()
		},
		OnClose: func() {
			log.Printf("connection lost, retrying every %s", cfg.ReconnectDelay)
		},
		OnError: func(err error) {
			log.Printf("connection error: %v", err)
		},
	})

	ctrl = controller.New(client, mic, queue, store, saved, controller.Events{
		OnUserMessage: func(m controller.Message) {
			fmt.Printf("\nyou: %s\n", m.Content)
		},
		OnToken: func(token string) {
			fmt.Print(token)
		},
		OnAssistantMessage: func(m controller.Message) {
			fmt.Print("\n")
		},
		OnPhase: func(p controller.Phase) {
			metrics.PhaseChanges.WithLabelValues(string(p)).Inc()
		},
		OnError: func(msg string) {
			log.Printf("assistant error: %s", msg)
		},
	})

	api := restapi.NewClient(cfg.ServerURL)

	debugServer := &http.Server{
		Addr:    cfg.DebugBindAddr,
		Handler: debugRouter(ctrl, queue),
	}
	go func() {
		log.Printf("debug endpoints on %s", cfg.DebugBindAddr)
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("debug listener error: %v", err)
		}
	}()

	client.Connect()

	go repl(ctrl, api)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	client.Disconnect()
	mic.Stop()
	queue.Clear()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := debugServer.Shutdown(shutdownCtx); err != nil {
		_ = debugServer.Close()
	}

	log.Printf("shutdown complete")
}

func debugRouter(ctrl *controller.Controller, queue *playback.Queue) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, req)
	})
	r.Get("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		state := map[string]any{
			"phase":          ctrl.Phase(),
			"wake":           ctrl.WakeStatus(),
			"messages":       len(ctrl.Messages()),
			"streaming":      ctrl.Streaming(),
			"playback_depth": queue.Depth(),
			"preferences":    ctrl.Preferences(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})
	return r
}

// repl reads commands from stdin until EOF. Plain input is sent as a chat
// message; slash commands drive everything else.
func repl(ctrl *controller.Controller, api *restapi.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			ctrl.SendText(line)
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		arg = strings.TrimSpace(arg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		runCommand(ctx, ctrl, api, cmd, arg)
		cancel()
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin read error: %v", err)
	}
}

func runCommand(ctx context.Context, ctrl *controller.Controller, api *restapi.Client, cmd, arg string) {
	switch cmd {
	case "listen":
		active, err := ctrl.ToggleListening()
		if err != nil {
			log.Printf("microphone error: %v", err)
			return
		}
		if active {
			fmt.Println("listening...")
		} else {
			fmt.Println("microphone off")
		}
	case "stop":
		ctrl.Stop()
	case "clear":
		ctrl.ClearChat()
		fmt.Println("history cleared")
	case "voice":
		if arg == "" {
			listChoices(ctx, "voices", api.Voices)
			return
		}
		ctrl.SetVoice(arg)
	case "model":
		if arg == "" {
			listChoices(ctx, "models", api.Models)
			return
		}
		ctrl.SetModel(arg)
	case "tts":
		ctrl.SetTTSEnabled(arg != "off")
	case "tools":
		for _, t := range ctrl.Tools() {
			fmt.Printf("  %s (%v): %s\n", t.Name, t.Enabled, t.Description)
		}
	case "conversations":
		convs, err := api.Conversations(ctx)
		if err != nil {
			log.Printf("list conversations: %v", err)
			return
		}
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ID, c.Title)
		}
	case "open":
		ctrl.SetConversation(arg)
	case "search":
		convs, err := api.SearchConversations(ctx, arg)
		if err != nil {
			log.Printf("search: %v", err)
			return
		}
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ID, c.Title)
		}
	case "memories":
		for _, m := range ctrl.Memories() {
			fmt.Printf("  %s  %s\n", m.ID, m.Content)
		}
	case "remember":
		ctrl.AddMemory(arg)
	case "forget":
		ctrl.DeleteMemory(arg)
	case "quit", "exit":
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	case "help":
		fmt.Println("commands: /listen /stop /clear /voice [name] /model [name] /tts on|off /tools /conversations /open <id> /search <q> /memories /remember <text> /forget <id> /quit")
	default:
		fmt.Printf("unknown command %q, try /help\n", cmd)
	}
}

func listChoices(ctx context.Context, kind string, fetch func(context.Context) ([]string, error)) {
	items, err := fetch(ctx)
	if err != nil {
		log.Printf("list %s: %v", kind, err)
		return
	}
	for _, item := range items {
		fmt.Printf("  %s\n", item)
	}
}

// unavailableDevice stands in when no recorder binary is on PATH, so that
// starting the microphone fails with the detection error instead of a panic.
type unavailableDevice struct{ err error }

func (d unavailableDevice) Start(int) (io.ReadCloser, error) { return nil, d.err }

type unavailablePlayer struct{ err error }

func (p unavailablePlayer) Play(context.Context, []byte) error { return p.err }
