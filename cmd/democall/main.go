package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"parley/internal/client/call"
	"parley/internal/core/domain"
	"parley/pkg/config"
	"parley/pkg/logger"
)

// loadConfig mirrors the relay's config resolution so democall and the relay
// agree on ring timeout and ICE servers out of the box.
func loadConfig() *config.Config {
	paths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/parley/config.yaml",
		"config.yaml",
	}
	for _, path := range paths {
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

// democall places or answers a single call through a running relay, using
// synthetic audio/video tracks. Useful for exercising the signaling path
// without a browser on either end.
func main() {
	cfg := loadConfig()

	var (
		serverURL = flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
		token     = flag.String("token", "", "JWT from /api/v1/auth/login")
		userID    = flag.String("user", "", "user id (fallback when the relay runs without auth)")
		name      = flag.String("name", "", "display name sent with call invites")
		callee    = flag.String("call", "", "user id to call; omit to wait for an incoming call")
		video     = flag.Bool("video", false, "offer video as well as audio")
		ring      = flag.Duration("ring", cfg.Signal.RingTimeout, "how long to let an outgoing call ring")
	)
	flag.Parse()

	var iceServers []string
	for _, server := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, server.URLs...)
	}

	if *token == "" && *userID == "" {
		fmt.Fprintln(os.Stderr, "either -token or -user is required")
		os.Exit(1)
	}

	zapLogger := logger.New("info", "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialURL := *serverURL
	if *token == "" {
		dialURL = fmt.Sprintf("%s?user_id=%s", *serverURL, *userID)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	sock, err := call.DialSocket(dialCtx, dialURL, *token)
	dialCancel()
	if err != nil {
		log.Fatalw("failed to connect to relay", "url", *serverURL, "error", err)
	}
	defer sock.Close()
	sock.SetLogger(log)

	controller := call.NewController(domain.UserID(*userID), *name, sock, call.NewStaticDevice(), call.Config{
		RingTimeout: *ring,
		ICEServers:  iceServers,
	}, log)

	answering := *callee == ""
	controller.OnPhaseChange(func(phase domain.CallPhase) {
		log.Infow("call phase changed", "phase", phase)
		if answering && phase == domain.PhaseIncoming {
			go func() {
				if err := controller.Accept(ctx); err != nil {
					log.Errorw("failed to accept call", "error", err)
				}
			}()
		}
	})

	done := make(chan struct{}, 1)
	controller.OnTerminated(func(id domain.CallID, reason string) {
		log.Infow("call ended", "call_id", id, "reason", reason)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- sock.Listen(ctx)
	}()

	if *callee != "" {
		callID, err := controller.Dial(ctx, domain.UserID(*callee), *video)
		if err != nil {
			log.Fatalw("failed to place call", "callee", *callee, "error", err)
		}
		log.Infow("calling", "callee", *callee, "call_id", callID, "video", *video)
	} else {
		log.Infow("waiting for an incoming call", "user_id", *userID)
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("interrupted, hanging up")
		if err := controller.HangUp(); err != nil {
			log.Warnw("hangup failed", "error", err)
		}
	case <-done:
	case err := <-listenErr:
		if err != nil {
			log.Errorw("connection to relay lost", "error", err)
		}
	}
}
