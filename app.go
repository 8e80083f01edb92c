// app.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusetalk/fuselink/internal/auth"
	"github.com/fusetalk/fuselink/internal/channel"
	"github.com/fusetalk/fuselink/internal/chat"
	"github.com/fusetalk/fuselink/internal/config"
	"github.com/fusetalk/fuselink/internal/fuse"
	"github.com/fusetalk/fuselink/internal/negotiation"
	"github.com/fusetalk/fuselink/internal/queue"
	"github.com/fusetalk/fuselink/internal/session"
	"github.com/fusetalk/fuselink/internal/stub"
)

// App wires the client together: auth, the matching coordinator, and the
// per-session negotiation/chat runtime.
type App struct {
	cfg   *config.Config
	creds *auth.Credentials

	registry    *session.Registry
	coordinator *queue.Coordinator
	fuseTracker *fuse.Tracker
	stubServer  *stub.Server
	quit        context.CancelFunc

	mu      sync.Mutex
	engine  *negotiation.Engine
	chatMgr *chat.Manager
	current *session.Session
}

// Run is the client's whole lifetime: register, queue, converse, repeat
// until ctx is cancelled or the user quits.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := &App{cfg: cfg, registry: session.NewRegistry(), quit: cancel}

	if cfg.Stub.Enabled {
		secret := cfg.Stub.Secret
		if secret == "" {
			secret = uuid.New().String()
		}
		a.stubServer = stub.New(secret)
		if err := a.stubServer.Start(cfg.Stub.Bind); err != nil {
			return err
		}
		cfg.Server.APIBase = "http://" + a.stubServer.Addr()
		cfg.Server.WSBase = "ws://" + a.stubServer.Addr()
	}

	creds, err := a.loadOrRegister(ctx)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.creds = creds
	a.fuseTracker = fuse.NewTracker(fuse.NewClient(cfg.Server.APIBase, creds.Token))

	a.coordinator = queue.New(
		queue.NewClient(cfg.Server.APIBase, creds.Token),
		cfg.Server.WSBase+"/ws/matching/?token="+creds.Token,
		a.channelOptions(),
		a.registry,
		queue.Callbacks{
			OnSession:     a.startSession,
			OnQueueUpdate: func(pos int) { log.Printf("APP: queue position %d", pos) },
			OnError:       func(err error) { log.Printf("APP: matching channel: %v", err) },
		},
	)
	defer a.shutdown()

	if err := a.joinQueue(ctx); err != nil {
		return err
	}

	printCommands()
	go a.readCommands(ctx)

	<-ctx.Done()
	return nil
}

// loadOrRegister reuses cached credentials when the token is still valid
// for the configured nickname, and registers a fresh guest otherwise. The
// stub's state dies with the process, so its tokens are never cached.
func (a *App) loadOrRegister(ctx context.Context) (*auth.Credentials, error) {
	cachePath := a.cfg.Identity.CredentialsFile
	if a.cfg.Stub.Enabled {
		cachePath = ""
	}

	if cachePath != "" {
		creds, err := auth.LoadCredentials(cachePath)
		if err != nil {
			log.Printf("APP: credentials cache unreadable, re-registering: %v", err)
		} else if creds.Reusable(a.cfg.Identity.Nickname, time.Now()) {
			log.Printf("APP: reusing cached credentials for %q (id %s)", creds.User.Nickname, creds.User.ID)
			return creds, nil
		}
	}

	creds, err := auth.NewClient(a.cfg.Server.APIBase).RegisterGuest(
		ctx, a.cfg.Identity.Nickname, a.cfg.Identity.IsVisitor)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := creds.Save(cachePath); err != nil {
			log.Printf("APP: cache credentials: %v", err)
		}
	}
	return creds, nil
}

func (a *App) channelOptions() channel.Options {
	return channel.Options{
		Heartbeat: time.Duration(a.cfg.Timing.HeartbeatSec) * time.Second,
		Reconnect: time.Duration(a.cfg.Timing.ReconnectSec) * time.Second,
	}
}

func (a *App) joinQueue(ctx context.Context) error {
	ticket, err := a.coordinator.Join(ctx, queue.Preferences{
		VibeTag:   a.cfg.Match.VibeTag,
		Language:  a.cfg.Match.Language,
		IsVisitor: a.cfg.Identity.IsVisitor,
	})
	if err != nil {
		return fmt.Errorf("join queue: %w", err)
	}
	if ticket.Status == queue.StatusQueued {
		log.Printf("APP: waiting for a match (vibe %s)", a.cfg.Match.VibeTag)
	}
	return nil
}

// startSession brings up negotiation and chat for a fresh pairing. Runs on
// the matching channel's reader goroutine via OnSession.
func (a *App) startSession(s *session.Session) {
	log.Printf("APP: session %s with %s", s.ID, s.Counterpart)

	remoteID := s.CounterpartID
	if remoteID == "" {
		// Older servers omit matched_user_id; the nickname is the best
		// identity available then.
		remoteID = s.Counterpart
	}
	engine, err := negotiation.Start(negotiation.Config{
		SessionID:    s.ID,
		LocalID:      a.creds.User.ID,
		RemoteID:     remoteID,
		SignalingURL: a.cfg.Server.WSBase + "/ws/signaling/" + s.ID + "/?token=" + a.creds.Token,
		ChannelOpts:  a.channelOptions(),
		OfferDelay:   time.Duration(a.cfg.Timing.OfferDelayMs) * time.Millisecond,
		ICEServers:   a.cfg.Media.ICEServers,
		VideoBitrate: a.cfg.Media.VideoBitrate,
		MaxWidth:     a.cfg.Media.MaxWidth,
		MaxHeight:    a.cfg.Media.MaxHeight,
		Callbacks: negotiation.Callbacks{
			OnConnectionChange: func(connected bool) {
				if connected {
					log.Printf("APP: media connected to %s", s.Counterpart)
				} else {
					log.Printf("APP: media connection to %s lost", s.Counterpart)
				}
			},
			OnError: func(err error) { log.Printf("APP: negotiation: %v", err) },
		},
	})
	if err != nil {
		log.Printf("APP: start negotiation: %v", err)
		a.registry.End(s.ID)
		a.coordinator.Discard()
		return
	}

	chatMgr := chat.New(
		s.ID,
		a.cfg.Server.WSBase+"/ws/chat/"+s.ID+"/?token="+a.creds.Token,
		a.creds.User.Nickname,
		a.channelOptions(),
		0,
	)
	chatMgr.SetTypingHandler(func(user string, isTyping bool) {
		if isTyping {
			fmt.Printf("%s is typing...\n", user)
		}
	})
	go func() {
		for msg := range chatMgr.Subscribe() {
			if chatMgr.IsOwn(msg) {
				continue
			}
			fmt.Printf("%s: %s\n", msg.Sender, msg.Content)
		}
	}()

	a.mu.Lock()
	a.engine = engine
	a.chatMgr = chatMgr
	a.current = s
	a.mu.Unlock()
}

// endSession tears the current session down in reverse order of startup and
// makes the app matchable again.
func (a *App) endSession() {
	a.mu.Lock()
	engine, chatMgr, s := a.engine, a.chatMgr, a.current
	a.engine, a.chatMgr, a.current = nil, nil, nil
	a.mu.Unlock()

	if s == nil {
		return
	}
	if chatMgr != nil {
		chatMgr.Close()
	}
	if engine != nil {
		engine.Close()
	}
	a.registry.End(s.ID)
	a.coordinator.Discard()
}

func (a *App) shutdown() {
	a.endSession()
	a.coordinator.Close()
	if a.stubServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		a.stubServer.Shutdown(ctx)
	}
}

// readCommands drives the session from stdin: plain lines are chat, slash
// lines are commands.
func (a *App) readCommands(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			a.sendChat(line)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/like":
			a.like(ctx)
		case "/share":
			a.shareContact(ctx, fields[1:])
		case "/moments":
			a.listMoments(ctx)
		case "/video":
			a.withEngine(func(e *negotiation.Engine) {
				fmt.Printf("video: %v\n", e.ToggleVideo())
			})
		case "/audio":
			a.withEngine(func(e *negotiation.Engine) {
				fmt.Printf("audio: %v\n", e.ToggleAudio())
			})
		case "/skip":
			a.endSession()
			if err := a.joinQueue(ctx); err != nil {
				log.Printf("APP: rejoin: %v", err)
			}
		case "/stats":
			a.showStats(ctx)
		case "/quit":
			// Cancelling the run context takes the same teardown path as
			// a signal, so the channels close normally and the stub drains.
			a.coordinator.Leave(ctx)
			a.quit()
			return
		default:
			fmt.Printf("unknown command %s\n", fields[0])
			printCommands()
		}
	}
}

func (a *App) sendChat(content string) {
	a.mu.Lock()
	chatMgr := a.chatMgr
	a.mu.Unlock()
	if chatMgr == nil {
		fmt.Println("not in a session")
		return
	}
	if err := chatMgr.Send(content); err != nil {
		log.Printf("APP: send chat: %v", err)
	}
}

func (a *App) withEngine(fn func(*negotiation.Engine)) {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		fmt.Println("not in a session")
		return
	}
	fn(engine)
}

func (a *App) like(ctx context.Context) {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil {
		fmt.Println("not in a session")
		return
	}

	outcome, err := a.fuseTracker.Like(ctx, s.ID)
	if err != nil {
		log.Printf("APP: like: %v", err)
		return
	}
	if outcome.FuseMoment {
		fmt.Printf("It's mutual! Fuse moment %s created. Use /share to exchange contact.\n",
			outcome.FuseMomentID)
	} else {
		fmt.Println("Liked. If they like you back, a fuse moment appears.")
	}
}

func (a *App) shareContact(ctx context.Context, args []string) {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil {
		fmt.Println("not in a session")
		return
	}

	outcome, err := a.fuseTracker.Like(ctx, s.ID)
	if err != nil || !outcome.FuseMoment {
		fmt.Println("no fuse moment yet; both sides need to /like first")
		return
	}

	card := fuse.ContactCard{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch k {
		case "whatsapp":
			card.Whatsapp = v
		case "instagram":
			card.Instagram = v
		case "telegram":
			card.Telegram = v
		case "note":
			card.Note = v
		}
	}
	if err := a.fuseTracker.ShareContact(ctx, outcome.FuseMomentID, card); err != nil {
		log.Printf("APP: share contact: %v", err)
		return
	}
	fmt.Println("Contact shared.")
}

func (a *App) listMoments(ctx context.Context) {
	moments, err := fuse.NewClient(a.cfg.Server.APIBase, a.creds.Token).ListMoments(ctx)
	if err != nil {
		log.Printf("APP: list moments: %v", err)
		return
	}
	if len(moments) == 0 {
		fmt.Println("no fuse moments yet")
		return
	}
	for _, m := range moments {
		exchanged := ""
		if m.ContactExchanged {
			exchanged = " (contact exchanged)"
		}
		fmt.Printf("%s: %s + %s, %s%s\n",
			m.CreatedAt, m.UserA.Nickname, m.UserB.Nickname, m.SummaryText, exchanged)
	}
}

func (a *App) showStats(ctx context.Context) {
	stats, err := queue.NewClient(a.cfg.Server.APIBase, a.creds.Token).GetStats(ctx)
	if err != nil {
		log.Printf("APP: stats: %v", err)
		return
	}
	fmt.Printf("waiting: %d (visitors %d)\n", stats.TotalWaiting, stats.VisitorsWaiting)
	for tag, n := range stats.ByVibeTag {
		fmt.Printf("  %s: %d\n", tag, n)
	}
}

func printCommands() {
	fmt.Println("commands: /like /share [whatsapp=... instagram=... telegram=... note=...]")
	fmt.Println("          /moments /video /audio /skip /stats /quit")
	fmt.Println("anything else is sent as a chat message")
}
