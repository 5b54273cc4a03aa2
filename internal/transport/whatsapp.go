package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// Handler is what a transport adapter delivers inbound notifications to —
// satisfied by *internal/pipeline.Pipeline without this package importing
// internal/pipeline (spec.md §6: "Receive is delivered by the transport, not
// polled by the core").
type Handler interface {
	Handle(ctx context.Context, n Notification)
}

// zerologAdapter bridges whatsmeow's own logging interface to zerolog, the
// way the rest of this repository logs (SPEC_FULL.md §1).
type zerologAdapter struct{ quiet bool }

func (l zerologAdapter) Errorf(msg string, args ...interface{}) {
	log.Error().Msgf("whatsapp: "+msg, args...)
}
func (l zerologAdapter) Warnf(msg string, args ...interface{}) {
	if l.quiet {
		return
	}
	log.Warn().Msgf("whatsapp: "+msg, args...)
}
func (l zerologAdapter) Infof(msg string, args ...interface{}) {
	if l.quiet {
		return
	}
	log.Info().Msgf("whatsapp: "+msg, args...)
}
func (l zerologAdapter) Debugf(msg string, args ...interface{}) {}
func (l zerologAdapter) Sub(string) waLog.Logger               { return l }

// WhatsAppTransport adapts whatsmeow to the Transport interface and pushes
// every inbound message to a Handler.
type WhatsAppTransport struct {
	client  *whatsmeow.Client
	handler Handler
	ctx     context.Context

	typingMu   sync.Mutex
	typingStop map[string]chan struct{}
}

// StartWhatsApp connects to WhatsApp using a previously-paired device store
// at dbPath and begins delivering notifications to handler. Call
// SetupWhatsApp first to pair the device.
func StartWhatsApp(ctx context.Context, dbPath string, handler Handler) (*WhatsAppTransport, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("whatsapp database path not provided")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create whatsapp db directory: %w", err)
	}

	container, err := sqlstore.New(ctx, sqliteDriver, "file:"+dbPath+"?_pragma=foreign_keys(1)", zerologAdapter{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to whatsapp database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, zerologAdapter{})
	if client.Store.ID == nil {
		return nil, fmt.Errorf("whatsapp not authenticated - run 'denidin onboard whatsapp' first")
	}

	t := &WhatsAppTransport{
		client:     client,
		handler:    handler,
		ctx:        ctx,
		typingStop: make(map[string]chan struct{}),
	}
	client.AddEventHandler(t.handleEvent)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to whatsapp: %w", err)
	}
	log.Info().Str("account", client.Store.ID.User).Msg("whatsapp: connected")

	go func() {
		<-ctx.Done()
		log.Info().Msg("whatsapp: shutting down")
		t.stopAllTyping()
		client.Disconnect()
	}()

	return t, nil
}

// SetupWhatsApp runs the interactive QR-pairing flow, lifted near-verbatim
// from the teacher's onboarding command.
func SetupWhatsApp(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("whatsapp database path not provided")
	}
	ctx := context.Background()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("failed to create whatsapp db directory: %w", err)
	}

	container, err := sqlstore.New(ctx, sqliteDriver, "file:"+dbPath+"?_pragma=foreign_keys(1)", zerologAdapter{quiet: true})
	if err != nil {
		return fmt.Errorf("failed to connect to whatsapp database: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, zerologAdapter{quiet: true})
	if client.Store.ID != nil {
		fmt.Printf("Already authenticated as %s\n", client.Store.ID.User)
		fmt.Println("To re-authenticate, delete the database file and run setup again.")
		return nil
	}

	connected := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to whatsapp: %w", err)
	}
	defer client.Disconnect()

	fmt.Println("Scan the QR code below with WhatsApp on your phone:")
	fmt.Println("(Open WhatsApp > Settings > Linked Devices > Link a Device)")
	fmt.Println()

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			fmt.Println()
		case "success":
			fmt.Println("Pairing successful, finishing setup...")
		case "timeout":
			return fmt.Errorf("QR code timed out, please try again")
		}
	}

	select {
	case <-connected:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for connection after pairing")
	}

	fmt.Println("Syncing with phone...")
	time.Sleep(15 * time.Second)

	fmt.Println("Successfully authenticated!")
	if client.Store.ID != nil {
		fmt.Printf("Logged in as: %s\n", client.Store.ID.User)
	}
	return nil
}

func (t *WhatsAppTransport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected, *events.PushNameSetting:
		if err := t.client.SendPresence(t.ctx, types.PresenceAvailable); err != nil {
			log.Warn().Err(err).Msg("whatsapp: failed to send available presence")
		}
	case *events.Message:
		t.handleMessage(v)
	}
}

func (t *WhatsAppTransport) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe {
		return
	}

	content, kind := extractContent(msg)
	if content == "" && (kind == KindText || kind == KindOther) {
		return
	}
	content = strings.TrimSpace(content)

	_ = t.client.MarkRead(t.ctx, []types.MessageID{msg.Info.ID}, msg.Info.Timestamp, msg.Info.Chat, msg.Info.Sender)
	t.startTyping(msg.Info.Chat)

	n := Notification{
		ID:        msg.Info.ID,
		ChatID:    msg.Info.Chat.String(),
		Sender:    msg.Info.Sender.User,
		Text:      content,
		Kind:      kind,
		Timestamp: msg.Info.Timestamp,
		IsGroup:   msg.Info.IsGroup,
	}
	t.handler.Handle(t.ctx, n)
}

func extractContent(msg *events.Message) (string, MessageKind) {
	if msg.Message.Conversation != nil {
		return *msg.Message.Conversation, KindText
	}
	if msg.Message.ExtendedTextMessage != nil && msg.Message.ExtendedTextMessage.Text != nil {
		return *msg.Message.ExtendedTextMessage.Text, KindText
	}
	if msg.Message.ImageMessage != nil {
		caption := ""
		if msg.Message.ImageMessage.Caption != nil {
			caption = *msg.Message.ImageMessage.Caption
		}
		return caption, KindImage
	}
	if msg.Message.DocumentMessage != nil {
		caption := ""
		if msg.Message.DocumentMessage.Caption != nil {
			caption = *msg.Message.DocumentMessage.Caption
		}
		return caption, KindDocument
	}
	if msg.Message.AudioMessage != nil {
		return "", KindAudio
	}
	return "", KindOther
}

const maxChunkChars = 4096

// Reply implements Transport.
func (t *WhatsAppTransport) Reply(ctx context.Context, n Notification, text string) error {
	recipient, err := types.ParseJID(n.ChatID)
	if err != nil {
		return &ReplyError{StatusCode: 400, Err: fmt.Errorf("invalid chat id %q: %w", n.ChatID, err)}
	}
	t.stopTyping(n.ChatID)

	for _, chunk := range splitMessage(text, maxChunkChars) {
		waMsg := &waProto.Message{Conversation: &chunk}
		if _, err := t.client.SendMessage(ctx, recipient, waMsg); err != nil {
			if ctx.Err() != nil {
				return &ReplyError{Timeout: true, Err: err}
			}
			return &ReplyError{Network: true, Err: err}
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most max characters, never
// returning an empty slice (an empty text still yields one empty chunk so
// the caller sends something).
func splitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var chunks []string
	for len(text) > max {
		chunks = append(chunks, text[:max])
		text = text[max:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// startTyping begins (or resets) a continuous "composing" presence for a
// chat, self-expiring after 5 minutes or on stopTyping/stopAllTyping.
func (t *WhatsAppTransport) startTyping(jid types.JID) {
	key := jid.String()
	t.typingMu.Lock()
	if stop, ok := t.typingStop[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	t.typingStop[key] = stop
	t.typingMu.Unlock()

	go func() {
		_ = t.client.SendChatPresence(t.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()
		for {
			select {
			case <-stop:
				_ = t.client.SendChatPresence(t.ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
				return
			case <-timeout.C:
				return
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				_ = t.client.SendChatPresence(t.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
			}
		}
	}()
}

func (t *WhatsAppTransport) stopTyping(chatID string) {
	t.typingMu.Lock()
	defer t.typingMu.Unlock()
	if stop, ok := t.typingStop[chatID]; ok {
		close(stop)
		delete(t.typingStop, chatID)
	}
}

func (t *WhatsAppTransport) stopAllTyping() {
	t.typingMu.Lock()
	defer t.typingMu.Unlock()
	for _, stop := range t.typingStop {
		close(stop)
	}
	t.typingStop = make(map[string]chan struct{})
}
