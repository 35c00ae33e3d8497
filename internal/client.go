package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// this model holds the bubbletea state for the chat client: the input box,
// the message log, presence, typing indicators, and the live websocket.
type TUIModel struct {
	textInput textinput.Model

	baseURL  string
	wsURL    string
	username string
	password string
	token    string
	userID   int64

	sock    *websocket.Conn
	writeMu sync.Mutex
	events  chan Envelope

	mode        clientMode
	messages    []ChatMessage
	users       []userDTO
	typing      map[int64]string
	chatID      int64
	recipientID int64

	incomingCall *CallSignal
	inCall       bool
	lastTyping   time.Time

	status  string
	lastErr error
}

type clientMode int

const (
	modeUsername clientMode = iota
	modePassword
	modeChat
	modeIncomingCall
)

type (
	loggedInMsg struct {
		resp *loginResponse
	}
	loginFailedMsg struct{ err error }
	wsConnectedMsg struct {
		sock   *websocket.Conn
		events chan Envelope
	}
	wsClosedMsg struct{ err error }
	wsEventMsg  Envelope
	usersMsg    []userDTO
	chatsMsg    []chatDTO
)

var (
	clientTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	clientStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	onlineStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	typerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	senderStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	clientTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	callBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("178")).Padding(1, 2).MarginTop(1)
	clientErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	inputFrameStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
)

// NewTUIModel builds the client model. serverURL is the http(s) base; the
// websocket URL is derived from it.
func NewTUIModel(serverURL, username, password string) *TUIModel {
	input := textinput.New()
	input.Placeholder = "username"
	input.Focus()
	input.CharLimit = 256
	input.SetValue(username)

	return &TUIModel{
		textInput: input,
		baseURL:   strings.TrimSuffix(serverURL, "/"),
		wsURL:     deriveWSURL(serverURL),
		username:  username,
		password:  password,
		typing:    make(map[int64]string),
		mode:      modeUsername,
		status:    "enter your username",
	}
}

func deriveWSURL(serverURL string) string {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/ws"
	return parsed.String()
}

func (m *TUIModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case loggedInMsg:
		m.token = msg.resp.Token
		m.userID = msg.resp.UserID
		m.username = msg.resp.Username
		m.status = "connecting..."
		return m, m.connectCmd()
	case loginFailedMsg:
		m.lastErr = msg.err
		m.mode = modeUsername
		m.textInput.Placeholder = "username"
		m.textInput.SetValue(m.username)
		m.textInput.EchoMode = textinput.EchoNormal
		m.status = "login failed, try again"
		return m, nil
	case wsConnectedMsg:
		m.sock = msg.sock
		m.events = msg.events
		m.mode = modeChat
		m.status = "connected as " + m.username
		m.textInput.Placeholder = "message (/to <user-id>, /chat <chat-id>, /call <user-id>)"
		m.textInput.SetValue("")
		return m, tea.Batch(m.waitEvent(), m.fetchUsersCmd())
	case wsClosedMsg:
		m.status = "disconnected"
		if msg.err != nil {
			m.lastErr = msg.err
		}
		return m, nil
	case wsEventMsg:
		return m.handleEvent(Envelope(msg))
	case usersMsg:
		m.users = msg
		return m, nil
	case chatsMsg:
		parts := make([]string, 0, len(msg))
		for _, c := range msg {
			parts = append(parts, fmt.Sprintf("%s(%d)", c.Name, c.ID))
		}
		if len(parts) == 0 {
			m.status = "no chats yet, /newchat <name> to start one"
		} else {
			m.status = "chats: " + strings.Join(parts, "  ")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *TUIModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		if m.token != "" {
			_ = apiLogout(m.baseURL, m.token)
		}
		if m.sock != nil {
			_ = m.sock.Close()
		}
		return m, tea.Quit
	}

	if m.mode == modeIncomingCall {
		switch msg.String() {
		case "a":
			m.answerCall(true)
		case "r":
			m.answerCall(false)
		}
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		return m.handleEnter()
	}

	// typing activity while composing in a chat
	if m.mode == modeChat && m.chatID != 0 && time.Since(m.lastTyping) > 3*time.Second {
		m.lastTyping = time.Now()
		m.sendCommand(CmdTypingStart, TypingCommand{ChatID: m.chatID})
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *TUIModel) handleEnter() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.textInput.Value())
	switch m.mode {
	case modeUsername:
		if value == "" {
			return m, nil
		}
		m.username = value
		m.mode = modePassword
		m.textInput.SetValue("")
		m.textInput.Placeholder = "password"
		m.textInput.EchoMode = textinput.EchoPassword
		m.status = "enter your password"
		return m, nil
	case modePassword:
		if value == "" {
			return m, nil
		}
		m.password = value
		m.textInput.SetValue("")
		m.textInput.EchoMode = textinput.EchoNormal
		m.status = "signing in..."
		return m, m.loginCmd()
	case modeChat:
		if value == "" {
			return m, nil
		}
		m.textInput.SetValue("")
		return m, m.handleChatInput(value)
	}
	return m, nil
}

func (m *TUIModel) handleChatInput(value string) tea.Cmd {
	if strings.HasPrefix(value, "/") {
		return m.runSlashCommand(value)
	}
	if m.chatID != 0 {
		m.sendCommand(CmdTypingStop, TypingCommand{ChatID: m.chatID})
	}
	msg := ChatMessage{
		ID:          uuid.NewString(),
		TempID:      uuid.NewString(),
		ChatID:      m.chatID,
		RecipientID: m.recipientID,
		Body:        value,
	}
	if msg.RecipientID == 0 && msg.ChatID == 0 {
		m.lastErr = fmt.Errorf("pick a target first: /to <user-id> or /chat <chat-id>")
		return nil
	}
	m.sendCommand(CmdSendMessage, msg)
	msg.Sender = m.username
	msg.SenderID = m.userID
	msg.Ts = time.Now().Unix()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *TUIModel) runSlashCommand(value string) tea.Cmd {
	fields := strings.Fields(value)
	switch fields[0] {
	case "/to":
		if id, ok := parseIDArg(fields); ok {
			m.recipientID = id
			m.status = fmt.Sprintf("direct messages to user %d", id)
		}
	case "/chat":
		if id, ok := parseIDArg(fields); ok {
			if m.chatID != 0 {
				m.sendCommand(CmdLeaveChat, ChatRoomCommand{ChatID: m.chatID})
			}
			m.chatID = id
			m.sendCommand(CmdJoinChat, ChatRoomCommand{ChatID: id})
			m.status = fmt.Sprintf("joined chat %d", id)
		}
	case "/chats":
		baseURL, token := m.baseURL, m.token
		return func() tea.Msg {
			chats, err := apiChats(baseURL, token)
			if err != nil {
				return wsClosedMsg{err: err}
			}
			return chatsMsg(chats)
		}
	case "/newchat":
		if len(fields) < 2 {
			m.lastErr = fmt.Errorf("usage: /newchat <name>")
			return nil
		}
		baseURL, token, name := m.baseURL, m.token, fields[1]
		return func() tea.Msg {
			chat, err := apiCreateChat(baseURL, token, name, nil)
			if err != nil {
				return wsClosedMsg{err: err}
			}
			return chatsMsg{*chat}
		}
	case "/call":
		if id, ok := parseIDArg(fields); ok {
			m.sendCommand(CmdInitiateCall, CallSignal{To: id, CallType: "audio"})
			m.inCall = true
			m.status = fmt.Sprintf("calling user %d...", id)
		}
	case "/hangup":
		m.sendCommand(CmdCallEnded, CallSignal{})
		m.inCall = false
		m.status = "call ended"
	default:
		m.lastErr = fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}

func parseIDArg(fields []string) (int64, bool) {
	if len(fields) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (m *TUIModel) handleEvent(env Envelope) (tea.Model, tea.Cmd) {
	switch env.Type {
	case EventReceiveMessage:
		if msg, err := decodePayload[ChatMessage](env.Data); err == nil {
			m.messages = append(m.messages, msg)
			delete(m.typing, msg.SenderID)
		}
	case EventMessageDelivered:
		// optimistic echo already rendered
	case EventMessageError:
		if e, err := decodePayload[MessageError](env.Data); err == nil {
			m.lastErr = fmt.Errorf("send failed: %s", e.Reason)
		}
	case EventUserStatus:
		if status, err := decodePayload[UserStatus](env.Data); err == nil {
			m.applyUserStatus(status)
		}
	case EventTypingIndicator:
		if ind, err := decodePayload[TypingIndicator](env.Data); err == nil {
			if ind.IsTyping {
				m.typing[ind.UserID] = ind.Username
			} else {
				delete(m.typing, ind.UserID)
			}
		}
	case EventIncomingCall:
		if sig, err := decodePayload[CallSignal](env.Data); err == nil {
			m.incomingCall = &sig
			m.mode = modeIncomingCall
		}
	case EventCallEnded, EventCallRejected:
		m.inCall = false
		m.incomingCall = nil
		if m.mode == modeIncomingCall {
			m.mode = modeChat
		}
		m.status = "call ended"
	case EventCallError:
		if e, err := decodePayload[CallError](env.Data); err == nil {
			m.lastErr = fmt.Errorf("call failed: %s", e.Reason)
		}
		m.inCall = false
	case EventCallAccepted:
		m.status = "call accepted, connecting..."
	}
	return m, m.waitEvent()
}

func (m *TUIModel) applyUserStatus(status UserStatus) {
	for i := range m.users {
		if m.users[i].ID == status.UserID {
			m.users[i].Online = status.Online
			m.users[i].LastSeen = status.LastSeen
			return
		}
	}
	m.users = append(m.users, userDTO{
		ID:       status.UserID,
		Username: status.Username,
		Online:   status.Online,
		LastSeen: status.LastSeen,
	})
}

func (m *TUIModel) answerCall(accept bool) {
	if m.incomingCall == nil {
		m.mode = modeChat
		return
	}
	if accept {
		m.sendCommand(CmdCallAccepted, CallSignal{To: m.incomingCall.From})
		m.inCall = true
		m.status = "call accepted"
	} else {
		m.sendCommand(CmdCallRejected, CallSignal{To: m.incomingCall.From})
		m.status = "call rejected"
	}
	m.incomingCall = nil
	m.mode = modeChat
}

func (m *TUIModel) sendCommand(cmd string, payload any) {
	if m.sock == nil {
		return
	}
	env, err := NewEnvelope(cmd, payload)
	if err != nil {
		m.lastErr = err
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		m.lastErr = err
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.sock.WriteMessage(websocket.TextMessage, raw); err != nil {
		m.lastErr = err
	}
}

func (m *TUIModel) loginCmd() tea.Cmd {
	baseURL, username, password := m.baseURL, m.username, m.password
	return func() tea.Msg {
		resp, err := apiLogin(baseURL, username, password)
		if err != nil {
			// first failure may just mean no account yet
			if signupErr := apiSignup(baseURL, username, password); signupErr == nil {
				if resp, err = apiLogin(baseURL, username, password); err == nil {
					return loggedInMsg{resp: resp}
				}
			}
			return loginFailedMsg{err: err}
		}
		return loggedInMsg{resp: resp}
	}
}

func (m *TUIModel) connectCmd() tea.Cmd {
	wsURL, token := m.wsURL, m.token
	return func() tea.Msg {
		header := http.Header{}
		header.Set("Authorization", authHeaderPrefix+token)
		sock, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			return loginFailedMsg{err: fmt.Errorf("websocket dial: %w", err)}
		}
		events := make(chan Envelope, 64)
		go func() {
			defer close(events)
			for {
				_, raw, err := sock.ReadMessage()
				if err != nil {
					return
				}
				var env Envelope
				if json.Unmarshal(raw, &env) == nil {
					events <- env
				}
			}
		}()
		return wsConnectedMsg{sock: sock, events: events}
	}
}

func (m *TUIModel) waitEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		env, ok := <-events
		if !ok {
			return wsClosedMsg{}
		}
		return wsEventMsg(env)
	}
}

func (m *TUIModel) fetchUsersCmd() tea.Cmd {
	baseURL, token := m.baseURL, m.token
	return func() tea.Msg {
		users, err := apiUsers(baseURL, token)
		if err != nil {
			return wsClosedMsg{err: err}
		}
		return usersMsg(users)
	}
}

func (m *TUIModel) View() string {
	var b strings.Builder
	b.WriteString(clientTitleStyle.Render("pulsechat"))
	b.WriteString("\n")

	switch m.mode {
	case modeUsername, modePassword:
		b.WriteString(clientStatusStyle.Render(m.status))
		b.WriteString("\n")
		b.WriteString(inputFrameStyle.Render(m.textInput.View()))
	case modeIncomingCall:
		name := ""
		if m.incomingCall != nil {
			name = m.incomingCall.FromName
		}
		b.WriteString(callBoxStyle.Render(fmt.Sprintf("incoming %s call from %s\n[a]ccept  [r]eject",
			callTypeOrDefault(m.incomingCall), name)))
	default:
		b.WriteString(m.renderPresence())
		b.WriteString("\n")
		b.WriteString(m.renderMessages())
		if line := m.renderTyping(); line != "" {
			b.WriteString("\n")
			b.WriteString(typerStyle.Render(line))
		}
		b.WriteString("\n")
		b.WriteString(clientStatusStyle.Render(m.status))
		b.WriteString("\n")
		b.WriteString(inputFrameStyle.Render(m.textInput.View()))
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(clientErrStyle.Render(m.lastErr.Error()))
	}
	return b.String()
}

func callTypeOrDefault(sig *CallSignal) string {
	if sig == nil || sig.CallType == "" {
		return "audio"
	}
	return sig.CallType
}

func (m *TUIModel) renderPresence() string {
	if len(m.users) == 0 {
		return clientStatusStyle.Render("nobody else around yet")
	}
	parts := make([]string, 0, len(m.users))
	for _, u := range m.users {
		if u.ID == m.userID {
			continue
		}
		label := fmt.Sprintf("%s(%d)", u.Username, u.ID)
		if u.Online {
			parts = append(parts, onlineStyle.Render("● "+label))
		} else {
			parts = append(parts, offlineStyle.Render("○ "+label))
		}
	}
	return strings.Join(parts, "  ")
}

func (m *TUIModel) renderMessages() string {
	start := 0
	if len(m.messages) > 20 {
		start = len(m.messages) - 20
	}
	var b strings.Builder
	for _, msg := range m.messages[start:] {
		stamp := time.Unix(msg.Ts, 0).Format("15:04")
		b.WriteString(clientTimeStyle.Render(stamp))
		b.WriteString(" ")
		b.WriteString(senderStyle.Render(msg.Sender))
		b.WriteString(": ")
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *TUIModel) renderTyping() string {
	if len(m.typing) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.typing))
	for _, name := range m.typing {
		names = append(names, name)
	}
	if len(names) == 1 {
		return names[0] + " is typing..."
	}
	return strings.Join(names, ", ") + " are typing..."
}
