package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/emg_hand/internal/config"
	"github.com/relabs-tech/emg_hand/internal/status"
)

const historySize = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local network dashboard
	},
}

// WSMessage is what the browser sends: a command for the hand.
type WSMessage struct {
	Action      string `json:"action"` // sample, calibrate
	Repetitions int    `json:"repetitions,omitempty"`
}

// WSResponse is what the server pushes to the browser.
type WSResponse struct {
	Type    string          `json:"type"` // status, ack, error
	Status  *status.Message `json:"status,omitempty"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
}

type commandSender func(status.Command) (status.Command, error)

// webServer keeps the latest status messages and fans them out to
// websocket clients.
type webServer struct {
	mu      sync.RWMutex
	history []status.Message
	subs    map[chan status.Message]struct{}

	send      commandSender
	staticDir string
}

func newWebServer(send commandSender, staticDir string) *webServer {
	return &webServer{
		subs:      make(map[chan status.Message]struct{}),
		send:      send,
		staticDir: staticDir,
	}
}

func (s *webServer) ingest(m status.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	for ch := range s.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

func (s *webServer) subscribe() chan status.Message {
	ch := make(chan status.Message, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *webServer) unsubscribe(ch chan status.Message) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *webServer) handler() http.Handler {
	mux := http.NewServeMux()

	// latest status message
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if len(s.history) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s.history[len(s.history)-1])
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeJSON(w, s.history)
	})

	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var msg WSMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd, err := s.forward(msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, cmd)
	})

	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	return mux
}

func (s *webServer) forward(msg WSMessage) (status.Command, error) {
	switch msg.Action {
	case status.ActionSample, status.ActionCalibrate:
	default:
		return status.Command{}, fmt.Errorf("unknown action %q", msg.Action)
	}
	return s.send(status.Command{Action: msg.Action, Repetitions: msg.Repetitions})
}

// handleWS pushes every status message to the browser and forwards the
// browser's commands to the hand.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(resp WSResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(resp)
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case m := <-ch:
				if err := write(WSResponse{Type: "status", Status: &m}); err != nil {
					log.Printf("web: websocket write error: %v", err)
					return
				}
			}
		}
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}
		cmd, err := s.forward(msg)
		if err != nil {
			write(WSResponse{Type: "error", Message: err.Error()})
			continue
		}
		write(WSResponse{Type: "ack", ID: cmd.ID, Message: cmd.Action})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// RunWeb serves the dashboard: status over HTTP and a websocket, commands
// forwarded to the hand over MQTT.
func RunWeb() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := status.Connect(ctx, cfg.MQTTBroker, cfg.MQTTClientIDWeb, 5)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	srv := newWebServer(func(cmd status.Command) (status.Command, error) {
		return status.SendCommand(client, cfg.TopicCommand, cmd)
	}, "web")

	token := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var m status.Message
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("web: status unmarshal error: %v", err)
			return
		}
		srv.ingest(m)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicStatus)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebServerPort), Handler: srv.handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
