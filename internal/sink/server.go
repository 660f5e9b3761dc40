// ABOUTME: WebSocket sink server feeding the PWM output stream
// ABOUTME: Accepts one source at a time and plays its decoded audio
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pwmaudio/pwmaudio-go/pkg/audioout"
	"github.com/pwmaudio/pwmaudio-go/pkg/decode"
)

const (
	// ProtocolVersion is sent in the sink hello.
	ProtocolVersion = 1

	statsInterval = 2 * time.Second
	writeDeadline = 10 * time.Second
)

// Config holds sink server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool

	// Stream is the opened output stream all audio is written to.
	Stream *audioout.Stream

	// SampleRate and Channels are the stream's format; source hellos
	// that disagree are rejected since the sink does not resample.
	SampleRate int
	Channels   int
}

// Server accepts source connections and feeds the output stream.
// Only one source may be connected at a time: the stream is a single
// physical output.
type Server struct {
	config Config
	sinkID string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	discovery *Discovery

	busyMu sync.Mutex
	busy   bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new sink server
func New(config Config) *Server {
	return &Server{
		config: config,
		sinkID: uuid.New().String(),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Sources are trusted local-network processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stopChan: make(chan struct{}),
	}
}

// Start runs the server until Stop is called or the listener fails
func (s *Server) Start() error {
	log.Printf("Sink starting: %s (ID: %s)", s.config.Name, s.sinkID)

	if s.config.EnableMDNS {
		s.discovery = NewDiscovery(DiscoveryConfig{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
		})
		if err := s.discovery.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		}
	}

	s.mux.HandleFunc("/pwmaudio", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket sink listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Sink shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	if s.discovery != nil {
		s.discovery.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Sink stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New source connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	// Wait for source/hello
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	if msg.Type != "source/hello" {
		log.Printf("Expected source/hello, got %s", msg.Type)
		return
	}

	helloData, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Printf("Error marshaling hello payload: %v", err)
		return
	}
	var hello SourceHello
	if err := json.Unmarshal(helloData, &hello); err != nil {
		log.Printf("Error unmarshaling source hello: %v", err)
		return
	}

	if hello.Name == "" {
		s.sendError(conn, "bad_hello", "source hello missing name")
		return
	}
	if hello.SampleRate != s.config.SampleRate || hello.Channels != s.config.Channels {
		s.sendError(conn, "format_mismatch", fmt.Sprintf(
			"sink runs %d Hz / %d ch, source offered %d Hz / %d ch",
			s.config.SampleRate, s.config.Channels, hello.SampleRate, hello.Channels))
		return
	}

	decoder, err := decode.New(decode.Format{
		Codec:      hello.Codec,
		SampleRate: hello.SampleRate,
		Channels:   hello.Channels,
		BitDepth:   hello.BitDepth,
	})
	if err != nil {
		s.sendError(conn, "bad_codec", err.Error())
		return
	}
	defer decoder.Close()

	s.busyMu.Lock()
	if s.busy {
		s.busyMu.Unlock()
		log.Printf("Rejecting source %s: sink busy", hello.Name)
		s.sendError(conn, "sink_busy", "another source is connected")
		return
	}
	s.busy = true
	s.busyMu.Unlock()

	defer func() {
		s.busyMu.Lock()
		s.busy = false
		s.busyMu.Unlock()
		log.Printf("Source disconnected: %s", hello.Name)
	}()

	log.Printf("Source hello: %s (codec: %s, %d Hz, %d ch)",
		hello.Name, hello.Codec, hello.SampleRate, hello.Channels)

	// All writes after the handshake go through sendChan so the
	// stats pusher and control replies never write concurrently.
	sendChan := make(chan Message, 16)
	defer close(sendChan)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sourceWriter(conn, sendChan)
	}()

	sendChan <- Message{Type: "sink/hello", Payload: SinkHello{
		SinkID:  s.sinkID,
		Name:    s.config.Name,
		Version: ProtocolVersion,
	}}

	if err := s.config.Stream.Start(); err != nil {
		log.Printf("Error starting stream: %v", err)
		return
	}
	defer s.config.Stream.Stop()

	// The stats pusher must be fully stopped before sendChan closes,
	// so its shutdown is sequenced ahead of the close(sendChan) defer.
	statsDone := make(chan struct{})
	var statsWg sync.WaitGroup
	statsWg.Add(1)
	go func() {
		defer statsWg.Done()
		s.pushStats(sendChan, statsDone)
	}()
	defer func() {
		close(statsDone)
		statsWg.Wait()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := s.playChunk(sendChan, decoder, data); err != nil {
				return
			}
		case websocket.TextMessage:
			if err := s.handleControl(sendChan, data); err != nil {
				return
			}
		}
	}
}

// sourceWriter owns the connection's write side. It exits when
// sendChan closes, which happens as handleConnection unwinds.
func (s *Server) sourceWriter(conn *websocket.Conn, sendChan chan Message) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Error marshaling message: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Error writing message: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// playChunk decodes one binary frame and writes all of it to the
// stream, blocking as the FIFO drains.
func (s *Server) playChunk(sendChan chan Message, decoder decode.Decoder, data []byte) error {
	pcm, err := decoder.Decode(data)
	if err != nil {
		log.Printf("Decode error: %v", err)
		sendChan <- errorMessage("decode_failed", err.Error())
		return err
	}

	for written := 0; written < len(pcm); {
		n, err := s.config.Stream.Write(pcm[written:])
		if err != nil {
			if !errors.Is(err, audioout.ErrClosed) {
				log.Printf("Stream write error: %v", err)
			}
			return err
		}
		written += n
	}
	return nil
}

func (s *Server) handleControl(sendChan chan Message, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return nil
	}

	switch msg.Type {
	case "source/drain":
		if err := s.config.Stream.Drain(); err != nil {
			sendChan <- errorMessage("drain_failed", err.Error())
			return err
		}
		sendChan <- Message{Type: "sink/drained"}
		return nil
	default:
		log.Printf("Unknown message type: %s", msg.Type)
		return nil
	}
}

// pushStats sends playback statistics until the connection winds down
func (s *Server) pushStats(sendChan chan Message, done chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			stats := s.config.Stream.Debug()
			buffered := int(stats.FIFO.WriteIndex - stats.FIFO.ReadIndex)
			msg := Message{Type: "sink/stats", Payload: SinkStats{
				IntCount: stats.IntCount,
				Stalls:   stats.Stalls,
				Buffered: buffered,
				State:    s.config.Stream.State(),
			}}
			select {
			case sendChan <- msg:
			case <-done:
				return
			}
		}
	}
}

func errorMessage(code, detail string) Message {
	return Message{Type: "sink/error", Payload: SinkError{
		Error:   code,
		Message: detail,
	}}
}

// sendError writes directly to the connection. Only valid during the
// handshake, before the writer goroutine starts.
func (s *Server) sendError(conn *websocket.Conn, code, detail string) {
	if data, err := json.Marshal(errorMessage(code, detail)); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
