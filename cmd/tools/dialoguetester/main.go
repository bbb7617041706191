// Command dialoguetester exercises the dialogue WebSocket endpoint manually:
// it starts a session with an article, prints every streamed event, and saves
// the assistant audio to disk.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

const defaultArticle = `From welfare to Waffen: Germany's militarism is just an embarrassing push for relevance
Berlin's new scheme is expensive, empty, and dangerous

A few days ago, German media reported a historic first: for the first time since the Second World War, Berlin has deployed a permanent military brigade abroad.`

type outgoing struct {
	Type       string        `json:"type"`
	Article    string        `json:"article,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	ProlificID string        `json:"prolific_id,omitempty"`
	Content    []contentPart `json:"content,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type incoming struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message,omitempty"`
}

type deltaPayload struct {
	Text    string `json:"text"`
	Audio   string `json:"audio"`
	AudioID string `json:"audio_id"`
}

type finalPayload struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	endpoint := flag.String("url", "ws://localhost:8000/ws/conversation", "dialogue WebSocket endpoint")
	articlePath := flag.String("article", "", "path to an article text file (default: built-in sample)")
	mode := flag.String("mode", "critical", "dialogue mode: critical or supportive")
	reply := flag.String("reply", "", "optional text reply to send after the initial assistant turn")
	outDir := flag.String("out", "test_outputs", "directory for saved transcripts and audio")
	timeout := flag.Duration("timeout", 3*time.Minute, "overall test timeout")
	flag.Parse()

	article := defaultArticle
	if *articlePath != "" {
		raw, err := os.ReadFile(*articlePath)
		if err != nil {
			log.Fatalf("failed to read article file: %v", err)
		}
		article = string(raw)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*endpoint, nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *endpoint, err)
	}
	defer conn.Close()
	log.Printf("connected to %s", *endpoint)

	deadline := time.Now().Add(*timeout)
	_ = conn.SetReadDeadline(deadline)

	start := outgoing{Type: "start", Article: article, Mode: *mode, ProlificID: "manual_tester"}
	if err := conn.WriteJSON(start); err != nil {
		log.Fatalf("failed to send start message: %v", err)
	}
	log.Printf("sent start message (mode=%s, article=%d chars)", *mode, len(article))

	sessionTag := fmt.Sprintf("manual_%s", time.Now().Format("20060102_150405"))

	transcript := readAssistantTurn(conn, *outDir, sessionTag+"_initial")
	log.Printf("initial assistant turn: %d chars", len(transcript))

	if *reply != "" {
		msg := outgoing{Type: "user", Content: []contentPart{{Type: "text", Text: *reply}}}
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("failed to send user reply: %v", err)
		}
		log.Printf("sent user reply: %s", *reply)

		transcript = readAssistantTurn(conn, *outDir, sessionTag+"_reply")
		log.Printf("follow-up assistant turn: %d chars", len(transcript))
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readAssistantTurn consumes events until assistant_final and writes the
// transcript and audio to the output directory.
func readAssistantTurn(conn *websocket.Conn, outDir, tag string) string {
	var builder strings.Builder
	var audioB64 string

	for {
		var evt incoming
		if err := conn.ReadJSON(&evt); err != nil {
			log.Fatalf("read failed: %v", err)
		}

		switch evt.Type {
		case "assistant_delta":
			var delta deltaPayload
			if err := json.Unmarshal(evt.Payload, &delta); err != nil {
				log.Fatalf("bad delta payload: %v", err)
			}
			if delta.Text != "" {
				builder.WriteString(delta.Text)
				fmt.Print(delta.Text)
			}
			if delta.Audio != "" {
				audioB64 = delta.Audio
				log.Printf("received audio delta (id=%s, %d KB)", delta.AudioID, len(delta.Audio)/1024)
			}

		case "assistant_final":
			fmt.Println()
			var final finalPayload
			if err := json.Unmarshal(evt.Payload, &final); err != nil {
				log.Fatalf("bad final payload: %v", err)
			}
			if final.Text != builder.String() {
				log.Printf("warning: final transcript differs from concatenated deltas")
			}
			saveTurn(outDir, tag, final.Text, audioB64)
			return final.Text

		case "user_transcript":
			log.Printf("user transcript event: %s", string(evt.Payload))

		case "conversation_end":
			log.Fatalf("conversation ended by server: %s", string(evt.Payload))

		case "error":
			log.Fatalf("server error: %s", evt.Message)

		default:
			log.Printf("unexpected event type %q", evt.Type)
		}
	}
}

func saveTurn(outDir, tag, transcript, audioB64 string) {
	transcriptPath := filepath.Join(outDir, tag+"_transcript.txt")
	if err := os.WriteFile(transcriptPath, []byte(transcript), 0o644); err != nil {
		log.Printf("failed to save transcript: %v", err)
	} else {
		log.Printf("saved transcript to %s", transcriptPath)
	}

	if audioB64 == "" {
		log.Printf("no audio received")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		log.Printf("failed to decode audio: %v", err)
		return
	}
	audioPath := filepath.Join(outDir, tag+"_response.wav")
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		log.Printf("failed to save audio: %v", err)
		return
	}
	log.Printf("saved audio to %s", audioPath)
}
